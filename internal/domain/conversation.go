package domain

// Platform identifies the messaging network a message arrived on.
type Platform string

const (
	PlatformMessenger Platform = "messenger"
	PlatformTelegram  Platform = "telegram"
)

// InboundMessage is a validated (identity, text) pair extracted from a webhook.
type InboundMessage struct {
	Platform    Platform
	Identity    string
	Text        string
	DisplayName string
}

// WisdomEntry is a single item gathered for the auto-poster.
type WisdomEntry struct {
	Title   string
	Summary string
	Link    string
}
