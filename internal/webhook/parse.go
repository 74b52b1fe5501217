// Package webhook turns platform webhook payloads into inbound messages and
// dispatches them through the reply pipeline.
package webhook

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"ai-nwanne/internal/domain"
)

// SkipReason explains why a webhook event carries no usable message.
type SkipReason string

const (
	SkipMissingSender SkipReason = "missing_sender"
	SkipMissingText   SkipReason = "missing_text"
	SkipEcho          SkipReason = "echo"
	SkipNoMessage     SkipReason = "no_message"
	SkipMissingChat   SkipReason = "missing_chat"
)

var (
	// ErrMalformed is returned for bodies that are not valid JSON.
	ErrMalformed = errors.New("webhook: malformed payload")
	// ErrNotPage is returned for Messenger payloads whose object is not "page".
	ErrNotPage = errors.New("webhook: object is not a page")
)

// Event is either a usable Message or a Skip reason, never both.
type Event struct {
	Message domain.InboundMessage
	Skip    SkipReason
}

func (e Event) Skipped() bool { return e.Skip != "" }

func skip(p domain.Platform, r SkipReason) Event {
	return Event{Message: domain.InboundMessage{Platform: p}, Skip: r}
}

type messengerPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		Messaging []messengerEvent `json:"messaging"`
	} `json:"entry"`
}

type messengerEvent struct {
	Sender *struct {
		ID string `json:"id"`
	} `json:"sender"`
	Message *struct {
		Text       string `json:"text"`
		IsEcho     bool   `json:"is_echo"`
		QuickReply *struct {
			Payload string `json:"payload"`
		} `json:"quick_reply"`
	} `json:"message"`
}

// ParseMessenger decodes a Messenger page webhook into events, in payload
// order.
func ParseMessenger(body []byte) ([]Event, error) {
	var p messengerPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if p.Object != "page" {
		return nil, ErrNotPage
	}

	var events []Event
	for _, entry := range p.Entry {
		for _, m := range entry.Messaging {
			events = append(events, messengerToEvent(m))
		}
	}
	return events, nil
}

func messengerToEvent(m messengerEvent) Event {
	if m.Sender == nil || strings.TrimSpace(m.Sender.ID) == "" {
		return skip(domain.PlatformMessenger, SkipMissingSender)
	}
	if m.Message == nil {
		return skip(domain.PlatformMessenger, SkipMissingText)
	}
	if m.Message.IsEcho {
		return skip(domain.PlatformMessenger, SkipEcho)
	}
	text := m.Message.Text
	if m.Message.QuickReply != nil && strings.TrimSpace(m.Message.QuickReply.Payload) != "" {
		text = m.Message.QuickReply.Payload
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return skip(domain.PlatformMessenger, SkipMissingText)
	}
	return Event{Message: domain.InboundMessage{
		Platform: domain.PlatformMessenger,
		Identity: strings.TrimSpace(m.Sender.ID),
		Text:     text,
	}}
}

// ParseTelegram decodes a Telegram Update into a single event.
func ParseTelegram(body []byte) (Event, error) {
	var u tgbotapi.Update
	if err := json.Unmarshal(body, &u); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	msg := u.Message
	if msg == nil {
		return skip(domain.PlatformTelegram, SkipNoMessage), nil
	}
	if msg.Chat == nil || msg.Chat.ID == 0 {
		return skip(domain.PlatformTelegram, SkipMissingChat), nil
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return skip(domain.PlatformTelegram, SkipMissingText), nil
	}
	var name string
	if msg.From != nil {
		name = strings.TrimSpace(msg.From.FirstName)
	}
	return Event{Message: domain.InboundMessage{
		Platform:    domain.PlatformTelegram,
		Identity:    strconv.FormatInt(msg.Chat.ID, 10),
		Text:        text,
		DisplayName: name,
	}}, nil
}

// VerifyMessenger answers the Messenger subscription handshake and returns
// the HTTP status and body to respond with.
func VerifyMessenger(q url.Values, verifyToken string) (int, string) {
	if verifyToken == "" {
		return http.StatusInternalServerError, "verify token not configured"
	}
	mode, token := q.Get("hub.mode"), q.Get("hub.verify_token")
	if mode == "" || token == "" {
		return http.StatusBadRequest, "missing hub.mode or hub.verify_token"
	}
	if mode == "subscribe" && SecretEqual(token, verifyToken) {
		return http.StatusOK, q.Get("hub.challenge")
	}
	return http.StatusForbidden, "Forbidden"
}

// SecretEqual compares two secrets in constant time.
func SecretEqual(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
