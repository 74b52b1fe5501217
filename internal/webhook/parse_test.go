package webhook

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"ai-nwanne/internal/domain"
)

func TestParseMessenger(t *testing.T) {
	body := `{"object":"page","entry":[
		{"messaging":[
			{"sender":{"id":"psid-1"},"message":{"text":"  Kedu  "}},
			{"message":{"text":"no sender"}},
			{"sender":{"id":"psid-2"},"message":{"text":"echoed","is_echo":true}},
			{"sender":{"id":"psid-3"}}
		]},
		{"messaging":[
			{"sender":{"id":"psid-4"},"message":{"text":"What can you do?","quick_reply":{"payload":"CAPABILITIES"}}},
			{"sender":{"id":"psid-5"},"message":{"text":"   "}}
		]}
	]}`

	events, err := ParseMessenger([]byte(body))
	require.NoError(t, err)
	require.Len(t, events, 6)

	require.False(t, events[0].Skipped())
	require.Equal(t, domain.InboundMessage{Platform: domain.PlatformMessenger, Identity: "psid-1", Text: "Kedu"}, events[0].Message)
	require.Equal(t, SkipMissingSender, events[1].Skip)
	require.Equal(t, SkipEcho, events[2].Skip)
	require.Equal(t, SkipMissingText, events[3].Skip)
	require.Equal(t, "CAPABILITIES", events[4].Message.Text)
	require.Equal(t, SkipMissingText, events[5].Skip)
	require.Equal(t, domain.PlatformMessenger, events[5].Message.Platform)
}

func TestParseMessenger_Errors(t *testing.T) {
	_, err := ParseMessenger([]byte(`{not json`))
	require.ErrorIs(t, err, ErrMalformed)

	_, err = ParseMessenger([]byte(`{"object":"instagram","entry":[]}`))
	require.ErrorIs(t, err, ErrNotPage)

	events, err := ParseMessenger([]byte(`{"object":"page"}`))
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestParseTelegram(t *testing.T) {
	cases := []struct {
		name string
		body string
		want Event
	}{
		{
			name: "message",
			body: `{"update_id":1,"message":{"message_id":7,"from":{"id":42,"first_name":"Ada"},"chat":{"id":-10042,"type":"private"},"text":" Bawo ni "}}`,
			want: Event{Message: domain.InboundMessage{Platform: domain.PlatformTelegram, Identity: "-10042", Text: "Bawo ni", DisplayName: "Ada"}},
		},
		{
			name: "no from",
			body: `{"update_id":2,"message":{"message_id":8,"chat":{"id":5},"text":"hi"}}`,
			want: Event{Message: domain.InboundMessage{Platform: domain.PlatformTelegram, Identity: "5", Text: "hi"}},
		},
		{
			name: "callback only",
			body: `{"update_id":3,"callback_query":{"id":"q"}}`,
			want: Event{Message: domain.InboundMessage{Platform: domain.PlatformTelegram}, Skip: SkipNoMessage},
		},
		{
			name: "no chat",
			body: `{"update_id":4,"message":{"message_id":9,"text":"hi"}}`,
			want: Event{Message: domain.InboundMessage{Platform: domain.PlatformTelegram}, Skip: SkipMissingChat},
		},
		{
			name: "sticker",
			body: `{"update_id":5,"message":{"message_id":10,"chat":{"id":5}}}`,
			want: Event{Message: domain.InboundMessage{Platform: domain.PlatformTelegram}, Skip: SkipMissingText},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseTelegram([]byte(tc.body))
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}

	_, err := ParseTelegram([]byte(`[]`))
	require.ErrorIs(t, err, ErrMalformed)
}

func TestVerifyMessenger(t *testing.T) {
	q := func(kv ...string) url.Values {
		v := url.Values{}
		for i := 0; i+1 < len(kv); i += 2 {
			v.Set(kv[i], kv[i+1])
		}
		return v
	}
	cases := []struct {
		name   string
		query  url.Values
		token  string
		status int
		body   string
	}{
		{name: "ok", query: q("hub.mode", "subscribe", "hub.verify_token", "s3cret", "hub.challenge", "1158201444"), token: "s3cret", status: http.StatusOK, body: "1158201444"},
		{name: "wrong token", query: q("hub.mode", "subscribe", "hub.verify_token", "nope", "hub.challenge", "1"), token: "s3cret", status: http.StatusForbidden, body: "Forbidden"},
		{name: "wrong mode", query: q("hub.mode", "unsubscribe", "hub.verify_token", "s3cret"), token: "s3cret", status: http.StatusForbidden, body: "Forbidden"},
		{name: "missing mode", query: q("hub.verify_token", "s3cret"), token: "s3cret", status: http.StatusBadRequest},
		{name: "missing token", query: q("hub.mode", "subscribe"), token: "s3cret", status: http.StatusBadRequest},
		{name: "unconfigured", query: q("hub.mode", "subscribe", "hub.verify_token", ""), token: "", status: http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, body := VerifyMessenger(tc.query, tc.token)
			require.Equal(t, tc.status, status)
			if tc.body != "" {
				require.Equal(t, tc.body, body)
			}
		})
	}
}
