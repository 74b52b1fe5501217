package webhook

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"ai-nwanne/internal/domain"
	"ai-nwanne/internal/metrics"
	"ai-nwanne/internal/usecase"
)

type stubReplier struct {
	out   usecase.ReplyOutput
	err   error
	calls []usecase.ReplyInput
}

func (s *stubReplier) Reply(_ context.Context, in usecase.ReplyInput) (usecase.ReplyOutput, error) {
	s.calls = append(s.calls, in)
	return s.out, s.err
}

type sent struct {
	identity string
	text     string
}

type fakeSender struct {
	err  error
	sent []sent
}

func (f *fakeSender) Send(_ context.Context, identity, text string) error {
	f.sent = append(f.sent, sent{identity: identity, text: text})
	return f.err
}

type fakeVoiceSender struct {
	fakeSender
	voiceErr error
	voices   [][]byte
}

func (f *fakeVoiceSender) SendVoice(_ context.Context, _ string, audio []byte) error {
	f.voices = append(f.voices, audio)
	return f.voiceErr
}

type fakeSynth struct {
	err   error
	langs []string
}

func (f *fakeSynth) Synthesize(_ context.Context, _, lang string) ([]byte, error) {
	f.langs = append(f.langs, lang)
	if f.err != nil {
		return nil, f.err
	}
	return []byte("ogg"), nil
}

func msgEvent(p domain.Platform, id, text string) Event {
	return Event{Message: domain.InboundMessage{Platform: p, Identity: id, Text: text}}
}

func TestNewDispatcher_Validation(t *testing.T) {
	_, err := NewDispatcher(nil, map[domain.Platform]Sender{domain.PlatformMessenger: &fakeSender{}})
	require.Error(t, err)
	_, err = NewDispatcher(&stubReplier{}, nil)
	require.Error(t, err)
}

func TestDispatch_RepliesInOrder(t *testing.T) {
	r := &stubReplier{out: usecase.ReplyOutput{Text: "Nnọọ!", Language: "ig"}}
	fb := &fakeSender{}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	d, err := NewDispatcher(r, map[domain.Platform]Sender{domain.PlatformMessenger: fb}, WithMetrics(m))
	require.NoError(t, err)

	got := d.Dispatch(context.Background(), []Event{
		msgEvent(domain.PlatformMessenger, "a", "kedu"),
		skip(domain.PlatformMessenger, SkipEcho),
		msgEvent(domain.PlatformMessenger, "b", "hello"),
	})
	require.Equal(t, []Outcome{OutcomeReplied, OutcomeSkipped, OutcomeReplied}, got)
	require.Equal(t, []sent{{"a", "Nnọọ!"}, {"b", "Nnọọ!"}}, fb.sent)
	require.Len(t, r.calls, 2)
	require.Equal(t, "kedu", r.calls[0].Text)

	require.Equal(t, 2.0, testutil.ToFloat64(m.Messages.WithLabelValues("messenger", "replied")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Messages.WithLabelValues("messenger", "skipped")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.Sends.WithLabelValues("messenger", "ok")))
}

func TestDispatch_OutcomeMapping(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		want     Outcome
		wantSent string
	}{
		{name: "cooldown dropped", err: &usecase.Error{Code: usecase.ErrorRateLimited, Reason: "cooldown"}, want: OutcomeRateLimited},
		{name: "llm rate limited", err: &usecase.Error{Code: usecase.ErrorRateLimited, Reason: "openai_rate_limited"}, want: OutcomeFallback, wantSent: fallbackText},
		{name: "flagged", err: &usecase.Error{Code: usecase.ErrorInvalidQuestion, Reason: "moderation_flagged"}, want: OutcomeRefused, wantSent: refusalText},
		{name: "upstream", err: &usecase.Error{Code: usecase.ErrorUpstream, Reason: "openai_error"}, want: OutcomeFallback, wantSent: fallbackText},
		{name: "invalid", err: &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "message_too_long"}, want: OutcomeInvalid},
		{name: "internal", err: &usecase.Error{Code: usecase.ErrorInternal, Reason: "cache_store_error"}, want: OutcomeInternal},
		{name: "unexpected", err: errors.New("boom"), want: OutcomeInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tg := &fakeSender{}
			d, err := NewDispatcher(&stubReplier{err: tc.err}, map[domain.Platform]Sender{domain.PlatformTelegram: tg})
			require.NoError(t, err)

			got := d.Dispatch(context.Background(), []Event{msgEvent(domain.PlatformTelegram, "42", "hi")})
			require.Equal(t, []Outcome{tc.want}, got)
			if tc.wantSent == "" {
				require.Empty(t, tg.sent)
				return
			}
			require.Equal(t, []sent{{"42", tc.wantSent}}, tg.sent)
		})
	}
}

func TestDispatch_SendFailureIsSwallowed(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	fb := &fakeSender{err: errors.New("graph 500")}
	d, err := NewDispatcher(&stubReplier{out: usecase.ReplyOutput{Text: "hi"}}, map[domain.Platform]Sender{domain.PlatformMessenger: fb}, WithMetrics(m))
	require.NoError(t, err)

	got := d.Dispatch(context.Background(), []Event{
		msgEvent(domain.PlatformMessenger, "a", "x"),
		msgEvent(domain.PlatformMessenger, "b", "y"),
	})
	require.Equal(t, []Outcome{OutcomeInternal, OutcomeInternal}, got)
	require.Len(t, fb.sent, 2)
	require.Equal(t, 2.0, testutil.ToFloat64(m.Sends.WithLabelValues("messenger", "error")))
}

func TestDispatch_UnknownPlatform(t *testing.T) {
	r := &stubReplier{}
	d, err := NewDispatcher(r, map[domain.Platform]Sender{domain.PlatformMessenger: &fakeSender{}})
	require.NoError(t, err)

	got := d.Dispatch(context.Background(), []Event{msgEvent(domain.PlatformTelegram, "1", "hi")})
	require.Equal(t, []Outcome{OutcomeNoSender}, got)
	require.Empty(t, r.calls)
}

func TestDispatch_Voice(t *testing.T) {
	t.Run("sent after text", func(t *testing.T) {
		tg := &fakeVoiceSender{}
		synth := &fakeSynth{}
		d, err := NewDispatcher(&stubReplier{out: usecase.ReplyOutput{Text: "Sannu", Language: "ha"}},
			map[domain.Platform]Sender{domain.PlatformTelegram: tg}, WithVoice(synth))
		require.NoError(t, err)

		got := d.Dispatch(context.Background(), []Event{msgEvent(domain.PlatformTelegram, "1", "sannu")})
		require.Equal(t, []Outcome{OutcomeReplied}, got)
		require.Len(t, tg.sent, 1)
		require.Equal(t, [][]byte{[]byte("ogg")}, tg.voices)
		require.Equal(t, []string{"ha"}, synth.langs)
	})

	t.Run("synthesis failure keeps text", func(t *testing.T) {
		tg := &fakeVoiceSender{}
		d, err := NewDispatcher(&stubReplier{out: usecase.ReplyOutput{Text: "hi"}},
			map[domain.Platform]Sender{domain.PlatformTelegram: tg}, WithVoice(&fakeSynth{err: errors.New("tts down")}))
		require.NoError(t, err)

		got := d.Dispatch(context.Background(), []Event{msgEvent(domain.PlatformTelegram, "1", "hi")})
		require.Equal(t, []Outcome{OutcomeReplied}, got)
		require.Len(t, tg.sent, 1)
		require.Empty(t, tg.voices)
	})

	t.Run("sender without voice", func(t *testing.T) {
		fb := &fakeSender{}
		synth := &fakeSynth{}
		d, err := NewDispatcher(&stubReplier{out: usecase.ReplyOutput{Text: "hi"}},
			map[domain.Platform]Sender{domain.PlatformMessenger: fb}, WithVoice(synth))
		require.NoError(t, err)

		d.Dispatch(context.Background(), []Event{msgEvent(domain.PlatformMessenger, "1", "hi")})
		require.Empty(t, synth.langs)
	})

	t.Run("greeting has no voice", func(t *testing.T) {
		tg := &fakeVoiceSender{}
		d, err := NewDispatcher(&stubReplier{out: usecase.ReplyOutput{Text: "Welcome", Greeting: true}},
			map[domain.Platform]Sender{domain.PlatformTelegram: tg}, WithVoice(&fakeSynth{}))
		require.NoError(t, err)

		got := d.Dispatch(context.Background(), []Event{msgEvent(domain.PlatformTelegram, "1", "hi")})
		require.Equal(t, []Outcome{OutcomeGreeted}, got)
		require.Empty(t, tg.voices)
	})
}
