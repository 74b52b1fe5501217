package webhook

import (
	"context"
	"errors"
	"log/slog"

	"ai-nwanne/internal/domain"
	"ai-nwanne/internal/metrics"
	"ai-nwanne/internal/usecase"
)

const (
	refusalText  = "🙏 Sorry, I can't help with that request. Please ask me something else."
	fallbackText = "⚠️ Sorry, I'm having trouble answering right now. Please try again in a moment."
)

// Outcome is the per-event result recorded in logs and metrics.
type Outcome string

const (
	OutcomeReplied     Outcome = "replied"
	OutcomeGreeted     Outcome = "greeted"
	OutcomeSkipped     Outcome = "skipped"
	OutcomeRateLimited Outcome = "rate_limited"
	OutcomeRefused     Outcome = "refused"
	OutcomeFallback    Outcome = "fallback"
	OutcomeInvalid     Outcome = "invalid"
	OutcomeInternal    Outcome = "internal_error"
	OutcomeNoSender    Outcome = "no_sender"
)

type Replier interface {
	Reply(ctx context.Context, in usecase.ReplyInput) (usecase.ReplyOutput, error)
}

// Sender delivers a text reply to an identity on one platform.
type Sender interface {
	Send(ctx context.Context, identity, text string) error
}

// VoiceSynthesizer turns reply text into audio.
type VoiceSynthesizer interface {
	Synthesize(ctx context.Context, text, lang string) ([]byte, error)
}

// VoiceSender is implemented by senders that can deliver audio.
type VoiceSender interface {
	SendVoice(ctx context.Context, identity string, audio []byte) error
}

type Option func(*Dispatcher)

func WithVoice(v VoiceSynthesizer) Option {
	return func(d *Dispatcher) { d.voice = v }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.log = l
		}
	}
}

// Dispatcher runs parsed events through the reply pipeline and delivers the
// results. Delivery failures are logged and never returned.
type Dispatcher struct {
	replier Replier
	senders map[domain.Platform]Sender
	voice   VoiceSynthesizer
	metrics *metrics.Metrics
	log     *slog.Logger
}

func NewDispatcher(r Replier, senders map[domain.Platform]Sender, opts ...Option) (*Dispatcher, error) {
	if r == nil {
		return nil, errors.New("webhook: replier must not be nil")
	}
	if len(senders) == 0 {
		return nil, errors.New("webhook: at least one sender is required")
	}
	d := &Dispatcher{replier: r, senders: senders, log: slog.Default()}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Dispatch processes events sequentially in payload order.
func (d *Dispatcher) Dispatch(ctx context.Context, events []Event) []Outcome {
	out := make([]Outcome, 0, len(events))
	for _, ev := range events {
		o := d.handle(ctx, ev)
		d.metrics.ObserveMessage(string(ev.Message.Platform), string(o))
		out = append(out, o)
	}
	return out
}

func (d *Dispatcher) handle(ctx context.Context, ev Event) Outcome {
	msg := ev.Message
	log := d.log.With("platform", msg.Platform, "identity", msg.Identity)
	if ev.Skipped() {
		log.InfoContext(ctx, "skipping webhook event", "reason", ev.Skip)
		return OutcomeSkipped
	}
	sender, ok := d.senders[msg.Platform]
	if !ok {
		log.ErrorContext(ctx, "no sender configured for platform")
		return OutcomeNoSender
	}

	res, err := d.replier.Reply(ctx, usecase.ReplyInput{
		Platform:    msg.Platform,
		Identity:    msg.Identity,
		Text:        msg.Text,
		DisplayName: msg.DisplayName,
	})
	if err == nil {
		if !d.deliver(ctx, log, msg.Platform, sender, msg.Identity, res.Text) {
			return OutcomeInternal
		}
		if res.Greeting {
			return OutcomeGreeted
		}
		d.sendVoice(ctx, log, sender, msg.Identity, res)
		return OutcomeReplied
	}

	ue, ok := usecase.AsError(err)
	if !ok {
		log.ErrorContext(ctx, "reply failed", "err", err)
		return OutcomeInternal
	}
	log = log.With("reason", ue.Reason)
	switch ue.Code {
	case usecase.ErrorRateLimited:
		if ue.Reason == "cooldown" {
			log.InfoContext(ctx, "dropping rate limited event")
			return OutcomeRateLimited
		}
		log.WarnContext(ctx, "upstream rate limited", "err", err)
		d.deliver(ctx, log, msg.Platform, sender, msg.Identity, fallbackText)
		return OutcomeFallback
	case usecase.ErrorInvalidQuestion:
		log.InfoContext(ctx, "refusing flagged message")
		d.deliver(ctx, log, msg.Platform, sender, msg.Identity, refusalText)
		return OutcomeRefused
	case usecase.ErrorUpstream:
		log.WarnContext(ctx, "upstream failure", "err", err)
		d.deliver(ctx, log, msg.Platform, sender, msg.Identity, fallbackText)
		return OutcomeFallback
	case usecase.ErrorInvalidInput:
		log.InfoContext(ctx, "ignoring invalid message")
		return OutcomeInvalid
	default:
		log.ErrorContext(ctx, "reply failed", "err", err)
		return OutcomeInternal
	}
}

func (d *Dispatcher) deliver(ctx context.Context, log *slog.Logger, p domain.Platform, s Sender, identity, text string) bool {
	err := s.Send(ctx, identity, text)
	d.metrics.ObserveSend(string(p), err == nil)
	if err != nil {
		log.ErrorContext(ctx, "failed to deliver reply", "err", err)
		return false
	}
	return true
}

func (d *Dispatcher) sendVoice(ctx context.Context, log *slog.Logger, s Sender, identity string, res usecase.ReplyOutput) {
	if d.voice == nil {
		return
	}
	vs, ok := s.(VoiceSender)
	if !ok {
		return
	}
	audio, err := d.voice.Synthesize(ctx, res.Text, res.Language)
	if err != nil {
		log.WarnContext(ctx, "voice synthesis failed", "err", err)
		return
	}
	if err := vs.SendVoice(ctx, identity, audio); err != nil {
		log.WarnContext(ctx, "failed to deliver voice", "err", err)
	}
}
