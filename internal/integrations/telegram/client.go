// Package telegram sends bot replies, voice notes and channel posts through
// the Telegram Bot API.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"
)

const name = "telegram"

// Telegram allows about 30 messages per second per bot.
const defaultRatePerSecond = 30

// Reply keyboard offered under every chat reply.
var keyboardButtons = []string{"What can you do?", "Tell me a fun fact"}

// botAPI is the subset of *tgbotapi.BotAPI used here.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// NewBot builds a Bot API client for token without contacting Telegram, so
// an unreachable Bot API at startup only fails the calls made later. An
// empty endpoint uses tgbotapi.APIEndpoint.
func NewBot(token string, hc *http.Client, endpoint string) (*tgbotapi.BotAPI, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.New("telegram: bot token must not be empty")
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	bot := &tgbotapi.BotAPI{Token: token, Client: hc, Buffer: 100}
	bot.SetAPIEndpoint(endpoint)
	return bot, nil
}

// NewLimiter returns the process-wide outbound limiter.
func NewLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Limit(defaultRatePerSecond), defaultRatePerSecond)
}

// Client delivers messages for one bot.
type Client struct {
	api     botAPI
	limiter *rate.Limiter
	channel string
}

type Option func(*Client)

func WithLimiter(l *rate.Limiter) Option {
	return func(c *Client) {
		if l != nil {
			c.limiter = l
		}
	}
}

// WithChannel sets the chat PublishPost writes to: a numeric chat id or a
// public "@channel" username.
func WithChannel(chatID string) Option {
	return func(c *Client) {
		c.channel = strings.TrimSpace(chatID)
	}
}

func New(api botAPI, opts ...Option) (*Client, error) {
	if api == nil {
		return nil, errors.New("telegram: bot api must not be nil")
	}
	c := &Client{api: api, limiter: NewLimiter()}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) Name() string { return name }

func parseChatID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("telegram: invalid chat id %q", s)
	}
	return id, nil
}

func replyKeyboard() tgbotapi.ReplyKeyboardMarkup {
	row := make([]tgbotapi.KeyboardButton, len(keyboardButtons))
	for i, label := range keyboardButtons {
		row[i] = tgbotapi.NewKeyboardButton(label)
	}
	kb := tgbotapi.NewReplyKeyboard(tgbotapi.NewKeyboardButtonRow(row...))
	kb.OneTimeKeyboard = true
	return kb
}

func (c *Client) send(ctx context.Context, msg tgbotapi.Chattable) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("telegram: rate limiter: %w", err)
	}
	if _, err := c.api.Send(msg); err != nil {
		return fmt.Errorf("telegram: send: %w", err)
	}
	return nil
}

// Send replies to a private chat with the reply keyboard attached.
func (c *Client) Send(ctx context.Context, chatID, text string) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(id, text)
	msg.ReplyMarkup = replyKeyboard()
	return c.send(ctx, msg)
}

// SendVoice uploads audio as a voice note.
func (c *Client) SendVoice(ctx context.Context, chatID string, audio []byte) error {
	if len(audio) == 0 {
		return errors.New("telegram: audio must not be empty")
	}
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	voice := tgbotapi.NewVoice(id, tgbotapi.FileBytes{Name: "reply.ogg", Bytes: audio})
	return c.send(ctx, voice)
}

// PublishPost posts text to the configured channel with link previews
// disabled. The returned id is the Telegram message id.
func (c *Client) PublishPost(ctx context.Context, text string) (string, error) {
	if c.channel == "" {
		return "", errors.New("telegram: channel is not configured")
	}
	var msg tgbotapi.MessageConfig
	if strings.HasPrefix(c.channel, "@") {
		msg = tgbotapi.NewMessageToChannel(c.channel, text)
	} else {
		id, err := parseChatID(c.channel)
		if err != nil {
			return "", err
		}
		msg = tgbotapi.NewMessage(id, text)
	}
	msg.DisableWebPagePreview = true

	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("telegram: rate limiter: %w", err)
	}
	sent, err := c.api.Send(msg)
	if err != nil {
		return "", fmt.Errorf("telegram: publish: %w", err)
	}
	return strconv.Itoa(sent.MessageID), nil
}
