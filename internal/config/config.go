// Package config loads process configuration from the environment, an
// optional config file and SSM Parameter Store.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"ai-nwanne/internal/integrations/paramstore"
	"ai-nwanne/internal/integrations/translate"
	"ai-nwanne/internal/scheduler"
)

const (
	keyFacebookAccessToken     = "facebook_access_token"
	keyFacebookPageAccessToken = "facebook_page_access_token"
	keyFacebookPageID          = "facebook_page_id"
	keyFacebookVerifyToken     = "facebook_verify_token"
	keyFacebookGraphURL        = "facebook_graph_url"
	keyTelegramBotToken        = "telegram_bot_token"
	keyTelegramChatID          = "telegram_chat_id"
	keyTelegramWebhookSecret   = "telegram_webhook_secret"
	keyOpenAIAPIKey            = "openai_api_key"
	keyOpenAIModel             = "openai_model"
	keyOpenAIBaseURL           = "openai_base_url"
	keyRedisURL                = "redis_url"
	keyStoreBackend            = "store_backend"
	keyStateTable              = "state_table"
	keyTranslateProviders      = "translate_providers"
	keyGoogleAPIKey            = "google_api_key"
	keyGoogleURL               = "google_url"
	keyLibreAPIKey             = "libre_api_key"
	keyLibreURL                = "libre_url"
	keyNLLBURL                 = "nllb_url"
	keyRateLimitPolicy         = "rate_limit_policy"
	keyRateLimitWindow         = "rate_limit_window"
	keyRateLimitMax            = "rate_limit_max"
	keyCacheTTL                = "cache_ttl"
	keyMemoryMaxTurns          = "memory_max_turns"
	keyMemoryTTL               = "memory_ttl"
	keyMaxMessageLength        = "max_message_length"
	keyModerationEnabled       = "moderation_enabled"
	keyWisdomFeeds             = "wisdom_feeds"
	keyFeedHoursBack           = "feed_hours_back"
	keyAutoPostSchedule        = "autopost_schedule"
	keyAutoPostMaxEntries      = "autopost_max_entries"
	keyCronSecret              = "cron_secret"
	keyHTTPTimeout             = "http_timeout"
	keyHTTPAddr                = "http_addr"
	keyLogLevel                = "log_level"
	keyParamPrefix             = "param_prefix"
)

// keys lists every setting; each is bound to the upper-cased environment
// variable of the same name.
var keys = []string{
	keyFacebookAccessToken, keyFacebookPageAccessToken, keyFacebookPageID,
	keyFacebookVerifyToken, keyFacebookGraphURL, keyTelegramBotToken,
	keyTelegramChatID, keyTelegramWebhookSecret, keyOpenAIAPIKey, keyOpenAIModel,
	keyOpenAIBaseURL, keyRedisURL, keyStoreBackend, keyStateTable,
	keyTranslateProviders, keyGoogleAPIKey, keyGoogleURL, keyLibreAPIKey,
	keyLibreURL, keyNLLBURL, keyRateLimitPolicy, keyRateLimitWindow,
	keyRateLimitMax, keyCacheTTL, keyMemoryMaxTurns, keyMemoryTTL,
	keyMaxMessageLength, keyModerationEnabled, keyWisdomFeeds, keyFeedHoursBack,
	keyAutoPostSchedule, keyAutoPostMaxEntries, keyCronSecret, keyHTTPTimeout,
	keyHTTPAddr, keyLogLevel, keyParamPrefix,
}

// secretKeys are resolved from Parameter Store when they are not set
// directly. The parameter name is the key with dashes, under PARAM_PREFIX.
var secretKeys = []string{
	keyOpenAIAPIKey, keyFacebookAccessToken, keyFacebookPageAccessToken,
	keyFacebookVerifyToken, keyTelegramBotToken, keyTelegramWebhookSecret,
	keyGoogleAPIKey, keyLibreAPIKey, keyCronSecret,
}

type Config struct {
	FacebookAccessToken     string
	FacebookPageAccessToken string
	FacebookPageID          string
	FacebookVerifyToken     string
	FacebookGraphURL        string `validate:"omitempty,url"`

	TelegramBotToken      string
	TelegramChatID        string
	TelegramWebhookSecret string

	OpenAIAPIKey  string `validate:"required"`
	OpenAIModel   string `validate:"required"`
	OpenAIBaseURL string `validate:"omitempty,url"`

	StoreBackend string `validate:"oneof=redis dynamodb"`
	RedisURL     string `validate:"required_if=StoreBackend redis"`
	StateTable   string `validate:"required_if=StoreBackend dynamodb"`

	TranslateProviders []string `validate:"min=1,dive,oneof=nllb google libre llm"`
	GoogleAPIKey       string
	GoogleURL          string `validate:"omitempty,url"`
	LibreAPIKey        string
	LibreURL           string `validate:"omitempty,url"`
	NLLBURL            string `validate:"omitempty,url"`

	RateLimitPolicy   string        `validate:"oneof=cooldown window"`
	RateLimitWindow   time.Duration `validate:"gte=1ms"`
	RateLimitMax      int           `validate:"gte=1"`
	CacheTTL          time.Duration `validate:"gte=1ms"`
	MemoryMaxTurns    int           `validate:"gte=1"`
	MemoryTTL         time.Duration `validate:"gte=1ms"`
	MaxMessageLength  int           `validate:"gte=1"`
	ModerationEnabled bool

	WisdomFeeds        []string `validate:"dive,url"`
	FeedHoursBack      int      `validate:"gte=0"`
	AutoPostSchedule   string   `validate:"required"`
	AutoPostMaxEntries int      `validate:"gte=1"`
	CronSecret         string

	HTTPTimeout time.Duration `validate:"gte=1ms"`
	HTTPAddr    string        `validate:"required"`
	LogLevel    string        `validate:"oneof=debug info warn error"`
	ParamPrefix string
}

// MessengerEnabled reports whether Messenger replies can be sent.
func (c Config) MessengerEnabled() bool { return c.FacebookAccessToken != "" }

// TelegramEnabled reports whether the Telegram bot is configured.
func (c Config) TelegramEnabled() bool { return c.TelegramBotToken != "" }

// PageToken is the token used for page feed posts, falling back to the
// messaging token.
func (c Config) PageToken() string {
	if c.FacebookPageAccessToken != "" {
		return c.FacebookPageAccessToken
	}
	return c.FacebookAccessToken
}

// NewViper returns a viper instance with defaults and environment bindings.
// A non-empty configFile is read as well; environment values win over it.
func NewViper(configFile string) (*viper.Viper, error) {
	v := viper.New()
	v.SetDefault(keyOpenAIModel, "gpt-3.5-turbo")
	v.SetDefault(keyStoreBackend, "redis")
	v.SetDefault(keyTranslateProviders, "nllb,llm")
	v.SetDefault(keyRateLimitPolicy, "cooldown")
	v.SetDefault(keyRateLimitWindow, 3*time.Second)
	v.SetDefault(keyRateLimitMax, 1)
	v.SetDefault(keyCacheTTL, time.Hour)
	v.SetDefault(keyMemoryMaxTurns, 10)
	v.SetDefault(keyMemoryTTL, 30*24*time.Hour)
	v.SetDefault(keyMaxMessageLength, 1000)
	v.SetDefault(keyModerationEnabled, false)
	v.SetDefault(keyWisdomFeeds, "https://www.afriprov.com/rss")
	v.SetDefault(keyFeedHoursBack, 72)
	v.SetDefault(keyAutoPostSchedule, "0 0 8 * * *")
	v.SetDefault(keyAutoPostMaxEntries, 1)
	v.SetDefault(keyHTTPTimeout, 10*time.Second)
	v.SetDefault(keyHTTPAddr, ":8080")
	v.SetDefault(keyLogLevel, "info")

	for _, k := range keys {
		if err := v.BindEnv(k, strings.ToUpper(k)); err != nil {
			return nil, fmt.Errorf("config: bind %s: %w", k, err)
		}
	}

	if configFile = strings.TrimSpace(configFile); configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", configFile, err)
		}
	}
	return v, nil
}

// Load builds and validates the configuration. Secrets left empty are looked up
// in Parameter Store when params is non-nil and PARAM_PREFIX is set.
func Load(ctx context.Context, v *viper.Viper, params paramstore.Getter) (Config, error) {
	if v == nil {
		return Config{}, errors.New("config: viper must not be nil")
	}
	if err := resolveSecrets(ctx, v, params); err != nil {
		return Config{}, err
	}

	providers, err := translate.ParseProviders(strings.Join(list(v, keyTranslateProviders), ","))
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}

	durations := map[string]time.Duration{}
	for _, k := range []string{keyRateLimitWindow, keyCacheTTL, keyMemoryTTL, keyHTTPTimeout} {
		d, err := duration(v, k)
		if err != nil {
			return Config{}, err
		}
		durations[k] = d
	}

	cfg := Config{
		FacebookAccessToken:     str(v, keyFacebookAccessToken),
		FacebookPageAccessToken: str(v, keyFacebookPageAccessToken),
		FacebookPageID:          str(v, keyFacebookPageID),
		FacebookVerifyToken:     str(v, keyFacebookVerifyToken),
		FacebookGraphURL:        str(v, keyFacebookGraphURL),
		TelegramBotToken:        str(v, keyTelegramBotToken),
		TelegramChatID:          str(v, keyTelegramChatID),
		TelegramWebhookSecret:   str(v, keyTelegramWebhookSecret),
		OpenAIAPIKey:            str(v, keyOpenAIAPIKey),
		OpenAIModel:             str(v, keyOpenAIModel),
		OpenAIBaseURL:           str(v, keyOpenAIBaseURL),
		StoreBackend:            strings.ToLower(str(v, keyStoreBackend)),
		RedisURL:                str(v, keyRedisURL),
		StateTable:              str(v, keyStateTable),
		TranslateProviders:      providers,
		GoogleAPIKey:            str(v, keyGoogleAPIKey),
		GoogleURL:               str(v, keyGoogleURL),
		LibreAPIKey:             str(v, keyLibreAPIKey),
		LibreURL:                str(v, keyLibreURL),
		NLLBURL:                 str(v, keyNLLBURL),
		RateLimitPolicy:         strings.ToLower(str(v, keyRateLimitPolicy)),
		RateLimitWindow:         durations[keyRateLimitWindow],
		RateLimitMax:            v.GetInt(keyRateLimitMax),
		CacheTTL:                durations[keyCacheTTL],
		MemoryMaxTurns:          v.GetInt(keyMemoryMaxTurns),
		MemoryTTL:               durations[keyMemoryTTL],
		MaxMessageLength:        v.GetInt(keyMaxMessageLength),
		ModerationEnabled:       v.GetBool(keyModerationEnabled),
		WisdomFeeds:             list(v, keyWisdomFeeds),
		FeedHoursBack:           v.GetInt(keyFeedHoursBack),
		AutoPostSchedule:        str(v, keyAutoPostSchedule),
		AutoPostMaxEntries:      v.GetInt(keyAutoPostMaxEntries),
		CronSecret:              str(v, keyCronSecret),
		HTTPTimeout:             durations[keyHTTPTimeout],
		HTTPAddr:                str(v, keyHTTPAddr),
		LogLevel:                strings.ToLower(str(v, keyLogLevel)),
		ParamPrefix:             str(v, keyParamPrefix),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks struct constraints plus the cross-field rules the tags
// cannot express.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: invalid: %w", err)
	}
	if !c.MessengerEnabled() && !c.TelegramEnabled() {
		return errors.New("config: invalid: FACEBOOK_ACCESS_TOKEN or TELEGRAM_BOT_TOKEN is required")
	}
	for _, p := range c.TranslateProviders {
		if p == translate.ProviderGoogle && c.GoogleAPIKey == "" {
			return errors.New("config: invalid: translate provider google requires GOOGLE_API_KEY")
		}
	}
	if err := scheduler.Validate(c.AutoPostSchedule); err != nil {
		return fmt.Errorf("config: invalid AUTOPOST_SCHEDULE: %w", err)
	}
	return nil
}

// ParamPrefix returns the Parameter Store prefix configured on v.
func ParamPrefix(v *viper.Viper) string {
	return str(v, keyParamPrefix)
}

func resolveSecrets(ctx context.Context, v *viper.Viper, params paramstore.Getter) error {
	prefix := strings.TrimRight(str(v, keyParamPrefix), "/")
	if params == nil || prefix == "" {
		return nil
	}
	for _, k := range secretKeys {
		if str(v, k) != "" {
			continue
		}
		name := prefix + "/" + strings.ReplaceAll(k, "_", "-")
		secret, err := paramstore.Secret(ctx, params, name)
		if errors.Is(err, paramstore.ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("config: resolve %s: %w", strings.ToUpper(k), err)
		}
		v.Set(k, secret)
	}
	return nil
}

// duration reads key as a Go duration. Bare numbers are rejected because
// they would otherwise be read as nanoseconds.
func duration(v *viper.Viper, key string) (time.Duration, error) {
	switch raw := v.Get(key).(type) {
	case string:
		if _, err := strconv.ParseFloat(strings.TrimSpace(raw), 64); err == nil {
			return 0, fmt.Errorf("config: %s=%q needs a unit, e.g. %ss", strings.ToUpper(key), raw, strings.TrimSpace(raw))
		}
	case int, int32, int64, float64:
		return 0, fmt.Errorf("config: %s=%v needs a unit, e.g. %vs", strings.ToUpper(key), raw, raw)
	}
	return v.GetDuration(key), nil
}

func str(v *viper.Viper, key string) string {
	return strings.TrimSpace(v.GetString(key))
}

// list reads a comma separated string (environment) or a YAML list.
func list(v *viper.Viper, key string) []string {
	var raw []string
	if s, ok := v.Get(key).(string); ok {
		raw = strings.Split(s, ",")
	} else {
		raw = v.GetStringSlice(key)
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// NewLogger returns a JSON logger on stdout at the given level.
func NewLogger(level string) *slog.Logger {
	return newLogger(os.Stdout, level)
}

func newLogger(w io.Writer, level string) *slog.Logger {
	var l slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: l}))
}
