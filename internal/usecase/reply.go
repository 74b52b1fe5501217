package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"ai-nwanne/internal/domain"
	"ai-nwanne/internal/langdetect"
	"ai-nwanne/internal/respcache"
)

const (
	defaultModel            = "gpt-3.5-turbo"
	defaultMaxMessageLength = 1000
	defaultMaxTokens        = 500
	defaultReplyTemperature = 0.8
	defaultMemoryTurns      = 10
	defaultCacheTTL         = time.Hour
	defaultProfileTTL       = 30 * 24 * time.Hour

	profilePrefix = "user:"
)

type LLMClient interface {
	Chat(ctx context.Context, in domain.ChatRequest) (string, error)
	Moderate(ctx context.Context, input string) (bool, error)
}

type RateLimiter interface {
	Allow(ctx context.Context, identity string) (bool, error)
}

type ResponseCache interface {
	GetOrCompute(ctx context.Context, ns respcache.Namespace, identity, input string, ttl time.Duration, compute respcache.ComputeFunc) (string, error)
}

type ConversationMemory interface {
	AppendTurn(ctx context.Context, identity, role, content string, maxLength int) ([]domain.ChatMessage, error)
}

type Translator interface {
	Translate(ctx context.Context, text, target, source string) (string, error)
}

type LanguageDetector interface {
	Detect(ctx context.Context, text string) (string, error)
}

// ProfileStore keeps first-contact records under user:<identity>.
type ProfileStore interface {
	Exists(ctx context.Context, key string) (bool, error)
	HashSet(ctx context.Context, key string, fields map[string]string) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// ReplyDeps are the collaborators of ReplyService. Translator and Profiles
// are optional; a nil Detector uses the greeting detector.
type ReplyDeps struct {
	LLM        LLMClient
	Limiter    RateLimiter
	Cache      ResponseCache
	Memory     ConversationMemory
	Translator Translator
	Detector   LanguageDetector
	Profiles   ProfileStore
	Logger     *slog.Logger
}

type ReplyConfig struct {
	Model             string
	MaxMessageLength  int
	MaxTokens         int
	Temperature       float64
	MemoryMaxTurns    int
	CacheTTL          time.Duration
	ProfileTTL        time.Duration
	Moderation        bool
	GreetingPlatforms []domain.Platform
}

type ReplyService struct {
	deps     ReplyDeps
	cfg      ReplyConfig
	greeting map[domain.Platform]bool
	now      func() time.Time
}

type ReplyInput struct {
	Platform    domain.Platform
	Identity    string
	Text        string
	DisplayName string
}

type ReplyOutput struct {
	Text     string
	Language string
	Greeting bool
}

func NewReplyService(deps ReplyDeps, cfg ReplyConfig) (*ReplyService, error) {
	if deps.LLM == nil {
		return nil, errors.New("usecase: llm client must not be nil")
	}
	if deps.Limiter == nil {
		return nil, errors.New("usecase: rate limiter must not be nil")
	}
	if deps.Cache == nil {
		return nil, errors.New("usecase: response cache must not be nil")
	}
	if deps.Memory == nil {
		return nil, errors.New("usecase: conversation memory must not be nil")
	}
	if len(cfg.GreetingPlatforms) > 0 && deps.Profiles == nil {
		return nil, errors.New("usecase: profile store must not be nil when greetings are enabled")
	}
	if deps.Detector == nil {
		deps.Detector = langdetect.GreetingDetector{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = defaultModel
	}
	if cfg.MaxMessageLength <= 0 {
		cfg.MaxMessageLength = defaultMaxMessageLength
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = defaultReplyTemperature
	}
	if cfg.MemoryMaxTurns <= 0 {
		cfg.MemoryMaxTurns = defaultMemoryTurns
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	if cfg.ProfileTTL <= 0 {
		cfg.ProfileTTL = defaultProfileTTL
	}
	greeting := make(map[domain.Platform]bool, len(cfg.GreetingPlatforms))
	for _, p := range cfg.GreetingPlatforms {
		greeting[p] = true
	}
	return &ReplyService{deps: deps, cfg: cfg, greeting: greeting, now: time.Now}, nil
}

// Reply runs one inbound message through rate limiting, greeting,
// moderation, language detection, translation and the cached LLM answer.
func (s *ReplyService) Reply(ctx context.Context, in ReplyInput) (ReplyOutput, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return ReplyOutput{}, newError(ErrorInvalidInput, "empty_message", nil)
	}
	if utf8.RuneCountInString(text) > s.cfg.MaxMessageLength {
		return ReplyOutput{}, newError(ErrorInvalidInput, "message_too_long", nil)
	}
	identity := strings.TrimSpace(in.Identity)
	if identity == "" {
		return ReplyOutput{}, newError(ErrorInvalidInput, "missing_identity", nil)
	}

	allowed, err := s.deps.Limiter.Allow(ctx, identity)
	if err != nil {
		return ReplyOutput{}, newError(ErrorInternal, "rate_limit_store_error", err)
	}
	if !allowed {
		return ReplyOutput{}, newError(ErrorRateLimited, "cooldown", nil)
	}

	if s.greeting[in.Platform] {
		first, err := s.recordContact(ctx, in.Platform, identity, in.DisplayName)
		if err != nil {
			return ReplyOutput{}, newError(ErrorInternal, "profile_store_error", err)
		}
		if first {
			return ReplyOutput{Text: welcomeText(in.DisplayName), Language: langdetect.English, Greeting: true}, nil
		}
	}

	if s.cfg.Moderation {
		flagged, err := s.deps.LLM.Moderate(ctx, text)
		if err != nil {
			if status, ok := upstreamStatusCode(err); ok && status == 429 {
				return ReplyOutput{}, newError(ErrorRateLimited, "moderation_rate_limited", err)
			}
			return ReplyOutput{}, newError(ErrorUpstream, "moderation_error", err)
		}
		if flagged {
			return ReplyOutput{}, newError(ErrorInvalidQuestion, "moderation_flagged", nil)
		}
	}

	lang := s.detectLanguage(ctx, identity, text)
	translated := lang != langdetect.English && s.deps.Translator != nil

	prompt := text
	if translated {
		prompt = s.translate(ctx, identity, text, langdetect.English, lang)
	}

	answer, err := s.deps.Cache.GetOrCompute(ctx, respcache.NamespaceAnswer, identity, text, s.cfg.CacheTTL,
		func(ctx context.Context) (string, error) {
			return s.generate(ctx, identity, prompt, lang, translated)
		})
	if err != nil {
		if ue, ok := AsError(err); ok {
			return ReplyOutput{}, ue
		}
		return ReplyOutput{}, newError(ErrorInternal, "cache_store_error", err)
	}

	if translated {
		answer = s.translate(ctx, identity, answer, lang, langdetect.English)
	}
	return ReplyOutput{Text: answer, Language: lang}, nil
}

// recordContact reports whether identity is seen for the first time. The
// profile TTL is refreshed on every contact.
func (s *ReplyService) recordContact(ctx context.Context, platform domain.Platform, identity, name string) (bool, error) {
	key := profilePrefix + identity
	exists, err := s.deps.Profiles.Exists(ctx, key)
	if err != nil {
		return false, err
	}
	if exists {
		if err := s.deps.Profiles.Expire(ctx, key, s.cfg.ProfileTTL); err != nil {
			s.deps.Logger.WarnContext(ctx, "failed to refresh profile ttl", "identity", identity, "err", err)
		}
		return false, nil
	}
	if strings.TrimSpace(name) == "" {
		name = "there"
	}
	err = s.deps.Profiles.HashSet(ctx, key, map[string]string{
		"firstSeen": s.now().UTC().Format(time.RFC3339),
		"name":      name,
		"platform":  string(platform),
	})
	if err != nil {
		return false, err
	}
	if err := s.deps.Profiles.Expire(ctx, key, s.cfg.ProfileTTL); err != nil {
		return false, err
	}
	return true, nil
}

func (s *ReplyService) detectLanguage(ctx context.Context, identity, text string) string {
	lang, err := s.deps.Cache.GetOrCompute(ctx, respcache.NamespaceLanguage, identity, text, s.cfg.CacheTTL,
		func(ctx context.Context) (string, error) {
			return s.deps.Detector.Detect(ctx, text)
		})
	if err != nil || lang == "" {
		if err != nil {
			s.deps.Logger.WarnContext(ctx, "language detection failed", "identity", identity, "err", err)
		}
		return langdetect.English
	}
	if !langdetect.Supported(lang) {
		s.deps.Logger.WarnContext(ctx, "unsupported language, answering in English", "identity", identity, "language", lang)
		return langdetect.English
	}
	return lang
}

// translate returns text in target, or text unchanged when translation fails.
func (s *ReplyService) translate(ctx context.Context, identity, text, target, source string) string {
	out, err := s.deps.Cache.GetOrCompute(ctx, respcache.TranslationNamespace(target), identity, text, s.cfg.CacheTTL,
		func(ctx context.Context) (string, error) {
			return s.deps.Translator.Translate(ctx, text, target, source)
		})
	if err != nil || strings.TrimSpace(out) == "" {
		s.deps.Logger.WarnContext(ctx, "translation failed, using original text",
			"identity", identity, "source", source, "target", target, "err", err)
		return text
	}
	return out
}

// generate records the user turn, asks the LLM with the conversation so far
// and records the answer.
func (s *ReplyService) generate(ctx context.Context, identity, prompt, lang string, translated bool) (string, error) {
	history, err := s.deps.Memory.AppendTurn(ctx, identity, domain.RoleUser, prompt, s.cfg.MemoryMaxTurns)
	if err != nil {
		return "", newError(ErrorInternal, "memory_store_error", err)
	}

	answer, err := s.deps.LLM.Chat(ctx, domain.ChatRequest{
		Model:       s.cfg.Model,
		Messages:    buildReplyMessages(lang, translated, history),
		Temperature: domain.Float(s.cfg.Temperature),
		MaxTokens:   s.cfg.MaxTokens,
	})
	if err != nil {
		if status, ok := upstreamStatusCode(err); ok && status == 429 {
			return "", newError(ErrorRateLimited, "openai_rate_limited", err)
		}
		return "", newError(ErrorUpstream, "openai_error", err)
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return "", newError(ErrorUpstream, "openai_empty_response", nil)
	}

	if _, err := s.deps.Memory.AppendTurn(ctx, identity, domain.RoleAssistant, answer, s.cfg.MemoryMaxTurns); err != nil {
		return "", newError(ErrorInternal, "memory_store_error", err)
	}
	return answer, nil
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}
