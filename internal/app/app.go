// Package app wires configuration into the running components shared by the
// Lambda and CLI binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"ai-nwanne/handler"
	"ai-nwanne/internal/config"
	"ai-nwanne/internal/domain"
	"ai-nwanne/internal/feeds"
	"ai-nwanne/internal/integrations/messenger"
	"ai-nwanne/internal/integrations/openai"
	"ai-nwanne/internal/integrations/paramstore"
	"ai-nwanne/internal/integrations/telegram"
	"ai-nwanne/internal/integrations/translate"
	"ai-nwanne/internal/memory"
	"ai-nwanne/internal/metrics"
	"ai-nwanne/internal/ratelimit"
	"ai-nwanne/internal/repository"
	"ai-nwanne/internal/respcache"
	"ai-nwanne/internal/usecase"
	"ai-nwanne/internal/webhook"
)

// App holds the wired components.
type App struct {
	Config     config.Config
	Logger     *slog.Logger
	Store      repository.Store
	Registry   *prometheus.Registry
	Metrics    *metrics.Metrics
	Reply      *usecase.ReplyService
	Dispatcher *webhook.Dispatcher
	AutoPost   handler.AutoPoster
	Handler    *handler.Handler

	closers []func() error
}

type Option func(*options)

type options struct {
	store            repository.Store
	telegramEndpoint string
	awsConfig        *aws.Config
	voice            webhook.VoiceSynthesizer
}

// WithStore uses s instead of connecting to the configured backend.
func WithStore(s repository.Store) Option {
	return func(o *options) { o.store = s }
}

// WithTelegramEndpoint overrides the Bot API endpoint format.
func WithTelegramEndpoint(endpoint string) Option {
	return func(o *options) { o.telegramEndpoint = endpoint }
}

func WithAWSConfig(cfg aws.Config) Option {
	return func(o *options) { o.awsConfig = &cfg }
}

// WithVoice enables voice replies on platforms that support them.
func WithVoice(v webhook.VoiceSynthesizer) Option {
	return func(o *options) { o.voice = v }
}

// LoadConfig reads configuration from configFile and the environment,
// resolving secrets from Parameter Store when PARAM_PREFIX is set.
func LoadConfig(ctx context.Context, configFile string) (config.Config, error) {
	v, err := config.NewViper(configFile)
	if err != nil {
		return config.Config{}, err
	}
	var params paramstore.Getter
	if config.ParamPrefix(v) != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return config.Config{}, fmt.Errorf("app: load aws config: %w", err)
		}
		client, err := paramstore.New(ssm.NewFromConfig(awsCfg))
		if err != nil {
			return config.Config{}, err
		}
		params = client
	}
	return config.Load(ctx, v, params)
}

// New builds every component from cfg.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{Config: cfg, Logger: logger, Registry: prometheus.NewRegistry()}
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Metrics = metrics.New(a.Registry)

	store, err := a.openStore(ctx, cfg, o)
	if err != nil {
		return nil, err
	}
	a.Store = store

	hc := &http.Client{Timeout: cfg.HTTPTimeout}

	llmOpts := []openai.Option{openai.WithHTTPClient(hc)}
	if cfg.OpenAIBaseURL != "" {
		llmOpts = append(llmOpts, openai.WithBaseURL(cfg.OpenAIBaseURL))
	}
	llm, err := openai.NewClient(cfg.OpenAIAPIKey, llmOpts...)
	if err != nil {
		return nil, err
	}

	if err := a.buildReply(cfg, store, llm, hc); err != nil {
		return nil, err
	}

	senders, publishers, err := a.buildPlatforms(cfg, hc, o)
	if err != nil {
		return nil, err
	}

	dispatcher, err := webhook.NewDispatcher(a.Reply, senders,
		webhook.WithMetrics(a.Metrics),
		webhook.WithLogger(logger),
		webhook.WithVoice(o.voice),
	)
	if err != nil {
		return nil, err
	}
	a.Dispatcher = dispatcher

	poster := &observedPoster{metrics: a.Metrics}
	if len(publishers) > 0 {
		svc, err := usecase.NewAutoPostService(usecase.AutoPostDeps{
			LLM:        llm,
			Feeds:      feeds.New(cfg.WisdomFeeds,
				feeds.WithHTTPClient(hc),
				feeds.WithLogger(logger),
				feeds.WithMaxAge(time.Duration(cfg.FeedHoursBack)*time.Hour),
			),
			Topics:     store,
			Publishers: publishers,
			Logger:     logger,
		}, usecase.AutoPostConfig{
			Model:      cfg.OpenAIModel,
			MaxEntries: cfg.AutoPostMaxEntries,
		})
		if err != nil {
			return nil, err
		}
		poster.svc = svc
	} else {
		logger.Warn("auto poster disabled: no publisher configured")
	}
	a.AutoPost = poster

	h, err := handler.NewHandler(dispatcher, poster, store, handler.Config{
		VerifyToken:    cfg.FacebookVerifyToken,
		TelegramSecret: cfg.TelegramWebhookSecret,
		CronSecret:     cfg.CronSecret,
		Metrics:        metrics.Handler(a.Registry),
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}
	a.Handler = h
	return a, nil
}

func (a *App) openStore(ctx context.Context, cfg config.Config, o options) (repository.Store, error) {
	if o.store != nil {
		return o.store, nil
	}
	switch cfg.StoreBackend {
	case "dynamodb":
		awsCfg := o.awsConfig
		if awsCfg == nil {
			loaded, err := awsconfig.LoadDefaultConfig(ctx)
			if err != nil {
				return nil, fmt.Errorf("app: load aws config: %w", err)
			}
			awsCfg = &loaded
		}
		return repository.NewDynamoStore(dynamodb.NewFromConfig(*awsCfg), cfg.StateTable)
	default:
		rdb, err := repository.DialRedis(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, rdb.Close)
		return repository.NewRedisStore(rdb)
	}
}

func (a *App) buildReply(cfg config.Config, store repository.Store, llm *openai.Client, hc *http.Client) error {
	limiter, err := ratelimit.New(store, ratelimit.Config{
		Policy:      ratelimit.Policy(cfg.RateLimitPolicy),
		Window:      cfg.RateLimitWindow,
		MaxRequests: cfg.RateLimitMax,
	})
	if err != nil {
		return err
	}
	cache, err := respcache.New(store, respcache.WithMetrics(a.Metrics), respcache.WithLogger(a.Logger))
	if err != nil {
		return err
	}
	mem, err := memory.New(store, cfg.MemoryTTL)
	if err != nil {
		return err
	}
	translator, err := buildTranslator(cfg, llm, hc, a.Logger)
	if err != nil {
		return err
	}

	a.Reply, err = usecase.NewReplyService(usecase.ReplyDeps{
		LLM:        llm,
		Limiter:    limiter,
		Cache:      cache,
		Memory:     mem,
		Translator: translator,
		Profiles:   store,
		Logger:     a.Logger,
	}, usecase.ReplyConfig{
		Model:             cfg.OpenAIModel,
		MaxMessageLength:  cfg.MaxMessageLength,
		MemoryMaxTurns:    cfg.MemoryMaxTurns,
		CacheTTL:          cfg.CacheTTL,
		Moderation:        cfg.ModerationEnabled,
		GreetingPlatforms: []domain.Platform{domain.PlatformTelegram},
	})
	return err
}

func buildTranslator(cfg config.Config, llm translate.Chatter, hc *http.Client, logger *slog.Logger) (*translate.Chain, error) {
	providers := make([]translate.Provider, 0, len(cfg.TranslateProviders))
	for _, name := range cfg.TranslateProviders {
		switch name {
		case translate.ProviderNLLB:
			providers = append(providers, translate.NewNLLB(cfg.NLLBURL, hc))
		case translate.ProviderGoogle:
			g, err := translate.NewGoogle(cfg.GoogleAPIKey, cfg.GoogleURL, hc)
			if err != nil {
				return nil, err
			}
			providers = append(providers, g)
		case translate.ProviderLibre:
			providers = append(providers, translate.NewLibre(cfg.LibreURL, cfg.LibreAPIKey, hc))
		case translate.ProviderLLM:
			l, err := translate.NewLLM(llm, cfg.OpenAIModel)
			if err != nil {
				return nil, err
			}
			providers = append(providers, l)
		default:
			return nil, fmt.Errorf("app: unknown translate provider %q", name)
		}
	}
	return translate.NewChain(logger, providers...)
}

func (a *App) buildPlatforms(cfg config.Config, hc *http.Client, o options) (map[domain.Platform]webhook.Sender, []usecase.Publisher, error) {
	senders := map[domain.Platform]webhook.Sender{}
	var publishers []usecase.Publisher

	if cfg.MessengerEnabled() {
		graphOpts := []messenger.Option{messenger.WithHTTPClient(hc)}
		if cfg.FacebookGraphURL != "" {
			graphOpts = append(graphOpts, messenger.WithBaseURL(cfg.FacebookGraphURL))
		}
		fb, err := messenger.New(cfg.FacebookAccessToken, graphOpts...)
		if err != nil {
			return nil, nil, err
		}
		senders[domain.PlatformMessenger] = fb
		if cfg.FacebookPageID != "" {
			page, err := messenger.New(cfg.PageToken(), append(graphOpts, messenger.WithPageID(cfg.FacebookPageID))...)
			if err != nil {
				return nil, nil, err
			}
			publishers = append(publishers, page)
		}
	}

	if cfg.TelegramEnabled() {
		bot, err := telegram.NewBot(cfg.TelegramBotToken, hc, o.telegramEndpoint)
		if err != nil {
			return nil, nil, err
		}
		tg, err := telegram.New(bot, telegram.WithLimiter(telegram.NewLimiter()), telegram.WithChannel(cfg.TelegramChatID))
		if err != nil {
			return nil, nil, err
		}
		senders[domain.PlatformTelegram] = tg
		if cfg.TelegramChatID != "" {
			publishers = append(publishers, tg)
		}
	}
	return senders, publishers, nil
}

// Close releases store connections.
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// observedPoster counts auto-poster runs by status.
type observedPoster struct {
	svc     *usecase.AutoPostService
	metrics *metrics.Metrics
	mu      sync.Mutex
}

func (p *observedPoster) Run(ctx context.Context) (usecase.RunReport, error) {
	if p.svc == nil {
		p.metrics.ObserveAutoPost("disabled")
		return usecase.RunReport{}, &usecase.Error{Code: usecase.ErrorInternal, Reason: "autopost_disabled"}
	}
	// Cron and HTTP triggers may overlap in serve mode.
	p.mu.Lock()
	defer p.mu.Unlock()

	report, err := p.svc.Run(ctx)
	p.metrics.ObserveAutoPost(runStatus(report, err))
	return report, err
}

func runStatus(r usecase.RunReport, err error) string {
	if err != nil {
		return "failed"
	}
	for _, e := range r.Entries {
		if e.Err != nil {
			return "partial"
		}
		for _, pr := range e.Results {
			if pr.Err != nil {
				return "partial"
			}
		}
	}
	return "ok"
}
