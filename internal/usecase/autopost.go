package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"ai-nwanne/internal/domain"
)

const (
	usedTopicsKey          = "usedTopics"
	maxUsedTopics          = 500
	promptTopics           = 100
	defaultWriterTemp      = 0.9
	defaultAutoPostEntries = 1
)

type Chatter interface {
	Chat(ctx context.Context, in domain.ChatRequest) (string, error)
}

type FeedSource interface {
	Entries(ctx context.Context) ([]domain.WisdomEntry, error)
}

// TopicStore holds the global list of proverbs already posted.
type TopicStore interface {
	ListRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	ListPush(ctx context.Context, key string, values ...string) error
	ListTrim(ctx context.Context, key string, start, stop int64) error
	Delete(ctx context.Context, key string) error
}

// Publisher is an auto-post destination.
type Publisher interface {
	Name() string
	PublishPost(ctx context.Context, text string) (string, error)
}

type AutoPostDeps struct {
	LLM        Chatter
	Feeds      FeedSource
	Topics     TopicStore
	Publishers []Publisher
	Logger     *slog.Logger
}

type AutoPostConfig struct {
	Model string
	// MaxEntries is the number of posts published per run.
	MaxEntries int
	// MaxAttempts bounds the feed entries generated per run; zero means
	// three per post.
	MaxAttempts int
	Temperature float64
}

type AutoPostService struct {
	deps AutoPostDeps
	cfg  AutoPostConfig
}

// PublishResult is the outcome of one publisher for one post.
type PublishResult struct {
	Publisher string
	PostID    string
	Err       error
}

// SkipReason says why a generated post was not published.
type SkipReason string

const (
	SkipNoProverb      SkipReason = "no_proverb"
	SkipRecentlyPosted SkipReason = "recently_posted"
	SkipDuplicate      SkipReason = "duplicate"
)

type EntryReport struct {
	Title   string
	Proverb string
	Skip    SkipReason
	Err     error
	Results []PublishResult
}

type RunReport struct {
	Entries   []EntryReport
	Generated int
	Published int
}

func NewAutoPostService(deps AutoPostDeps, cfg AutoPostConfig) (*AutoPostService, error) {
	if deps.LLM == nil {
		return nil, errors.New("usecase: llm client must not be nil")
	}
	if deps.Feeds == nil {
		return nil, errors.New("usecase: feed source must not be nil")
	}
	if deps.Topics == nil {
		return nil, errors.New("usecase: topic store must not be nil")
	}
	if len(deps.Publishers) == 0 {
		return nil, errors.New("usecase: at least one publisher is required")
	}
	for i, p := range deps.Publishers {
		if p == nil {
			return nil, fmt.Errorf("usecase: publisher %d must not be nil", i)
		}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = defaultModel
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = defaultAutoPostEntries
	}
	if cfg.MaxAttempts < cfg.MaxEntries {
		cfg.MaxAttempts = 3 * cfg.MaxEntries
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = defaultWriterTemp
	}
	return &AutoPostService{deps: deps, cfg: cfg}, nil
}

// Run generates and publishes up to MaxEntries wisdom posts, walking the feed
// entries until the budget is met. Entries whose proverb is missing, already
// in usedTopics or repeated within the run are skipped. It fails when no post
// could be generated or no publisher accepted any post.
func (s *AutoPostService) Run(ctx context.Context) (RunReport, error) {
	log := s.deps.Logger

	entries, err := s.deps.Feeds.Entries(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return RunReport{}, newError(ErrorInternal, "cancelled", err)
		}
		log.WarnContext(ctx, "failed to read wisdom feeds", "err", err)
	}
	if len(entries) == 0 {
		entries = make([]domain.WisdomEntry, s.cfg.MaxEntries)
	}
	if len(entries) > s.cfg.MaxAttempts {
		entries = entries[:s.cfg.MaxAttempts]
	}

	used, err := s.deps.Topics.ListRange(ctx, usedTopicsKey, 0, -1)
	if err != nil {
		log.WarnContext(ctx, "failed to load used topics", "err", err)
		used = nil
	}
	seen := make(map[string]bool, len(used))
	for _, t := range used {
		seen[t] = true
	}
	posted := map[string]bool{}

	var report RunReport
	var genErrs []error
	for _, e := range entries {
		if report.Published >= s.cfg.MaxEntries {
			break
		}
		er := EntryReport{Title: e.Title}
		content, err := s.generate(ctx, e, newest(used, promptTopics))
		if err != nil {
			log.ErrorContext(ctx, "failed to generate wisdom post", "title", e.Title, "err", err)
			er.Err = err
			genErrs = append(genErrs, err)
			report.Entries = append(report.Entries, er)
			continue
		}
		report.Generated++

		proverb, ok := extractProverb(content)
		er.Proverb = proverb
		post := formatPost(content)
		switch {
		case !ok:
			er.Skip = SkipNoProverb
		case seen[proverb]:
			er.Skip = SkipRecentlyPosted
		case posted[post]:
			er.Skip = SkipDuplicate
		}
		if er.Skip != "" {
			log.InfoContext(ctx, "skipping wisdom post", "title", e.Title, "proverb", proverb, "reason", er.Skip)
			report.Entries = append(report.Entries, er)
			continue
		}
		posted[post] = true

		if s.publish(ctx, post, &er) {
			report.Published++
			seen[proverb] = true
			used = s.rememberTopic(ctx, used, proverb)
		}
		report.Entries = append(report.Entries, er)
	}

	if report.Generated == 0 {
		return report, newError(ErrorUpstream, "generation_failed", errors.Join(genErrs...))
	}
	if report.Published == 0 {
		for _, e := range report.Entries {
			if len(e.Results) > 0 {
				return report, newError(ErrorUpstream, "publish_failed", nil)
			}
		}
		return report, newError(ErrorUpstream, "no_new_proverb", nil)
	}
	return report, nil
}

// publish sends post to every publisher and reports whether any accepted it.
func (s *AutoPostService) publish(ctx context.Context, post string, er *EntryReport) bool {
	log := s.deps.Logger
	published := false
	for _, p := range s.deps.Publishers {
		id, err := p.PublishPost(ctx, post)
		er.Results = append(er.Results, PublishResult{Publisher: p.Name(), PostID: id, Err: err})
		if err != nil {
			log.ErrorContext(ctx, "failed to publish wisdom post", "publisher", p.Name(), "err", err)
			continue
		}
		published = true
		log.InfoContext(ctx, "published wisdom post", "publisher", p.Name(), "post_id", id)
	}
	return published
}

func (s *AutoPostService) generate(ctx context.Context, e domain.WisdomEntry, topics []string) (string, error) {
	content, err := s.deps.LLM.Chat(ctx, domain.ChatRequest{
		Model:       s.cfg.Model,
		Messages:    []domain.ChatMessage{{Role: domain.RoleUser, Content: writerPrompt(e, topics)}},
		Temperature: domain.Float(s.cfg.Temperature),
	})
	if err != nil {
		return "", fmt.Errorf("usecase: generate post: %w", err)
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return "", errors.New("usecase: generate post: empty completion")
	}
	return content, nil
}

// rememberTopic appends proverb to usedTopics, dropping an older copy first,
// and keeps the newest maxUsedTopics. It returns the updated local view.
func (s *AutoPostService) rememberTopic(ctx context.Context, used []string, proverb string) []string {
	kept := make([]string, 0, len(used)+1)
	dup := false
	for _, t := range used {
		if t == proverb {
			dup = true
			continue
		}
		kept = append(kept, t)
	}
	kept = append(kept, proverb)
	if len(kept) > maxUsedTopics {
		kept = kept[len(kept)-maxUsedTopics:]
	}

	var err error
	if dup {
		err = s.replaceTopics(ctx, kept)
	} else if err = s.deps.Topics.ListPush(ctx, usedTopicsKey, proverb); err == nil {
		err = s.deps.Topics.ListTrim(ctx, usedTopicsKey, -maxUsedTopics, -1)
	}
	if err != nil {
		s.deps.Logger.WarnContext(ctx, "failed to record used topic", "proverb", proverb, "err", err)
	}
	return kept
}

func (s *AutoPostService) replaceTopics(ctx context.Context, topics []string) error {
	if err := s.deps.Topics.Delete(ctx, usedTopicsKey); err != nil {
		return err
	}
	return s.deps.Topics.ListPush(ctx, usedTopicsKey, topics...)
}

func newest(list []string, n int) []string {
	if len(list) > n {
		return list[len(list)-n:]
	}
	return list
}
