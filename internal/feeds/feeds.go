// Package feeds reads wisdom entries from RSS and Atom feeds.
package feeds

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"ai-nwanne/internal/domain"
)

// Source collects entries from a fixed list of feed URLs.
type Source struct {
	urls   []string
	client *http.Client
	logger *slog.Logger
	maxAge time.Duration
	now    func() time.Time
}

type Option func(*Source)

func WithHTTPClient(hc *http.Client) Option {
	return func(s *Source) {
		if hc != nil {
			s.client = hc
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Source) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMaxAge drops items published or updated more than d ago. Items without
// a date are kept. Zero disables the filter.
func WithMaxAge(d time.Duration) Option {
	return func(s *Source) { s.maxAge = d }
}

func New(urls []string, opts ...Option) *Source {
	s := &Source{
		client: &http.Client{Timeout: 10 * time.Second},
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, u := range urls {
		if u = strings.TrimSpace(u); u != "" {
			s.urls = append(s.urls, u)
		}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Entries fetches every feed in order. A feed that fails to load or parse
// is logged and skipped; items without a title or older than the max age
// are dropped. Only a done
// context is reported as an error.
func (s *Source) Entries(ctx context.Context) ([]domain.WisdomEntry, error) {
	var out []domain.WisdomEntry
	var cutoff time.Time
	if s.maxAge > 0 {
		cutoff = s.now().Add(-s.maxAge)
	}
	for _, u := range s.urls {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		fp := gofeed.NewParser()
		fp.Client = s.client
		feed, err := fp.ParseURLWithContext(u, ctx)
		if err != nil {
			s.logger.WarnContext(ctx, "failed to parse feed", "url", u, "err", err)
			continue
		}
		for _, item := range feed.Items {
			if item == nil {
				continue
			}
			title := strings.TrimSpace(item.Title)
			if title == "" || s.stale(item, cutoff) {
				continue
			}
			out = append(out, domain.WisdomEntry{
				Title:   title,
				Summary: strings.TrimSpace(item.Description),
				Link:    strings.TrimSpace(item.Link),
			})
		}
	}
	return out, nil
}

func (s *Source) stale(item *gofeed.Item, cutoff time.Time) bool {
	if cutoff.IsZero() {
		return false
	}
	t := item.PublishedParsed
	if t == nil {
		t = item.UpdatedParsed
	}
	return t != nil && t.Before(cutoff)
}
