// Package translate provides interchangeable translation providers and a
// ranked chain that falls through to the next provider on failure.
package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Provider names accepted in TRANSLATE_PROVIDERS.
const (
	ProviderNLLB   = "nllb"
	ProviderGoogle = "google"
	ProviderLibre  = "libre"
	ProviderLLM    = "llm"
)

// ErrEmptyTranslation is returned when a provider answers with no text.
var ErrEmptyTranslation = errors.New("translate: empty translation")

// Provider translates text from source into target. Codes are ISO 639-1;
// providers map them to their own scheme.
type Provider interface {
	Translate(ctx context.Context, text, target, source string) (string, error)
	Name() string
}

type language struct {
	name string
	nllb string
}

var languages = map[string]language{
	"en": {name: "English", nllb: "eng_Latn"},
	"ig": {name: "Igbo", nllb: "ibo_Latn"},
	"ha": {name: "Hausa", nllb: "hau_Latn"},
	"yo": {name: "Yoruba", nllb: "yor_Latn"},
	"fr": {name: "French", nllb: "fra_Latn"},
}

func nllbCode(code string) string {
	if l, ok := languages[code]; ok {
		return l.nllb
	}
	return code
}

func languageName(code string) string {
	if l, ok := languages[code]; ok {
		return l.name
	}
	return code
}

// ParseProviders splits a comma separated provider list and rejects unknown
// or duplicate names.
func ParseProviders(csv string) ([]string, error) {
	var names []string
	seen := map[string]bool{}
	for _, raw := range strings.Split(csv, ",") {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "" {
			continue
		}
		switch name {
		case ProviderNLLB, ProviderGoogle, ProviderLibre, ProviderLLM:
		default:
			return nil, fmt.Errorf("translate: unknown provider %q", name)
		}
		if seen[name] {
			return nil, fmt.Errorf("translate: duplicate provider %q", name)
		}
		seen[name] = true
		names = append(names, name)
	}
	if len(names) == 0 {
		return nil, errors.New("translate: at least one provider is required")
	}
	return names, nil
}

// Chain tries its providers in order and returns the first non-empty
// translation.
type Chain struct {
	providers []Provider
	logger    *slog.Logger
}

func NewChain(logger *slog.Logger, providers ...Provider) (*Chain, error) {
	if len(providers) == 0 {
		return nil, errors.New("translate: chain needs at least one provider")
	}
	for i, p := range providers {
		if p == nil {
			return nil, fmt.Errorf("translate: provider %d must not be nil", i)
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{providers: providers, logger: logger}, nil
}

func (c *Chain) Name() string {
	names := make([]string, len(c.providers))
	for i, p := range c.providers {
		names[i] = p.Name()
	}
	return "chain(" + strings.Join(names, ",") + ")"
}

// Translate returns text unchanged when target equals source or text is
// blank. Otherwise every provider failure is collected and joined.
func (c *Chain) Translate(ctx context.Context, text, target, source string) (string, error) {
	if strings.TrimSpace(text) == "" || target == source {
		return text, nil
	}
	var errs []error
	for _, p := range c.providers {
		out, err := p.Translate(ctx, text, target, source)
		if err == nil && strings.TrimSpace(out) == "" {
			err = ErrEmptyTranslation
		}
		if err == nil {
			return out, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		c.logger.WarnContext(ctx, "translation provider failed",
			"provider", p.Name(), "source", source, "target", target, "err", err)
		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
	}
	return "", fmt.Errorf("translate: all providers failed: %w", errors.Join(errs...))
}

// StatusError captures a non-2xx provider response.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("translate: %s returned status %d: %s", e.Provider, e.StatusCode, e.Body)
}

func (e *StatusError) HTTPStatusCode() int {
	return e.StatusCode
}

func defaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}

func postJSON(ctx context.Context, hc *http.Client, provider, url string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("translate: %s: marshal request: %w", provider, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("translate: %s: create request: %w", provider, err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("translate: %s: request failed: %w", provider, err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return &StatusError{Provider: provider, StatusCode: res.StatusCode, Body: string(buf)}
	}
	if err := json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(out); err != nil {
		return fmt.Errorf("translate: %s: decode response: %w", provider, err)
	}
	return nil
}
