package translate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"ai-nwanne/internal/domain"
)

const (
	DefaultNLLBURL   = "https://nllb.metatext.io/translate"
	DefaultGoogleURL = "https://translation.googleapis.com/language/translate/v2"
	DefaultLibreURL  = "https://libretranslate.de/translate"
)

// NLLB calls a No Language Left Behind HTTP endpoint.
type NLLB struct {
	url string
	hc  *http.Client
}

func NewNLLB(endpoint string, hc *http.Client) *NLLB {
	if strings.TrimSpace(endpoint) == "" {
		endpoint = DefaultNLLBURL
	}
	if hc == nil {
		hc = defaultHTTPClient()
	}
	return &NLLB{url: endpoint, hc: hc}
}

func (*NLLB) Name() string { return ProviderNLLB }

func (n *NLLB) Translate(ctx context.Context, text, target, source string) (string, error) {
	in := struct {
		Text   string `json:"text"`
		Source string `json:"source"`
		Target string `json:"target"`
	}{Text: text, Source: nllbCode(source), Target: nllbCode(target)}
	var out struct {
		Translation string `json:"translation"`
	}
	if err := postJSON(ctx, n.hc, ProviderNLLB, n.url, in, &out); err != nil {
		return "", err
	}
	return out.Translation, nil
}

// Google calls the Cloud Translation v2 REST API.
type Google struct {
	url    string
	apiKey string
	hc     *http.Client
}

func NewGoogle(apiKey, endpoint string, hc *http.Client) (*Google, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("translate: google api key must not be empty")
	}
	if strings.TrimSpace(endpoint) == "" {
		endpoint = DefaultGoogleURL
	}
	if hc == nil {
		hc = defaultHTTPClient()
	}
	return &Google{url: endpoint, apiKey: apiKey, hc: hc}, nil
}

func (*Google) Name() string { return ProviderGoogle }

func (g *Google) Translate(ctx context.Context, text, target, source string) (string, error) {
	in := struct {
		Q      string `json:"q"`
		Source string `json:"source"`
		Target string `json:"target"`
		Format string `json:"format"`
	}{Q: text, Source: source, Target: target, Format: "text"}
	var out struct {
		Data struct {
			Translations []struct {
				TranslatedText string `json:"translatedText"`
			} `json:"translations"`
		} `json:"data"`
	}
	endpoint := g.url + "?key=" + url.QueryEscape(g.apiKey)
	if err := postJSON(ctx, g.hc, ProviderGoogle, endpoint, in, &out); err != nil {
		return "", err
	}
	if len(out.Data.Translations) == 0 {
		return "", ErrEmptyTranslation
	}
	return out.Data.Translations[0].TranslatedText, nil
}

// Libre calls a LibreTranslate instance.
type Libre struct {
	url    string
	apiKey string
	hc     *http.Client
}

func NewLibre(endpoint, apiKey string, hc *http.Client) *Libre {
	if strings.TrimSpace(endpoint) == "" {
		endpoint = DefaultLibreURL
	}
	if hc == nil {
		hc = defaultHTTPClient()
	}
	return &Libre{url: endpoint, apiKey: strings.TrimSpace(apiKey), hc: hc}
}

func (*Libre) Name() string { return ProviderLibre }

func (l *Libre) Translate(ctx context.Context, text, target, source string) (string, error) {
	in := struct {
		Q      string `json:"q"`
		Source string `json:"source"`
		Target string `json:"target"`
		Format string `json:"format"`
		APIKey string `json:"api_key,omitempty"`
	}{Q: text, Source: source, Target: target, Format: "text", APIKey: l.apiKey}
	var out struct {
		TranslatedText string `json:"translatedText"`
	}
	if err := postJSON(ctx, l.hc, ProviderLibre, l.url, in, &out); err != nil {
		return "", err
	}
	return out.TranslatedText, nil
}

// Chatter is the completion call the LLM provider needs.
type Chatter interface {
	Chat(ctx context.Context, in domain.ChatRequest) (string, error)
}

// LLM translates with a chat completion.
type LLM struct {
	chat  Chatter
	model string
}

func NewLLM(chat Chatter, model string) (*LLM, error) {
	if chat == nil {
		return nil, errors.New("translate: chat client must not be nil")
	}
	if strings.TrimSpace(model) == "" {
		return nil, errors.New("translate: model must not be empty")
	}
	return &LLM{chat: chat, model: model}, nil
}

func (*LLM) Name() string { return ProviderLLM }

func (l *LLM) Translate(ctx context.Context, text, target, _ string) (string, error) {
	out, err := l.chat.Chat(ctx, domain.ChatRequest{
		Model: l.model,
		Messages: []domain.ChatMessage{
			{Role: domain.RoleSystem, Content: "You are a helpful translator. Reply with the translation only."},
			{Role: domain.RoleUser, Content: fmt.Sprintf("Translate this to %s:\n\n%s", languageName(target), text)},
		},
		Temperature: domain.Float(0),
		MaxTokens:   500,
	})
	if err != nil {
		return "", fmt.Errorf("translate: llm: %w", err)
	}
	return strings.TrimSpace(out), nil
}
