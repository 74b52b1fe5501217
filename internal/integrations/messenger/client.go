// Package messenger talks to the Facebook Graph API: replies through the
// Send API and page feed posts.
package messenger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://graph.facebook.com"
	DefaultVersion = "v19.0"
	name           = "messenger"
)

type sendRequest struct {
	MessagingType string    `json:"messaging_type"`
	Recipient     recipient `json:"recipient"`
	Message       message   `json:"message"`
}

type recipient struct {
	ID string `json:"id"`
}

type message struct {
	Text string `json:"text"`
}

type feedRequest struct {
	Message string `json:"message"`
}

type feedResponse struct {
	ID string `json:"id"`
}

// HTTPStatusError captures non-2xx Graph API responses.
type HTTPStatusError struct {
	StatusCode int
	Path       string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("messenger: unexpected status %d from %s: %s", e.StatusCode, e.Path, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client sends messages as a Facebook page.
type Client struct {
	baseURL     string
	version     string
	accessToken string
	pageID      string
	httpClient  *http.Client
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	}
}

func WithVersion(version string) Option {
	return func(c *Client) {
		if v := strings.TrimSpace(version); v != "" {
			c.version = v
		}
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithPageID enables PublishPost.
func WithPageID(pageID string) Option {
	return func(c *Client) {
		c.pageID = strings.TrimSpace(pageID)
	}
}

func New(accessToken string, opts ...Option) (*Client, error) {
	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" {
		return nil, errors.New("messenger: access token must not be empty")
	}
	c := &Client{
		baseURL:     defaultBaseURL,
		version:     DefaultVersion,
		accessToken: accessToken,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return c, nil
}

func (c *Client) Name() string { return name }

// Send replies to the page-scoped user id recipientID.
func (c *Client) Send(ctx context.Context, recipientID, text string) error {
	if strings.TrimSpace(recipientID) == "" {
		return errors.New("messenger: recipient id must not be empty")
	}
	_, err := c.post(ctx, "/me/messages", sendRequest{
		MessagingType: "RESPONSE",
		Recipient:     recipient{ID: recipientID},
		Message:       message{Text: text},
	})
	if err != nil {
		return fmt.Errorf("messenger: send: %w", err)
	}
	return nil
}

// PublishPost creates a post on the configured page feed and returns its id.
func (c *Client) PublishPost(ctx context.Context, text string) (string, error) {
	if c.pageID == "" {
		return "", errors.New("messenger: page id is not configured")
	}
	raw, err := c.post(ctx, "/"+url.PathEscape(c.pageID)+"/feed", feedRequest{Message: text})
	if err != nil {
		return "", fmt.Errorf("messenger: publish: %w", err)
	}
	var out feedResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("messenger: decode publish response: %w", err)
	}
	return out.ID, nil
}

func (c *Client) post(ctx context.Context, path string, in any) ([]byte, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	endpoint := c.baseURL + "/" + c.version + path + "?access_token=" + url.QueryEscape(c.accessToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		// url.Error carries the token in the query string.
		var ue *url.Error
		if errors.As(err, &ue) {
			return nil, fmt.Errorf("%s %s: %w", ue.Op, path, ue.Err)
		}
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{StatusCode: res.StatusCode, Path: path, Body: string(buf)}
	}
	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}
