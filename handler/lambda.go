package handler

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/aws/aws-lambda-go/events"
)

const scheduledDetailType = "Scheduled Event"

// Handle serves an API Gateway proxy request through the HTTP routes.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	r, err := toHTTPRequest(ctx, req)
	if err != nil {
		h.log.WarnContext(ctx, "malformed proxy request", "err", err)
		return events.APIGatewayProxyResponse{
			StatusCode: http.StatusBadRequest,
			Headers:    map[string]string{"Content-Type": contentTypeTextUTF},
			Body:       "Bad Request",
		}, nil
	}
	w := newProxyResponseWriter()
	h.router.ServeHTTP(w, r)
	return w.response(), nil
}

// Invoke is the Lambda entry point. Scheduled EventBridge events run the
// auto-poster; anything else is treated as an API Gateway proxy request.
func (h *Handler) Invoke(ctx context.Context, raw json.RawMessage) (events.APIGatewayProxyResponse, error) {
	var event struct {
		Source     string `json:"source"`
		DetailType string `json:"detail-type"`
	}
	_ = json.Unmarshal(raw, &event)
	if event.Source == "aws.events" || event.DetailType == scheduledDetailType {
		var ev events.CloudWatchEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return events.APIGatewayProxyResponse{}, fmt.Errorf("handler: decode scheduled event: %w", err)
		}
		h.log.InfoContext(ctx, "scheduled auto post", "event_id", ev.ID, "resources", ev.Resources)
		status, out := h.runAutoPost(ctx)
		body, err := json.Marshal(out)
		if err != nil {
			return events.APIGatewayProxyResponse{}, fmt.Errorf("handler: encode report: %w", err)
		}
		return events.APIGatewayProxyResponse{
			StatusCode: status,
			Headers:    map[string]string{"Content-Type": contentTypeJSON},
			Body:       string(body),
		}, nil
	}

	var req events.APIGatewayProxyRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return events.APIGatewayProxyResponse{}, fmt.Errorf("handler: decode proxy request: %w", err)
	}
	return h.Handle(ctx, req)
}

func toHTTPRequest(ctx context.Context, req events.APIGatewayProxyRequest) (*http.Request, error) {
	body := []byte(req.Body)
	if req.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(req.Body)
		if err != nil {
			return nil, fmt.Errorf("decode base64 body: %w", err)
		}
		body = decoded
	}

	q := url.Values{}
	for k, vs := range req.MultiValueQueryStringParameters {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	for k, v := range req.QueryStringParameters {
		if _, ok := q[k]; !ok {
			q.Set(k, v)
		}
	}

	path := req.Path
	if path == "" {
		path = "/"
	}
	method := req.HTTPMethod
	if method == "" {
		method = http.MethodGet
	}
	u := &url.URL{Path: path, RawQuery: q.Encode()}
	r, err := http.NewRequestWithContext(ctx, method, u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	for k, vs := range req.MultiValueHeaders {
		for _, v := range vs {
			r.Header.Add(k, v)
		}
	}
	for k, v := range req.Headers {
		if r.Header.Get(k) == "" {
			r.Header.Set(k, v)
		}
	}
	return r, nil
}

// proxyResponseWriter buffers a response for conversion to an API Gateway
// proxy response.
type proxyResponseWriter struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newProxyResponseWriter() *proxyResponseWriter {
	return &proxyResponseWriter{header: http.Header{}}
}

func (w *proxyResponseWriter) Header() http.Header { return w.header }

func (w *proxyResponseWriter) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}
}

func (w *proxyResponseWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.body.Write(b)
}

func (w *proxyResponseWriter) response() events.APIGatewayProxyResponse {
	status := w.status
	if status == 0 {
		status = http.StatusOK
	}
	headers := make(map[string]string, len(w.header))
	for k, vs := range w.header {
		headers[k] = strings.Join(vs, ", ")
	}
	return events.APIGatewayProxyResponse{
		StatusCode:        status,
		Headers:           headers,
		MultiValueHeaders: map[string][]string(w.header.Clone()),
		Body:              w.body.String(),
	}
}
