package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"ai-nwanne/internal/usecase"
	"ai-nwanne/internal/webhook"
)

const (
	correlationHeader  = "X-Correlation-Id"
	telegramSecretHdr  = "X-Telegram-Bot-Api-Secret-Token"
	maxBodyBytes       = 1 << 20
	messengerAckBody   = "EVENT_RECEIVED"
	telegramAckBody    = "OK"
	contentTypeJSON    = "application/json"
	contentTypeTextUTF = "text/plain; charset=utf-8"
)

// Dispatcher processes parsed webhook events.
type Dispatcher interface {
	Dispatch(ctx context.Context, events []webhook.Event) []webhook.Outcome
}

type AutoPoster interface {
	Run(ctx context.Context) (usecase.RunReport, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// Config carries the shared secrets checked at the HTTP edge and optional
// extras. Empty secrets disable the corresponding check or route as
// documented on each field.
type Config struct {
	// VerifyToken answers the Messenger handshake; empty makes it a 500.
	VerifyToken string
	// TelegramSecret, when set, must match the secret token header.
	TelegramSecret string
	// CronSecret guards POST /cron/post; empty makes the route a 500.
	CronSecret string
	// Metrics is mounted on /metrics when non-nil.
	Metrics http.Handler
	Logger  *slog.Logger
}

type Handler struct {
	dispatcher Dispatcher
	poster     AutoPoster
	store      Pinger
	cfg        Config
	log        *slog.Logger
	router     chi.Router
}

type errorResponse struct {
	Error         string `json:"error"`
	Reason        string `json:"reason,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
}

type healthResponse struct {
	Status string `json:"status"`
	Store  string `json:"store"`
}

func NewHandler(d Dispatcher, poster AutoPoster, store Pinger, cfg Config) (*Handler, error) {
	if d == nil {
		return nil, errors.New("handler: dispatcher must not be nil")
	}
	if poster == nil {
		return nil, errors.New("handler: auto poster must not be nil")
	}
	if store == nil {
		return nil, errors.New("handler: store must not be nil")
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	h := &Handler{dispatcher: d, poster: poster, store: store, cfg: cfg, log: log}
	h.router = h.routes()
	return h, nil
}

// Routes returns the HTTP surface shared by the Lambda and server binaries.
func (h *Handler) Routes() http.Handler { return h.router }

func (h *Handler) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(h.correlate)
	r.Use(middleware.Recoverer)

	r.HandleFunc("/webhook", h.messenger)
	r.HandleFunc("/webhook/messenger", h.messenger)
	r.HandleFunc("/webhook/telegram", h.telegram)
	r.HandleFunc("/cron/post", h.cronPost)
	r.Get("/health", h.health)
	if h.cfg.Metrics != nil {
		r.Handle("/metrics", h.cfg.Metrics)
	}
	return r
}

func (h *Handler) messenger(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		status, body := webhook.VerifyMessenger(r.URL.Query(), h.cfg.VerifyToken)
		if status == http.StatusInternalServerError {
			loggerFrom(r.Context(), h.log).ErrorContext(r.Context(), "messenger verify token is not configured")
		}
		writeText(w, status, body)
	case http.MethodPost:
		body, ok := h.readBody(w, r)
		if !ok {
			return
		}
		events, err := webhook.ParseMessenger(body)
		switch {
		case errors.Is(err, webhook.ErrNotPage):
			writeText(w, http.StatusNotFound, "Not Found")
			return
		case err != nil:
			writeError(w, r, http.StatusBadRequest, usecase.ErrorInvalidInput, "malformed_payload")
			return
		}
		h.dispatcher.Dispatch(r.Context(), events)
		writeText(w, http.StatusOK, messengerAckBody)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (h *Handler) telegram(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if h.cfg.TelegramSecret != "" && !webhook.SecretEqual(r.Header.Get(telegramSecretHdr), h.cfg.TelegramSecret) {
		loggerFrom(r.Context(), h.log).WarnContext(r.Context(), "rejected telegram update with bad secret token")
		writeError(w, r, http.StatusUnauthorized, usecase.ErrorInvalidInput, "bad_secret_token")
		return
	}
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	ev, err := webhook.ParseTelegram(body)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, usecase.ErrorInvalidInput, "malformed_payload")
		return
	}
	h.dispatcher.Dispatch(r.Context(), []webhook.Event{ev})
	writeText(w, http.StatusOK, telegramAckBody)
}

func (h *Handler) cronPost(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if h.cfg.CronSecret == "" {
		loggerFrom(r.Context(), h.log).ErrorContext(r.Context(), "cron secret is not configured")
		writeError(w, r, http.StatusInternalServerError, usecase.ErrorInternal, "cron_secret_not_configured")
		return
	}
	token, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !found || !webhook.SecretEqual(strings.TrimSpace(token), h.cfg.CronSecret) {
		writeError(w, r, http.StatusUnauthorized, usecase.ErrorInvalidInput, "unauthorized")
		return
	}
	status, out := h.runAutoPost(r.Context())
	writeJSON(w, status, out)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		loggerFrom(r.Context(), h.log).ErrorContext(r.Context(), "store ping failed", "err", err)
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "degraded", Store: "unreachable"})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Store: "ok"})
}

func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, http.StatusRequestEntityTooLarge, usecase.ErrorInvalidInput, "body_too_large")
			return nil, false
		}
		writeError(w, r, http.StatusBadRequest, usecase.ErrorInvalidInput, "unreadable_body")
		return nil, false
	}
	return body, true
}

func statusForCode(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorInvalidInput, usecase.ErrorInvalidQuestion:
		return http.StatusBadRequest
	case usecase.ErrorRateLimited:
		return http.StatusTooManyRequests
	case usecase.ErrorUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeText(w, http.StatusMethodNotAllowed, "Method "+r.Method+" Not Allowed")
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", contentTypeTextUTF)
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code usecase.ErrorCode, reason string) {
	writeJSON(w, status, errorResponse{
		Error:         string(code),
		Reason:        reason,
		CorrelationID: CorrelationID(r.Context()),
	})
}
