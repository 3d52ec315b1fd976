package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/taskibot/internal/channel/telegram"
	"github.com/ent0n29/taskibot/internal/config"
	"github.com/ent0n29/taskibot/internal/journal"
	"github.com/ent0n29/taskibot/internal/observability"
	"github.com/ent0n29/taskibot/internal/router"
	"github.com/ent0n29/taskibot/internal/session"
)

// ChatRouter queues chat messages; *router.Router implements it.
type ChatRouter interface {
	Submit(ctx context.Context, in router.Inbound, deliver router.Deliver) error
}

// UpdateHandler consumes Telegram webhook updates; *telegram.Bot implements it.
type UpdateHandler interface {
	HandleUpdate(ctx context.Context, u telegram.Update) error
}

// Deps are the collaborators of the HTTP server. Telegram, Journal and
// Metrics may be nil.
type Deps struct {
	Store       *session.Store
	Router      ChatRouter
	Telegram    UpdateHandler
	Journal     journal.Store
	Metrics     *observability.Metrics
	BackendMode string
}

type Server struct {
	cfg      config.Config
	deps     Deps
	upgrader websocket.Upgrader
}

func New(cfg config.Config, deps Deps) *Server {
	return &Server{
		cfg:  cfg,
		deps: deps,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Browsers may only open the chat socket from the same origin.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		s.deps.Metrics.Handler().ServeHTTP(w, r)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.requireAdmin)
		r.Get("/v1/status", s.handleStatus)
		r.Get("/v1/perf/latency", s.handlePerfLatency)
		r.Get("/v1/sessions", s.handleSessions)
		r.Get("/v1/sessions/{chatID}/journal", s.handleJournal)
	})
	r.Post("/v1/telegram/webhook", s.handleTelegramWebhook)
	r.Get("/v1/chat/ws", s.handleChatWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"backend_mode": s.deps.BackendMode,
		"journal_mode": s.journalMode(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if p, ok := s.deps.Journal.(interface{ Ping(context.Context) error }); ok {
		if err := p.Ping(r.Context()); err != nil {
			respondError(w, http.StatusServiceUnavailable, "journal_unavailable", err.Error())
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":       "ready",
		"backend_mode": s.deps.BackendMode,
		"journal_mode": s.journalMode(),
	})
}

func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.deps.Metrics.SnapshotLatency())
}

type sessionsResponse struct {
	Active  int                   `json:"active"`
	ByState map[session.State]int `json:"by_state"`
}

func (s *Server) handleSessions(w http.ResponseWriter, _ *http.Request) {
	counts := s.deps.Store.Counts()
	total := 0
	for _, n := range counts {
		total += n
	}
	respondJSON(w, http.StatusOK, sessionsResponse{Active: total, ByState: counts})
}

func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	if s.deps.Journal == nil {
		respondError(w, http.StatusNotFound, "journal_disabled", "chat journal is not configured")
		return
	}
	chatID := strings.TrimSpace(chi.URLParam(r, "chatID"))
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be between 1 and 500")
			return
		}
		limit = n
	}
	entries, err := s.deps.Journal.Recent(r.Context(), chatID, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "journal_error", err.Error())
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"chat_id": chatID, "entries": entries})
}

// handleTelegramWebhook accepts Bot API updates. Telegram retries non-2xx
// responses, so accepted updates are acknowledged even if they carry no text.
func (s *Server) handleTelegramWebhook(w http.ResponseWriter, r *http.Request) {
	if s.deps.Telegram == nil {
		respondError(w, http.StatusNotFound, "telegram_disabled", "telegram webhook is not configured")
		return
	}
	secret := s.cfg.TelegramWebhookSecret
	if secret == "" {
		respondError(w, http.StatusForbidden, "webhook_secret_missing", "webhook secret is not configured")
		return
	}
	if !tokenMatches(r.Header.Get("X-Telegram-Bot-Api-Secret-Token"), secret) {
		respondError(w, http.StatusUnauthorized, "invalid_secret", "secret token mismatch")
		return
	}
	var u telegram.Update
	if err := decodeJSON(r, &u); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_update", err.Error())
		return
	}
	if err := s.deps.Telegram.HandleUpdate(r.Context(), u); err != nil {
		if errors.Is(err, router.ErrClosed) {
			respondError(w, http.StatusServiceUnavailable, "shutting_down", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "update_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// requireAdmin guards the operator routes with APP_ADMIN_TOKEN sent as a
// bearer token. Without a configured token the routes are closed.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := s.cfg.AdminToken
		if token == "" {
			respondError(w, http.StatusForbidden, "admin_disabled", "set APP_ADMIN_TOKEN to enable operator routes")
			return
		}
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || !tokenMatches(strings.TrimSpace(got), token) {
			respondError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid admin token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func tokenMatches(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func (s *Server) journalMode() string {
	switch s.deps.Journal.(type) {
	case nil:
		return "disabled"
	case *journal.PostgresStore:
		return "postgres"
	default:
		return "in-memory"
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
