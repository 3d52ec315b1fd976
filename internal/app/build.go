package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ent0n29/taskibot/internal/backend"
	"github.com/ent0n29/taskibot/internal/channel/telegram"
	"github.com/ent0n29/taskibot/internal/config"
	"github.com/ent0n29/taskibot/internal/httpapi"
	"github.com/ent0n29/taskibot/internal/journal"
	"github.com/ent0n29/taskibot/internal/lexicon"
	"github.com/ent0n29/taskibot/internal/observability"
	"github.com/ent0n29/taskibot/internal/router"
	"github.com/ent0n29/taskibot/internal/session"
)

type BuildResult struct {
	Config      config.Config
	API         *httpapi.Server
	Router      *router.Router
	Sessions    *session.Store
	Journal     journal.Store
	Metrics     *observability.Metrics
	BackendMode string

	// Telegram is nil when the Telegram channel is disabled.
	Telegram *telegram.Bot

	// Cleanup should be called on shutdown to release external resources (DB, workers).
	Cleanup func(ctx context.Context) error
}

func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*BuildResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	lx, err := lexicon.Load(cfg.LexiconFile)
	if err != nil {
		return nil, fmt.Errorf("lexicon load failed: %w", err)
	}

	api, backendMode, err := backend.NewAPI(backend.Config{
		Mode:    cfg.BackendMode,
		BaseURL: cfg.BackendBaseURL,
		Timeout: cfg.BackendTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("backend init failed: %w", err)
	}
	if backendMode == "mock" {
		logger.Warn("task backend not configured, using in-memory mock", "demo_account", "demo@example.com")
	}

	var jr journal.Store
	if cfg.DatabaseURL != "" || cfg.JournalPerChat > 0 {
		jr, err = journal.NewStore(ctx, cfg.DatabaseURL, cfg.JournalPerChat)
		if err != nil {
			return nil, fmt.Errorf("journal store init failed: %w", err)
		}
	}

	sessions := session.NewStore(cfg.SessionIdleTTL, cfg.MaxSessions)
	sessions.SetExpireHook(func(s session.Session) {
		metrics.SessionEvent("expired")
		metrics.SetActiveSessions(sessions.ActiveCount())
		if mem, ok := jr.(*journal.InMemoryStore); ok {
			mem.Forget(s.ChatID)
		}
		logger.Debug("session_expired", "chat_id", s.ChatID, "state", s.State)
	})

	rt := router.New(api, sessions, lx, jr, metrics, logger, router.Options{
		MaxConcurrency: cfg.RouterMaxConcurrency,
		QueueSize:      cfg.RouterQueueSize,
		WorkerIdle:     cfg.RouterWorkerIdle,
	})

	var bot *telegram.Bot
	deps := httpapi.Deps{
		Store:       sessions,
		Router:      rt,
		Journal:     jr,
		Metrics:     metrics,
		BackendMode: backendMode,
	}
	if cfg.TelegramEnabled() {
		client := telegram.NewClient(&http.Client{}, cfg.TelegramAPIBaseURL, cfg.TelegramBotToken)
		bot = telegram.NewBot(client, rt, logger, cfg.TelegramPollTimeout)
		if cfg.TelegramMode == "webhook" {
			deps.Telegram = bot
		}
	}

	server := httpapi.New(cfg, deps)

	cleanup := func(ctx context.Context) error {
		var errs []string
		if err := rt.Close(ctx); err != nil {
			errs = append(errs, err.Error())
		}
		if jr != nil {
			if err := jr.Close(); err != nil {
				errs = append(errs, err.Error())
			}
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:      cfg,
		API:         server,
		Router:      rt,
		Sessions:    sessions,
		Journal:     jr,
		Metrics:     metrics,
		BackendMode: backendMode,
		Telegram:    bot,
		Cleanup:     cleanup,
	}, nil
}

// StartTelegram runs the Telegram channel in the configured mode. In poll
// mode it blocks until ctx is done; in webhook mode it registers the
// webhook and returns.
func (b *BuildResult) StartTelegram(ctx context.Context) error {
	if b.Telegram == nil {
		return nil
	}
	switch b.Config.TelegramMode {
	case "webhook":
		return b.Telegram.RegisterWebhook(ctx, b.Config.TelegramWebhookURL, b.Config.TelegramWebhookSecret)
	default:
		return b.Telegram.Poll(ctx)
	}
}
