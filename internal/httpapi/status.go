package httpapi

import (
	"net/http"
)

type statusCheck struct {
	ID     string `json:"id"`
	Status string `json:"status"` // ok|warn|error
	Label  string `json:"label"`
	Detail string `json:"detail,omitempty"`
	Fix    string `json:"fix,omitempty"`
}

type statusResponse struct {
	BackendMode  string        `json:"backend_mode"`
	TelegramMode string        `json:"telegram_mode"`
	JournalMode  string        `json:"journal_mode"`
	Checks       []statusCheck `json:"checks"`
}

// handleStatus reports configuration checks an operator should look at.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	checks := make([]statusCheck, 0, 4)

	switch s.deps.BackendMode {
	case "http":
		checks = append(checks, statusCheck{
			ID:     "backend",
			Status: "ok",
			Label:  "Task backend",
			Detail: s.cfg.BackendBaseURL,
		})
	default:
		checks = append(checks, statusCheck{
			ID:     "backend",
			Status: "warn",
			Label:  "Task backend",
			Detail: "in-memory mock",
			Fix:    "Set BACKEND_BASE_URL to talk to the real task service.",
		})
	}

	telegramMode := s.cfg.TelegramMode
	switch {
	case s.cfg.TelegramEnabled():
		checks = append(checks, statusCheck{
			ID:     "telegram",
			Status: "ok",
			Label:  "Telegram channel",
			Detail: telegramMode,
		})
	case telegramMode == "off":
		checks = append(checks, statusCheck{
			ID:     "telegram",
			Status: "ok",
			Label:  "Telegram channel",
			Detail: "disabled",
		})
	default:
		telegramMode = "off"
		checks = append(checks, statusCheck{
			ID:     "telegram",
			Status: "warn",
			Label:  "Telegram channel",
			Detail: "no bot token",
			Fix:    "Set TELEGRAM_BOT_TOKEN or TELEGRAM_MODE=off.",
		})
	}
	if s.cfg.TelegramMode == "webhook" && s.cfg.TelegramWebhookSecret == "" {
		checks = append(checks, statusCheck{
			ID:     "telegram_webhook_secret",
			Status: "warn",
			Label:  "Webhook secret",
			Detail: "webhook requests are refused until a secret is set",
			Fix:    "Set TELEGRAM_WEBHOOK_SECRET.",
		})
	}

	journalMode := s.journalMode()
	switch journalMode {
	case "postgres":
		checks = append(checks, statusCheck{ID: "journal", Status: "ok", Label: "Chat journal", Detail: "postgres"})
	case "in-memory":
		checks = append(checks, statusCheck{
			ID:     "journal",
			Status: "warn",
			Label:  "Chat journal",
			Detail: "in-memory only",
			Fix:    "Set DATABASE_URL to keep the journal across restarts.",
		})
	default:
		checks = append(checks, statusCheck{ID: "journal", Status: "ok", Label: "Chat journal", Detail: "disabled"})
	}

	respondJSON(w, http.StatusOK, statusResponse{
		BackendMode:  s.deps.BackendMode,
		TelegramMode: telegramMode,
		JournalMode:  journalMode,
		Checks:       checks,
	})
}
