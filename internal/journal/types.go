package journal

import (
	"context"
	"time"
)

// Entry is one recorded chat message, already redacted.
type Entry struct {
	ID          string    `json:"id"`
	ChatID      string    `json:"chat_id"`
	Direction   string    `json:"direction"`
	State       string    `json:"state"`
	Outcome     string    `json:"outcome,omitempty"`
	Content     string    `json:"content"`
	PIIRedacted bool      `json:"pii_redacted"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store persists and retrieves chat journal entries.
type Store interface {
	Append(ctx context.Context, entry Entry) error
	Recent(ctx context.Context, chatID string, limit int) ([]Entry, error)
	Close() error
}
