package journal

import (
	"context"
	"strings"
)

// NewStore creates a postgres-backed journal when configured, otherwise an
// in-memory ring keeping perChat entries per chat.
func NewStore(ctx context.Context, databaseURL string, perChat int) (Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewInMemoryStore(perChat), nil
	}
	return NewPostgresStore(ctx, databaseURL)
}
