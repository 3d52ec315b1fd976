package journal

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore keeps the most recent entries of each chat in process memory.
type InMemoryStore struct {
	mu      sync.RWMutex
	perChat int
	entries map[string][]Entry
}

// NewInMemoryStore keeps at most perChat entries per chat. Zero disables
// recording.
func NewInMemoryStore(perChat int) *InMemoryStore {
	if perChat < 0 {
		perChat = 0
	}
	return &InMemoryStore{perChat: perChat, entries: make(map[string][]Entry)}
}

func (s *InMemoryStore) Append(_ context.Context, entry Entry) error {
	if s.perChat == 0 {
		return nil
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	arr := append(s.entries[entry.ChatID], entry)
	if over := len(arr) - s.perChat; over > 0 {
		arr = append([]Entry(nil), arr[over:]...)
	}
	s.entries[entry.ChatID] = arr
	return nil
}

func (s *InMemoryStore) Recent(_ context.Context, chatID string, limit int) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.entries[chatID]
	if len(arr) == 0 {
		return nil, nil
	}
	if limit <= 0 || limit > len(arr) {
		limit = len(arr)
	}
	return append([]Entry(nil), arr[len(arr)-limit:]...), nil
}

// Forget drops every entry of chatID.
func (s *InMemoryStore) Forget(chatID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, chatID)
}

func (s *InMemoryStore) Close() error { return nil }
