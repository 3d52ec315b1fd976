package session

import (
	"context"
	"sync"
	"time"
)

// Store maps chat identifiers to sessions. It is safe for concurrent use on
// distinct keys; ordering for a single key is the caller's job.
type Store struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	idleTTL     time.Duration
	maxSessions int
	onExpire    func(Session)
	now         func() time.Time
}

func NewStore(idleTTL time.Duration, maxSessions int) *Store {
	if idleTTL <= 0 {
		idleTTL = 24 * time.Hour
	}
	if maxSessions <= 0 {
		maxSessions = 10000
	}
	return &Store{
		sessions:    make(map[string]*Session),
		idleTTL:     idleTTL,
		maxSessions: maxSessions,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SetExpireHook registers a callback for sessions dropped by the janitor or
// by the capacity limit.
func (st *Store) SetExpireHook(hook func(Session)) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.onExpire = hook
}

// Get returns the session for chatID, creating a fresh one when absent.
func (st *Store) Get(chatID string) Session {
	st.mu.RLock()
	s, ok := st.sessions[chatID]
	if ok {
		out := *s
		st.mu.RUnlock()
		return out
	}
	st.mu.RUnlock()

	st.mu.Lock()
	if s, ok := st.sessions[chatID]; ok {
		out := *s
		st.mu.Unlock()
		return out
	}
	fresh := New(chatID)
	fresh.LastActivityAt = st.now()
	evicted := st.insertLocked(fresh)
	hook := st.onExpire
	st.mu.Unlock()

	st.fire(hook, evicted)
	return fresh
}

// Peek returns the stored session without creating one.
func (st *Store) Peek(chatID string) (Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.sessions[chatID]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// Save replaces the stored session for s.ChatID and marks it active.
func (st *Store) Save(s Session) {
	s.LastActivityAt = st.now()

	st.mu.Lock()
	var evicted []Session
	if cur, ok := st.sessions[s.ChatID]; ok {
		*cur = s
	} else {
		evicted = st.insertLocked(s)
	}
	hook := st.onExpire
	st.mu.Unlock()

	st.fire(hook, evicted)
}

// Clear resets the session for chatID to StateInit and returns it.
func (st *Store) Clear(chatID string) Session {
	st.Save(st.Get(chatID).Reset())
	out, _ := st.Peek(chatID)
	return out
}

// ActiveCount returns the number of stored sessions.
func (st *Store) ActiveCount() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// Counts returns the number of sessions per state.
func (st *Store) Counts() map[State]int {
	out := make(map[State]int, len(States))
	for _, state := range States {
		out[state] = 0
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	for _, s := range st.sessions {
		out[s.State]++
	}
	return out
}

func (st *Store) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				st.expireInactive()
			}
		}
	}()
}

func (st *Store) expireInactive() {
	now := st.now()
	var expired []Session

	st.mu.Lock()
	for id, s := range st.sessions {
		if now.Sub(s.LastActivityAt) < st.idleTTL {
			continue
		}
		expired = append(expired, *s)
		delete(st.sessions, id)
	}
	hook := st.onExpire
	st.mu.Unlock()

	st.fire(hook, expired)
}

// insertLocked stores s, evicting the least recently active session when the
// store is full.
func (st *Store) insertLocked(s Session) []Session {
	var evicted []Session
	if len(st.sessions) >= st.maxSessions {
		var (
			oldestID string
			oldest   time.Time
		)
		for id, cur := range st.sessions {
			if oldestID == "" || cur.LastActivityAt.Before(oldest) {
				oldestID = id
				oldest = cur.LastActivityAt
			}
		}
		if oldestID != "" {
			evicted = append(evicted, *st.sessions[oldestID])
			delete(st.sessions, oldestID)
		}
	}
	c := s
	st.sessions[s.ChatID] = &c
	return evicted
}

func (st *Store) fire(hook func(Session), sessions []Session) {
	if hook == nil {
		return
	}
	for _, s := range sessions {
		hook(s)
	}
}
