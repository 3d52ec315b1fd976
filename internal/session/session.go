package session

import "time"

type State string

const (
	StateInit                 State = "init"
	StateAwaitingEmail        State = "awaiting_email"
	StateAwaitingPassword     State = "awaiting_password"
	StateAwaitingTelegramLink State = "awaiting_telegram_link"
	StateAuthenticated        State = "authenticated"
)

// States lists every state in flow order.
var States = []State{
	StateInit,
	StateAwaitingEmail,
	StateAwaitingPassword,
	StateAwaitingTelegramLink,
	StateAuthenticated,
}

// Session is the per-chat authentication record. It never holds a password.
type Session struct {
	ChatID         string    `json:"chat_id"`
	State          State     `json:"state"`
	PendingEmail   string    `json:"-"`
	UserID         int64     `json:"user_id,omitempty"`
	AccessToken    string    `json:"-"`
	TokenExpiresAt time.Time `json:"token_expires_at,omitempty"`
	SenderUsername string    `json:"sender_username,omitempty"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// New returns a fresh session in the initial state.
func New(chatID string) Session {
	return Session{
		ChatID:         chatID,
		State:          StateInit,
		LastActivityAt: time.Now().UTC(),
	}
}

// Reset drops every optional field and returns to StateInit. The chat id,
// the current sender and the activity time survive.
func (s Session) Reset() Session {
	return Session{
		ChatID:         s.ChatID,
		State:          StateInit,
		SenderUsername: s.SenderUsername,
		LastActivityAt: s.LastActivityAt,
	}
}

// HasCredentials reports whether the session carries a bearer token.
func (s Session) HasCredentials() bool {
	return s.AccessToken != ""
}

// Consistent checks that the populated optional fields match the state.
func (s Session) Consistent() bool {
	withToken := s.State == StateAwaitingTelegramLink || s.State == StateAuthenticated
	if withToken != (s.AccessToken != "") || withToken != (s.UserID != 0) {
		return false
	}
	withEmail := s.State == StateAwaitingPassword || s.State == StateAwaitingTelegramLink
	if withEmail != (s.PendingEmail != "") {
		return false
	}
	if !withToken && !s.TokenExpiresAt.IsZero() {
		return false
	}
	return true
}
