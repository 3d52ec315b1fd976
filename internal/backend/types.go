package backend

import "context"

// Task is the task representation returned by the backend.
type Task struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// User is the account summary embedded in a login response.
type User struct {
	ID               int64   `json:"id"`
	TelegramUsername *string `json:"telegram_username"`
}

// LinkedUsername returns the bound chat username, or "" when none is bound.
func (u User) LinkedUsername() string {
	if u.TelegramUsername == nil {
		return ""
	}
	return *u.TelegramUsername
}

// LoginResult is the payload of a successful login.
type LoginResult struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type,omitempty"`
	User        User   `json:"user"`
}

// CreateTaskRequest is the body of POST /tasks.
type CreateTaskRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	UserID      int64  `json:"user_id"`
}

type linkRequest struct {
	TelegramUsername string `json:"telegram_username"`
	Email            string `json:"email"`
}

// API is the fixed set of backend calls the conversation needs. Every call
// except Login is authorized with the bearer token.
type API interface {
	Login(ctx context.Context, email, password string) (LoginResult, error)
	LinkIdentity(ctx context.Context, token, telegramUsername, email string) error
	ListTasks(ctx context.Context, token string, userID int64) ([]Task, error)
	GetTask(ctx context.Context, token string, taskID int64) (Task, error)
	CreateTask(ctx context.Context, token string, req CreateTaskRequest) (Task, error)
	SearchByTag(ctx context.Context, token, tag string) ([]Task, error)
}
