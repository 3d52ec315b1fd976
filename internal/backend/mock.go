package backend

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// MockBackend is an in-memory stand-in for the task service, used when no
// backend URL is configured and in tests.
type MockBackend struct {
	mu       sync.Mutex
	nextUser int64
	nextTask int64
	users    map[string]*mockUser
	tokens   map[string]int64
	tasks    []mockTask
	failures map[string]error
}

type mockUser struct {
	id       int64
	email    string
	password string
	username string
}

type mockTask struct {
	Task
	userID int64
	tags   []string
}

var _ API = (*MockBackend)(nil)

func NewMockBackend() *MockBackend {
	return &MockBackend{
		users:    make(map[string]*mockUser),
		tokens:   make(map[string]int64),
		failures: make(map[string]error),
	}
}

// SeedDemo adds a demo account (demo@example.com / demo) with a few tasks.
func (m *MockBackend) SeedDemo() *MockBackend {
	id := m.AddUser("demo@example.com", "demo", "")
	m.AddTask(id, "Groceries", "Milk, eggs, bread", "home")
	m.AddTask(id, "Quarterly report", "Draft the Q3 numbers", "work")
	return m
}

// AddUser registers an account and returns its id. An empty username means
// no chat identity is linked yet.
func (m *MockBackend) AddUser(email, password, telegramUsername string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextUser++
	m.users[email] = &mockUser{
		id:       m.nextUser,
		email:    email,
		password: password,
		username: telegramUsername,
	}
	return m.nextUser
}

func (m *MockBackend) AddTask(userID int64, name, description string, tags ...string) Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addTaskLocked(userID, name, description, tags)
}

// Fail makes every subsequent call to op return err until Recover is called.
// Ops use the client's names: login, link_identity, list_tasks, get_task,
// create_task, search_by_tag.
func (m *MockBackend) Fail(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] = err
}

func (m *MockBackend) Recover(op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.failures, op)
}

// LinkedUsername returns the chat username bound to email.
func (m *MockBackend) LinkedUsername(email string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[email]; ok {
		return u.username
	}
	return ""
}

func (m *MockBackend) Login(ctx context.Context, email, password string) (LoginResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.precheckLocked(ctx, "login"); err != nil {
		return LoginResult{}, err
	}
	u, ok := m.users[email]
	if !ok || u.password != password {
		return LoginResult{}, &CallError{Op: "login", Status: 400, Detail: "LOGIN_BAD_CREDENTIALS", Err: ErrConflict}
	}
	token := fmt.Sprintf("mock-%d-%s", u.id, uuid.NewString())
	m.tokens[token] = u.id

	res := LoginResult{AccessToken: token, TokenType: "bearer", User: User{ID: u.id}}
	if u.username != "" {
		name := u.username
		res.User.TelegramUsername = &name
	}
	return res, nil
}

func (m *MockBackend) LinkIdentity(ctx context.Context, token, telegramUsername, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.precheckLocked(ctx, "link_identity"); err != nil {
		return err
	}
	if _, err := m.authLocked("link_identity", token); err != nil {
		return err
	}
	u, ok := m.users[email]
	if !ok {
		return &CallError{Op: "link_identity", Status: 404, Detail: "User not found", Err: ErrNotFound}
	}
	u.username = strings.TrimSpace(telegramUsername)
	return nil
}

func (m *MockBackend) ListTasks(ctx context.Context, token string, userID int64) ([]Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.precheckLocked(ctx, "list_tasks"); err != nil {
		return nil, err
	}
	caller, err := m.authLocked("list_tasks", token)
	if err != nil {
		return nil, err
	}
	if caller != userID {
		return nil, &CallError{Op: "list_tasks", Status: 403, Err: ErrUnauthorized}
	}
	out := make([]Task, 0)
	for _, t := range m.tasks {
		if t.userID == userID {
			out = append(out, t.Task)
		}
	}
	return out, nil
}

func (m *MockBackend) GetTask(ctx context.Context, token string, taskID int64) (Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.precheckLocked(ctx, "get_task"); err != nil {
		return Task{}, err
	}
	caller, err := m.authLocked("get_task", token)
	if err != nil {
		return Task{}, err
	}
	for _, t := range m.tasks {
		if t.ID == taskID && t.userID == caller {
			return t.Task, nil
		}
	}
	return Task{}, &CallError{Op: "get_task", Status: 404, Err: ErrNotFound}
}

func (m *MockBackend) CreateTask(ctx context.Context, token string, req CreateTaskRequest) (Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.precheckLocked(ctx, "create_task"); err != nil {
		return Task{}, err
	}
	caller, err := m.authLocked("create_task", token)
	if err != nil {
		return Task{}, err
	}
	if caller != req.UserID {
		return Task{}, &CallError{Op: "create_task", Status: 403, Err: ErrUnauthorized}
	}
	for _, t := range m.tasks {
		if t.userID == caller && t.Name == req.Name {
			return Task{}, &CallError{Op: "create_task", Status: 400, Detail: "task with this name already exists", Err: ErrConflict}
		}
	}
	return m.addTaskLocked(caller, req.Name, req.Description, nil), nil
}

func (m *MockBackend) SearchByTag(ctx context.Context, token, tag string) ([]Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.precheckLocked(ctx, "search_by_tag"); err != nil {
		return nil, err
	}
	caller, err := m.authLocked("search_by_tag", token)
	if err != nil {
		return nil, err
	}
	out := make([]Task, 0)
	for _, t := range m.tasks {
		if t.userID != caller {
			continue
		}
		for _, tg := range t.tags {
			if tg == tag {
				out = append(out, t.Task)
				break
			}
		}
	}
	return out, nil
}

func (m *MockBackend) addTaskLocked(userID int64, name, description string, tags []string) Task {
	m.nextTask++
	t := mockTask{
		Task:   Task{ID: m.nextTask, Name: name, Description: description},
		userID: userID,
		tags:   append([]string(nil), tags...),
	}
	m.tasks = append(m.tasks, t)
	return t.Task
}

func (m *MockBackend) precheckLocked(ctx context.Context, op string) error {
	select {
	case <-ctx.Done():
		return &CallError{Op: op, Err: fmt.Errorf("%w: %v", ErrTransport, ctx.Err())}
	default:
	}
	if err, ok := m.failures[op]; ok {
		return &CallError{Op: op, Detail: "injected failure", Err: err}
	}
	return nil
}

func (m *MockBackend) authLocked(op, token string) (int64, error) {
	id, ok := m.tokens[token]
	if !ok {
		return 0, &CallError{Op: op, Status: 401, Detail: "Unauthorized", Err: ErrUnauthorized}
	}
	return id, nil
}
