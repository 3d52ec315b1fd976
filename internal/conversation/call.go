package conversation

import (
	"log/slog"

	"github.com/ent0n29/taskibot/internal/backend"
	"github.com/ent0n29/taskibot/internal/session"
)

type CallKind string

const (
	CallLogin        CallKind = "login"
	CallLinkIdentity CallKind = "link_identity"
	CallListTasks    CallKind = "list_tasks"
	CallGetTask      CallKind = "get_task"
	CallCreateTask   CallKind = "create_task"
	CallSearchByTag  CallKind = "search_by_tag"
)

// Call is a backend request decided by a transition. Password is only set on
// login calls and must not outlive the call.
type Call struct {
	Kind  CallKind
	Token string

	Email            string
	Password         string
	TelegramUsername string

	UserID int64
	TaskID int64
	// LookupName is set on a list call that resolves a task by name.
	LookupName  string
	Name        string
	Description string
	Tag         string
}

// LogValue keeps credentials out of logs.
func (c Call) LogValue() slog.Value {
	attrs := []slog.Attr{slog.String("kind", string(c.Kind))}
	switch c.Kind {
	case CallLinkIdentity:
		attrs = append(attrs, slog.String("telegram_username", c.TelegramUsername))
	case CallListTasks:
		attrs = append(attrs, slog.Int64("user_id", c.UserID))
		if c.LookupName != "" {
			attrs = append(attrs, slog.Bool("lookup", true))
		}
	case CallGetTask:
		attrs = append(attrs, slog.Int64("task_id", c.TaskID))
	case CallCreateTask:
		attrs = append(attrs, slog.Int64("user_id", c.UserID))
	case CallSearchByTag:
		attrs = append(attrs, slog.String("tag", c.Tag))
	}
	return slog.GroupValue(attrs...)
}

// Result carries what a backend call returned. Only the field matching the
// call kind is meaningful.
type Result struct {
	Login backend.LoginResult
	Tasks []backend.Task
	Task  backend.Task
	Err   error
}

type Outcome string

const (
	OutcomeOK           Outcome = "ok"
	OutcomePending      Outcome = "pending"
	OutcomeUnmatched    Outcome = "unmatched"
	OutcomeInvalidInput Outcome = "invalid_input"
	OutcomeAuthRequired Outcome = "auth_required"
	OutcomeAuthFailure  Outcome = "auth_failure"
	OutcomeLinkFailure  Outcome = "link_failure"
	OutcomeTransport    Outcome = "transport_failure"
	OutcomeNotFound     Outcome = "not_found"
	OutcomeConflict     Outcome = "conflict"
	OutcomeUnauthorized Outcome = "unauthorized"
)

// Step is the result of one pure transition. When Call is set the caller
// executes it and passes the result to Resume; Reply is empty in that case.
type Step struct {
	Session session.Session
	Call    *Call
	Reply   string
	// Menu asks the channel to show the main menu keyboard with the reply.
	Menu    bool
	Outcome Outcome
}

// Input is one inbound chat message.
type Input struct {
	Text           string
	SenderUsername string
}
