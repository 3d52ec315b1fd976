package router

import (
	"context"
	"fmt"
	"time"

	"github.com/ent0n29/taskibot/internal/backend"
	"github.com/ent0n29/taskibot/internal/conversation"
)

// execute performs call against the backend. Errors are returned inside the
// result for the state machine to judge.
func (r *Router) execute(ctx context.Context, chatID string, call conversation.Call) conversation.Result {
	start := time.Now()
	var res conversation.Result
	switch call.Kind {
	case conversation.CallLogin:
		res.Login, res.Err = r.api.Login(ctx, call.Email, call.Password)
	case conversation.CallLinkIdentity:
		res.Err = r.api.LinkIdentity(ctx, call.Token, call.TelegramUsername, call.Email)
	case conversation.CallListTasks:
		res.Tasks, res.Err = r.api.ListTasks(ctx, call.Token, call.UserID)
	case conversation.CallGetTask:
		res.Task, res.Err = r.api.GetTask(ctx, call.Token, call.TaskID)
	case conversation.CallCreateTask:
		res.Task, res.Err = r.api.CreateTask(ctx, call.Token, backend.CreateTaskRequest{
			Name:        call.Name,
			Description: call.Description,
			UserID:      call.UserID,
		})
	case conversation.CallSearchByTag:
		res.Tasks, res.Err = r.api.SearchByTag(ctx, call.Token, call.Tag)
	default:
		res.Err = &backend.CallError{Op: string(call.Kind), Err: fmt.Errorf("%w: unknown call", backend.ErrTransport)}
	}

	d := time.Since(start)
	kind := backend.Kind(res.Err)
	r.metrics.ObserveBackendCall(string(call.Kind), kind, d)
	if res.Err != nil {
		r.logger.Warn("backend_call_failed",
			"chat_id", chatID,
			"call", call,
			"result", kind,
			"error", res.Err.Error(),
			"duration_ms", d.Milliseconds(),
		)
	} else {
		r.logger.Debug("backend_call", "chat_id", chatID, "call", call, "duration_ms", d.Milliseconds())
	}
	return res
}
