// Package conversation holds the per-chat state machine. Transition and
// Resume are pure: they never touch the network or the session store.
package conversation

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ent0n29/taskibot/internal/backend"
	"github.com/ent0n29/taskibot/internal/lexicon"
	"github.com/ent0n29/taskibot/internal/session"
)

// Transition decides what to do with one inbound message.
func Transition(s session.Session, in Input, lx lexicon.Lexicon) Step {
	s.SenderUsername = in.SenderUsername
	text := strings.TrimSpace(in.Text)
	cmd, isCmd := parseCommand(text)
	c := lx.Commands

	if isCmd && (cmd == c.Start || cmd == c.Restart) {
		return Step{Session: s.Reset(), Reply: lx.Messages.Welcome, Menu: true, Outcome: OutcomeOK}
	}
	if isCmd && cmd == c.Auth {
		next := s.Reset()
		next.State = session.StateAwaitingEmail
		return Step{Session: next, Reply: lx.Messages.AskEmail, Outcome: OutcomeOK}
	}

	switch s.State {
	case session.StateAwaitingEmail:
		if text == "" {
			return reply(s, lx.Messages.AskEmail, OutcomeInvalidInput)
		}
		s.PendingEmail = text
		s.State = session.StateAwaitingPassword
		return reply(s, lx.Messages.AskPassword, OutcomeOK)

	case session.StateAwaitingPassword:
		if text == "" {
			return reply(s, lx.Messages.AskPassword, OutcomeInvalidInput)
		}
		return Step{
			Session: s,
			Call:    &Call{Kind: CallLogin, Email: s.PendingEmail, Password: in.Text},
			Outcome: OutcomePending,
		}

	case session.StateAwaitingTelegramLink:
		username := normalizeUsername(text)
		if username == "" {
			return reply(s, lx.Messages.AskTelegram, OutcomeInvalidInput)
		}
		return Step{
			Session: s,
			Call: &Call{
				Kind:             CallLinkIdentity,
				Token:            s.AccessToken,
				Email:            s.PendingEmail,
				TelegramUsername: username,
			},
			Outcome: OutcomePending,
		}
	}

	if isCmd {
		return command(s, cmd, lx)
	}
	return freeText(s, text, lx)
}

func command(s session.Session, cmd string, lx lexicon.Lexicon) Step {
	c := lx.Commands
	switch cmd {
	case c.Help:
		return reply(s, lx.Messages.Help, OutcomeOK)
	case c.Status:
		return reply(s, status(s, lx), OutcomeOK)
	case c.GetTask, c.Notes, c.CreateNote, c.Search:
		if s.State != session.StateAuthenticated {
			return reply(s, lx.Messages.AuthRequired, OutcomeAuthRequired)
		}
	default:
		return reply(s, lx.Messages.Help, OutcomeUnmatched)
	}

	switch cmd {
	case c.GetTask:
		return reply(s, lx.Messages.AskTaskName, OutcomeOK)
	case c.CreateNote:
		return reply(s, lx.Messages.AskNote, OutcomeOK)
	case c.Search:
		return reply(s, lx.Messages.AskTag, OutcomeOK)
	}
	return Step{
		Session: s,
		Call:    &Call{Kind: CallListTasks, Token: s.AccessToken, UserID: s.UserID},
		Outcome: OutcomePending,
	}
}

// freeText matches the task patterns in priority order: lookup, create, search.
func freeText(s session.Session, text string, lx lexicon.Lexicon) Step {
	kind := classify(text)
	if kind == patternNone {
		return reply(s, lx.Messages.Help, OutcomeUnmatched)
	}
	if s.State != session.StateAuthenticated {
		return reply(s, lx.Messages.AuthRequired, OutcomeAuthRequired)
	}

	switch kind {
	case patternLookup:
		name := strings.TrimSpace(text[len(lookupPrefix):])
		if name == "" {
			return reply(s, lx.Messages.AskTaskName, OutcomeInvalidInput)
		}
		return Step{
			Session: s,
			Call:    &Call{Kind: CallListTasks, Token: s.AccessToken, UserID: s.UserID, LookupName: name},
			Outcome: OutcomePending,
		}

	case patternCreate:
		title, body, _ := strings.Cut(text, "|")
		title = strings.TrimSpace(title)
		if title == "" {
			return reply(s, lx.Messages.AskNote, OutcomeInvalidInput)
		}
		return Step{
			Session: s,
			Call: &Call{
				Kind:        CallCreateTask,
				Token:       s.AccessToken,
				UserID:      s.UserID,
				Name:        title,
				Description: strings.TrimSpace(body),
			},
			Outcome: OutcomePending,
		}

	default:
		tags := parseTags(text)
		switch len(tags) {
		case 0:
			return reply(s, lx.Messages.AskTag, OutcomeInvalidInput)
		case 1:
			return Step{
				Session: s,
				Call:    &Call{Kind: CallSearchByTag, Token: s.AccessToken, Tag: tags[0]},
				Outcome: OutcomePending,
			}
		default:
			return reply(s, lx.Messages.SingleTagOnly, OutcomeInvalidInput)
		}
	}
}

// Resume folds the result of call into the session. It may return another
// call when the flow needs a second request.
func Resume(s session.Session, call Call, res Result, lx lexicon.Lexicon) Step {
	m := lx.Messages
	switch call.Kind {
	case CallLogin:
		return resumeLogin(s, res, lx)

	case CallLinkIdentity:
		switch {
		case res.Err == nil:
			s.State = session.StateAuthenticated
			s.PendingEmail = ""
			return Step{Session: s, Reply: m.AuthSuccess, Menu: true, Outcome: OutcomeOK}
		case errors.Is(res.Err, backend.ErrUnauthorized):
			return reply(s.Reset(), m.AuthError, OutcomeUnauthorized)
		default:
			return reply(s, m.LinkError, OutcomeLinkFailure)
		}

	case CallListTasks:
		if call.LookupName != "" {
			if res.Err != nil {
				return commandFailure(s, res.Err, m.TaskLookupError, lx)
			}
			for _, t := range res.Tasks {
				if t.Name == call.LookupName {
					return Step{
						Session: s,
						Call:    &Call{Kind: CallGetTask, Token: s.AccessToken, TaskID: t.ID},
						Outcome: OutcomePending,
					}
				}
			}
			return reply(s, m.TaskNotFound, OutcomeNotFound)
		}
		if res.Err != nil {
			return commandFailure(s, res.Err, m.NotesError, lx)
		}
		if len(res.Tasks) == 0 {
			return reply(s, m.NotesEmpty, OutcomeOK)
		}
		return reply(s, m.NotesHeader+"\n"+taskLines(res.Tasks), OutcomeOK)

	case CallGetTask:
		if errors.Is(res.Err, backend.ErrNotFound) {
			return reply(s, m.TaskNotFound, OutcomeNotFound)
		}
		if res.Err != nil {
			return commandFailure(s, res.Err, m.TaskLookupError, lx)
		}
		return reply(s, fmt.Sprintf(m.TaskFound, res.Task.Name, res.Task.Description), OutcomeOK)

	case CallCreateTask:
		if errors.Is(res.Err, backend.ErrConflict) {
			detail := backend.DetailOf(res.Err)
			if detail == "" {
				detail = "invalid task"
			}
			return reply(s, fmt.Sprintf(m.NoteRejected, detail), OutcomeConflict)
		}
		if res.Err != nil {
			return commandFailure(s, res.Err, m.NoteError, lx)
		}
		return reply(s, m.NoteCreated, OutcomeOK)

	case CallSearchByTag:
		if errors.Is(res.Err, backend.ErrNotFound) {
			return reply(s, fmt.Sprintf(m.SearchEmpty, call.Tag), OutcomeNotFound)
		}
		if res.Err != nil {
			return commandFailure(s, res.Err, m.SearchError, lx)
		}
		if len(res.Tasks) == 0 {
			return reply(s, fmt.Sprintf(m.SearchEmpty, call.Tag), OutcomeOK)
		}
		return reply(s, fmt.Sprintf(m.SearchHeader, call.Tag)+"\n"+taskLines(res.Tasks), OutcomeOK)
	}
	return reply(s, m.InternalError, OutcomeTransport)
}

func resumeLogin(s session.Session, res Result, lx lexicon.Lexicon) Step {
	m := lx.Messages
	if res.Err != nil {
		outcome := OutcomeAuthFailure
		if errors.Is(res.Err, backend.ErrTransport) {
			outcome = OutcomeTransport
		}
		return reply(s.Reset(), m.AuthError, outcome)
	}

	s.UserID = res.Login.User.ID
	s.AccessToken = res.Login.AccessToken
	s.TokenExpiresAt = time.Time{}
	if info, ok := backend.InspectToken(s.AccessToken); ok {
		s.TokenExpiresAt = info.ExpiresAt
	}

	remote := res.Login.User.LinkedUsername()
	switch {
	case remote == "":
		s.State = session.StateAwaitingTelegramLink
		return reply(s, m.AskTelegram, OutcomeOK)
	case sameUsername(remote, s.SenderUsername):
		s.State = session.StateAuthenticated
		s.PendingEmail = ""
		return Step{Session: s, Reply: m.AuthSuccess, Menu: true, Outcome: OutcomeOK}
	default:
		return reply(s.Reset(), m.AuthMismatch, OutcomeAuthFailure)
	}
}

// commandFailure reports a failed command without touching the state.
func commandFailure(s session.Session, err error, fallback string, lx lexicon.Lexicon) Step {
	if errors.Is(err, backend.ErrUnauthorized) {
		return reply(s, lx.Messages.SessionExpired, OutcomeUnauthorized)
	}
	return reply(s, fallback, Outcome(backend.Kind(err)))
}

func reply(s session.Session, text string, outcome Outcome) Step {
	return Step{Session: s, Reply: text, Outcome: outcome}
}

func status(s session.Session, lx lexicon.Lexicon) string {
	username := s.SenderUsername
	if username == "" {
		username = "-"
	}
	out := fmt.Sprintf(lx.Messages.Status, s.State, username)
	if !s.TokenExpiresAt.IsZero() {
		out += "\n" + fmt.Sprintf(lx.Messages.StatusTokenExpires, s.TokenExpiresAt.UTC().Format(time.RFC3339))
	}
	return out
}

func taskLines(tasks []backend.Task) string {
	var b strings.Builder
	for i, t := range tasks {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%d: %s", t.ID, t.Name)
	}
	return b.String()
}
