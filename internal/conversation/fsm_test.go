package conversation

import (
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/ent0n29/taskibot/internal/backend"
	"github.com/ent0n29/taskibot/internal/lexicon"
	"github.com/ent0n29/taskibot/internal/session"
)

var lx = lexicon.Default()

func authenticated() session.Session {
	s := session.New("tg:1")
	s.State = session.StateAuthenticated
	s.UserID = 3
	s.AccessToken = "tok"
	s.SenderUsername = "alice"
	return s
}

func sessionsInEveryState() []session.Session {
	fresh := session.New("tg:1")

	email := session.New("tg:1")
	email.State = session.StateAwaitingEmail

	password := email
	password.State = session.StateAwaitingPassword
	password.PendingEmail = "a@example.com"

	link := password
	link.State = session.StateAwaitingTelegramLink
	link.UserID = 3
	link.AccessToken = "tok"

	return []session.Session{fresh, email, password, link, authenticated()}
}

func TestRestartFromEveryState(t *testing.T) {
	for _, cmd := range []string{"/start", "/restart", "/restart@taskibot"} {
		for _, s := range sessionsInEveryState() {
			step := Transition(s, Input{Text: cmd, SenderUsername: "alice"}, lx)
			got := step.Session
			if got.State != session.StateInit {
				t.Fatalf("%s from %s: State = %q, want init", cmd, s.State, got.State)
			}
			if got.AccessToken != "" || got.UserID != 0 || got.PendingEmail != "" {
				t.Fatalf("%s from %s: optional fields not cleared: %+v", cmd, s.State, got)
			}
			if !got.Consistent() {
				t.Fatalf("%s from %s: inconsistent session %+v", cmd, s.State, got)
			}
			if step.Call != nil || !step.Menu {
				t.Fatalf("%s from %s: unexpected step %+v", cmd, s.State, step)
			}
		}
	}
}

func TestAuthCommandFromAnyState(t *testing.T) {
	for _, s := range sessionsInEveryState() {
		step := Transition(s, Input{Text: "/auth"}, lx)
		if step.Session.State != session.StateAwaitingEmail {
			t.Fatalf("from %s: State = %q, want awaiting_email", s.State, step.Session.State)
		}
		if step.Session.AccessToken != "" {
			t.Fatalf("from %s: token survived /auth", s.State)
		}
		if step.Reply != lx.Messages.AskEmail {
			t.Fatalf("from %s: Reply = %q", s.State, step.Reply)
		}
	}
}

func TestCredentialFlowBuildsLoginCall(t *testing.T) {
	s := session.New("tg:1")
	s = Transition(s, Input{Text: "/auth"}, lx).Session
	step := Transition(s, Input{Text: "  a@example.com "}, lx)
	if step.Session.State != session.StateAwaitingPassword || step.Session.PendingEmail != "a@example.com" {
		t.Fatalf("unexpected session after email: %+v", step.Session)
	}

	step = Transition(step.Session, Input{Text: "s3cret", SenderUsername: "alice"}, lx)
	if step.Call == nil || step.Call.Kind != CallLogin {
		t.Fatalf("expected login call, got %+v", step.Call)
	}
	if step.Call.Email != "a@example.com" || step.Call.Password != "s3cret" {
		t.Fatalf("unexpected login call: %+v", step.Call)
	}
	if step.Session.State != session.StateAwaitingPassword {
		t.Fatalf("state must not advance before the login result: %q", step.Session.State)
	}
	if strings.Contains(fmt.Sprintf("%+v", step.Session), "s3cret") {
		t.Fatalf("session retained the password")
	}
}

func TestEmptyCredentialInputReprompts(t *testing.T) {
	s := session.New("tg:1")
	s.State = session.StateAwaitingEmail
	step := Transition(s, Input{Text: "   "}, lx)
	if step.Session.State != session.StateAwaitingEmail || step.Reply != lx.Messages.AskEmail {
		t.Fatalf("unexpected step: %+v", step)
	}
}

func awaitingPassword(sender string) session.Session {
	s := session.New("tg:1")
	s.State = session.StateAwaitingPassword
	s.PendingEmail = "a@example.com"
	s.SenderUsername = sender
	return s
}

func loginOK(remote *string) Result {
	return Result{Login: backend.LoginResult{
		AccessToken: "tok",
		User:        backend.User{ID: 3, TelegramUsername: remote},
	}}
}

func strPtr(v string) *string { return &v }

func TestLoginResults(t *testing.T) {
	cases := []struct {
		name      string
		sender    string
		res       Result
		wantState session.State
		wantToken bool
		wantReply string
		outcome   Outcome
	}{
		{"no linked identity", "alice", loginOK(nil), session.StateAwaitingTelegramLink, true, lx.Messages.AskTelegram, OutcomeOK},
		{"empty linked identity", "alice", loginOK(strPtr("")), session.StateAwaitingTelegramLink, true, lx.Messages.AskTelegram, OutcomeOK},
		{"matching identity", "alice", loginOK(strPtr("alice")), session.StateAuthenticated, true, lx.Messages.AuthSuccess, OutcomeOK},
		{"matching identity with at sign", "Alice", loginOK(strPtr("@alice")), session.StateAuthenticated, true, lx.Messages.AuthSuccess, OutcomeOK},
		{"mismatched identity", "alice", loginOK(strPtr("bob")), session.StateInit, false, lx.Messages.AuthMismatch, OutcomeAuthFailure},
		{"sender without username", "", loginOK(strPtr("bob")), session.StateInit, false, lx.Messages.AuthMismatch, OutcomeAuthFailure},
		{"bad credentials", "alice", Result{Err: &backend.CallError{Op: "login", Status: 400, Err: backend.ErrConflict}}, session.StateInit, false, lx.Messages.AuthError, OutcomeAuthFailure},
		{"transport failure", "alice", Result{Err: &backend.CallError{Op: "login", Err: backend.ErrTransport}}, session.StateInit, false, lx.Messages.AuthError, OutcomeTransport},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := awaitingPassword(tc.sender)
			step := Resume(s, Call{Kind: CallLogin, Email: s.PendingEmail, Password: "pw"}, tc.res, lx)
			got := step.Session
			if got.State != tc.wantState {
				t.Fatalf("State = %q, want %q", got.State, tc.wantState)
			}
			if (got.AccessToken != "") != tc.wantToken || (got.UserID != 0) != tc.wantToken {
				t.Fatalf("token/user presence mismatch: %+v", got)
			}
			if step.Reply != tc.wantReply {
				t.Fatalf("Reply = %q, want %q", step.Reply, tc.wantReply)
			}
			if step.Outcome != tc.outcome {
				t.Fatalf("Outcome = %q, want %q", step.Outcome, tc.outcome)
			}
			if !got.Consistent() {
				t.Fatalf("inconsistent session %+v", got)
			}
		})
	}
}

func TestLoginWithoutLinkedIdentityKeepsCredentials(t *testing.T) {
	step := Resume(awaitingPassword("alice"), Call{Kind: CallLogin}, loginOK(nil), lx)
	if step.Session.UserID != 3 || step.Session.AccessToken != "tok" || step.Session.PendingEmail != "a@example.com" {
		t.Fatalf("credentials not preserved: %+v", step.Session)
	}
}

func awaitingLink() session.Session {
	s := awaitingPassword("alice")
	s.State = session.StateAwaitingTelegramLink
	s.UserID = 3
	s.AccessToken = "tok"
	return s
}

func TestLinkStep(t *testing.T) {
	step := Transition(awaitingLink(), Input{Text: " @alice ", SenderUsername: "alice"}, lx)
	if step.Call == nil || step.Call.Kind != CallLinkIdentity {
		t.Fatalf("expected link call, got %+v", step.Call)
	}
	if step.Call.TelegramUsername != "alice" || step.Call.Email != "a@example.com" || step.Call.Token != "tok" {
		t.Fatalf("unexpected link call: %+v", step.Call)
	}

	ok := Resume(step.Session, *step.Call, Result{}, lx)
	if ok.Session.State != session.StateAuthenticated || ok.Session.PendingEmail != "" || !ok.Session.Consistent() {
		t.Fatalf("unexpected session after link: %+v", ok.Session)
	}

	failed := Resume(step.Session, *step.Call, Result{Err: &backend.CallError{Err: backend.ErrTransport}}, lx)
	if failed.Session.State != session.StateAwaitingTelegramLink {
		t.Fatalf("failed link must allow a retry, State = %q", failed.Session.State)
	}
	if failed.Session.UserID != 3 || failed.Session.AccessToken != "tok" {
		t.Fatalf("failed link dropped credentials: %+v", failed.Session)
	}
	if failed.Outcome != OutcomeLinkFailure || failed.Reply != lx.Messages.LinkError {
		t.Fatalf("unexpected failure step: %+v", failed)
	}

	expired := Resume(step.Session, *step.Call, Result{Err: &backend.CallError{Status: 401, Err: backend.ErrUnauthorized}}, lx)
	if expired.Session.State != session.StateInit || expired.Session.AccessToken != "" {
		t.Fatalf("unauthorized link should reset: %+v", expired.Session)
	}
}

func TestTaskLookupFirstMatchWins(t *testing.T) {
	s := authenticated()
	step := Transition(s, Input{Text: "task:Groceries"}, lx)
	if step.Call == nil || step.Call.Kind != CallListTasks || step.Call.LookupName != "Groceries" || step.Call.UserID != 3 {
		t.Fatalf("unexpected call: %+v", step.Call)
	}

	tasks := []backend.Task{
		{ID: 4, Name: "groceries"},
		{ID: 7, Name: "Groceries", Description: "milk"},
		{ID: 9, Name: "Groceries", Description: "eggs"},
	}
	next := Resume(step.Session, *step.Call, Result{Tasks: tasks}, lx)
	if next.Call == nil || next.Call.Kind != CallGetTask || next.Call.TaskID != 7 {
		t.Fatalf("expected get_task for id 7, got %+v", next.Call)
	}

	final := Resume(next.Session, *next.Call, Result{Task: tasks[1]}, lx)
	want := fmt.Sprintf(lx.Messages.TaskFound, "Groceries", "milk")
	if final.Reply != want || final.Session.State != session.StateAuthenticated {
		t.Fatalf("unexpected final step: %+v", final)
	}
}

func TestTaskLookupIsCaseSensitive(t *testing.T) {
	s := authenticated()
	call := Call{Kind: CallListTasks, Token: "tok", UserID: 3, LookupName: "Groceries"}
	step := Resume(s, call, Result{Tasks: []backend.Task{{ID: 1, Name: "groceries"}}}, lx)
	if step.Call != nil || step.Reply != lx.Messages.TaskNotFound || step.Outcome != OutcomeNotFound {
		t.Fatalf("unexpected step: %+v", step)
	}
}

func TestCreateTaskTrimsBothSides(t *testing.T) {
	step := Transition(authenticated(), Input{Text: "Buy milk | 2% milk, 1 gallon"}, lx)
	if step.Call == nil || step.Call.Kind != CallCreateTask {
		t.Fatalf("expected create call, got %+v", step.Call)
	}
	if step.Call.Name != "Buy milk" || step.Call.Description != "2% milk, 1 gallon" || step.Call.UserID != 3 {
		t.Fatalf("unexpected create call: %+v", step.Call)
	}

	split := Transition(authenticated(), Input{Text: "a | b | c"}, lx)
	if split.Call.Name != "a" || split.Call.Description != "b | c" {
		t.Fatalf("expected split on first bar, got %+v", split.Call)
	}
}

func TestCreateTaskWithoutTitle(t *testing.T) {
	step := Transition(authenticated(), Input{Text: " | body"}, lx)
	if step.Call != nil || step.Reply != lx.Messages.AskNote {
		t.Fatalf("unexpected step: %+v", step)
	}
}

func TestCreateTaskRejectedShowsDetail(t *testing.T) {
	err := &backend.CallError{Op: "create_task", Status: 400, Detail: "task with this name already exists", Err: backend.ErrConflict}
	step := Resume(authenticated(), Call{Kind: CallCreateTask}, Result{Err: err}, lx)
	if !strings.Contains(step.Reply, "already exists") || step.Outcome != OutcomeConflict {
		t.Fatalf("unexpected step: %+v", step)
	}
}

func TestSearchAcceptsOneTag(t *testing.T) {
	cases := []struct {
		text    string
		wantTag string
		reply   string
	}{
		{"#work", "work", ""},
		{"# work ", "work", ""},
		{"#work, ", "work", ""},
		{"#work,home", "", lx.Messages.SingleTagOnly},
		{"#work, #home", "", lx.Messages.SingleTagOnly},
		{"#", "", lx.Messages.AskTag},
	}
	for _, tc := range cases {
		step := Transition(authenticated(), Input{Text: tc.text}, lx)
		if tc.wantTag != "" {
			if step.Call == nil || step.Call.Kind != CallSearchByTag || step.Call.Tag != tc.wantTag {
				t.Fatalf("%q: unexpected call %+v", tc.text, step.Call)
			}
			continue
		}
		if step.Call != nil || step.Reply != tc.reply {
			t.Fatalf("%q: unexpected step %+v", tc.text, step)
		}
	}
}

func TestSearchResults(t *testing.T) {
	call := Call{Kind: CallSearchByTag, Token: "tok", Tag: "work"}
	step := Resume(authenticated(), call, Result{Tasks: []backend.Task{{ID: 2, Name: "Report"}}}, lx)
	want := fmt.Sprintf(lx.Messages.SearchHeader, "work") + "\n2: Report"
	if step.Reply != want {
		t.Fatalf("Reply = %q, want %q", step.Reply, want)
	}

	empty := Resume(authenticated(), call, Result{Err: &backend.CallError{Status: 404, Err: backend.ErrNotFound}}, lx)
	if empty.Reply != fmt.Sprintf(lx.Messages.SearchEmpty, "work") {
		t.Fatalf("Reply = %q", empty.Reply)
	}
}

func TestNotesListing(t *testing.T) {
	step := Transition(authenticated(), Input{Text: "/notes"}, lx)
	if step.Call == nil || step.Call.Kind != CallListTasks || step.Call.LookupName != "" {
		t.Fatalf("unexpected call: %+v", step.Call)
	}
	res := Result{Tasks: []backend.Task{{ID: 9, Name: "b"}, {ID: 2, Name: "a"}}}
	got := Resume(step.Session, *step.Call, res, lx)
	want := lx.Messages.NotesHeader + "\n9: b\n2: a"
	if got.Reply != want {
		t.Fatalf("Reply = %q, want %q", got.Reply, want)
	}

	empty := Resume(step.Session, *step.Call, Result{}, lx)
	if empty.Reply != lx.Messages.NotesEmpty {
		t.Fatalf("Reply = %q", empty.Reply)
	}
}

func TestTransportFailureImpactDependsOnStage(t *testing.T) {
	err := &backend.CallError{Op: "x", Err: backend.ErrTransport}

	reset := Resume(awaitingPassword("alice"), Call{Kind: CallLogin}, Result{Err: err}, lx)
	if reset.Session.State != session.StateInit {
		t.Fatalf("login failure: State = %q, want init", reset.Session.State)
	}

	calls := []Call{
		{Kind: CallListTasks},
		{Kind: CallListTasks, LookupName: "x"},
		{Kind: CallGetTask, TaskID: 1},
		{Kind: CallCreateTask, Name: "x"},
		{Kind: CallSearchByTag, Tag: "x"},
	}
	for _, call := range calls {
		step := Resume(authenticated(), call, Result{Err: err}, lx)
		if step.Session.State != session.StateAuthenticated || step.Session.AccessToken != "tok" {
			t.Fatalf("%s failure changed the session: %+v", call.Kind, step.Session)
		}
		if step.Outcome != OutcomeTransport || step.Reply == "" {
			t.Fatalf("%s failure: unexpected step %+v", call.Kind, step)
		}
	}
}

func TestUnauthorizedCommandKeepsState(t *testing.T) {
	err := &backend.CallError{Status: 401, Err: backend.ErrUnauthorized}
	step := Resume(authenticated(), Call{Kind: CallListTasks}, Result{Err: err}, lx)
	if step.Session.State != session.StateAuthenticated || step.Reply != lx.Messages.SessionExpired {
		t.Fatalf("unexpected step: %+v", step)
	}
}

func TestTaskCommandsRequireAuthentication(t *testing.T) {
	inputs := []string{"/notes", "/get_task", "/create_note", "/search", "task:x", "a | b", "#work"}
	s := session.New("tg:1")
	for _, text := range inputs {
		step := Transition(s, Input{Text: text}, lx)
		if step.Call != nil || step.Reply != lx.Messages.AuthRequired || step.Session.State != session.StateInit {
			t.Fatalf("%q: unexpected step %+v", text, step)
		}
	}
}

func TestPromptsAndFallbacks(t *testing.T) {
	s := authenticated()
	cases := map[string]string{
		"/get_task":    lx.Messages.AskTaskName,
		"/create_note": lx.Messages.AskNote,
		"/search":      lx.Messages.AskTag,
		"/help":        lx.Messages.Help,
		"/unknown":     lx.Messages.Help,
		"hello there":  lx.Messages.Help,
	}
	for text, want := range cases {
		step := Transition(s, Input{Text: text}, lx)
		if step.Reply != want || step.Call != nil || step.Session.State != session.StateAuthenticated {
			t.Fatalf("%q: unexpected step %+v", text, step)
		}
	}
}

func TestStatusReply(t *testing.T) {
	step := Transition(authenticated(), Input{Text: "/status", SenderUsername: "alice"}, lx)
	want := fmt.Sprintf(lx.Messages.Status, session.StateAuthenticated, "alice")
	if step.Reply != want {
		t.Fatalf("Reply = %q, want %q", step.Reply, want)
	}
}

func TestSequentialComposition(t *testing.T) {
	api := backend.NewMockBackend()
	api.AddUser("a@example.com", "pw", "alice")

	s := session.New("tg:1")
	for _, text := range []string{"/auth", "a@example.com", "pw"} {
		step := Transition(s, Input{Text: text, SenderUsername: "alice"}, lx)
		if step.Call != nil {
			login, err := api.Login(testContext(t), step.Call.Email, step.Call.Password)
			step = Resume(step.Session, *step.Call, Result{Login: login, Err: err}, lx)
		}
		s = step.Session
	}
	if s.State != session.StateAuthenticated {
		t.Fatalf("State = %q, want authenticated", s.State)
	}
}

func TestParseCommand(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"/start", "start", true},
		{"/Start@taskibot", "start", true},
		{"/search work", "search", true},
		{"/", "", false},
		{"start", "", false},
	}
	for _, tc := range cases {
		got, ok := parseCommand(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("parseCommand(%q) = %q, %v", tc.in, got, ok)
		}
	}
}

func TestCallLogValueOmitsPassword(t *testing.T) {
	var b strings.Builder
	logger := slog.New(slog.NewTextHandler(&b, nil))
	logger.Info("call", "call", Call{Kind: CallLogin, Email: "a@example.com", Password: "s3cret", Token: "tok"})
	out := b.String()
	if strings.Contains(out, "s3cret") || strings.Contains(out, "tok") || strings.Contains(out, "a@example.com") {
		t.Fatalf("log leaked credentials: %s", out)
	}
}
