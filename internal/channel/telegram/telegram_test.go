package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ent0n29/taskibot/internal/backend"
	"github.com/ent0n29/taskibot/internal/lexicon"
	"github.com/ent0n29/taskibot/internal/logutil"
	"github.com/ent0n29/taskibot/internal/router"
	"github.com/ent0n29/taskibot/internal/session"
)

type fakeBotAPI struct {
	mu       sync.Mutex
	calls    map[string][][]byte
	updates  []Update
	failNext map[string]string
}

func newFakeBotAPI() *fakeBotAPI {
	return &fakeBotAPI{calls: make(map[string][][]byte), failNext: make(map[string]string)}
}

func (f *fakeBotAPI) bodies(method string) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.calls[method]...)
}

func (f *fakeBotAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if len(parts) != 2 || parts[0] != "botTOKEN" {
		http.NotFound(w, r)
		return
	}
	method := parts[1]
	body, _ := io.ReadAll(r.Body)

	f.mu.Lock()
	f.calls[method] = append(f.calls[method], body)
	failure, fail := f.failNext[method]
	delete(f.failNext, method)
	var updates []Update
	if method == "getUpdates" {
		updates, f.updates = f.updates, nil
	}
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if fail {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, failure)
		return
	}
	switch method {
	case "getMe":
		_, _ = io.WriteString(w, `{"ok":true,"result":{"id":1,"is_bot":true,"username":"taskibot"}}`)
	case "getUpdates":
		if len(updates) == 0 {
			time.Sleep(20 * time.Millisecond)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": updates})
	default:
		_, _ = io.WriteString(w, `{"ok":true,"result":true}`)
	}
}

type recordingSubmitter struct {
	mu  sync.Mutex
	got []router.Inbound
	ch  chan router.Inbound
}

func (s *recordingSubmitter) Submit(ctx context.Context, in router.Inbound, deliver router.Deliver) error {
	s.mu.Lock()
	s.got = append(s.got, in)
	s.mu.Unlock()
	deliver(ctx, router.Reply{ChatID: in.ChatID, Text: "echo: " + in.Text, Menu: [][]string{{"/notes"}}})
	if s.ch != nil {
		s.ch <- in
	}
	return nil
}

func TestSendMessageAttachesKeyboard(t *testing.T) {
	fake := newFakeBotAPI()
	srv := httptest.NewServer(fake)
	defer srv.Close()

	c := NewClient(srv.Client(), srv.URL, "TOKEN")
	if err := c.SendMessage(context.Background(), 42, "hello", [][]string{{"/create_note", "/get_task"}}); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	bodies := fake.bodies("sendMessage")
	if len(bodies) != 1 {
		t.Fatalf("sendMessage calls = %d, want 1", len(bodies))
	}
	var req sendMessageRequest
	if err := json.Unmarshal(bodies[0], &req); err != nil {
		t.Fatalf("decode request: %v", err)
	}
	if req.ChatID != 42 || req.Text != "hello" || req.ReplyMarkup == nil {
		t.Fatalf("unexpected request: %+v", req)
	}
	if got := req.ReplyMarkup.Keyboard[0][1].Text; got != "/get_task" {
		t.Fatalf("keyboard button = %q", got)
	}
}

func TestSendMessageSplitsLongText(t *testing.T) {
	fake := newFakeBotAPI()
	srv := httptest.NewServer(fake)
	defer srv.Close()

	line := strings.Repeat("x", 99) + "\n"
	c := NewClient(srv.Client(), srv.URL, "TOKEN")
	if err := c.SendMessage(context.Background(), 1, strings.Repeat(line, 80), [][]string{{"/notes"}}); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	bodies := fake.bodies("sendMessage")
	if len(bodies) != 3 {
		t.Fatalf("sendMessage calls = %d, want 3", len(bodies))
	}
	var first, last sendMessageRequest
	_ = json.Unmarshal(bodies[0], &first)
	_ = json.Unmarshal(bodies[2], &last)
	if first.ReplyMarkup != nil || last.ReplyMarkup == nil {
		t.Fatalf("keyboard must only be attached to the last chunk")
	}
}

func TestAPIErrorCarriesRetryAfter(t *testing.T) {
	fake := newFakeBotAPI()
	fake.failNext["sendMessage"] = `{"ok":false,"error_code":429,"description":"Too Many Requests","parameters":{"retry_after":3}}`
	srv := httptest.NewServer(fake)
	defer srv.Close()

	c := NewClient(srv.Client(), srv.URL, "TOKEN")
	err := c.SendMessage(context.Background(), 1, "hi", nil)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.Code != 429 || apiErr.RetryAfter != 3*time.Second || !apiErr.Retryable() {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}
}

func TestTransportErrorHidesToken(t *testing.T) {
	c := NewClient(&http.Client{Timeout: time.Second}, "http://127.0.0.1:1", "SECRET-TOKEN")
	_, err := c.GetMe(context.Background())
	if err == nil {
		t.Fatalf("expected error")
	}
	if strings.Contains(err.Error(), "SECRET-TOKEN") {
		t.Fatalf("error leaked the token: %v", err)
	}
}

func TestHandleUpdateSubmitsAndReplies(t *testing.T) {
	fake := newFakeBotAPI()
	srv := httptest.NewServer(fake)
	defer srv.Close()

	sub := &recordingSubmitter{}
	bot := NewBot(NewClient(srv.Client(), srv.URL, "TOKEN"), sub, logutil.Discard(), time.Second)
	u := Update{UpdateID: 5, Message: &Message{
		MessageID: 9,
		Chat:      &Chat{ID: 42, Type: "private"},
		From:      &User{ID: 7, Username: "alice"},
		Text:      " task:Groceries ",
	}}
	if err := bot.HandleUpdate(context.Background(), u); err != nil {
		t.Fatalf("HandleUpdate() error = %v", err)
	}
	if len(sub.got) != 1 {
		t.Fatalf("submitted %d messages, want 1", len(sub.got))
	}
	in := sub.got[0]
	if in.ChatID != "tg:42:7" || in.SenderUsername != "alice" || in.Text != "task:Groceries" || in.Channel != "telegram" {
		t.Fatalf("unexpected inbound: %+v", in)
	}
	if n := len(fake.bodies("sendMessage")); n != 1 {
		t.Fatalf("sendMessage calls = %d, want 1", n)
	}
}

func TestHandleUpdateIgnoresNonText(t *testing.T) {
	sub := &recordingSubmitter{}
	bot := NewBot(NewClient(nil, "http://unused", "TOKEN"), sub, logutil.Discard(), time.Second)
	cases := []Update{
		{UpdateID: 1},
		{UpdateID: 2, Message: &Message{Chat: &Chat{ID: 1}, Text: "  "}},
		{UpdateID: 3, Message: &Message{Chat: &Chat{ID: 1}, From: &User{IsBot: true}, Text: "hi"}},
		{UpdateID: 4, Message: &Message{Chat: &Chat{ID: -100, Type: "channel"}, Text: "channel post"}},
	}
	for _, u := range cases {
		if err := bot.HandleUpdate(context.Background(), u); err != nil {
			t.Fatalf("HandleUpdate(%d) error = %v", u.UpdateID, err)
		}
	}
	if len(sub.got) != 0 {
		t.Fatalf("submitted %d messages, want 0", len(sub.got))
	}
}

func TestPollDeliversUpdatesAndAdvancesOffset(t *testing.T) {
	fake := newFakeBotAPI()
	fake.updates = []Update{{UpdateID: 10, Message: &Message{
		MessageID: 1,
		Chat:      &Chat{ID: 42},
		From:      &User{ID: 7, Username: "alice"},
		Text:      "/start",
	}}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	sub := &recordingSubmitter{ch: make(chan router.Inbound, 1)}
	bot := NewBot(NewClient(srv.Client(), srv.URL, "TOKEN"), sub, logutil.Discard(), time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- bot.Poll(ctx) }()

	select {
	case in := <-sub.ch:
		if in.Text != "/start" {
			t.Fatalf("Text = %q", in.Text)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("update was not delivered")
	}

	deadline := time.Now().Add(3 * time.Second)
	for len(fake.bodies("getUpdates")) < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("poller did not poll again")
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Poll() error = %v", err)
	}

	var second map[string]any
	_ = json.Unmarshal(fake.bodies("getUpdates")[1], &second)
	if second["offset"] != float64(11) {
		t.Fatalf("second poll offset = %v, want 11", second["offset"])
	}
	if got, _ := second["allowed_updates"].([]any); len(got) != 1 || got[0] != "message" {
		t.Fatalf("allowed_updates = %v, want [message]", got)
	}
	if len(fake.bodies("deleteWebhook")) != 1 {
		t.Fatalf("Poll() must drop the webhook first")
	}
}

func TestSplitTextKeepsUTF8(t *testing.T) {
	text := strings.Repeat("ж", 10)
	for _, chunk := range splitText(text, 5) {
		if !strings.HasPrefix(text, chunk) && !strings.Contains(text, chunk) {
			t.Fatalf("chunk %q is not part of the input", chunk)
		}
		for _, r := range chunk {
			if r == '\uFFFD' {
				t.Fatalf("chunk %q split a rune", chunk)
			}
		}
	}
}

func TestEditedMessagesAreIgnored(t *testing.T) {
	var u Update
	raw := `{"update_id":8,"edited_message":{"message_id":3,"chat":{"id":42,"type":"private"},"from":{"id":7,"username":"alice"},"text":"a | b"}}`
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	sub := &recordingSubmitter{}
	bot := NewBot(NewClient(nil, "http://unused", "TOKEN"), sub, logutil.Discard(), time.Second)
	if err := bot.HandleUpdate(context.Background(), u); err != nil {
		t.Fatalf("HandleUpdate() error = %v", err)
	}
	if len(sub.got) != 0 {
		t.Fatalf("edited message was submitted: %+v", sub.got)
	}
}

func TestGroupMembersHaveSeparateSessions(t *testing.T) {
	fake := newFakeBotAPI()
	srv := httptest.NewServer(fake)
	defer srv.Close()

	api := backend.NewMockBackend()
	aliceID := api.AddUser("alice@example.com", "pw", "alice")
	api.AddTask(aliceID, "Secret plan", "")
	store := session.NewStore(time.Hour, 10)
	rt := router.New(api, store, lexicon.Default(), nil, nil, logutil.Discard(), router.Options{})
	defer func() { _ = rt.Close(context.Background()) }()
	bot := NewBot(NewClient(srv.Client(), srv.URL, "TOKEN"), rt, logutil.Discard(), time.Second)

	group := &Chat{ID: -100, Type: "group"}
	alice := &User{ID: 1, Username: "alice"}
	mallory := &User{ID: 2, Username: "mallory"}
	send := func(from *User, text string) {
		t.Helper()
		u := Update{Message: &Message{Chat: group, From: from, Text: text}}
		if err := bot.HandleUpdate(context.Background(), u); err != nil {
			t.Fatalf("HandleUpdate(%q) error = %v", text, err)
		}
	}
	send(alice, "/auth")
	send(alice, "alice@example.com")
	send(alice, "pw")
	send(mallory, "Mallory task | planted")

	deadline := time.Now().Add(3 * time.Second)
	for len(fake.bodies("sendMessage")) < 4 {
		if time.Now().After(deadline) {
			t.Fatalf("replies were not sent")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if got := rt.State(ChatKey(-100, 1)); got != session.StateAuthenticated {
		t.Fatalf("alice state = %q, want authenticated", got)
	}
	if got := rt.State(ChatKey(-100, 2)); got != session.StateInit {
		t.Fatalf("mallory state = %q, want init", got)
	}
	s, _ := store.Peek(ChatKey(-100, 1))
	tasks, err := api.ListTasks(context.Background(), s.AccessToken, aliceID)
	if err != nil {
		t.Fatalf("ListTasks() error = %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("alice's tasks = %+v, want only the seeded one", tasks)
	}
}
