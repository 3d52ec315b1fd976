// Package router serializes inbound chat messages per chat and drives the
// conversation state machine against the backend.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/taskibot/internal/backend"
	"github.com/ent0n29/taskibot/internal/conversation"
	"github.com/ent0n29/taskibot/internal/journal"
	"github.com/ent0n29/taskibot/internal/lexicon"
	"github.com/ent0n29/taskibot/internal/observability"
	"github.com/ent0n29/taskibot/internal/policy"
	"github.com/ent0n29/taskibot/internal/session"
)

var ErrClosed = errors.New("router closed")

// maxCallsPerMessage bounds the call chain a single message may trigger.
const maxCallsPerMessage = 4

// Inbound is one chat message as received from a channel.
type Inbound struct {
	Channel        string
	ChatID         string
	SenderUsername string
	Text           string
	MessageID      string
	ReceivedAt     time.Time
}

// Reply is what the channel sends back for one inbound message.
type Reply struct {
	ChatID    string
	MessageID string
	Text      string
	// Menu holds keyboard rows when the main menu should be shown.
	Menu    [][]string
	State   session.State
	Outcome conversation.Outcome
}

// Deliver sends a reply on the channel the message came from.
type Deliver func(ctx context.Context, reply Reply)

type Options struct {
	MaxConcurrency int
	QueueSize      int
	WorkerIdle     time.Duration
}

type Router struct {
	api     backend.API
	store   *session.Store
	lexicon lexicon.Lexicon
	journal journal.Store
	metrics *observability.Metrics
	logger  *slog.Logger
	opts    Options

	sem  chan struct{}
	done chan struct{}
	wg   sync.WaitGroup

	mu      sync.Mutex
	workers map[string]*chatWorker
	closed  bool
}

type chatWorker struct {
	queue chan job
	// pending counts jobs handed to Submit but not yet dequeued. Guarded by
	// Router.mu; a worker only exits when it is zero.
	pending int
}

type job struct {
	ctx     context.Context
	in      Inbound
	deliver Deliver
}

// New builds a router. journal and metrics may be nil.
func New(
	api backend.API,
	store *session.Store,
	lx lexicon.Lexicon,
	jr journal.Store,
	metrics *observability.Metrics,
	logger *slog.Logger,
	opts Options,
) *Router {
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 16
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 16
	}
	if opts.WorkerIdle <= 0 {
		opts.WorkerIdle = 2 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		api:     api,
		store:   store,
		lexicon: lx,
		journal: jr,
		metrics: metrics,
		logger:  logger,
		opts:    opts,
		sem:     make(chan struct{}, opts.MaxConcurrency),
		done:    make(chan struct{}),
		workers: make(map[string]*chatWorker),
	}
}

// Submit queues in behind any earlier message of the same chat and returns
// once it is queued. deliver runs on the chat's worker after processing.
// Submit blocks while the chat queue is full; callers that need arrival
// order must call it sequentially.
func (r *Router) Submit(ctx context.Context, in Inbound, deliver Deliver) error {
	in.ChatID = strings.TrimSpace(in.ChatID)
	if in.ChatID == "" {
		return fmt.Errorf("submit: empty chat id")
	}
	if in.MessageID == "" {
		in.MessageID = uuid.NewString()
	}
	if in.ReceivedAt.IsZero() {
		in.ReceivedAt = time.Now().UTC()
	}
	if deliver == nil {
		deliver = func(context.Context, Reply) {}
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	w := r.getOrStartWorkerLocked(in.ChatID)
	w.pending++
	r.mu.Unlock()

	r.metrics.ObserveMessage(in.Channel, "in")

	j := job{ctx: context.WithoutCancel(ctx), in: in, deliver: deliver}
	select {
	case w.queue <- j:
		return nil
	default:
	}

	r.metrics.QueueRejected()
	r.logger.Warn("chat_queue_full", "chat_id", in.ChatID, "queue_size", r.opts.QueueSize)
	select {
	case w.queue <- j:
		return nil
	case <-ctx.Done():
		r.mu.Lock()
		w.pending--
		r.mu.Unlock()
		return ctx.Err()
	}
}

// Handle submits in and waits for its reply.
func (r *Router) Handle(ctx context.Context, in Inbound) (Reply, error) {
	ch := make(chan Reply, 1)
	err := r.Submit(ctx, in, func(_ context.Context, rep Reply) { ch <- rep })
	if err != nil {
		return Reply{}, err
	}
	select {
	case rep := <-ch:
		return rep, nil
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}
}

// State returns the current state of chatID without creating a session.
func (r *Router) State(chatID string) session.State {
	if s, ok := r.store.Peek(chatID); ok {
		return s.State
	}
	return session.StateInit
}

// ActiveWorkers reports how many chats currently have a worker.
func (r *Router) ActiveWorkers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.workers)
}

// Close stops accepting messages and waits for queued ones to finish.
func (r *Router) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.done)
	}
	r.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Router) getOrStartWorkerLocked(chatID string) *chatWorker {
	if w, ok := r.workers[chatID]; ok {
		return w
	}
	w := &chatWorker{queue: make(chan job, r.opts.QueueSize)}
	r.workers[chatID] = w
	r.wg.Add(1)
	go r.runWorker(chatID, w)
	return w
}

func (r *Router) runWorker(chatID string, w *chatWorker) {
	defer r.wg.Done()
	idle := time.NewTimer(r.opts.WorkerIdle)
	defer idle.Stop()

	for {
		select {
		case j := <-w.queue:
			r.dequeued(w)
			r.process(j)
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(r.opts.WorkerIdle)

		case <-idle.C:
			if r.retireIfIdle(chatID, w) {
				return
			}
			idle.Reset(r.opts.WorkerIdle)

		case <-r.done:
			r.drain(chatID, w)
			return
		}
	}
}

func (r *Router) dequeued(w *chatWorker) {
	r.mu.Lock()
	w.pending--
	r.mu.Unlock()
}

func (r *Router) retireIfIdle(chatID string, w *chatWorker) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w.pending > 0 {
		return false
	}
	delete(r.workers, chatID)
	return true
}

// drain processes what was queued before Close.
func (r *Router) drain(chatID string, w *chatWorker) {
	for {
		select {
		case j := <-w.queue:
			r.dequeued(w)
			r.process(j)
			continue
		default:
		}
		r.mu.Lock()
		left := w.pending
		if left == 0 {
			delete(r.workers, chatID)
		}
		r.mu.Unlock()
		if left == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (r *Router) process(j job) {
	r.sem <- struct{}{}
	defer func() { <-r.sem }()

	start := time.Now()
	rep := r.handle(j.ctx, j.in)
	r.metrics.ObserveHandled(string(rep.Outcome), time.Since(start))
	r.metrics.ObserveMessage(j.in.Channel, "out")

	r.logger.Info("message_handled",
		"chat_id", j.in.ChatID,
		"channel", j.in.Channel,
		"message_id", j.in.MessageID,
		"state", rep.State,
		"outcome", rep.Outcome,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	j.deliver(j.ctx, rep)
}

// handle runs one message through the state machine. A panic is reported as
// an internal error and leaves the stored session untouched.
func (r *Router) handle(ctx context.Context, in Inbound) (rep Reply) {
	_, existed := r.store.Peek(in.ChatID)
	s := r.store.Get(in.ChatID)
	if !existed {
		r.metrics.SessionEvent("created")
	}
	before := s.State

	defer func() {
		if p := recover(); p != nil {
			r.metrics.PanicRecovered()
			r.logger.Error("message_handler_panic",
				"chat_id", in.ChatID,
				"panic", fmt.Sprint(p),
				"stack", string(debug.Stack()),
			)
			rep = Reply{
				ChatID:    in.ChatID,
				MessageID: in.MessageID,
				Text:      r.lexicon.Messages.InternalError,
				State:     before,
				Outcome:   "internal_error",
			}
		}
	}()

	step := conversation.Transition(s, conversation.Input{Text: in.Text, SenderUsername: in.SenderUsername}, r.lexicon)
	for calls := 0; step.Call != nil; calls++ {
		if calls == maxCallsPerMessage {
			panic(fmt.Sprintf("call chain exceeded %d calls", maxCallsPerMessage))
		}
		call := *step.Call
		res := r.execute(ctx, in.ChatID, call)
		step = conversation.Resume(step.Session, call, res, r.lexicon)
	}

	r.store.Save(step.Session)
	r.metrics.SetActiveSessions(r.store.ActiveCount())
	if step.Session.State != before {
		r.logger.Debug("session_transition", "chat_id", in.ChatID, "from", before, "to", step.Session.State)
	}

	rep = Reply{
		ChatID:    in.ChatID,
		MessageID: in.MessageID,
		Text:      step.Reply,
		State:     step.Session.State,
		Outcome:   step.Outcome,
	}
	if step.Menu {
		rep.Menu = r.lexicon.Menu
	}

	r.record(ctx, in, before, policy.Inbound, in.Text, "")
	r.record(ctx, in, rep.State, policy.Outbound, rep.Text, string(rep.Outcome))
	return rep
}

func (r *Router) record(ctx context.Context, in Inbound, state session.State, dir policy.Direction, text, outcome string) {
	if r.journal == nil {
		return
	}
	d := policy.DecideRecord(state, dir, text)
	if d.Skip {
		return
	}
	err := r.journal.Append(ctx, journal.Entry{
		ChatID:      in.ChatID,
		Direction:   string(dir),
		State:       string(state),
		Outcome:     outcome,
		Content:     d.Content,
		PIIRedacted: d.PIIRedacted,
	})
	if err != nil {
		r.logger.Warn("journal_append_failed", "chat_id", in.ChatID, "error", err.Error())
	}
}
