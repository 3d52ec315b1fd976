package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/taskibot/internal/protocol"
	"github.com/ent0n29/taskibot/internal/router"
)

const wsChannel = "ws"

// handleChatWS serves one chat over a websocket. The chat id is issued by
// the server per connection and announced in session_ready; query parameters
// cannot select an existing session. The socket carries no verified chat
// platform identity, so messages are submitted without a sender username:
// accounts already bound to a Telegram username fail the identity check and
// are refused.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	if s.deps.Router == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "router not configured")
		return
	}
	chatID := wsChannel + ":" + uuid.NewString()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	s.deps.Metrics.SessionEvent("ws_connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	outbound := make(chan any, 64)
	push := func(msg any) {
		select {
		case outbound <- msg:
		case <-ctx.Done():
		}
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-outbound:
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	push(protocol.SystemEvent{Type: protocol.TypeSystemEvent, ChatID: chatID, Code: "session_ready"})

	conn.SetReadLimit(64 << 10)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			push(protocol.ErrorEvent{
				Type:   protocol.TypeErrorEvent,
				ChatID: chatID,
				Code:   "invalid_client_message",
				Detail: err.Error(),
			})
			continue
		}

		switch m := parsed.(type) {
		case protocol.ClientControl:
			detail := ""
			if m.Action == "status" {
				if sess, ok := s.deps.Store.Peek(chatID); ok {
					detail = string(sess.State)
				}
			}
			push(protocol.SystemEvent{Type: protocol.TypeSystemEvent, ChatID: chatID, Code: m.Action, Detail: detail})

		case protocol.ClientText:
			clientMsgID := m.ClientMsgID
			err := s.deps.Router.Submit(ctx, router.Inbound{
				Channel:   wsChannel,
				ChatID:    chatID,
				Text:      m.Text,
				MessageID: clientMsgID,
			}, func(_ context.Context, rep router.Reply) {
				push(protocol.BotReply{
					Type:        protocol.TypeBotReply,
					ChatID:      rep.ChatID,
					ClientMsgID: clientMsgID,
					Text:        rep.Text,
					Menu:        rep.Menu,
					State:       string(rep.State),
					Outcome:     string(rep.Outcome),
				})
			})
			if err != nil {
				push(protocol.ErrorEvent{
					Type:      protocol.TypeErrorEvent,
					ChatID:    chatID,
					Code:      "submit_failed",
					Retryable: true,
					Detail:    err.Error(),
				})
			}
		}
	}

	cancel()
	<-writerDone
	s.deps.Metrics.SessionEvent("ws_disconnected")
}
