package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType identifies websocket payload variants of the chat channel.
type MessageType string

const (
	TypeClientText    MessageType = "client_text"
	TypeClientControl MessageType = "client_control"
	TypeBotReply      MessageType = "bot_reply"
	TypeSystemEvent   MessageType = "system_event"
	TypeErrorEvent    MessageType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// ClientText is one chat message typed by the user.
type ClientText struct {
	Type        MessageType `json:"type"`
	ClientMsgID string      `json:"client_msg_id,omitempty"`
	Text        string      `json:"text"`
	TSMs        int64       `json:"ts_ms,omitempty"`
}

type ClientControl struct {
	Type   MessageType `json:"type"`
	Action string      `json:"action"`
	TSMs   int64       `json:"ts_ms,omitempty"`
}

type BotReply struct {
	Type        MessageType `json:"type"`
	ChatID      string      `json:"chat_id"`
	ClientMsgID string      `json:"client_msg_id,omitempty"`
	Text        string      `json:"text"`
	Menu        [][]string  `json:"menu,omitempty"`
	State       string      `json:"state"`
	Outcome     string      `json:"outcome"`
}

type SystemEvent struct {
	Type   MessageType `json:"type"`
	ChatID string      `json:"chat_id"`
	Code   string      `json:"code"`
	Detail string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	ChatID    string      `json:"chat_id"`
	Code      string      `json:"code"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientText:
		var msg ClientText
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if strings.TrimSpace(msg.Text) == "" {
			return nil, errors.New("invalid client_text")
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		switch msg.Action {
		case "ping", "status":
		default:
			return nil, fmt.Errorf("invalid client_control action %q", msg.Action)
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
