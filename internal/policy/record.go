package policy

import (
	"github.com/ent0n29/taskibot/internal/session"
)

type Direction string

const (
	Inbound  Direction = "in"
	Outbound Direction = "out"
)

// RecordDecision says whether and how a chat message may be journaled.
type RecordDecision struct {
	Skip        bool
	Content     string
	PIIRedacted bool
	Reason      string
}

// DecideRecord applies the journal policy to one message. state is the
// session state the message was received in.
func DecideRecord(state session.State, dir Direction, text string) RecordDecision {
	if dir == Inbound && state == session.StateAwaitingPassword {
		return RecordDecision{Skip: true, Reason: "credential input"}
	}
	content, changed := RedactPII(text)
	return RecordDecision{Content: content, PIIRedacted: changed}
}
