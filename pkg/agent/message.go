// Package agent provides the runtime every AOC cell agent is built on: the
// capability bundle into the kernel, the message inbox, doctrinal procedure
// timing, and the six role controllers that produce each cycle's outputs.
package agent

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Message is one point-to-point payload between agents. Ordering is FIFO per
// (sender, receiver) pair only.
type Message struct {
	ID      string         `json:"id"`
	From    string         `json:"from"`
	To      string         `json:"to"`
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
	SentAt  time.Time      `json:"sent_at"`
}

// NewMessage builds a message with a fresh ID and timestamp.
func NewMessage(from, to, messageType string, payload map[string]any) Message {
	return Message{
		ID:      uuid.NewString(),
		From:    from,
		To:      to,
		Type:    messageType,
		Payload: payload,
		SentAt:  time.Now().UTC(),
	}
}

// Reply is the message-dispatch envelope. Exactly one of Payload or Err is
// meaningful.
type Reply struct {
	OK      bool           `json:"ok"`
	Payload map[string]any `json:"payload,omitempty"`
	Err     string         `json:"error,omitempty"`
}

// OKReply wraps a successful payload.
func OKReply(payload map[string]any) Reply {
	return Reply{OK: true, Payload: payload}
}

// ErrReply wraps a dispatch failure.
func ErrReply(err string) Reply {
	return Reply{OK: false, Err: err}
}

// Handler processes one inbound message type on an agent. The context is the
// sender's; cancellation aborts the handler's downstream calls.
type Handler func(ctx context.Context, msg Message) Reply
