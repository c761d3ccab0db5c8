package kernel

import (
	"context"
	"sync"
	"time"

	"github.com/aether-os/aether/pkg/agent"
)

// messageLogCap bounds the retained delivery records. The log feeds the
// collaborative context layer and diagnostics, not an audit requirement; old
// entries roll off.
const messageLogCap = 512

// MessageRecord is one completed delivery, kept for the collaborative context
// layer and for status surfaces.
type MessageRecord struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Type      string    `json:"type"`
	SentAt    time.Time `json:"sent_at"`
	RepliedAt time.Time `json:"replied_at"`
	OK        bool      `json:"ok"`
	Err       string    `json:"err,omitempty"`
}

type pairKey struct {
	from string
	to   string
}

// messenger serializes deliveries per (sender, receiver) pair, giving each
// pair FIFO order without ordering promises across pairs.
type messenger struct {
	mu    sync.Mutex
	pairs map[pairKey]*sync.Mutex
	log   []MessageRecord
}

func newMessenger() *messenger {
	return &messenger{pairs: make(map[pairKey]*sync.Mutex)}
}

func (m *messenger) pairLock(from, to string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := pairKey{from: from, to: to}
	lock, ok := m.pairs[key]
	if !ok {
		lock = &sync.Mutex{}
		m.pairs[key] = lock
	}
	return lock
}

// deliver runs the receiver's handler under the pair lock and records the
// outcome.
func (m *messenger) deliver(ctx context.Context, receiver *agent.BaseAgent, msg agent.Message, now func() time.Time) agent.Reply {
	lock := m.pairLock(msg.From, msg.To)
	lock.Lock()
	reply := receiver.HandleMessage(ctx, msg)
	lock.Unlock()

	m.record(MessageRecord{
		ID:        msg.ID,
		From:      msg.From,
		To:        msg.To,
		Type:      msg.Type,
		SentAt:    msg.SentAt,
		RepliedAt: now(),
		OK:        reply.OK,
		Err:       reply.Err,
	})
	return reply
}

func (m *messenger) record(rec MessageRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log = append(m.log, rec)
	if len(m.log) > messageLogCap {
		m.log = m.log[len(m.log)-messageLogCap:]
	}
}

// recent returns up to limit latest records involving the agent, newest last.
func (m *messenger) recent(agentID string, limit int) []MessageRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []MessageRecord
	for _, rec := range m.log {
		if rec.From == agentID || rec.To == agentID {
			out = append(out, rec)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

func (m *messenger) total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.log)
}
