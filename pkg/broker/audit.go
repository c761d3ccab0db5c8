package broker

import (
	"sync"
	"time"

	"github.com/aether-os/aether/pkg/ems"
)

// AuditEntry records one information access decision. Entries are append-only
// and carry strictly increasing sequence numbers.
type AuditEntry struct {
	Seq          uint64                  `json:"seq"`
	Timestamp    time.Time               `json:"timestamp"`
	AgentID      string                  `json:"agent_id"`
	Role         ems.AgentRole           `json:"role"`
	Category     ems.InformationCategory `json:"category"`
	QuerySummary string                  `json:"query_summary"`
	Decision     string                  `json:"decision"`
	AccessLevel  ems.AccessLevel         `json:"access_level"`
	Sanitized    bool                    `json:"sanitized"`
	Phase        ems.Phase               `json:"phase,omitempty"`
}

// Audit decisions.
const (
	DecisionGranted = "granted"
	DecisionDenied  = "denied"
)

// AuditFilter narrows GetAuditLog results. Zero fields match everything.
type AuditFilter struct {
	AgentID  string
	Category ems.InformationCategory
	Since    time.Time
}

// AuditSink receives a copy of every appended entry. Used for best-effort
// persistence; sink failures never affect the in-memory trail.
type AuditSink interface {
	RecordAudit(entry AuditEntry)
}

// AuditTrail is the process-wide append-only access log. Multi-writer safe;
// sequencing is monotonic under the trail's lock.
type AuditTrail struct {
	mu      sync.RWMutex
	entries []AuditEntry
	seq     uint64
	sink    AuditSink
}

// NewAuditTrail creates an empty trail. The sink may be nil.
func NewAuditTrail(sink AuditSink) *AuditTrail {
	return &AuditTrail{sink: sink}
}

// Append records an entry, assigning its sequence number and timestamp.
func (t *AuditTrail) Append(entry AuditEntry) AuditEntry {
	t.mu.Lock()
	t.seq++
	entry.Seq = t.seq
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	t.entries = append(t.entries, entry)
	sink := t.sink
	t.mu.Unlock()

	if sink != nil {
		sink.RecordAudit(entry)
	}
	return entry
}

// Entries returns a filtered copy of the trail in sequence order.
func (t *AuditTrail) Entries(filter AuditFilter) []AuditEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make([]AuditEntry, 0, len(t.entries))
	for _, entry := range t.entries {
		if filter.AgentID != "" && entry.AgentID != filter.AgentID {
			continue
		}
		if filter.Category != "" && entry.Category != filter.Category {
			continue
		}
		if !filter.Since.IsZero() && entry.Timestamp.Before(filter.Since) {
			continue
		}
		result = append(result, entry)
	}
	return result
}

// Len returns the number of recorded entries.
func (t *AuditTrail) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}
