package report

import (
	"context"
	"sync"
	"time"
)

// AuditLogger records report lifecycle entries.
type AuditLogger interface {
	Record(ctx context.Context, entry AuditEntry)
}

// AuditEntry captures audit trail metadata for report rendering.
type AuditEntry struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	Actor      string    `json:"actor,omitempty"`
	RunID      string    `json:"run_id"`
	Status     Status    `json:"status"`
	Reason     string    `json:"reason,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// MemoryAuditLog captures audit entries in-memory for assertions.
type MemoryAuditLog struct {
	mu      sync.Mutex
	entries []AuditEntry
}

// Record stores an audit entry.
func (l *MemoryAuditLog) Record(_ context.Context, entry AuditEntry) {
	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.mu.Unlock()
}

// Entries returns a defensive copy of recorded audit entries.
func (l *MemoryAuditLog) Entries() []AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]AuditEntry, len(l.entries))
	copy(out, l.entries)
	return out
}
