// Package memory provides an in-memory audit log.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/warp/deal-desk/session"
)

// ErrDuplicateEntry is returned when an entry id is appended twice.
var ErrDuplicateEntry = errors.New("duplicate audit entry id")

// =============================================================================
// MEMORY AUDIT LOG - In-memory implementation (for testing/dev)
// =============================================================================

type AuditLog struct {
	mu      sync.RWMutex
	entries []session.AuditEntry
	ids     map[string]bool
}

func New() *AuditLog {
	return &AuditLog{ids: make(map[string]bool)}
}

// Append adds an entry in time order. Append-only.
func (m *AuditLog) Append(_ context.Context, e session.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e.ID != "" && m.ids[e.ID] {
		return ErrDuplicateEntry
	}

	// Equal timestamps keep append order.
	i := sort.Search(len(m.entries), func(i int) bool {
		return m.entries[i].At.After(e.At)
	})
	m.entries = append(m.entries, session.AuditEntry{})
	copy(m.entries[i+1:], m.entries[i:])
	m.entries[i] = e

	if e.ID != "" {
		m.ids[e.ID] = true
	}
	return nil
}

// Query returns matching entries oldest first. A Limit keeps the newest.
func (m *AuditLog) Query(_ context.Context, f session.AuditFilter) ([]session.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []session.AuditEntry
	for _, e := range m.entries {
		if f.DraftID != "" && e.DraftID != f.DraftID {
			continue
		}
		if f.TransactionID != "" && e.TransactionID != f.TransactionID {
			continue
		}
		out = append(out, e)
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out, nil
}
