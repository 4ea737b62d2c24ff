// SPDX-License-Identifier: Apache-2.0
// Package audit records every tool call the agent attempts. One entry per
// (session id, correlation id) pair; the entry is upserted on each state
// transition so the row always reflects the latest known state, and a
// terminal state is never overwritten. Keying by session keeps concurrent
// sessions from ever merging entries, even when their correlation ids
// collide.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Entry is the audit record for a single tool call.
type Entry struct {
	CorrelationID string         `json:"correlation_id"`
	SessionID     string         `json:"session_id"`
	Operator      string         `json:"operator,omitempty"`
	Skill         string         `json:"skill"`
	Action        string         `json:"action"`
	Args          map[string]any `json:"args,omitempty"`
	State         string         `json:"state"`
	Detail        string         `json:"detail,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// terminalStates are write-once: once recorded, later upserts are ignored.
var terminalStates = map[string]bool{
	"blocked":   true,
	"completed": true,
	"failed":    true,
}

// Terminal reports whether state ends a tool call's lifecycle.
func Terminal(state string) bool {
	return terminalStates[state]
}

// Filter selects entries for listing.
type Filter struct {
	SessionID string
	Since     time.Time
	Until     time.Time
	Outcome   string
	Limit     int
	Offset    int
}

// Logger persists audit entries.
type Logger interface {
	// Record upserts the entry for its (session id, correlation id) pair.
	Record(ctx context.Context, entry Entry) error
	// List returns entries matching the filter, oldest first.
	List(ctx context.Context, filter Filter) ([]Entry, error)
}

// FailSafe wraps a Logger so storage trouble degrades to a logged warning
// instead of failing the conversation. Reads still report their error.
type FailSafe struct {
	next Logger
	log  *slog.Logger
}

// NewFailSafe wraps next. A nil logger falls back to slog.Default.
func NewFailSafe(next Logger, log *slog.Logger) *FailSafe {
	if log == nil {
		log = slog.Default()
	}
	return &FailSafe{next: next, log: log}
}

func (f *FailSafe) Record(ctx context.Context, entry Entry) error {
	if err := f.next.Record(ctx, entry); err != nil {
		f.log.WarnContext(ctx, "audit degraded: entry not persisted",
			"correlation_id", entry.CorrelationID,
			"state", entry.State,
			"error", err)
	}
	return nil
}

func (f *FailSafe) List(ctx context.Context, filter Filter) ([]Entry, error) {
	return f.next.List(ctx, filter)
}

// MemoryStore is an in-memory Logger for tests and trials.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
	order   []string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

func (m *MemoryStore) Record(_ context.Context, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := entry.SessionID + "\x00" + entry.CorrelationID
	existing, ok := m.entries[key]
	if !ok {
		if entry.CreatedAt.IsZero() {
			entry.CreatedAt = time.Now().UTC()
		}
		m.order = append(m.order, key)
	} else {
		if Terminal(existing.State) {
			return nil
		}
		entry.CreatedAt = existing.CreatedAt
	}
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = time.Now().UTC()
	}
	m.entries[key] = entry
	return nil
}

func (m *MemoryStore) List(_ context.Context, filter Filter) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Entry
	skipped := 0
	for _, id := range m.order {
		e := m.entries[id]
		if filter.SessionID != "" && e.SessionID != filter.SessionID {
			continue
		}
		if !filter.Since.IsZero() && e.UpdatedAt.Before(filter.Since) {
			continue
		}
		if !filter.Until.IsZero() && e.UpdatedAt.After(filter.Until) {
			continue
		}
		if filter.Outcome != "" && e.State != filter.Outcome {
			continue
		}
		if skipped < filter.Offset {
			skipped++
			continue
		}
		out = append(out, e)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}
