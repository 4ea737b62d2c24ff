// SPDX-License-Identifier: Apache-2.0
// Package session holds per-operator conversation state. A session owns an
// ordered list of turns plus the knobs that shape its behavior: enabled
// skills and the write-mode flag. Stores are pluggable; the in-memory
// default suits a single process, Redis survives restarts.
package session

import (
	"context"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/adjutant-ops/adjutant/pkg/llm"
)

// Turn is one unit of conversation: an operator message, a model reply
// (possibly with tool calls) or a tool result.
type Turn struct {
	ID         string         `json:"id"`
	Role       llm.Role       `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []llm.ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Session is one conversation with one operator.
type Session struct {
	ID            string    `json:"id"`
	Operator      string    `json:"operator"`
	Title         string    `json:"title,omitempty"`
	Turns         []Turn    `json:"turns"`
	EnabledSkills []string  `json:"enabled_skills,omitempty"`
	WriteMode     bool      `json:"write_mode"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// New creates a session for operator.
func New(operator string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:        uuid.NewString(),
		Operator:  operator,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Append adds a turn and bumps UpdatedAt.
func (s *Session) Append(turn Turn) {
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	s.Turns = append(s.Turns, turn)
	s.UpdatedAt = turn.CreatedAt
}

// Messages converts the most recent window turns into model messages.
// window <= 0 means no limit.
func (s *Session) Messages(window int) []llm.Message {
	turns := s.Turns
	if window > 0 && len(turns) > window {
		turns = turns[len(turns)-window:]
		// Never start the window on a dangling tool result.
		for len(turns) > 0 && turns[0].Role == llm.RoleTool {
			turns = turns[1:]
		}
	}
	msgs := make([]llm.Message, 0, len(turns))
	for _, t := range turns {
		msgs = append(msgs, llm.Message{
			Role:       t.Role,
			Content:    t.Content,
			ToolCalls:  t.ToolCalls,
			ToolCallID: t.ToolCallID,
		})
	}
	return msgs
}

const titleLimit = 60

// DeriveTitle returns the stored title, or one cut from the first
// operator message.
func (s *Session) DeriveTitle() string {
	if s.Title != "" {
		return s.Title
	}
	for _, t := range s.Turns {
		if t.Role == llm.RoleUser && t.Content != "" {
			if len(t.Content) > titleLimit {
				cut := titleLimit
				// Stay on a rune boundary so the title is always valid UTF-8.
				for cut > 0 && !utf8.RuneStart(t.Content[cut]) {
					cut--
				}
				return t.Content[:cut] + "..."
			}
			return t.Content
		}
	}
	return "New Session"
}

// Summary is the listing view of a session.
type Summary struct {
	ID        string    `json:"id"`
	Operator  string    `json:"operator"`
	Title     string    `json:"title"`
	TurnCount int       `json:"turn_count"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func summarize(s *Session) Summary {
	return Summary{
		ID:        s.ID,
		Operator:  s.Operator,
		Title:     s.DeriveTitle(),
		TurnCount: len(s.Turns),
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

// Store persists sessions. Get returns (nil, nil) for an unknown id.
type Store interface {
	Get(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) (bool, error)
	// List returns summaries, newest first. Empty operator lists all.
	List(ctx context.Context, operator string) ([]Summary, error)
}

// MemoryStore is the in-process default.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Session)}
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	cp.Turns = append([]Turn(nil), s.Turns...)
	return &cp, nil
}

func (m *MemoryStore) Save(ctx context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	cp.Turns = append([]Turn(nil), s.Turns...)
	m.sessions[s.ID] = &cp
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[id]
	delete(m.sessions, id)
	return ok, nil
}

func (m *MemoryStore) List(ctx context.Context, operator string) ([]Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Summary
	for _, s := range m.sessions {
		if operator != "" && s.Operator != operator {
			continue
		}
		out = append(out, summarize(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}
