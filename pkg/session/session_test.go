package session

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/adjutant-ops/adjutant/pkg/llm"
)

func TestAppendAssignsIDAndTimestamp(t *testing.T) {
	s := New("alice")
	s.Append(Turn{Role: llm.RoleUser, Content: "hello"})

	if len(s.Turns) != 1 {
		t.Fatalf("expected 1 turn, got %d", len(s.Turns))
	}
	turn := s.Turns[0]
	if turn.ID == "" {
		t.Error("turn id not assigned")
	}
	if turn.CreatedAt.IsZero() {
		t.Error("turn timestamp not assigned")
	}
	if !s.UpdatedAt.Equal(turn.CreatedAt) {
		t.Error("session UpdatedAt not bumped")
	}
}

func TestMessagesWindow(t *testing.T) {
	s := New("alice")
	for i := 0; i < 10; i++ {
		s.Append(Turn{Role: llm.RoleUser, Content: "message"})
		s.Append(Turn{Role: llm.RoleAssistant, Content: "reply"})
	}

	msgs := s.Messages(4)
	if len(msgs) != 4 {
		t.Errorf("expected 4 messages, got %d", len(msgs))
	}
	all := s.Messages(0)
	if len(all) != 20 {
		t.Errorf("expected all 20 messages, got %d", len(all))
	}
}

func TestMessagesWindowSkipsDanglingToolResult(t *testing.T) {
	s := New("alice")
	s.Append(Turn{Role: llm.RoleUser, Content: "list containers"})
	s.Append(Turn{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "call_1"}}})
	s.Append(Turn{Role: llm.RoleTool, ToolCallID: "call_1", Content: "3 containers"})
	s.Append(Turn{Role: llm.RoleAssistant, Content: "There are 3 containers."})

	msgs := s.Messages(2)
	if len(msgs) != 1 {
		t.Fatalf("expected dangling tool result dropped, got %d messages", len(msgs))
	}
	if msgs[0].Role != llm.RoleAssistant {
		t.Errorf("expected assistant message, got %s", msgs[0].Role)
	}
}

func TestDeriveTitle(t *testing.T) {
	s := New("alice")
	if got := s.DeriveTitle(); got != "New Session" {
		t.Errorf("empty session title = %q", got)
	}

	s.Append(Turn{Role: llm.RoleAssistant, Content: "greeting"})
	s.Append(Turn{Role: llm.RoleUser, Content: "check the webapp logs"})
	if got := s.DeriveTitle(); got != "check the webapp logs" {
		t.Errorf("title = %q", got)
	}

	long := New("alice")
	long.Append(Turn{Role: llm.RoleUser, Content: strings.Repeat("x", 100)})
	if got := long.DeriveTitle(); len(got) != titleLimit+3 || !strings.HasSuffix(got, "...") {
		t.Errorf("long title not truncated: %q", got)
	}

	s.Title = "custom"
	if got := s.DeriveTitle(); got != "custom" {
		t.Errorf("explicit title not preferred: %q", got)
	}
}

func TestDeriveTitleKeepsRuneBoundary(t *testing.T) {
	// The leading ASCII byte shifts every following 2-byte rune off the
	// titleLimit boundary, so a byte-index cut would split one.
	multi := New("alice")
	multi.Append(Turn{Role: llm.RoleUser, Content: "x" + strings.Repeat("é", 100)})
	got := multi.DeriveTitle()
	if !utf8.ValidString(got) {
		t.Fatalf("title is not valid UTF-8: %q", got)
	}
	if !strings.HasSuffix(got, "...") || len(got) > titleLimit+3 {
		t.Errorf("long title not truncated: %q", got)
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	s := New("alice")
	s.Append(Turn{Role: llm.RoleUser, Content: "hello"})
	if err := store.Save(ctx, s); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.Get(ctx, s.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got == nil || got.ID != s.ID || len(got.Turns) != 1 {
		t.Fatalf("unexpected session: %+v", got)
	}

	// Mutating the returned copy must not affect the store.
	got.Turns = append(got.Turns, Turn{Role: llm.RoleUser, Content: "extra"})
	again, _ := store.Get(ctx, s.ID)
	if len(again.Turns) != 1 {
		t.Error("store leaked internal state to caller")
	}

	if missing, err := store.Get(ctx, "nope"); err != nil || missing != nil {
		t.Errorf("unknown id should yield (nil, nil), got (%v, %v)", missing, err)
	}
}

func TestMemoryStoreListAndDelete(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	older := New("alice")
	older.Append(Turn{Role: llm.RoleUser, Content: "first session"})
	older.UpdatedAt = time.Now().Add(-time.Hour)
	newer := New("alice")
	newer.Append(Turn{Role: llm.RoleUser, Content: "second session"})
	other := New("bob")

	for _, s := range []*Session{older, newer, other} {
		if err := store.Save(ctx, s); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	list, err := store.List(ctx, "alice")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 sessions for alice, got %d", len(list))
	}
	if list[0].ID != newer.ID {
		t.Error("sessions not sorted newest first")
	}
	if list[0].Title != "second session" {
		t.Errorf("summary title = %q", list[0].Title)
	}

	all, _ := store.List(ctx, "")
	if len(all) != 3 {
		t.Errorf("expected 3 sessions total, got %d", len(all))
	}

	ok, err := store.Delete(ctx, newer.ID)
	if err != nil || !ok {
		t.Fatalf("Delete = (%v, %v)", ok, err)
	}
	ok, _ = store.Delete(ctx, newer.ID)
	if ok {
		t.Error("second delete should report not found")
	}
}
