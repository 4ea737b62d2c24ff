package prompt

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"

	"github.com/adjutant-ops/adjutant/pkg/memory"
)

type fakeLister struct {
	containers []types.Container
	err        error
}

func (f *fakeLister) ContainerList(ctx context.Context, options container.ListOptions) ([]types.Container, error) {
	return f.containers, f.err
}

type fakeRecaller struct {
	recalled memory.Recalled
}

func (f *fakeRecaller) Recall(ctx context.Context, query string, limit int) memory.Recalled {
	return f.recalled
}

func testBuilder(docker memory.ContainerLister, recaller Recaller) *Builder {
	b := NewBuilder(
		Identity{Name: "Adjutant", ServerName: "atlas", Mission: "keep atlas healthy", Model: "test-model"},
		Persona{Formality: 5, Verbosity: 5, Humor: 5},
		docker, recaller,
	)
	b.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return b
}

func TestBuildIdentityAndTime(t *testing.T) {
	b := testBuilder(nil, nil)
	out := b.Build(context.Background(), "hello", "", false)

	if !strings.Contains(out, `You are Adjutant, an operations agent managing the server "atlas".`) {
		t.Errorf("missing identity line:\n%s", out)
	}
	if !strings.Contains(out, "Your mission: keep atlas healthy.") {
		t.Errorf("missing mission line:\n%s", out)
	}
	if !strings.Contains(out, "Current time: 2026-03-01T12:00:00Z.") {
		t.Errorf("missing timestamp:\n%s", out)
	}
}

func TestBuildSafetyRulesFollowWriteMode(t *testing.T) {
	b := testBuilder(nil, nil)

	readOnly := b.Build(context.Background(), "q", "", false)
	if !strings.Contains(readOnly, "This session is read-only.") {
		t.Errorf("read-only rules missing:\n%s", readOnly)
	}
	if strings.Contains(readOnly, "write-capable model") {
		t.Error("read-only prompt must not advertise write capability")
	}

	write := b.Build(context.Background(), "q", "", true)
	if !strings.Contains(write, "test-model, a write-capable model") {
		t.Errorf("write rules missing model:\n%s", write)
	}
	if !strings.Contains(write, "the operator confirms each write operation") {
		t.Errorf("write rules missing confirmation note:\n%s", write)
	}
}

func TestBuildContainerSummary(t *testing.T) {
	lister := &fakeLister{containers: []types.Container{
		{Names: []string{"/webapp"}, State: "running"},
		{Names: []string{"/postgres"}, State: "running"},
	}}
	b := testBuilder(lister, nil)
	out := b.Build(context.Background(), "q", "", false)

	if !strings.Contains(out, "2 running containers:") {
		t.Errorf("missing container count:\n%s", out)
	}
	// Sorted by name.
	if strings.Index(out, "postgres") > strings.Index(out, "webapp") {
		t.Errorf("containers not sorted:\n%s", out)
	}
}

func TestBuildContainerSummaryDegrades(t *testing.T) {
	b := testBuilder(&fakeLister{err: errors.New("daemon down")}, nil)
	out := b.Build(context.Background(), "q", "", false)
	if !strings.Contains(out, "Container environment unavailable.") {
		t.Errorf("expected degraded container section:\n%s", out)
	}
}

func TestBuildRecalledSections(t *testing.T) {
	rec := &fakeRecaller{recalled: memory.Recalled{
		Memories:     []string{"webapp was restarted last Tuesday"},
		GraphContext: `- container "webapp": RUNS_ON atlas`,
	}}
	b := testBuilder(nil, rec)
	out := b.Build(context.Background(), "webapp", "", false)

	if !strings.Contains(out, "## Relevant Memories") {
		t.Errorf("missing memories section:\n%s", out)
	}
	if !strings.Contains(out, "- webapp was restarted last Tuesday") {
		t.Errorf("missing memory line:\n%s", out)
	}
	if !strings.Contains(out, "## Infrastructure Graph") {
		t.Errorf("missing graph section:\n%s", out)
	}
}

func TestBuildOmitsEmptyRecall(t *testing.T) {
	b := testBuilder(nil, &fakeRecaller{})
	out := b.Build(context.Background(), "q", "", false)
	if strings.Contains(out, "## Relevant Memories") || strings.Contains(out, "## Infrastructure Graph") {
		t.Errorf("empty recall must not emit sections:\n%s", out)
	}
}

func TestBuildSkillDescriptions(t *testing.T) {
	b := testBuilder(nil, nil)
	out := b.Build(context.Background(), "q", "### container-ops\nManage containers.", false)
	if !strings.Contains(out, "## Available Skills") || !strings.Contains(out, "### container-ops") {
		t.Errorf("missing skills section:\n%s", out)
	}
}

func TestPersonaInstruction(t *testing.T) {
	cases := []struct {
		persona Persona
		want    string
	}{
		{Persona{Formality: 5, Verbosity: 5, Humor: 5}, "Communicate in a balanced professional tone."},
		{Persona{Formality: 8, Verbosity: 2, Humor: 5}, "Use formal, professional language. be concise and brief."},
		{Persona{Formality: 2, Verbosity: 5, Humor: 8}, "Use casual, conversational language. use wit and dry humor when appropriate."},
	}
	for _, tc := range cases {
		if got := tc.persona.instruction(); got != tc.want {
			t.Errorf("instruction(%+v) = %q, want %q", tc.persona, got, tc.want)
		}
	}
}
