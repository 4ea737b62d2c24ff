package memory

import (
	"context"
	"testing"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
)

type fakeLister struct {
	containers []types.Container
	err        error
}

func (f *fakeLister) ContainerList(ctx context.Context, options container.ListOptions) ([]types.Container, error) {
	return f.containers, f.err
}

func TestDiscoverySync(t *testing.T) {
	lister := &fakeLister{containers: []types.Container{
		{
			ID:     "abcdef123456789",
			Names:  []string{"/webapp"},
			Image:  "nginx:latest",
			State:  "running",
			Labels: map[string]string{"com.docker.compose.service": "web"},
		},
		{
			ID:    "fedcba987654321",
			Names: []string{"/postgres"},
			Image: "postgres:16",
			State: "exited",
		},
	}}
	g := newTestGraph(t)
	d := NewDiscovery(lister, g, 0, nil)

	if err := d.Sync(context.Background()); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	stats, err := g.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Nodes[KindHost] != 1 {
		t.Errorf("expected 1 host node, got %d", stats.Nodes[KindHost])
	}
	if stats.Nodes[KindContainer] != 2 {
		t.Errorf("expected 2 container nodes, got %d", stats.Nodes[KindContainer])
	}
	if stats.Nodes[KindService] != 1 {
		t.Errorf("expected 1 service node, got %d", stats.Nodes[KindService])
	}
	if stats.Edges[RelRunsOn] != 2 {
		t.Errorf("expected 2 RUNS_ON edges, got %d", stats.Edges[RelRunsOn])
	}
	if stats.Edges[RelProvides] != 1 {
		t.Errorf("expected 1 PROVIDES edge, got %d", stats.Edges[RelProvides])
	}

	out, err := g.Context(context.Background(), "webapp")
	if err != nil {
		t.Fatalf("Context failed: %v", err)
	}
	if out == "" {
		t.Fatal("expected non-empty context for webapp")
	}
}

func TestContainerDisplayName(t *testing.T) {
	cases := []struct {
		c    types.Container
		want string
	}{
		{types.Container{Names: []string{"/webapp"}}, "webapp"},
		{types.Container{ID: "abcdef1234567890"}, "abcdef123456"},
		{types.Container{ID: "short"}, "short"},
	}
	for _, tc := range cases {
		if got := containerDisplayName(tc.c); got != tc.want {
			t.Errorf("containerDisplayName(%+v) = %q, want %q", tc.c, got, tc.want)
		}
	}
}
