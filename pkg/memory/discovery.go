package memory

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
)

// ContainerLister is the slice of the Docker client discovery needs.
type ContainerLister interface {
	ContainerList(ctx context.Context, options container.ListOptions) ([]types.Container, error)
}

// Discovery periodically mirrors the host and its containers into the
// graph so the agent can answer "what runs where" without a live call.
type Discovery struct {
	docker   ContainerLister
	graph    GraphStore
	interval time.Duration
	log      *slog.Logger
}

// NewDiscovery creates a Discovery.
func NewDiscovery(docker ContainerLister, graph GraphStore, interval time.Duration, log *slog.Logger) *Discovery {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &Discovery{docker: docker, graph: graph, interval: interval, log: log}
}

// Run syncs once immediately, then on every tick until ctx is cancelled.
func (d *Discovery) Run(ctx context.Context) {
	if err := d.Sync(ctx); err != nil {
		d.log.WarnContext(ctx, "graph discovery sync failed", "error", err)
	}
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.Sync(ctx); err != nil {
				d.log.WarnContext(ctx, "graph discovery sync failed", "error", err)
			}
		}
	}
}

// Sync upserts the host node, a node per container and RUNS_ON edges.
// Compose service labels additionally produce service nodes with
// PROVIDES edges.
func (d *Discovery) Sync(ctx context.Context) error {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}
	hostID := "host:" + hostname
	if err := d.graph.UpsertNode(ctx, Node{ID: hostID, Kind: KindHost, Name: hostname}); err != nil {
		return err
	}

	containers, err := d.docker.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return err
	}
	for _, c := range containers {
		name := containerDisplayName(c)
		nodeID := "container:" + name
		props := map[string]string{
			"image": c.Image,
			"state": c.State,
		}
		if err := d.graph.UpsertNode(ctx, Node{ID: nodeID, Kind: KindContainer, Name: name, Props: props}); err != nil {
			return err
		}
		if err := d.graph.UpsertEdge(ctx, Edge{From: nodeID, Relation: RelRunsOn, To: hostID}); err != nil {
			return err
		}
		if service := c.Labels["com.docker.compose.service"]; service != "" {
			serviceID := "service:" + service
			if err := d.graph.UpsertNode(ctx, Node{ID: serviceID, Kind: KindService, Name: service}); err != nil {
				return err
			}
			if err := d.graph.UpsertEdge(ctx, Edge{From: nodeID, Relation: RelProvides, To: serviceID}); err != nil {
				return err
			}
		}
	}
	return nil
}

func containerDisplayName(c types.Container) string {
	if len(c.Names) > 0 {
		return strings.TrimPrefix(c.Names[0], "/")
	}
	if len(c.ID) > 12 {
		return c.ID[:12]
	}
	return c.ID
}
