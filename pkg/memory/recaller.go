package memory

import (
	"context"
	"log/slog"
	"time"
)

const defaultLookupTimeout = 2 * time.Second

// Recalled is what the prompt builder folds into the system prompt.
type Recalled struct {
	// Memories are past interaction summaries, best match first.
	Memories []string
	// GraphContext is a prose description of relevant infrastructure.
	GraphContext string
}

// Recaller composes semantic and graph recall under one short timeout.
// Recall never fails: a missing or broken provider contributes nothing.
type Recaller struct {
	vector     VectorStore
	embedder   Embedder
	graph      GraphStore
	collection string
	timeout    time.Duration
	log        *slog.Logger
}

// NewRecaller builds a Recaller. Nil providers are replaced with no-ops.
func NewRecaller(vector VectorStore, embedder Embedder, graph GraphStore, collection string, timeout time.Duration, log *slog.Logger) *Recaller {
	if vector == nil {
		vector = NopVectorStore{}
	}
	if embedder == nil {
		embedder = NopEmbedder{}
	}
	if graph == nil {
		graph = NopGraphStore{}
	}
	if timeout <= 0 {
		timeout = defaultLookupTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	return &Recaller{
		vector:     vector,
		embedder:   embedder,
		graph:      graph,
		collection: collection,
		timeout:    timeout,
		log:        log,
	}
}

// Recall gathers context for a query. Failures are logged at debug level
// and produce empty results.
func (r *Recaller) Recall(ctx context.Context, query string, limit int) Recalled {
	if limit <= 0 {
		limit = 5
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var out Recalled

	if vec, err := r.embedder.Embed(ctx, query); err != nil {
		r.log.DebugContext(ctx, "memory recall: embed failed", "error", err)
	} else if len(vec) > 0 {
		results, err := r.vector.Search(ctx, r.collection, vec, limit, 0.5)
		if err != nil {
			r.log.DebugContext(ctx, "memory recall: vector search failed", "error", err)
		}
		for _, res := range results {
			if text, ok := res.Point.Payload["text"].(string); ok && text != "" {
				out.Memories = append(out.Memories, text)
			}
		}
	}

	graphCtx, err := r.graph.Context(ctx, query)
	if err != nil {
		r.log.DebugContext(ctx, "memory recall: graph lookup failed", "error", err)
	} else {
		out.GraphContext = graphCtx
	}
	return out
}

// Remember stores an interaction summary for later semantic recall.
// Best effort: errors are logged, not returned.
func (r *Recaller) Remember(ctx context.Context, id, text string, payload map[string]any) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	vec, err := r.embedder.Embed(ctx, text)
	if err != nil || len(vec) == 0 {
		if err != nil {
			r.log.DebugContext(ctx, "memory remember: embed failed", "error", err)
		}
		return
	}
	if payload == nil {
		payload = map[string]any{}
	}
	payload["text"] = text
	point := Point{
		ID:        id,
		Vector:    vec,
		Payload:   payload,
		Timestamp: time.Now().Unix(),
	}
	if err := r.vector.Upsert(ctx, r.collection, []Point{point}); err != nil {
		r.log.DebugContext(ctx, "memory remember: upsert failed", "error", err)
	}
}
