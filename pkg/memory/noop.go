package memory

import "context"

// NopVectorStore satisfies VectorStore with empty results.
type NopVectorStore struct{}

func (NopVectorStore) Upsert(context.Context, string, []Point) error { return nil }

func (NopVectorStore) Search(context.Context, string, []float32, int, float32) ([]SearchResult, error) {
	return nil, nil
}

func (NopVectorStore) CreateCollection(context.Context, string, uint64) error { return nil }

// NopEmbedder satisfies Embedder with an empty vector.
type NopEmbedder struct{}

func (NopEmbedder) Embed(context.Context, string) ([]float32, error) { return nil, nil }

// NopGraphStore satisfies GraphStore with empty context.
type NopGraphStore struct{}

func (NopGraphStore) UpsertNode(context.Context, Node) error { return nil }
func (NopGraphStore) UpsertEdge(context.Context, Edge) error { return nil }

func (NopGraphStore) Context(context.Context, string) (string, error) { return "", nil }

func (NopGraphStore) Stats(context.Context) (GraphStats, error) {
	return GraphStats{Nodes: map[string]int{}, Edges: map[string]int{}}, nil
}
