// SPDX-License-Identifier: Apache-2.0
// Package memory gives the agent optional recall: semantic search over past
// interaction summaries (vector store + embedder) and an infrastructure
// graph of what runs where. Both capabilities default to no-ops; their
// absence or failure yields empty context, never an error in the turn loop.
package memory

import "context"

// VectorStore defines the interface for a vector database.
type VectorStore interface {
	// Upsert adds or updates points in the vector store.
	Upsert(ctx context.Context, collection string, points []Point) error
	// Search searches for the nearest vectors to the given vector.
	Search(ctx context.Context, collection string, vector []float32, limit int, scoreThreshold float32) ([]SearchResult, error)
	// CreateCollection creates a new collection if it doesn't exist.
	CreateCollection(ctx context.Context, name string, vectorSize uint64) error
}

// Point represents a data point in the vector store.
type Point struct {
	ID        string         `json:"id"`
	Vector    []float32      `json:"vector"`
	Payload   map[string]any `json:"payload"`
	Timestamp int64          `json:"timestamp"`
}

// SearchResult represents a result from a vector search.
type SearchResult struct {
	ID    string  `json:"id"`
	Score float32 `json:"score"`
	Point Point   `json:"point"`
}

// Embedder defines the interface for converting text to vectors.
type Embedder interface {
	// Embed converts a text string into a vector.
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Node kinds in the infrastructure graph.
const (
	KindHost      = "host"
	KindContainer = "container"
	KindService   = "service"
	KindOperator  = "operator"
)

// Edge relations in the infrastructure graph.
const (
	RelRunsOn        = "RUNS_ON"
	RelDependsOn     = "DEPENDS_ON"
	RelProvides      = "PROVIDES"
	RelInteractsWith = "INTERACTS_WITH"
)

// Node is one entity in the infrastructure graph.
type Node struct {
	ID    string            `json:"id"`
	Kind  string            `json:"kind"`
	Name  string            `json:"name"`
	Props map[string]string `json:"props,omitempty"`
}

// Edge is a directed relation between two nodes.
type Edge struct {
	From     string `json:"from"`
	Relation string `json:"relation"`
	To       string `json:"to"`
}

// GraphStats summarizes graph contents.
type GraphStats struct {
	Nodes map[string]int `json:"nodes"`
	Edges map[string]int `json:"edges"`
}

// GraphStore records what the agent knows about the infrastructure it
// operates. Advisory only: nothing here ever feeds the safety validator.
type GraphStore interface {
	UpsertNode(ctx context.Context, node Node) error
	UpsertEdge(ctx context.Context, edge Edge) error
	// Context returns a short prose description of graph entities matching
	// the query, suitable for the system prompt.
	Context(ctx context.Context, query string) (string, error)
	Stats(ctx context.Context) (GraphStats, error)
}
