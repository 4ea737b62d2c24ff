package memory

import (
	"context"
	"errors"
	"testing"
)

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return f.vec, f.err
}

type fakeVectorStore struct {
	results  []SearchResult
	searched bool
	upserted []Point
	err      error
}

func (f *fakeVectorStore) Upsert(ctx context.Context, collection string, points []Point) error {
	f.upserted = append(f.upserted, points...)
	return f.err
}

func (f *fakeVectorStore) Search(ctx context.Context, collection string, vector []float32, limit int, scoreThreshold float32) ([]SearchResult, error) {
	f.searched = true
	return f.results, f.err
}

func (f *fakeVectorStore) CreateCollection(ctx context.Context, name string, vectorSize uint64) error {
	return f.err
}

type fakeGraph struct {
	NopGraphStore
	context string
	err     error
}

func (f *fakeGraph) Context(ctx context.Context, query string) (string, error) {
	return f.context, f.err
}

func TestRecallCombinesVectorAndGraph(t *testing.T) {
	vector := &fakeVectorStore{
		results: []SearchResult{
			{ID: "a", Score: 0.9, Point: Point{Payload: map[string]any{"text": "restarted webapp yesterday"}}},
			{ID: "b", Score: 0.7, Point: Point{Payload: map[string]any{"other": 1}}},
		},
	}
	r := NewRecaller(vector, &fakeEmbedder{vec: []float32{0.1, 0.2}}, &fakeGraph{context: "- container \"webapp\""}, "mem", 0, nil)

	got := r.Recall(context.Background(), "webapp status", 5)
	if len(got.Memories) != 1 || got.Memories[0] != "restarted webapp yesterday" {
		t.Errorf("unexpected memories: %v", got.Memories)
	}
	if got.GraphContext != "- container \"webapp\"" {
		t.Errorf("unexpected graph context: %q", got.GraphContext)
	}
}

func TestRecallNeverErrors(t *testing.T) {
	r := NewRecaller(
		&fakeVectorStore{err: errors.New("qdrant down")},
		&fakeEmbedder{vec: []float32{0.1}},
		&fakeGraph{err: errors.New("db locked")},
		"mem", 0, nil,
	)

	got := r.Recall(context.Background(), "anything", 3)
	if len(got.Memories) != 0 || got.GraphContext != "" {
		t.Errorf("expected empty result on provider failure, got %+v", got)
	}
}

func TestRecallSkipsSearchWithoutEmbedding(t *testing.T) {
	vector := &fakeVectorStore{}
	r := NewRecaller(vector, NopEmbedder{}, nil, "mem", 0, nil)

	r.Recall(context.Background(), "anything", 3)
	if vector.searched {
		t.Error("search should not run when the embedder returns no vector")
	}
}

func TestRecallerNilProviders(t *testing.T) {
	r := NewRecaller(nil, nil, nil, "mem", 0, nil)

	got := r.Recall(context.Background(), "anything", 3)
	if len(got.Memories) != 0 || got.GraphContext != "" {
		t.Errorf("expected empty result from no-op providers, got %+v", got)
	}
}

func TestRememberStoresTextInPayload(t *testing.T) {
	vector := &fakeVectorStore{}
	r := NewRecaller(vector, &fakeEmbedder{vec: []float32{0.3}}, nil, "mem", 0, nil)

	r.Remember(context.Background(), "id-1", "operator restarted webapp", map[string]any{"session": "s1"})
	if len(vector.upserted) != 1 {
		t.Fatalf("expected 1 upserted point, got %d", len(vector.upserted))
	}
	p := vector.upserted[0]
	if p.ID != "id-1" {
		t.Errorf("unexpected point id %q", p.ID)
	}
	if p.Payload["text"] != "operator restarted webapp" {
		t.Errorf("payload text missing: %v", p.Payload)
	}
	if p.Payload["session"] != "s1" {
		t.Errorf("payload session missing: %v", p.Payload)
	}
}
