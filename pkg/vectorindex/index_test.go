package vectorindex

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/WillianCassan/chatbot-with-rag/pkg/domain"
	"github.com/WillianCassan/chatbot-with-rag/pkg/store"
)

// letterEmbedder maps text to a 2-d vector from its first byte so distances
// are predictable.
type letterEmbedder struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (e *letterEmbedder) EmbedText(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if e.fail {
		return nil, errors.New("embed down")
	}
	return []float32{float32(text[0]), 1}, nil
}

type memChunks struct {
	mu     sync.Mutex
	chunks []domain.Chunk
	vecs   [][]float32
}

func (m *memChunks) InsertChunks(_ context.Context, chunks []domain.Chunk, embeddings [][]float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunks = append(m.chunks, chunks...)
	m.vecs = append(m.vecs, embeddings...)
	return nil
}

func (m *memChunks) SearchChunks(_ context.Context, embedding []float32, limit int) ([]store.ScoredChunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.ScoredChunk
	for i, c := range m.chunks {
		d := math.Abs(float64(m.vecs[i][0] - embedding[0]))
		out = append(out, store.ScoredChunk{Chunk: c, Distance: d})
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Distance < out[j-1].Distance; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memChunks) DeleteChunksByDocument(_ context.Context, documentID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keptC []domain.Chunk
	var keptV [][]float32
	var n int64
	for i, c := range m.chunks {
		if c.DocumentID == documentID {
			n++
			continue
		}
		keptC = append(keptC, c)
		keptV = append(keptV, m.vecs[i])
	}
	m.chunks, m.vecs = keptC, keptV
	return n, nil
}

func chunk(id, doc, content string) domain.Chunk {
	return domain.Chunk{ID: id, DocumentID: doc, Content: content}
}

func TestAddEmbedsEveryChunkInOrder(t *testing.T) {
	emb := &letterEmbedder{}
	mem := &memChunks{}
	idx, err := New(emb, mem, WithBatchSize(2), WithConcurrency(2))
	if err != nil {
		t.Fatalf("new index: %v", err)
	}
	in := []domain.Chunk{chunk("1", "d", "a"), chunk("2", "d", "b"), chunk("3", "d", "c"), chunk("4", "d", "d"), chunk("5", "d", "e")}
	if err := idx.Add(context.Background(), in); err != nil {
		t.Fatalf("add: %v", err)
	}
	if len(mem.chunks) != 5 {
		t.Fatalf("expected 5 stored chunks, got %d", len(mem.chunks))
	}
	for i, c := range mem.chunks {
		if mem.vecs[i][0] != float32(c.Content[0]) {
			t.Fatalf("embedding misaligned for chunk %s", c.ID)
		}
	}
}

func TestAddStoresNothingOnEmbedFailure(t *testing.T) {
	mem := &memChunks{}
	idx, _ := New(&letterEmbedder{fail: true}, mem)
	if err := idx.Add(context.Background(), []domain.Chunk{chunk("1", "d", "a")}); err == nil {
		t.Fatalf("expected embed failure")
	}
	if len(mem.chunks) != 0 {
		t.Fatalf("expected no stored chunks")
	}
}

func TestQueryMergesAndRanks(t *testing.T) {
	mem := &memChunks{}
	idx, _ := New(&letterEmbedder{}, mem)
	_ = idx.Add(context.Background(), []domain.Chunk{
		chunk("a", "d1", "a"), chunk("m", "d1", "m"), chunk("z", "d2", "z"),
	})
	got, err := idx.Query(context.Background(), []string{"a", "z", "  "}, 2)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(got))
	}
	ids := map[string]bool{got[0].Chunk.ID: true, got[1].Chunk.ID: true}
	if !ids["a"] || !ids["z"] {
		t.Fatalf("expected exact matches a and z, got %+v", got)
	}
	if got[0].Distance != 0 || got[1].Distance != 0 {
		t.Fatalf("expected best distances kept, got %+v", got)
	}
}

func TestQueryEmptyIndex(t *testing.T) {
	idx, _ := New(&letterEmbedder{}, &memChunks{})
	got, err := idx.Query(context.Background(), []string{"x"}, 30)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no matches")
	}
}

func TestDeleteRemovesDocumentChunks(t *testing.T) {
	mem := &memChunks{}
	idx, _ := New(&letterEmbedder{}, mem)
	_ = idx.Add(context.Background(), []domain.Chunk{chunk("1", "d1", "a"), chunk("2", "d2", "b")})
	if err := idx.Delete(context.Background(), "d1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(mem.chunks) != 1 || mem.chunks[0].DocumentID != "d2" {
		t.Fatalf("unexpected chunks after delete: %+v", mem.chunks)
	}
}
