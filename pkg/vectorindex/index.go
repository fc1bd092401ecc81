// Package vectorindex embeds document chunks and answers similarity queries
// over them.
package vectorindex

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/WillianCassan/chatbot-with-rag/pkg/ai"
	"github.com/WillianCassan/chatbot-with-rag/pkg/domain"
	"github.com/WillianCassan/chatbot-with-rag/pkg/store"
)

const (
	defaultBatchSize   = 32
	defaultConcurrency = 4
)

// Match is one ranked query result.
type Match struct {
	Chunk    domain.Chunk
	Distance float64
}

// Index couples an embedder with chunk storage.
type Index struct {
	embedder    ai.Embedder
	chunks      store.ChunkStore
	batchSize   int
	concurrency int
}

// Option tunes an Index.
type Option func(*Index)

// WithBatchSize sets how many chunks are embedded per request.
func WithBatchSize(n int) Option {
	return func(i *Index) {
		if n > 0 {
			i.batchSize = n
		}
	}
}

// WithConcurrency bounds parallel embedding requests.
func WithConcurrency(n int) Option {
	return func(i *Index) {
		if n > 0 {
			i.concurrency = n
		}
	}
}

// New builds an Index.
func New(embedder ai.Embedder, chunks store.ChunkStore, opts ...Option) (*Index, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder required")
	}
	if chunks == nil {
		return nil, fmt.Errorf("chunk store required")
	}
	idx := &Index{embedder: embedder, chunks: chunks, batchSize: defaultBatchSize, concurrency: defaultConcurrency}
	for _, opt := range opts {
		opt(idx)
	}
	return idx, nil
}

// Add embeds and stores chunks. Nothing is stored unless every chunk
// embeds successfully.
func (i *Index) Add(ctx context.Context, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	embeddings := make([][]float32, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(i.concurrency)
	for start := 0; start < len(chunks); start += i.batchSize {
		end := start + i.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		start, end := start, end
		g.Go(func() error {
			vecs, err := i.embedBatch(gctx, chunks[start:end])
			if err != nil {
				return fmt.Errorf("embed chunks %d-%d: %w", start, end-1, err)
			}
			copy(embeddings[start:end], vecs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := i.chunks.InsertChunks(ctx, chunks, embeddings); err != nil {
		return fmt.Errorf("insert chunks: %w", err)
	}
	return nil
}

func (i *Index) embedBatch(ctx context.Context, batch []domain.Chunk) ([][]float32, error) {
	texts := make([]string, len(batch))
	for j, c := range batch {
		texts[j] = c.Content
	}
	if be, ok := i.embedder.(ai.BatchEmbedder); ok {
		vecs, err := be.EmbedTexts(ctx, texts)
		if err != nil {
			return nil, err
		}
		if len(vecs) != len(texts) {
			return nil, fmt.Errorf("embedding count mismatch: got %d want %d", len(vecs), len(texts))
		}
		return vecs, nil
	}
	vecs := make([][]float32, len(texts))
	for j, text := range texts {
		vec, err := i.embedder.EmbedText(ctx, text)
		if err != nil {
			return nil, err
		}
		vecs[j] = vec
	}
	return vecs, nil
}

// Query searches with every non-blank text, merges the hits keeping each
// chunk's best distance and returns at most topK matches, closest first.
func (i *Index) Query(ctx context.Context, texts []string, topK int) ([]Match, error) {
	if topK <= 0 {
		return nil, nil
	}
	best := make(map[string]Match)
	for _, text := range texts {
		if strings.TrimSpace(text) == "" {
			continue
		}
		vec, err := i.embedder.EmbedText(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embed query: %w", err)
		}
		hits, err := i.chunks.SearchChunks(ctx, vec, topK)
		if err != nil {
			return nil, fmt.Errorf("search chunks: %w", err)
		}
		for _, h := range hits {
			if prev, ok := best[h.Chunk.ID]; ok && prev.Distance <= h.Distance {
				continue
			}
			best[h.Chunk.ID] = Match{Chunk: h.Chunk, Distance: h.Distance}
		}
	}
	out := make([]Match, 0, len(best))
	for _, m := range best {
		out = append(out, m)
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].Distance != out[b].Distance {
			return out[a].Distance < out[b].Distance
		}
		return out[a].Chunk.ID < out[b].Chunk.ID
	})
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

// Delete removes every chunk that belongs to documentID.
func (i *Index) Delete(ctx context.Context, documentID string) error {
	if _, err := i.chunks.DeleteChunksByDocument(ctx, documentID); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	return nil
}
