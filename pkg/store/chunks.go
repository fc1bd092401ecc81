package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"

	"github.com/WillianCassan/chatbot-with-rag/pkg/domain"
)

// InsertChunks stores chunks with their embeddings in one transaction.
func (s *GormStore) InsertChunks(ctx context.Context, chunks []domain.Chunk, embeddings [][]float32) error {
	if len(chunks) != len(embeddings) {
		return fmt.Errorf("chunk/embedding count mismatch: %d chunks, %d embeddings", len(chunks), len(embeddings))
	}
	if len(chunks) == 0 {
		return nil
	}
	now := time.Now().UTC()
	models := make([]ChunkModel, 0, len(chunks))
	for i, chunk := range chunks {
		if err := s.validateEmbeddingDim(embeddings[i]); err != nil {
			return fmt.Errorf("chunk %s: %w", chunk.Key, err)
		}
		model := chunkToModel(chunk)
		if model.ID == "" {
			model.ID = uuid.NewString()
		}
		if model.CreatedAt.IsZero() {
			model.CreatedAt = now
		}
		vec := pgvector.NewVector(embeddings[i])
		model.Embedding = &vec
		models = append(models, model)
	}
	return translateWriteError(s.db.WithContext(ctx).CreateInBatches(&models, 200).Error)
}

type chunkHit struct {
	ID         string
	DocumentID string
	Key        string
	Content    string
	Metadata   datatypes.JSON
	CreatedAt  time.Time
	Distance   float64
}

// SearchChunks finds the closest chunks by cosine distance.
func (s *GormStore) SearchChunks(ctx context.Context, embedding []float32, limit int) ([]ScoredChunk, error) {
	if limit <= 0 {
		return []ScoredChunk{}, nil
	}
	if err := s.validateEmbeddingDim(embedding); err != nil {
		return nil, err
	}
	vec := pgvector.NewVector(embedding)
	var hits []chunkHit
	if err := s.db.WithContext(ctx).Model(&ChunkModel{}).
		Select("id, document_id, key, content, metadata, created_at, embedding <=> ? AS distance", vec).
		Where("embedding IS NOT NULL").
		Order("distance ASC").
		Limit(limit).
		Scan(&hits).Error; err != nil {
		return nil, err
	}
	out := make([]ScoredChunk, 0, len(hits))
	for _, h := range hits {
		out = append(out, ScoredChunk{
			Chunk: domain.Chunk{
				ID:         h.ID,
				DocumentID: h.DocumentID,
				Key:        h.Key,
				Content:    h.Content,
				Metadata:   unmarshalMetadata(h.Metadata),
				CreatedAt:  h.CreatedAt,
			},
			Distance: h.Distance,
		})
	}
	return out, nil
}

// DeleteChunksByDocument removes every chunk of a document.
func (s *GormStore) DeleteChunksByDocument(ctx context.Context, documentID string) (int64, error) {
	res := s.db.WithContext(ctx).Delete(&ChunkModel{}, "document_id = ?", documentID)
	return res.RowsAffected, res.Error
}

func (s *GormStore) validateEmbeddingDim(embedding []float32) error {
	if len(embedding) == 0 {
		return fmt.Errorf("embedding vector is empty")
	}
	if s.embeddingDim > 0 && len(embedding) != s.embeddingDim {
		return fmt.Errorf("embedding dimension mismatch: got %d, want %d", len(embedding), s.embeddingDim)
	}
	return nil
}

func chunkToModel(chunk domain.Chunk) ChunkModel {
	return ChunkModel{
		ID:         chunk.ID,
		DocumentID: chunk.DocumentID,
		Key:        chunk.Key,
		Content:    chunk.Content,
		Metadata:   marshalMetadata(chunk.Metadata),
		CreatedAt:  chunk.CreatedAt,
	}
}
