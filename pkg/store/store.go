package store

import (
	"context"
	"errors"
	"time"

	"github.com/WillianCassan/chatbot-with-rag/pkg/domain"
)

// ErrDuplicate is returned when a unique constraint rejects a write.
var ErrDuplicate = errors.New("store: duplicate key")

// DocumentStore persists document metadata. It is the source of truth for
// whether a document exists.
type DocumentStore interface {
	InsertDocument(ctx context.Context, doc domain.Document) error
	HasHash(ctx context.Context, hash string) (bool, error)
	GetDocument(ctx context.Context, id string) (domain.Document, bool, error)
	UpdateDocumentMetadata(ctx context.Context, id string, meta domain.DocumentMetadata) (domain.Document, bool, error)
	SetDocumentStatus(ctx context.Context, id string, status domain.DocumentStatus, errMsg string) error
	DeleteDocument(ctx context.Context, id string) error
	ListDocuments(ctx context.Context) ([]domain.Document, error)
	ListDocumentsPage(ctx context.Context, offset, limit int) (domain.DocumentPage, error)
	CountPanel(ctx context.Context) (domain.PanelCounts, error)
	GroupSummaries(ctx context.Context) ([]domain.GroupSummary, error)
	LastSubmission(ctx context.Context) (time.Time, bool, error)
}

// UserStore persists admin accounts.
type UserStore interface {
	InsertUser(ctx context.Context, user domain.User) error
	GetUserByCPF(ctx context.Context, cpf string) (domain.User, bool, error)
	UserCount(ctx context.Context) (int64, error)
}

// ConversationStore persists WhatsApp turns and per-phone profiles.
type ConversationStore interface {
	// AppendTurns stores turns atomically, in order.
	AppendTurns(ctx context.Context, turns ...domain.Turn) error
	// RecentTurns returns at most limit turns for phone, newest first.
	RecentTurns(ctx context.Context, phone string, limit int) ([]domain.Turn, error)
	GetProfile(ctx context.Context, phone string) (domain.Profile, bool, error)
	UpsertProfile(ctx context.Context, profile domain.Profile) error
}

// ScoredChunk is a search hit; lower Distance is closer.
type ScoredChunk struct {
	Chunk    domain.Chunk
	Distance float64
}

// ChunkStore persists embedded chunks.
type ChunkStore interface {
	InsertChunks(ctx context.Context, chunks []domain.Chunk, embeddings [][]float32) error
	SearchChunks(ctx context.Context, embedding []float32, limit int) ([]ScoredChunk, error)
	DeleteChunksByDocument(ctx context.Context, documentID string) (int64, error)
}
