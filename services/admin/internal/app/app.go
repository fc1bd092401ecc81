package app

import (
	"context"
	"errors"
	"strings"

	"github.com/WillianCassan/chatbot-with-rag/pkg/auth"
	"github.com/WillianCassan/chatbot-with-rag/pkg/queue"
	"github.com/WillianCassan/chatbot-with-rag/pkg/storage"
	"github.com/WillianCassan/chatbot-with-rag/pkg/store"
)

const (
	defaultMaxUploadBytes = 10 << 20
	defaultPageSize       = 10
	maxPageSize           = 100
)

var defaultAllowedExtensions = []string{".pdf", ".txt"}

// JobQueue schedules background indexing of a stored document.
type JobQueue interface {
	Enqueue(ctx context.Context, documentID string) (queue.JobStatus, error)
}

// ChunkRemover drops the vector chunks of a document.
type ChunkRemover interface {
	Delete(ctx context.Context, documentID string) error
}

// StoreChunks adapts a ChunkStore so it can serve as the ChunkRemover.
func StoreChunks(chunks store.ChunkStore) ChunkRemover {
	return storeChunkRemover{chunks: chunks}
}

type storeChunkRemover struct {
	chunks store.ChunkStore
}

func (r storeChunkRemover) Delete(ctx context.Context, documentID string) error {
	_, err := r.chunks.DeleteChunksByDocument(ctx, documentID)
	return err
}

// Config holds runtime dependencies for the admin application.
type Config struct {
	Documents         store.DocumentStore
	Users             store.UserStore
	Chunks            ChunkRemover
	Objects           storage.ObjectStore
	Queue             JobQueue
	Tokens            *auth.TokenIssuer
	MaxUploadBytes    int64
	AllowedExtensions []string
}

// App is the admin application service: document library and admin accounts.
type App struct {
	documents      store.DocumentStore
	users          store.UserStore
	chunks         ChunkRemover
	objects        storage.ObjectStore
	queue          JobQueue
	tokens         *auth.TokenIssuer
	maxUploadBytes int64
	allowedExts    map[string]struct{}
}

// New constructs the application from already opened clients.
func New(cfg Config) (*App, error) {
	if cfg.Documents == nil {
		return nil, errors.New("document store required")
	}
	if cfg.Users == nil {
		return nil, errors.New("user store required")
	}
	if cfg.Chunks == nil {
		return nil, errors.New("chunk remover required")
	}
	if cfg.Objects == nil {
		return nil, errors.New("object store required")
	}
	if cfg.Queue == nil {
		return nil, errors.New("job queue required")
	}
	if cfg.Tokens == nil {
		return nil, errors.New("token issuer required")
	}
	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = defaultMaxUploadBytes
	}
	exts := cfg.AllowedExtensions
	if len(exts) == 0 {
		exts = defaultAllowedExtensions
	}
	allowed := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext != "" {
			allowed[ext] = struct{}{}
		}
	}
	return &App{
		documents:      cfg.Documents,
		users:          cfg.Users,
		chunks:         cfg.Chunks,
		objects:        cfg.Objects,
		queue:          cfg.Queue,
		tokens:         cfg.Tokens,
		maxUploadBytes: maxUpload,
		allowedExts:    allowed,
	}, nil
}
