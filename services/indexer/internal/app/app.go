package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/WillianCassan/chatbot-with-rag/internal/util"
	"github.com/WillianCassan/chatbot-with-rag/pkg/domain"
	"github.com/WillianCassan/chatbot-with-rag/pkg/queue"
	"github.com/WillianCassan/chatbot-with-rag/pkg/storage"
	"github.com/WillianCassan/chatbot-with-rag/pkg/store"
	"github.com/WillianCassan/chatbot-with-rag/pkg/textsplit"
)

// ErrNoText is returned when a document yields no indexable text.
var ErrNoText = errors.New("no text extracted from document")

// JobQueue exposes the job bookkeeping the worker needs.
type JobQueue interface {
	MaxRetries() int
	GetJob(ctx context.Context, jobID string) (queue.JobStatus, bool, error)
}

// Indexer stores embedded chunks.
type Indexer interface {
	Add(ctx context.Context, chunks []domain.Chunk) error
	Delete(ctx context.Context, documentID string) error
}

// Config holds runtime dependencies.
type Config struct {
	Documents     store.DocumentStore
	Objects       storage.ObjectStore
	Index         Indexer
	Queue         JobQueue
	ChunkSize     int
	ChunkOverlap  int
	PDFToTextPath string
}

// App turns stored documents into vector chunks.
type App struct {
	documents store.DocumentStore
	objects   storage.ObjectStore
	index     Indexer
	queue     JobQueue
	splitter  *textsplit.RecursiveSplitter
	extractor *extractor
}

// New constructs the indexer from already opened clients.
func New(cfg Config) (*App, error) {
	if cfg.Documents == nil {
		return nil, errors.New("document store required")
	}
	if cfg.Objects == nil {
		return nil, errors.New("object store required")
	}
	if cfg.Index == nil {
		return nil, errors.New("vector index required")
	}
	if cfg.Queue == nil {
		return nil, errors.New("job queue required")
	}
	size := cfg.ChunkSize
	if size <= 0 {
		size = textsplit.DefaultChunkSize
	}
	overlap := cfg.ChunkOverlap
	if overlap <= 0 {
		overlap = textsplit.DefaultOverlap
	}
	return &App{
		documents: cfg.Documents,
		objects:   cfg.Objects,
		index:     cfg.Index,
		queue:     cfg.Queue,
		splitter:  textsplit.NewRecursiveSplitter(size, overlap, textsplit.DefaultSeparators...),
		extractor: &extractor{pdftotext: cfg.PDFToTextPath},
	}, nil
}

// Handle indexes the document referenced by job. A returned error makes the
// queue retry; on the last attempt the document is marked as failed.
func (a *App) Handle(ctx context.Context, job queue.JobStatus) error {
	logger := util.LoggerFromContext(ctx).With("job_id", job.ID, "document_id", job.DocumentID, "attempt", job.Attempts)
	doc, ok, err := a.documents.GetDocument(ctx, job.DocumentID)
	if err != nil {
		logger.Error("load document failed", "err", err)
		return a.fail(ctx, job, fmt.Errorf("load document: %w", err))
	}
	if !ok {
		// deleted while queued
		logger.Info("document gone, skipping job")
		return nil
	}
	count, err := a.indexDocument(ctx, doc)
	if err != nil {
		logger.Error("index document failed", "err", err)
		return a.fail(ctx, job, err)
	}
	if err := a.documents.SetDocumentStatus(ctx, doc.ID, domain.StatusDone, ""); err != nil {
		logger.Error("mark document done failed", "err", err)
		return fmt.Errorf("mark done: %w", err)
	}
	logger.Info("document indexed", "chunks", count)
	return nil
}

// GetJob returns the queue bookkeeping of one job.
func (a *App) GetJob(ctx context.Context, jobID string) (queue.JobStatus, bool, error) {
	return a.queue.GetJob(ctx, jobID)
}

func (a *App) indexDocument(ctx context.Context, doc domain.Document) (int, error) {
	obj, err := a.objects.Get(ctx, doc.ObjectName)
	if err != nil {
		return 0, fmt.Errorf("get object: %w", err)
	}
	data, err := io.ReadAll(obj.Body)
	obj.Body.Close()
	if err != nil {
		return 0, fmt.Errorf("read object: %w", err)
	}
	text, err := a.extractor.Extract(ctx, doc.Filename, data)
	if err != nil {
		return 0, fmt.Errorf("extract text: %w", err)
	}
	chunks := a.buildChunks(doc, text)
	if len(chunks) == 0 {
		return 0, ErrNoText
	}
	// jobs are delivered at least once; drop what a previous attempt stored
	if err := a.index.Delete(ctx, doc.ID); err != nil {
		return 0, fmt.Errorf("clear chunks: %w", err)
	}
	if err := a.index.Add(ctx, chunks); err != nil {
		return 0, fmt.Errorf("embed chunks: %w", err)
	}
	return len(chunks), nil
}

func (a *App) buildChunks(doc domain.Document, text string) []domain.Chunk {
	parts := a.splitter.Split(text)
	chunks := make([]domain.Chunk, 0, len(parts))
	for i, part := range parts {
		chunks = append(chunks, domain.Chunk{
			DocumentID: doc.ID,
			Key:        textsplit.ChunkKey(doc.Filename, i),
			Content:    part,
			Metadata: map[string]string{
				"document_id": doc.ID,
				"filename":    doc.Filename,
				"chunk":       strconv.Itoa(i),
			},
		})
	}
	return chunks
}

func (a *App) fail(ctx context.Context, job queue.JobStatus, cause error) error {
	if job.Attempts < a.queue.MaxRetries() {
		return cause
	}
	if err := a.documents.SetDocumentStatus(ctx, job.DocumentID, domain.StatusError, cause.Error()); err != nil {
		util.LoggerFromContext(ctx).Error("mark document error failed", "document_id", job.DocumentID, "err", err)
	}
	return cause
}
