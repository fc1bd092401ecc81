package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/WillianCassan/chatbot-with-rag/internal/util"
	"github.com/WillianCassan/chatbot-with-rag/pkg/contenthash"
	"github.com/WillianCassan/chatbot-with-rag/pkg/domain"
	"github.com/WillianCassan/chatbot-with-rag/pkg/storage"
	"github.com/WillianCassan/chatbot-with-rag/pkg/store"
)

// UploadFile is one file of an upload request.
type UploadFile struct {
	Filename string
	Content  io.Reader
}

// IngestRequest carries the files of one upload and the metadata shared by all of them.
type IngestRequest struct {
	Files       []UploadFile
	Title       string
	Subgroup    string
	Group       string
	Responsible string
	Description string
}

// DocumentUpdate holds the editable metadata of a document.
type DocumentUpdate struct {
	Title       string
	Group       string
	Subgroup    string
	Description string
	Responsible string
}

// Rejection explains why one file of an upload was not accepted.
type Rejection struct {
	Filename string
	Reason   string
}

// IngestResult partitions the files of an upload.
type IngestResult struct {
	Accepted []domain.Document
	Rejected []Rejection
}

// Page is one page of the document listing.
type Page struct {
	Page        int
	Size        int
	Total       int64
	TotalPages  int
	HasNext     bool
	HasPrevious bool
	Items       []domain.Document
}

// Ingest validates the shared metadata, then stores and enqueues each file
// independently. A file failing any check is rejected without affecting its
// siblings.
func (a *App) Ingest(ctx context.Context, req IngestRequest) (IngestResult, error) {
	if len(req.Files) == 0 {
		return IngestResult{}, ErrNoFiles
	}
	meta, err := normalizeMetadata(req.Title, req.Group, req.Subgroup, req.Responsible, req.Description)
	if err != nil {
		return IngestResult{}, err
	}
	result := IngestResult{Accepted: []domain.Document{}, Rejected: []Rejection{}}
	for _, f := range req.Files {
		doc, reason := a.ingestFile(ctx, meta, f)
		if reason != "" {
			result.Rejected = append(result.Rejected, Rejection{Filename: f.Filename, Reason: reason})
			continue
		}
		result.Accepted = append(result.Accepted, doc)
	}
	return result, nil
}

func (a *App) ingestFile(ctx context.Context, meta domain.DocumentMetadata, f UploadFile) (domain.Document, string) {
	logger := util.LoggerFromContext(ctx)
	filename := cleanFilename(f.Filename)
	if !a.allowedExtension(filename) {
		logger.Warn("upload rejected", "filename", f.Filename, "reason", ReasonUnsupportedType)
		return domain.Document{}, ReasonUnsupportedType
	}
	if f.Content == nil {
		return domain.Document{}, ReasonEmpty
	}
	data, err := io.ReadAll(io.LimitReader(f.Content, a.maxUploadBytes+1))
	if err != nil {
		logger.Error("read upload failed", "filename", filename, "err", err)
		return domain.Document{}, ReasonInternal
	}
	if int64(len(data)) > a.maxUploadBytes {
		logger.Warn("upload rejected", "filename", filename, "reason", ReasonTooLarge)
		return domain.Document{}, ReasonTooLarge
	}
	if len(data) == 0 {
		logger.Warn("upload rejected", "filename", filename, "reason", ReasonEmpty)
		return domain.Document{}, ReasonEmpty
	}
	hash := contenthash.Sum(data)
	exists, err := a.documents.HasHash(ctx, hash)
	if err != nil {
		logger.Error("hash lookup failed", "filename", filename, "err", err)
		return domain.Document{}, ReasonInternal
	}
	if exists {
		logger.Warn("upload rejected", "filename", filename, "hash", hash, "reason", ReasonDuplicate)
		return domain.Document{}, ReasonDuplicate
	}

	id := uuid.NewString()
	now := time.Now().UTC()
	doc := domain.Document{
		ID:          id,
		Filename:    filename,
		ObjectName:  id + "_" + filename,
		FileHash:    hash,
		Title:       meta.Title,
		Group:       meta.Group,
		Subgroup:    meta.Subgroup,
		Responsible: meta.Responsible,
		Description: meta.Description,
		Status:      domain.StatusProcessing,
		SizeBytes:   int64(len(data)),
		SubmittedAt: now,
		UpdatedAt:   now,
	}
	if err := a.objects.Put(ctx, doc.ObjectName, bytes.NewReader(data), doc.SizeBytes, contentTypeFor(filename)); err != nil {
		logger.Error("store object failed", "filename", filename, "object", doc.ObjectName, "err", err)
		return domain.Document{}, ReasonInternal
	}
	if err := a.documents.InsertDocument(ctx, doc); err != nil {
		a.discardObject(ctx, doc.ObjectName)
		if errors.Is(err, store.ErrDuplicate) {
			logger.Warn("upload rejected", "filename", filename, "hash", hash, "reason", ReasonDuplicate)
			return domain.Document{}, ReasonDuplicate
		}
		logger.Error("insert document failed", "filename", filename, "err", err)
		return domain.Document{}, ReasonInternal
	}
	if _, err := a.queue.Enqueue(ctx, doc.ID); err != nil {
		logger.Error("enqueue indexing failed", "document_id", doc.ID, "err", err)
		msg := fmt.Sprintf("enqueue indexing: %v", err)
		if serr := a.documents.SetDocumentStatus(ctx, doc.ID, domain.StatusError, msg); serr != nil {
			logger.Error("mark document error failed", "document_id", doc.ID, "err", serr)
		}
		doc.Status = domain.StatusError
		doc.ErrorMessage = msg
	}
	logger.Info("document accepted", "document_id", doc.ID, "filename", filename, "size", doc.SizeBytes)
	return doc, ""
}

func (a *App) discardObject(ctx context.Context, objectName string) {
	if err := a.objects.Delete(ctx, objectName); err != nil {
		util.LoggerFromContext(ctx).Error("orphaned object", "object", objectName, "err", err)
	}
}

// DeleteDocument removes the blob, the vector chunks and the record, in that
// order. A missing document mutates nothing.
func (a *App) DeleteDocument(ctx context.Context, id string) error {
	logger := util.LoggerFromContext(ctx)
	doc, ok, err := a.documents.GetDocument(ctx, id)
	if err != nil {
		return fmt.Errorf("get document: %w", err)
	}
	if !ok {
		return ErrDocumentNotFound
	}
	if err := a.objects.Delete(ctx, doc.ObjectName); err != nil {
		logger.Error("delete document failed", "document_id", id, "stage", "delete object", "err", err)
		return fmt.Errorf("delete object: %w", err)
	}
	if err := a.chunks.Delete(ctx, id); err != nil {
		logger.Error("delete document failed", "document_id", id, "stage", "delete chunks", "err", err)
		return fmt.Errorf("delete chunks: %w", err)
	}
	if err := a.documents.DeleteDocument(ctx, id); err != nil {
		logger.Error("delete document failed", "document_id", id, "stage", "delete record", "err", err)
		return fmt.Errorf("delete record: %w", err)
	}
	logger.Info("document deleted", "document_id", id, "filename", doc.Filename)
	return nil
}

// UpdateDocument replaces the editable metadata of a document.
func (a *App) UpdateDocument(ctx context.Context, id string, upd DocumentUpdate) (domain.Document, error) {
	meta, err := normalizeMetadata(upd.Title, upd.Group, upd.Subgroup, upd.Responsible, upd.Description)
	if err != nil {
		return domain.Document{}, err
	}
	doc, ok, err := a.documents.UpdateDocumentMetadata(ctx, id, meta)
	if err != nil {
		return domain.Document{}, fmt.Errorf("update document: %w", err)
	}
	if !ok {
		return domain.Document{}, ErrDocumentNotFound
	}
	return doc, nil
}

// OpenDocument opens the stored file of a document. The caller closes the body.
func (a *App) OpenDocument(ctx context.Context, id string) (domain.Document, storage.Object, error) {
	doc, ok, err := a.documents.GetDocument(ctx, id)
	if err != nil {
		return domain.Document{}, storage.Object{}, fmt.Errorf("get document: %w", err)
	}
	if !ok {
		return domain.Document{}, storage.Object{}, ErrDocumentNotFound
	}
	obj, err := a.objects.Get(ctx, doc.ObjectName)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return domain.Document{}, storage.Object{}, ErrDocumentNotFound
		}
		return domain.Document{}, storage.Object{}, err
	}
	return doc, obj, nil
}

// GetDocument retrieves a document by ID.
func (a *App) GetDocument(ctx context.Context, id string) (domain.Document, error) {
	doc, ok, err := a.documents.GetDocument(ctx, id)
	if err != nil {
		return domain.Document{}, err
	}
	if !ok {
		return domain.Document{}, ErrDocumentNotFound
	}
	return doc, nil
}

// ListDocuments returns every document ordered by title, group and subgroup.
func (a *App) ListDocuments(ctx context.Context) ([]domain.Document, error) {
	return a.documents.ListDocuments(ctx)
}

// ListDocumentsPage returns a 1-based page of documents, newest first.
// Size defaults to 10 and may not exceed 100.
func (a *App) ListDocumentsPage(ctx context.Context, page, size int) (Page, error) {
	if page == 0 {
		page = 1
	}
	if size == 0 {
		size = defaultPageSize
	}
	if page < 1 {
		return Page{}, &ValidationError{Field: "page"}
	}
	if size < 1 || size > maxPageSize {
		return Page{}, &ValidationError{Field: "size"}
	}
	res, err := a.documents.ListDocumentsPage(ctx, (page-1)*size, size)
	if err != nil {
		return Page{}, err
	}
	totalPages := int((res.Total + int64(size) - 1) / int64(size))
	return Page{
		Page:        page,
		Size:        size,
		Total:       res.Total,
		TotalPages:  totalPages,
		HasNext:     page < totalPages,
		HasPrevious: page > 1,
		Items:       res.Items,
	}, nil
}

// PanelCounts returns the dashboard totals.
func (a *App) PanelCounts(ctx context.Context) (domain.PanelCounts, error) {
	return a.documents.CountPanel(ctx)
}

// GroupSummaries returns document counts per group and subgroup.
func (a *App) GroupSummaries(ctx context.Context) ([]domain.GroupSummary, error) {
	return a.documents.GroupSummaries(ctx)
}

// LastUpdate returns the newest submission time; ok is false for an empty library.
func (a *App) LastUpdate(ctx context.Context) (time.Time, bool, error) {
	return a.documents.LastSubmission(ctx)
}

func (a *App) allowedExtension(filename string) bool {
	_, ok := a.allowedExts[strings.ToLower(path.Ext(filename))]
	return ok
}

func normalizeMetadata(title, group, subgroup, responsible, description string) (domain.DocumentMetadata, error) {
	meta := domain.DocumentMetadata{
		Title:       strings.TrimSpace(title),
		Group:       strings.TrimSpace(group),
		Subgroup:    strings.TrimSpace(subgroup),
		Responsible: strings.TrimSpace(responsible),
		Description: strings.TrimSpace(description),
	}
	switch {
	case meta.Title == "":
		return meta, &ValidationError{Field: "titulo_documento"}
	case meta.Subgroup == "":
		return meta, &ValidationError{Field: "subgrupo"}
	case meta.Group == "":
		return meta, &ValidationError{Field: "grupo"}
	case meta.Description == "":
		return meta, &ValidationError{Field: "descricao"}
	case meta.Responsible == "":
		return meta, &ValidationError{Field: "responsavel"}
	}
	return meta, nil
}

// cleanFilename keeps only the base name so object keys cannot carry paths.
func cleanFilename(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, "\\", "/"))
	if name == "" {
		return ""
	}
	base := path.Base(name)
	if base == "." || base == "/" {
		return ""
	}
	return base
}

func contentTypeFor(filename string) string {
	contentType := mime.TypeByExtension(strings.ToLower(path.Ext(filename)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return contentType
}
