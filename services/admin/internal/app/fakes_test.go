package app

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/WillianCassan/chatbot-with-rag/pkg/auth"
	"github.com/WillianCassan/chatbot-with-rag/pkg/domain"
	"github.com/WillianCassan/chatbot-with-rag/pkg/queue"
	"github.com/WillianCassan/chatbot-with-rag/pkg/storage"
	"github.com/WillianCassan/chatbot-with-rag/pkg/store"
)

type memDocuments struct {
	mu        sync.Mutex
	docs      map[string]domain.Document
	insertErr error
	deleteErr error
	calls     []string
}

func newMemDocuments() *memDocuments {
	return &memDocuments{docs: map[string]domain.Document{}}
}

func (m *memDocuments) InsertDocument(_ context.Context, doc domain.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "insert")
	if m.insertErr != nil {
		return m.insertErr
	}
	for _, d := range m.docs {
		if d.FileHash == doc.FileHash {
			return store.ErrDuplicate
		}
	}
	m.docs[doc.ID] = doc
	return nil
}

func (m *memDocuments) HasHash(_ context.Context, hash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.docs {
		if d.FileHash == hash {
			return true, nil
		}
	}
	return false, nil
}

func (m *memDocuments) GetDocument(_ context.Context, id string) (domain.Document, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	return d, ok, nil
}

func (m *memDocuments) UpdateDocumentMetadata(_ context.Context, id string, meta domain.DocumentMetadata) (domain.Document, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return domain.Document{}, false, nil
	}
	d.Title, d.Group, d.Subgroup = meta.Title, meta.Group, meta.Subgroup
	d.Responsible, d.Description = meta.Responsible, meta.Description
	m.docs[id] = d
	return d, true, nil
}

func (m *memDocuments) SetDocumentStatus(_ context.Context, id string, status domain.DocumentStatus, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return nil
	}
	d.Status = status
	d.ErrorMessage = errMsg
	m.docs[id] = d
	return nil
}

func (m *memDocuments) DeleteDocument(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "delete record")
	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.docs, id)
	return nil
}

func (m *memDocuments) ListDocuments(_ context.Context) ([]domain.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Document, 0, len(m.docs))
	for _, d := range m.docs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out, nil
}

func (m *memDocuments) ListDocumentsPage(ctx context.Context, offset, limit int) (domain.DocumentPage, error) {
	all, _ := m.ListDocuments(ctx)
	total := int64(len(all))
	if offset > len(all) {
		offset = len(all)
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return domain.DocumentPage{Items: all[offset:end], Total: total}, nil
}

func (m *memDocuments) CountPanel(_ context.Context) (domain.PanelCounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	groups := map[string]bool{}
	subgroups := map[string]bool{}
	for _, d := range m.docs {
		groups[d.Group] = true
		subgroups[d.Subgroup] = true
	}
	return domain.PanelCounts{Documents: int64(len(m.docs)), Groups: int64(len(groups)), Subgroups: int64(len(subgroups))}, nil
}

func (m *memDocuments) GroupSummaries(_ context.Context) ([]domain.GroupSummary, error) {
	return nil, nil
}

func (m *memDocuments) LastSubmission(_ context.Context) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var last time.Time
	for _, d := range m.docs {
		if d.SubmittedAt.After(last) {
			last = d.SubmittedAt
		}
	}
	return last, !last.IsZero(), nil
}

type memUsers struct {
	mu    sync.Mutex
	users map[string]domain.User
	reads int
}

func newMemUsers() *memUsers {
	return &memUsers{users: map[string]domain.User{}}
}

func (m *memUsers) InsertUser(_ context.Context, u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.CPF]; ok {
		return store.ErrDuplicate
	}
	m.users[u.CPF] = u
	return nil
}

func (m *memUsers) GetUserByCPF(_ context.Context, cpf string) (domain.User, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	u, ok := m.users[cpf]
	return u, ok, nil
}

func (m *memUsers) UserCount(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.users)), nil
}

type memObjects struct {
	mu        sync.Mutex
	objects   map[string][]byte
	putErr    error
	deleteErr error
	deleted   []string
	log       *[]string
}

func newMemObjects() *memObjects {
	return &memObjects{objects: map[string][]byte{}}
}

func (m *memObjects) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	if m.putErr != nil {
		return m.putErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *memObjects) Get(_ context.Context, key string) (storage.Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return storage.Object{}, storage.ErrObjectNotFound
	}
	return storage.Object{Body: io.NopCloser(bytes.NewReader(data)), Size: int64(len(data)), ContentType: "application/pdf"}, nil
}

func (m *memObjects) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.log != nil {
		*m.log = append(*m.log, "delete object")
	}
	if m.deleteErr != nil {
		return m.deleteErr
	}
	m.deleted = append(m.deleted, key)
	delete(m.objects, key)
	return nil
}

type memQueue struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (q *memQueue) Enqueue(_ context.Context, documentID string) (queue.JobStatus, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return queue.JobStatus{}, q.err
	}
	q.ids = append(q.ids, documentID)
	return queue.JobStatus{ID: "job-" + documentID, DocumentID: documentID, Status: queue.StatusQueued}, nil
}

type memChunks struct {
	err     error
	deleted []string
	log     *[]string
}

func (c *memChunks) Delete(_ context.Context, documentID string) error {
	if c.log != nil {
		*c.log = append(*c.log, "delete chunks")
	}
	if c.err != nil {
		return c.err
	}
	c.deleted = append(c.deleted, documentID)
	return nil
}

type fixture struct {
	app     *App
	docs    *memDocuments
	users   *memUsers
	objects *memObjects
	queue   *memQueue
	chunks  *memChunks
	tokens  *auth.TokenIssuer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	tokens, err := auth.NewTokenIssuer("test-secret", 0, auth.JWTOptions{})
	if err != nil {
		t.Fatalf("token issuer: %v", err)
	}
	f := &fixture{
		docs:    newMemDocuments(),
		users:   newMemUsers(),
		objects: newMemObjects(),
		queue:   &memQueue{},
		chunks:  &memChunks{},
		tokens:  tokens,
	}
	f.app, err = New(Config{
		Documents:      f.docs,
		Users:          f.users,
		Chunks:         f.chunks,
		Objects:        f.objects,
		Queue:          f.queue,
		Tokens:         tokens,
		MaxUploadBytes: 64,
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return f
}

var errBoom = errors.New("boom")
