package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/WillianCassan/chatbot-with-rag/internal/ratelimit"
	"github.com/WillianCassan/chatbot-with-rag/pkg/ai"
	"github.com/WillianCassan/chatbot-with-rag/pkg/domain"
	"github.com/WillianCassan/chatbot-with-rag/pkg/vectorindex"
	"github.com/WillianCassan/chatbot-with-rag/services/bot/internal/app"
)

type memConversations struct {
	mu       sync.Mutex
	turns    []domain.Turn
	profiles map[string]domain.Profile
}

func (m *memConversations) AppendTurns(_ context.Context, turns ...domain.Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = append(m.turns, turns...)
	return nil
}

func (m *memConversations) RecentTurns(context.Context, string, int) ([]domain.Turn, error) {
	return nil, nil
}

func (m *memConversations) GetProfile(_ context.Context, phone string) (domain.Profile, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[phone]
	return p, ok, nil
}

func (m *memConversations) UpsertProfile(_ context.Context, p domain.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.Phone] = p
	return nil
}

type staticRetriever struct{}

func (staticRetriever) Query(context.Context, []string, int) ([]vectorindex.Match, error) {
	return []vectorindex.Match{{Chunk: domain.Chunk{Content: "Atendimento das 8h às 14h."}}}, nil
}

type echoChat struct{}

func (echoChat) Chat(_ context.Context, messages []ai.Message) (string, error) {
	return "resposta: " + messages[len(messages)-1].Content, nil
}

type staticSummarizer struct{}

func (staticSummarizer) Summarize(_ context.Context, _, message string) (string, error) {
	return "perfil", nil
}

type staticTranscriber struct{}

func (staticTranscriber) Transcribe(context.Context, []byte, string) (string, error) {
	return "qual o horário", nil
}

type staticSpeech struct{}

func (staticSpeech) SynthesizeSpeech(context.Context, string) ([]byte, error) {
	return []byte("ogg"), nil
}

type outbound struct {
	kind  string
	phone string
	body  string
}

type recordingMessenger struct {
	mu   sync.Mutex
	sent []outbound
}

func (m *recordingMessenger) add(o outbound) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, o)
}

func (m *recordingMessenger) SendText(_ context.Context, number, text string) error {
	m.add(outbound{kind: "text", phone: number, body: text})
	return nil
}

func (m *recordingMessenger) SendWhatsAppAudio(_ context.Context, number, audio string) error {
	m.add(outbound{kind: "audio", phone: number, body: audio})
	return nil
}

func (m *recordingMessenger) SendPresence(context.Context, string, string, time.Duration) error {
	return nil
}

// replies returns the messages users received; presence updates are not recorded.
func (m *recordingMessenger) replies() []outbound {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]outbound(nil), m.sent...)
}

type fakeStatus struct {
	err error
}

func (f fakeStatus) ConnectionState(context.Context) (json.RawMessage, error) {
	if f.err != nil {
		return nil, f.err
	}
	return json.RawMessage(`{"instance":{"state":"open"}}`), nil
}

type fixture struct {
	srv       *Server
	handler   http.Handler
	messenger *recordingMessenger
}

func newFixture(t *testing.T, mutate func(*Config)) fixture {
	t.Helper()
	messenger := &recordingMessenger{}
	core, err := app.New(app.Config{
		Conversations: &memConversations{profiles: map[string]domain.Profile{}},
		Retriever:     staticRetriever{},
		Chat:          echoChat{},
		Summarizer:    staticSummarizer{},
		Transcriber:   staticTranscriber{},
		Speech:        staticSpeech{},
		Messenger:     messenger,
		OrgName:       "PROCON",
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	cfg := Config{
		App:         core,
		Status:      fakeStatus{},
		Instance:    "procon",
		VerifyToken: "secret",
		Concurrency: 4,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	srv, err := New(cfg)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return fixture{srv: srv, handler: srv.Router(), messenger: messenger}
}

func (f fixture) post(t *testing.T, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	f.srv.Wait()
	return rec
}

func TestNewRequiresVerifyToken(t *testing.T) {
	_, err := New(Config{App: &app.App{}, Status: fakeStatus{}})
	if err == nil {
		t.Fatalf("expected error without verify token")
	}
}

func TestRootReportsRunning(t *testing.T) {
	f := newFixture(t, nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["message"] != "Chatbot PROCON - Evolution API" || body["status"] != "running" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestUnknownPathNotFound(t *testing.T) {
	f := newFixture(t, nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestStatus(t *testing.T) {
	f := newFixture(t, nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Status       string          `json:"status"`
		EvolutionAPI string          `json:"evolution_api"`
		Instance     string          `json:"instance"`
		Details      json.RawMessage `json:"details"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "success" || body.EvolutionAPI != "connected" || body.Instance != "procon" {
		t.Fatalf("unexpected body: %+v", body)
	}
	if !strings.Contains(string(body.Details), `"open"`) {
		t.Fatalf("expected connection details, got %s", body.Details)
	}

	down := newFixture(t, func(c *Config) { c.Status = fakeStatus{err: errors.New("dial tcp: refused")} })
	rec = httptest.NewRecorder()
	down.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "refused") {
		t.Fatalf("expected error detail, got %s", rec.Body.String())
	}
}

func TestVerifyWebhook(t *testing.T) {
	f := newFixture(t, nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=secret&hub.challenge=12345", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "12345" {
		t.Fatalf("expected challenge echo, got %q", rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("expected text/plain, got %q", ct)
	}

	for _, target := range []string{
		"/webhook?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=1",
		"/webhook?hub.mode=unsubscribe&hub.verify_token=secret&hub.challenge=1",
		"/webhook",
	} {
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", target, rec.Code)
		}
	}
}

func TestWebhookMalformedJSON(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.post(t, `{"event":`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var body errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Code != "WEBHOOK_INVALID_BODY" {
		t.Fatalf("unexpected code %q", body.Code)
	}
}

func TestWebhookTextObject(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.post(t, `{"instance":"procon","event":"messages.upsert","data":{
		"key":{"remoteJid":"5585999990000@s.whatsapp.net","fromMe":false,"id":"A1"},
		"message":{"conversation":"Qual o horário?"}}}`)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Fatalf("expected 200 ok, got %d %s", rec.Code, rec.Body.String())
	}
	got := f.messenger.replies()
	if len(got) != 1 {
		t.Fatalf("expected one reply, got %+v", got)
	}
	if got[0].kind != "text" || got[0].phone != "5585999990000" {
		t.Fatalf("unexpected reply %+v", got[0])
	}
	if got[0].body != "resposta: Qual o horário?" {
		t.Fatalf("unexpected reply body %q", got[0].body)
	}
}

func TestWebhookListSkipsOwnMessages(t *testing.T) {
	f := newFixture(t, nil)
	f.post(t, `{"instance":"procon","event":"messages.upsert","data":[
		{"key":{"remoteJid":"111@s.whatsapp.net","fromMe":true},"message":{"conversation":"eco"}},
		{"key":{"remoteJid":"222@s.whatsapp.net"},"message":{"extendedTextMessage":{"text":"oi"}}},
		{"key":{"remoteJid":"333@s.whatsapp.net"},"message":{"textMessage":{"text":"olá"}}},
		{"key":{"remoteJid":"444@s.whatsapp.net"}}
	]}`)
	phones := map[string]bool{}
	for _, o := range f.messenger.replies() {
		phones[o.phone] = true
	}
	if len(phones) != 2 || !phones["222"] || !phones["333"] {
		t.Fatalf("unexpected recipients %v", phones)
	}
}

func TestWebhookIgnoresOtherEvents(t *testing.T) {
	f := newFixture(t, nil)
	for _, body := range []string{
		`{"instance":"procon","event":"connection.update","data":{"state":"open"}}`,
		`{"event":"messages.upsert","data":{"key":{"remoteJid":"1@s.whatsapp.net"},"message":{"conversation":"x"}}}`,
		`{"instance":"procon","event":"messages.upsert","data":"nope"}`,
	} {
		rec := f.post(t, body)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
	}
	if got := f.messenger.replies(); len(got) != 0 {
		t.Fatalf("expected no replies, got %+v", got)
	}
}

func TestWebhookDeclinesMedia(t *testing.T) {
	f := newFixture(t, nil)
	f.post(t, `{"instance":"procon","event":"messages.upsert","data":[
		{"key":{"remoteJid":"1@s.whatsapp.net"},"message":{"imageMessage":{"url":"x"}}},
		{"key":{"remoteJid":"2@s.whatsapp.net"},"message":{"stickerMessage":{}}},
		{"key":{"remoteJid":"3@s.whatsapp.net"},"message":{"audioMessage":{"seconds":3}}}
	]}`)
	got := f.messenger.replies()
	if len(got) != 3 {
		t.Fatalf("expected three declines, got %+v", got)
	}
	for _, o := range got {
		if o.kind != "text" || o.body != app.DeclineReply {
			t.Fatalf("unexpected reply %+v", o)
		}
	}
}

func TestWebhookAudioReply(t *testing.T) {
	f := newFixture(t, nil)
	payload := base64.StdEncoding.EncodeToString([]byte("voice"))
	f.post(t, `{"instance":"procon","event":"messages.upsert","data":{
		"key":{"remoteJid":"5585@s.whatsapp.net"},
		"message":{"audioMessage":{"seconds":2},"base64":"`+payload+`"}}}`)
	got := f.messenger.replies()
	if len(got) != 1 || got[0].kind != "audio" {
		t.Fatalf("expected one audio reply, got %+v", got)
	}
	if got[0].body != base64.StdEncoding.EncodeToString([]byte("ogg")) {
		t.Fatalf("unexpected audio body %q", got[0].body)
	}
}

func TestWebhookRateLimitsPhone(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	limiter, err := ratelimit.NewFixedWindowLimiter(client, "test:phone", 1, time.Minute)
	if err != nil {
		t.Fatalf("limiter: %v", err)
	}
	f := newFixture(t, func(c *Config) { c.PhoneLimiter = limiter })
	msg := `{"instance":"procon","event":"messages.upsert","data":{
		"key":{"remoteJid":"777@s.whatsapp.net"},"message":{"conversation":"oi"}}}`
	f.post(t, msg)
	f.post(t, msg)
	if got := f.messenger.replies(); len(got) != 1 {
		t.Fatalf("expected second message to be limited, got %+v", got)
	}
}

func TestWebhookMethodNotAllowed(t *testing.T) {
	f := newFixture(t, nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/webhook", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}
