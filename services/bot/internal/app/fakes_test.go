package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/WillianCassan/chatbot-with-rag/pkg/ai"
	"github.com/WillianCassan/chatbot-with-rag/pkg/domain"
	"github.com/WillianCassan/chatbot-with-rag/pkg/vectorindex"
)

var errBoom = errors.New("boom")

type memConversations struct {
	mu        sync.Mutex
	turns     []domain.Turn
	profiles  map[string]domain.Profile
	appendErr error
	recentErr error
}

func newMemConversations() *memConversations {
	return &memConversations{profiles: map[string]domain.Profile{}}
}

func (m *memConversations) AppendTurns(_ context.Context, turns ...domain.Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return m.appendErr
	}
	m.turns = append(m.turns, turns...)
	return nil
}

func (m *memConversations) RecentTurns(_ context.Context, phone string, limit int) ([]domain.Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recentErr != nil {
		return nil, m.recentErr
	}
	var out []domain.Turn
	for i := len(m.turns) - 1; i >= 0 && len(out) < limit; i-- {
		if m.turns[i].Phone == phone {
			out = append(out, m.turns[i])
		}
	}
	return out, nil
}

func (m *memConversations) GetProfile(_ context.Context, phone string) (domain.Profile, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[phone]
	return p, ok, nil
}

func (m *memConversations) UpsertProfile(_ context.Context, profile domain.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[profile.Phone] = profile
	return nil
}

func (m *memConversations) turnsFor(phone string) []domain.Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Turn
	for _, t := range m.turns {
		if t.Phone == phone {
			out = append(out, t)
		}
	}
	return out
}

type fakeRetriever struct {
	mu      sync.Mutex
	chunks  []string
	queries [][]string
	err     error
}

func (f *fakeRetriever) Query(_ context.Context, texts []string, topK int) ([]vectorindex.Match, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, append([]string(nil), texts...))
	if f.err != nil {
		return nil, f.err
	}
	out := make([]vectorindex.Match, 0, len(f.chunks))
	for i, c := range f.chunks {
		if i >= topK {
			break
		}
		out = append(out, vectorindex.Match{Chunk: domain.Chunk{Content: c}, Distance: float64(i)})
	}
	return out, nil
}

// scriptedChat replays results in order; once exhausted it repeats the last.
type scriptedChat struct {
	mu       sync.Mutex
	results  []chatResult
	calls    int
	messages [][]ai.Message
}

type chatResult struct {
	out string
	err error
}

func (s *scriptedChat) Chat(_ context.Context, messages []ai.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, messages)
	r := s.results[len(s.results)-1]
	if s.calls < len(s.results) {
		r = s.results[s.calls]
	}
	s.calls++
	return r.out, r.err
}

type fakeSummarizer struct {
	mu    sync.Mutex
	fails int
	calls int
}

func (f *fakeSummarizer) Summarize(_ context.Context, prior, message string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.fails {
		return "", errBoom
	}
	return "perfil: " + message, nil
}

type fakeTranscriber struct {
	text string
	err  error
}

func (f fakeTranscriber) Transcribe(context.Context, []byte, string) (string, error) {
	return f.text, f.err
}

type fakeSpeech struct {
	err error
}

func (f fakeSpeech) SynthesizeSpeech(_ context.Context, text string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []byte("ogg:" + text), nil
}

type sent struct {
	kind  string
	phone string
	body  string
}

type fakeMessenger struct {
	mu   sync.Mutex
	sent []sent
	err  error
}

func (f *fakeMessenger) record(s sent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, s)
}

func (f *fakeMessenger) SendText(_ context.Context, number, text string) error {
	f.record(sent{kind: "text", phone: number, body: text})
	return f.err
}

func (f *fakeMessenger) SendWhatsAppAudio(_ context.Context, number, audio string) error {
	f.record(sent{kind: "audio", phone: number, body: audio})
	return f.err
}

func (f *fakeMessenger) SendPresence(_ context.Context, number, presence string, _ time.Duration) error {
	f.record(sent{kind: "presence", phone: number, body: presence})
	return nil
}

func (f *fakeMessenger) kinds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, s := range f.sent {
		if s.kind == "presence" {
			out = append(out, s.kind+":"+s.body)
			continue
		}
		out = append(out, s.kind)
	}
	return out
}

type fixture struct {
	app        *App
	convs      *memConversations
	retriever  *fakeRetriever
	chat       *scriptedChat
	summarizer *fakeSummarizer
	messenger  *fakeMessenger
	sleeps     []time.Duration
}

func newFixture(t *testing.T, results ...chatResult) *fixture {
	t.Helper()
	if len(results) == 0 {
		results = []chatResult{{out: "Olá! Como posso ajudar?"}}
	}
	f := &fixture{
		convs:      newMemConversations(),
		retriever:  &fakeRetriever{chunks: []string{"O PROCON atende de segunda a sexta.", "Leve um documento com foto."}},
		chat:       &scriptedChat{results: results},
		summarizer: &fakeSummarizer{},
		messenger:  &fakeMessenger{},
	}
	a, err := New(Config{
		Conversations:   f.convs,
		Retriever:       f.retriever,
		Chat:            f.chat,
		Summarizer:      f.summarizer,
		Transcriber:     fakeTranscriber{text: "qual o horário do poscon"},
		Speech:          fakeSpeech{},
		Messenger:       f.messenger,
		OrgName:         "PROCON",
		ServicesContext: "Atendimento ao consumidor.",
		Backoff:         time.Second,
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	var mu sync.Mutex
	a.sleep = func(_ context.Context, d time.Duration) error {
		mu.Lock()
		defer mu.Unlock()
		f.sleeps = append(f.sleeps, d)
		return nil
	}
	a.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	f.app = a
	return f
}
