package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/WillianCassan/chatbot-with-rag/pkg/ai"
	"github.com/WillianCassan/chatbot-with-rag/pkg/store"
	"github.com/WillianCassan/chatbot-with-rag/pkg/vectorindex"
)

const (
	defaultHistoryLimit  = 20
	defaultTopK          = 30
	defaultAttempts      = 4
	defaultBackoff       = 2 * time.Second
	defaultMaxReplyRunes = 300
)

// Retriever answers similarity queries over indexed document chunks.
type Retriever interface {
	Query(ctx context.Context, texts []string, topK int) ([]vectorindex.Match, error)
}

// Messenger delivers outbound WhatsApp messages.
type Messenger interface {
	SendText(ctx context.Context, number, text string) error
	SendWhatsAppAudio(ctx context.Context, number, audioBase64 string) error
	SendPresence(ctx context.Context, number, presence string, delay time.Duration) error
}

// Config holds runtime dependencies for the bot application.
type Config struct {
	Conversations store.ConversationStore
	Retriever     Retriever
	Chat          ai.ChatModel
	Summarizer    ai.Summarizer
	// Transcriber and Speech are optional; without them voice notes are declined.
	Transcriber ai.Transcriber
	Speech      ai.SpeechSynthesizer
	Messenger   Messenger

	OrgName         string
	ServicesContext string
	HistoryLimit    int
	TopK            int
	Attempts        int
	Backoff         time.Duration
	MaxReplyRunes   int
}

// App answers WhatsApp users with retrieval-augmented replies.
type App struct {
	conversations store.ConversationStore
	retriever     Retriever
	chat          ai.ChatModel
	summarizer    ai.Summarizer
	transcriber   ai.Transcriber
	speech        ai.SpeechSynthesizer
	messenger     Messenger

	orgName         string
	servicesContext string
	historyLimit    int
	topK            int
	attempts        int
	backoff         time.Duration
	maxReplyRunes   int

	locks *phoneLocks
	sleep func(context.Context, time.Duration) error
	now   func() time.Time
}

// New constructs the application from already opened clients.
func New(cfg Config) (*App, error) {
	if cfg.Conversations == nil {
		return nil, errors.New("conversation store required")
	}
	if cfg.Retriever == nil {
		return nil, errors.New("retriever required")
	}
	if cfg.Chat == nil {
		return nil, errors.New("chat model required")
	}
	if cfg.Summarizer == nil {
		return nil, errors.New("summarizer required")
	}
	if cfg.Messenger == nil {
		return nil, errors.New("messenger required")
	}
	orgName := strings.TrimSpace(cfg.OrgName)
	if orgName == "" {
		return nil, errors.New("organization name required")
	}
	a := &App{
		conversations:   cfg.Conversations,
		retriever:       cfg.Retriever,
		chat:            cfg.Chat,
		summarizer:      cfg.Summarizer,
		transcriber:     cfg.Transcriber,
		speech:          cfg.Speech,
		messenger:       cfg.Messenger,
		orgName:         orgName,
		servicesContext: strings.TrimSpace(cfg.ServicesContext),
		historyLimit:    positiveOr(cfg.HistoryLimit, defaultHistoryLimit),
		topK:            positiveOr(cfg.TopK, defaultTopK),
		attempts:        positiveOr(cfg.Attempts, defaultAttempts),
		backoff:         cfg.Backoff,
		maxReplyRunes:   positiveOr(cfg.MaxReplyRunes, defaultMaxReplyRunes),
		locks:           newPhoneLocks(),
		sleep:           sleepContext,
		now:             func() time.Time { return time.Now().UTC() },
	}
	if a.backoff < 0 {
		a.backoff = defaultBackoff
	}
	return a, nil
}

// OrgName is the organization the bot speaks for.
func (a *App) OrgName() string {
	return a.orgName
}

// AudioEnabled reports whether voice notes get spoken replies.
func (a *App) AudioEnabled() bool {
	return a.transcriber != nil && a.speech != nil
}

func positiveOr(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
