package ai

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type stubChat struct {
	reply string
	err   error
	got   []Message
}

func (s *stubChat) Chat(_ context.Context, messages []Message) (string, error) {
	s.got = messages
	return s.reply, s.err
}

func TestChatSummarizerStripsQuotes(t *testing.T) {
	chat := &stubChat{reply: `"Maria (aposentada) mora em Fortaleza"`}
	got, err := NewChatSummarizer(chat).Summarize(context.Background(), "Maria", "sou aposentada")
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if got != "Maria aposentada mora em Fortaleza" {
		t.Fatalf("unexpected summary: %q", got)
	}
	if len(chat.got) != 2 || !strings.Contains(chat.got[1].Content, "sou aposentada") || !strings.Contains(chat.got[1].Content, "Maria") {
		t.Fatalf("prompt missing inputs: %+v", chat.got)
	}
}

func TestChatSummarizerErrors(t *testing.T) {
	if _, err := NewChatSummarizer(&stubChat{err: errors.New("down")}).Summarize(context.Background(), "", "oi"); err == nil {
		t.Fatalf("expected model error")
	}
	if _, err := NewChatSummarizer(&stubChat{reply: `""`}).Summarize(context.Background(), "", "oi"); err == nil {
		t.Fatalf("expected empty summary error")
	}
}
