package ai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestOpenAIChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Fatalf("unexpected auth header: %q", got)
		}
		var req oaiChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "gpt-test" || len(req.Messages) != 2 || req.Messages[1].Content != "oi" {
			t.Fatalf("unexpected request: %+v", req)
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"  Olá!  "}}]}`))
	}))
	defer srv.Close()

	model := NewOpenAIChatModel(NewOpenAIClient(srv.URL+"/v1/", "sk-test", nil), "gpt-test")
	got, err := model.Chat(context.Background(), []Message{{Role: RoleSystem, Content: "s"}, {Role: RoleUser, Content: "oi"}})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if got != "Olá!" {
		t.Fatalf("unexpected reply: %q", got)
	}
}

func TestOpenAIChatEmptyChoiceIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"   "}}]}`))
	}))
	defer srv.Close()

	model := NewOpenAIChatModel(NewOpenAIClient(srv.URL, "", nil), "gpt-test")
	if _, err := model.Chat(context.Background(), []Message{{Role: RoleUser, Content: "oi"}}); err == nil {
		t.Fatalf("expected error for blank completion")
	}
}

func TestOpenAIErrorMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"quota exceeded","type":"rate_limit"}}`))
	}))
	defer srv.Close()

	client := NewOpenAIClient(srv.URL, "", nil)
	_, err := client.Chat(context.Background(), "gpt-test", []Message{{Role: RoleUser, Content: "oi"}})
	if err == nil || !strings.Contains(err.Error(), "quota exceeded") {
		t.Fatalf("expected api error message, got %v", err)
	}
}

func TestOpenAIEmbedOrdersByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req oaiEmbeddingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Dimensions != 3 || len(req.Input) != 2 {
			t.Fatalf("unexpected request: %+v", req)
		}
		_, _ = w.Write([]byte(`{"data":[{"index":1,"embedding":[0,1,0]},{"index":0,"embedding":[1,0,0]}]}`))
	}))
	defer srv.Close()

	embedder := NewOpenAIEmbedder(NewOpenAIClient(srv.URL, "", nil), "emb", 3)
	vecs, err := embedder.EmbedTexts(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if vecs[0][0] != 1 || vecs[1][1] != 1 {
		t.Fatalf("vectors out of order: %v", vecs)
	}
}

func TestOpenAIEmbedCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"index":0,"embedding":[1]}]}`))
	}))
	defer srv.Close()

	embedder := NewOpenAIEmbedder(NewOpenAIClient(srv.URL, "", nil), "emb", 0)
	if _, err := embedder.EmbedTexts(context.Background(), []string{"a", "b"}); err == nil {
		t.Fatalf("expected count mismatch error")
	}
}

func TestOpenAITranscribeMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		if r.FormValue("model") != "whisper-1" || r.FormValue("language") != "pt" {
			t.Fatalf("unexpected fields: %v", r.MultipartForm.Value)
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		defer f.Close()
		body, _ := io.ReadAll(f)
		if hdr.Filename != "voice.ogg" || string(body) != "OggS" {
			t.Fatalf("unexpected file %q %q", hdr.Filename, body)
		}
		_, _ = w.Write([]byte(`{"text":" bom dia "}`))
	}))
	defer srv.Close()

	tr := NewOpenAITranscriber(NewOpenAIClient(srv.URL, "", nil), "whisper-1", "pt")
	got, err := tr.Transcribe(context.Background(), []byte("OggS"), "voice.ogg")
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if got != "bom dia" {
		t.Fatalf("unexpected text: %q", got)
	}
}

func TestOpenAISpeech(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req oaiSpeechRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Voice != "nova" || req.ResponseFormat != "opus" || req.Input != "olá" {
			t.Fatalf("unexpected request: %+v", req)
		}
		_, _ = w.Write([]byte("audio-bytes"))
	}))
	defer srv.Close()

	sp := NewOpenAISpeech(NewOpenAIClient(srv.URL, "", nil), "tts-1", "nova", "opus")
	audio, err := sp.SynthesizeSpeech(context.Background(), "olá")
	if err != nil {
		t.Fatalf("speech: %v", err)
	}
	if string(audio) != "audio-bytes" {
		t.Fatalf("unexpected audio: %q", audio)
	}
}

func TestGuardOpensAfterFailures(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewOpenAIClient(srv.URL, "", NewGuard(GuardConfig{Name: "test", RequestsPerMinute: 6000}))
	for i := 0; i < 3; i++ {
		if _, err := client.Chat(context.Background(), "m", []Message{{Role: RoleUser, Content: "x"}}); err == nil {
			t.Fatalf("expected failure %d", i)
		}
	}
	_, err := client.Chat(context.Background(), "m", []Message{{Role: RoleUser, Content: "x"}})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected open breaker, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 upstream calls, got %d", calls)
	}
}
