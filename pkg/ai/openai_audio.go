package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"path/filepath"
	"strings"
)

// Transcribe posts audio to /audio/transcriptions and returns the text.
func (c *OpenAIClient) Transcribe(ctx context.Context, model, language string, audio []byte, filename string) (string, error) {
	if len(audio) == 0 {
		return "", fmt.Errorf("audio payload required")
	}
	if strings.TrimSpace(filename) == "" {
		filename = "audio.ogg"
	}
	return guarded(ctx, c.guard, func() (string, error) {
		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)
		part, err := w.CreateFormFile("file", filepath.Base(filename))
		if err != nil {
			return "", err
		}
		if _, err := part.Write(audio); err != nil {
			return "", err
		}
		_ = w.WriteField("model", model)
		if language != "" {
			_ = w.WriteField("language", language)
		}
		if err := w.Close(); err != nil {
			return "", err
		}
		req, err := c.newRequest(ctx, "/audio/transcriptions", &buf, w.FormDataContentType())
		if err != nil {
			return "", err
		}
		resp, err := c.do(req)
		if err != nil {
			return "", err
		}
		defer resp.Body.Close()
		var out struct {
			Text string `json:"text"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return "", fmt.Errorf("openai decode: %w", err)
		}
		return strings.TrimSpace(out.Text), nil
	})
}

// Speech renders text with /audio/speech and returns the encoded audio.
func (c *OpenAIClient) Speech(ctx context.Context, model, voice, format, text string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("speech text required")
	}
	return guarded(ctx, c.guard, func() ([]byte, error) {
		body, err := json.Marshal(oaiSpeechRequest{Model: model, Voice: voice, Input: text, ResponseFormat: format})
		if err != nil {
			return nil, err
		}
		req, err := c.newRequest(ctx, "/audio/speech", bytes.NewReader(body), "application/json")
		if err != nil {
			return nil, err
		}
		resp, err := c.do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		audio, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read speech: %w", err)
		}
		if len(audio) == 0 {
			return nil, fmt.Errorf("empty speech response")
		}
		return audio, nil
	})
}

type oaiSpeechRequest struct {
	Model          string `json:"model"`
	Voice          string `json:"voice"`
	Input          string `json:"input"`
	ResponseFormat string `json:"response_format,omitempty"`
}

// OpenAITranscriber binds a client to a transcription model and language.
type OpenAITranscriber struct {
	client   *OpenAIClient
	model    string
	language string
}

func NewOpenAITranscriber(client *OpenAIClient, model, language string) *OpenAITranscriber {
	return &OpenAITranscriber{client: client, model: model, language: language}
}

// Transcribe implements Transcriber.
func (t *OpenAITranscriber) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	return t.client.Transcribe(ctx, t.model, t.language, audio, filename)
}

// OpenAISpeech binds a client to a speech model, voice and output format.
type OpenAISpeech struct {
	client *OpenAIClient
	model  string
	voice  string
	format string
}

func NewOpenAISpeech(client *OpenAIClient, model, voice, format string) *OpenAISpeech {
	return &OpenAISpeech{client: client, model: model, voice: voice, format: format}
}

// SynthesizeSpeech implements SpeechSynthesizer.
func (s *OpenAISpeech) SynthesizeSpeech(ctx context.Context, text string) ([]byte, error) {
	return s.client.Speech(ctx, s.model, s.voice, s.format, text)
}
