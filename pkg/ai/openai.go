package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIClient calls an OpenAI-compatible HTTP API (chat, embeddings, audio).
// baseURL should include the /v1 prefix. apiKey can be empty for local
// models that do not require authentication.
type OpenAIClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	guard      *Guard
}

// NewOpenAIClient builds a client. guard may be nil.
func NewOpenAIClient(baseURL, apiKey string, guard *Guard) *OpenAIClient {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	return &OpenAIClient{
		baseURL: baseURL,
		apiKey:  strings.TrimSpace(apiKey),
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		guard: guard,
	}
}

// Chat runs a chat completion and returns the first choice.
func (c *OpenAIClient) Chat(ctx context.Context, model string, messages []Message) (string, error) {
	if strings.TrimSpace(model) == "" {
		return "", fmt.Errorf("openai chat model required")
	}
	return guarded(ctx, c.guard, func() (string, error) {
		var chatResp oaiChatResponse
		if err := c.doJSON(ctx, "/chat/completions", oaiChatRequest{Model: model, Messages: messages}, &chatResp); err != nil {
			return "", err
		}
		if len(chatResp.Choices) == 0 {
			return "", fmt.Errorf("empty response from openai api")
		}
		text := strings.TrimSpace(chatResp.Choices[0].Message.Content)
		if text == "" {
			return "", fmt.Errorf("empty response from openai api")
		}
		return text, nil
	})
}

// Embed returns one embedding per input, in input order.
func (c *OpenAIClient) Embed(ctx context.Context, model string, texts []string, dimensions int) ([][]float32, error) {
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("openai embedding model required")
	}
	if len(texts) == 0 {
		return nil, nil
	}
	return guarded(ctx, c.guard, func() ([][]float32, error) {
		req := oaiEmbeddingRequest{Model: model, Input: texts}
		if dimensions > 0 {
			req.Dimensions = dimensions
		}
		var resp oaiEmbeddingResponse
		if err := c.doJSON(ctx, "/embeddings", req, &resp); err != nil {
			return nil, err
		}
		if len(resp.Data) != len(texts) {
			return nil, fmt.Errorf("openai embeddings: got %d vectors for %d inputs", len(resp.Data), len(texts))
		}
		out := make([][]float32, len(texts))
		for _, item := range resp.Data {
			if item.Index < 0 || item.Index >= len(out) {
				return nil, fmt.Errorf("openai embeddings: index %d out of range", item.Index)
			}
			out[item.Index] = item.Embedding
		}
		return out, nil
	})
}

func (c *OpenAIClient) newRequest(ctx context.Context, path string, body io.Reader, contentType string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}

func (c *OpenAIClient) doJSON(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := c.newRequest(ctx, path, bytes.NewReader(body), "application/json")
	if err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("openai decode: %w", err)
	}
	return nil
}

// do sends req and converts error statuses. The caller closes the body.
func (c *OpenAIClient) do(req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai request: %w", err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		var errResp oaiErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		if errResp.Error.Message != "" {
			return nil, fmt.Errorf("openai api error: %s", errResp.Error.Message)
		}
		return nil, fmt.Errorf("openai api error: %s", resp.Status)
	}
	return resp, nil
}

// OpenAIChatModel binds a client to a chat model.
type OpenAIChatModel struct {
	client *OpenAIClient
	model  string
}

func NewOpenAIChatModel(client *OpenAIClient, model string) *OpenAIChatModel {
	return &OpenAIChatModel{client: client, model: strings.TrimSpace(model)}
}

// Chat implements ChatModel.
func (m *OpenAIChatModel) Chat(ctx context.Context, messages []Message) (string, error) {
	return m.client.Chat(ctx, m.model, messages)
}

// OpenAIEmbedder binds a client to an embedding model and dimension.
type OpenAIEmbedder struct {
	client     *OpenAIClient
	model      string
	dimensions int
}

func NewOpenAIEmbedder(client *OpenAIClient, model string, dimensions int) *OpenAIEmbedder {
	return &OpenAIEmbedder{client: client, model: strings.TrimSpace(model), dimensions: dimensions}
}

// EmbedText implements Embedder.
func (e *OpenAIEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("embedding text required")
	}
	vecs, err := e.client.Embed(ctx, e.model, []string{text}, e.dimensions)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedTexts implements BatchEmbedder.
func (e *OpenAIEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	return e.client.Embed(ctx, e.model, texts, e.dimensions)
}

// OpenAI request/response types.

type oaiChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}

type oaiChatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

type oaiEmbeddingRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type oaiEmbeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

type oaiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}
