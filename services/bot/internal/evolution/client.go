// Package evolution is a small client for the Evolution API WhatsApp gateway.
package evolution

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Presence values understood by /chat/sendPresence.
const (
	PresenceAvailable = "available"
	PresenceComposing = "composing"
	PresenceRecording = "recording"
)

// APIError represents a non-2xx Evolution API response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("evolution api: status %d: %s", e.Status, e.Message)
}

// Config configures a Client.
type Config struct {
	BaseURL  string
	APIKey   string
	Instance string
	// RequestsPerSecond caps outbound calls; zero means 5.
	RequestsPerSecond float64
	Timeout           time.Duration
}

// Client calls one Evolution API instance over HTTP.
type Client struct {
	baseURL    string
	apiKey     string
	instance   string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient constructs an Evolution API client.
func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("evolution base url required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("evolution api key required")
	}
	if strings.TrimSpace(cfg.Instance) == "" {
		return nil, errors.New("evolution instance required")
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(cfg.APIKey),
		instance:   strings.TrimSpace(cfg.Instance),
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
	}, nil
}

// Instance returns the configured instance name.
func (c *Client) Instance() string {
	return c.instance
}

// SendText sends a plain text message.
func (c *Client) SendText(ctx context.Context, number, text string) error {
	payload := map[string]string{"number": number, "text": text}
	return c.doJSON(ctx, http.MethodPost, "/message/sendText/"+c.instance, payload, nil)
}

// SendWhatsAppAudio sends a voice note given as base64.
func (c *Client) SendWhatsAppAudio(ctx context.Context, number, audioBase64 string) error {
	payload := map[string]any{"number": number, "audio": audioBase64, "encoding": false}
	return c.doJSON(ctx, http.MethodPost, "/message/sendWhatsAppAudio/"+c.instance, payload, nil)
}

// SendPresence shows a presence state such as composing for delay.
func (c *Client) SendPresence(ctx context.Context, number, presence string, delay time.Duration) error {
	payload := map[string]any{
		"number":   number,
		"presence": presence,
		"delay":    delay.Milliseconds(),
	}
	return c.doJSON(ctx, http.MethodPost, "/chat/sendPresence/"+c.instance, payload, nil)
}

// ConnectionState returns the raw connection state document of the instance.
func (c *Client) ConnectionState(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.doJSON(ctx, http.MethodGet, "/instance/connectionState/"+c.instance, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("apikey", c.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		msg := strings.TrimSpace(string(data))
		if msg == "" {
			msg = resp.Status
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
