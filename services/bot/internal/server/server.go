package server

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/WillianCassan/chatbot-with-rag/internal/util"
	"github.com/WillianCassan/chatbot-with-rag/services/bot/internal/app"
)

const (
	eventMessagesUpsert = "messages.upsert"
	jidSuffix           = "@s.whatsapp.net"
)

// Limiter decides whether a keyed caller is within quota.
type Limiter interface {
	Allow(ctx context.Context, key string) bool
}

// StatusProber reports the gateway connection state.
type StatusProber interface {
	ConnectionState(ctx context.Context) (json.RawMessage, error)
}

// Config wires required dependencies for the HTTP server.
type Config struct {
	App                *app.App
	Status             StatusProber
	Instance           string
	VerifyToken        string
	PhoneLimiter       Limiter
	Concurrency        int64
	FlowTimeout        time.Duration
	MaxRequestBytes    int64
	CORSAllowedOrigins []string
	// BaseContext parents every background flow; cancel it to stop them.
	BaseContext context.Context
}

// Server exposes the WhatsApp webhook.
type Server struct {
	app             *app.App
	status          StatusProber
	instance        string
	verifyToken     string
	phoneLimiter    Limiter
	sem             *semaphore.Weighted
	flowTimeout     time.Duration
	maxRequestBytes int64
	corsOrigins     []string
	baseCtx         context.Context
	wg              sync.WaitGroup
	mux             *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app required")
	}
	if cfg.Status == nil {
		return nil, errors.New("status prober required")
	}
	if strings.TrimSpace(cfg.VerifyToken) == "" {
		return nil, errors.New("webhook verify token required")
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 16
	}
	flowTimeout := cfg.FlowTimeout
	if flowTimeout <= 0 {
		flowTimeout = 3 * time.Minute
	}
	maxRequestBytes := cfg.MaxRequestBytes
	if maxRequestBytes <= 0 {
		maxRequestBytes = 32 << 20
	}
	baseCtx := cfg.BaseContext
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	s := &Server{
		app:             cfg.App,
		status:          cfg.Status,
		instance:        cfg.Instance,
		verifyToken:     cfg.VerifyToken,
		phoneLimiter:    cfg.PhoneLimiter,
		sem:             semaphore.NewWeighted(concurrency),
		flowTimeout:     flowTimeout,
		maxRequestBytes: maxRequestBytes,
		corsOrigins:     cfg.CORSAllowedOrigins,
		baseCtx:         baseCtx,
		mux:             http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("bot", util.WithSecurityHeaders(util.WithCORS(s.corsOrigins, s.mux))))
}

// Wait blocks until every dispatched flow has finished.
func (s *Server) Wait() {
	s.wg.Wait()
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/status", s.handleStatus)
	s.mux.HandleFunc("/webhook", s.handleWebhook)
	s.mux.HandleFunc("/", s.handleRoot)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Chatbot " + s.app.OrgName() + " - Evolution API",
		"status":  "running",
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	state, err := s.status.ConnectionState(r.Context())
	if err != nil {
		util.LoggerFromContext(r.Context()).Warn("evolution status failed", "err", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"status":        "error",
			"evolution_api": "connection_failed",
			"instance":      s.instance,
			"error":         err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "success",
		"evolution_api": "connected",
		"instance":      s.instance,
		"details":       state,
	})
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleVerify(w, r)
	case http.MethodPost:
		s.handleEvent(w, r)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	token := q.Get("hub.verify_token")
	if q.Get("hub.mode") != "subscribe" || subtle.ConstantTimeCompare([]byte(token), []byte(s.verifyToken)) != 1 {
		util.LoggerFromContext(r.Context()).Warn("webhook verification failed")
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, q.Get("hub.challenge"))
}

type envelope struct {
	Instance string          `json:"instance"`
	Event    string          `json:"event"`
	Data     json.RawMessage `json:"data"`
}

type webhookMessage struct {
	Key *struct {
		RemoteJID string `json:"remoteJid"`
		FromMe    bool   `json:"fromMe"`
		ID        string `json:"id"`
	} `json:"key"`
	Message *messageContent `json:"message"`
}

type textPayload struct {
	Text string `json:"text"`
}

type messageContent struct {
	Conversation        *string         `json:"conversation"`
	ExtendedTextMessage *textPayload    `json:"extendedTextMessage"`
	TextMessage         *textPayload    `json:"textMessage"`
	AudioMessage        json.RawMessage `json:"audioMessage"`
	ImageMessage        json.RawMessage `json:"imageMessage"`
	DocumentMessage     json.RawMessage `json:"documentMessage"`
	VideoMessage        json.RawMessage `json:"videoMessage"`
	StickerMessage      json.RawMessage `json:"stickerMessage"`
	Base64              string          `json:"base64"`
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	logger := util.LoggerFromContext(r.Context())
	var env envelope
	if err := json.NewDecoder(io.LimitReader(r.Body, s.maxRequestBytes)).Decode(&env); err != nil {
		logger.Warn("malformed webhook body", "err", err)
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if env.Instance == "" {
		logger.Info("webhook without instance ignored")
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	if env.Event != eventMessagesUpsert {
		logger.Debug("webhook event ignored", "event", env.Event)
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	messages, err := decodeMessages(env.Data)
	if err != nil {
		logger.Warn("webhook data ignored", "err", err)
	}
	for _, msg := range messages {
		s.dispatch(logger, msg)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decodeMessages accepts data as one message object or a list of them.
func decodeMessages(data json.RawMessage) ([]webhookMessage, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}
	switch trimmed[0] {
	case '[':
		var list []webhookMessage
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, err
		}
		return list, nil
	case '{':
		var one webhookMessage
		if err := json.Unmarshal(trimmed, &one); err != nil {
			return nil, err
		}
		return []webhookMessage{one}, nil
	default:
		return nil, errors.New("data is neither an object nor a list")
	}
}

// dispatch classifies msg and starts its flow in the background.
func (s *Server) dispatch(logger *slog.Logger, msg webhookMessage) {
	if msg.Key == nil || msg.Message == nil {
		return
	}
	if msg.Key.FromMe {
		return
	}
	phone := strings.TrimSuffix(msg.Key.RemoteJID, jidSuffix)
	if phone == "" {
		return
	}
	logger = logger.With("phone", phone, "message_id", msg.Key.ID)
	content := msg.Message

	var flow func(ctx context.Context) error
	switch {
	case content.Conversation != nil:
		text := *content.Conversation
		flow = func(ctx context.Context) error { return s.app.HandleText(ctx, phone, text) }
	case content.ExtendedTextMessage != nil:
		text := content.ExtendedTextMessage.Text
		flow = func(ctx context.Context) error { return s.app.HandleText(ctx, phone, text) }
	case content.TextMessage != nil:
		text := content.TextMessage.Text
		flow = func(ctx context.Context) error { return s.app.HandleText(ctx, phone, text) }
	case len(content.AudioMessage) > 0 && content.Base64 != "":
		audio, err := base64.StdEncoding.DecodeString(content.Base64)
		if err != nil {
			logger.Warn("invalid audio payload", "err", err)
			flow = func(ctx context.Context) error { return s.app.Decline(ctx, phone) }
			break
		}
		flow = func(ctx context.Context) error { return s.app.HandleAudio(ctx, phone, audio) }
	case len(content.AudioMessage) > 0, len(content.ImageMessage) > 0, len(content.DocumentMessage) > 0,
		len(content.VideoMessage) > 0, len(content.StickerMessage) > 0:
		flow = func(ctx context.Context) error { return s.app.Decline(ctx, phone) }
	default:
		logger.Info("unsupported message type ignored")
		return
	}

	if s.phoneLimiter != nil && !s.phoneLimiter.Allow(s.baseCtx, phone) {
		logger.Warn("sender rate limited")
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx := util.ContextWithLogger(s.baseCtx, logger)
		if err := s.sem.Acquire(ctx, 1); err != nil {
			return
		}
		defer s.sem.Release(1)
		ctx, cancel := context.WithTimeout(ctx, s.flowTimeout)
		defer cancel()
		if err := flow(ctx); err != nil {
			logger.Error("message flow failed", "err", err)
		}
	}()
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      errorCodeForBot(status, msg),
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

func errorCodeForBot(status int, msg string) string {
	switch strings.ToLower(strings.TrimSpace(msg)) {
	case "invalid json body":
		return "WEBHOOK_INVALID_BODY"
	case "method not allowed":
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case "not found":
		return "SYSTEM_NOT_FOUND"
	}
	if status >= http.StatusInternalServerError {
		return "SYSTEM_INTERNAL_ERROR"
	}
	return "REQUEST_ERROR"
}
