package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/WillianCassan/chatbot-with-rag/internal/ratelimit"
	"github.com/WillianCassan/chatbot-with-rag/internal/util"
	"github.com/WillianCassan/chatbot-with-rag/pkg/ai"
	"github.com/WillianCassan/chatbot-with-rag/pkg/store"
	"github.com/WillianCassan/chatbot-with-rag/pkg/vectorindex"
	"github.com/WillianCassan/chatbot-with-rag/services/bot/internal/app"
	"github.com/WillianCassan/chatbot-with-rag/services/bot/internal/config"
	"github.com/WillianCassan/chatbot-with-rag/services/bot/internal/evolution"
	"github.com/WillianCassan/chatbot-with-rag/services/bot/internal/server"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("failed to load .env: %v", err)
	}
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger("bot", cfg.LogLevel)

	dataStore, err := store.NewGormStore(cfg.DatabaseURL, store.WithEmbeddingDim(cfg.EmbeddingDim))
	if err != nil {
		util.Fatal("failed to init store", "err", err)
	}
	defer dataStore.Close()

	guard := ai.NewGuard(ai.GuardConfig{
		Name:              "llm",
		RequestsPerMinute: cfg.LLMRequestsPerMinute,
	})
	var openAI *ai.OpenAIClient
	if cfg.OpenAIAPIKey != "" {
		openAI = ai.NewOpenAIClient(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, guard)
	}

	var chat, summaryModel ai.ChatModel
	switch cfg.ChatProvider {
	case "ollama":
		client := ai.NewOllamaClient(cfg.ChatBaseURL, guard)
		chat = ai.NewOllamaChatModel(client, cfg.ChatModel)
		summaryModel = ai.NewOllamaChatModel(client, cfg.SummaryModel)
	default:
		chat = ai.NewOpenAIChatModel(openAI, cfg.ChatModel)
		summaryModel = ai.NewOpenAIChatModel(openAI, cfg.SummaryModel)
	}

	var embedder ai.Embedder
	switch cfg.EmbeddingProvider {
	case "ollama":
		embedder = ai.NewOllamaEmbedder(ai.NewOllamaClient(cfg.EmbeddingBaseURL, guard), cfg.EmbeddingModel, cfg.EmbeddingDim)
	default:
		embedder = ai.NewOpenAIEmbedder(openAI, cfg.EmbeddingModel, cfg.EmbeddingDim)
	}
	index, err := vectorindex.New(embedder, dataStore)
	if err != nil {
		util.Fatal("failed to init vector index", "err", err)
	}

	var transcriber ai.Transcriber
	var speech ai.SpeechSynthesizer
	if cfg.AudioEnabled() {
		transcriber = ai.NewOpenAITranscriber(openAI, cfg.TranscriptionModel, cfg.TranscriptionLanguage)
		speech = ai.NewOpenAISpeech(openAI, cfg.SpeechModel, cfg.SpeechVoice, cfg.SpeechFormat)
	} else {
		logger.Warn("audio disabled: no OpenAI key configured")
	}

	services, err := os.ReadFile(cfg.OrgServicesFile)
	if err != nil {
		logger.Warn("services file unavailable", "path", cfg.OrgServicesFile, "err", err)
	}

	evo, err := evolution.NewClient(evolution.Config{
		BaseURL:           cfg.EvolutionAPIURL,
		APIKey:            cfg.EvolutionAPIKey,
		Instance:          cfg.EvolutionInstanceID,
		RequestsPerSecond: cfg.EvolutionRequestsPerSecond,
	})
	if err != nil {
		util.Fatal("failed to init evolution client", "err", err)
	}

	backoff, _ := config.ParseDuration(cfg.RetryBackoff)
	appCore, err := app.New(app.Config{
		Conversations:   dataStore,
		Retriever:       index,
		Chat:            chat,
		Summarizer:      ai.NewChatSummarizer(summaryModel),
		Transcriber:     transcriber,
		Speech:          speech,
		Messenger:       evo,
		OrgName:         cfg.OrgName,
		ServicesContext: string(services),
		HistoryLimit:    cfg.HistoryLimit,
		TopK:            cfg.TopK,
		Attempts:        cfg.ReplyAttempts,
		Backoff:         backoff,
		MaxReplyRunes:   cfg.MaxReplyRunes,
	})
	if err != nil {
		util.Fatal("failed to init app", "err", err)
	}

	var phoneLimiter server.Limiter
	if cfg.RedisAddr != "" {
		window, _ := config.ParseDuration(cfg.PhoneRateWindow)
		limiter, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "chatbot:bot:phone", cfg.PhoneRateLimit, window)
		if err != nil {
			util.Fatal("failed to init phone limiter", "err", err)
		}
		phoneLimiter = limiter
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpServer, err := server.New(server.Config{
		App:                appCore,
		Status:             evo,
		Instance:           evo.Instance(),
		VerifyToken:        cfg.EvolutionWebhookToken,
		PhoneLimiter:       phoneLimiter,
		Concurrency:        cfg.WebhookConcurrency,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		BaseContext:        util.ContextWithLogger(context.WithoutCancel(ctx), logger),
	})
	if err != nil {
		util.Fatal("failed to init server", "err", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("bot server listening", "addr", addr, "org", cfg.OrgName, "audio", cfg.AudioEnabled())
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
	// Let in-flight replies finish before exiting.
	httpServer.Wait()
}
