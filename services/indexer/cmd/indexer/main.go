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

	"github.com/WillianCassan/chatbot-with-rag/internal/util"
	"github.com/WillianCassan/chatbot-with-rag/pkg/ai"
	"github.com/WillianCassan/chatbot-with-rag/pkg/queue"
	"github.com/WillianCassan/chatbot-with-rag/pkg/storage"
	"github.com/WillianCassan/chatbot-with-rag/pkg/store"
	"github.com/WillianCassan/chatbot-with-rag/pkg/vectorindex"
	"github.com/WillianCassan/chatbot-with-rag/services/indexer/internal/app"
	"github.com/WillianCassan/chatbot-with-rag/services/indexer/internal/config"
	"github.com/WillianCassan/chatbot-with-rag/services/indexer/internal/server"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("failed to load .env: %v", err)
	}
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger("indexer", cfg.LogLevel)

	dataStore, err := store.NewGormStore(cfg.DatabaseURL, store.WithEmbeddingDim(cfg.EmbeddingDim))
	if err != nil {
		util.Fatal("failed to init store", "err", err)
	}
	defer dataStore.Close()

	objects, err := storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
	if err != nil {
		util.Fatal("failed to init object store", "err", err)
	}

	jobs, err := queue.NewRedisJobQueue(queue.RedisQueueConfig{
		Addr:       cfg.RedisAddr,
		Password:   cfg.RedisPassword,
		Stream:     cfg.QueueStream,
		Group:      cfg.QueueGroup,
		MaxRetries: cfg.QueueMaxRetries,
		RetryDelay: time.Duration(cfg.QueueRetryDelaySeconds) * time.Second,
	})
	if err != nil {
		util.Fatal("failed to init job queue", "err", err)
	}
	defer jobs.Close()

	guard := ai.NewGuard(ai.GuardConfig{
		Name:              "embeddings",
		RequestsPerMinute: cfg.EmbeddingRequestsPerMinute,
	})
	var embedder ai.Embedder
	switch cfg.EmbeddingProvider {
	case "ollama":
		embedder = ai.NewOllamaEmbedder(ai.NewOllamaClient(cfg.EmbeddingBaseURL, guard), cfg.EmbeddingModel, cfg.EmbeddingDim)
	default:
		embedder = ai.NewOpenAIEmbedder(ai.NewOpenAIClient(cfg.EmbeddingBaseURL, cfg.EmbeddingAPIKey, guard), cfg.EmbeddingModel, cfg.EmbeddingDim)
	}
	index, err := vectorindex.New(embedder, dataStore,
		vectorindex.WithBatchSize(cfg.EmbeddingBatchSize),
		vectorindex.WithConcurrency(cfg.EmbeddingConcurrency),
	)
	if err != nil {
		util.Fatal("failed to init vector index", "err", err)
	}

	appCore, err := app.New(app.Config{
		Documents:     dataStore,
		Objects:       objects,
		Index:         index,
		Queue:         jobs,
		ChunkSize:     cfg.ChunkSize,
		ChunkOverlap:  cfg.ChunkOverlap,
		PDFToTextPath: cfg.PDFToTextPath,
	})
	if err != nil {
		util.Fatal("failed to init app", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	jobs.Start(util.ContextWithLogger(ctx, logger), cfg.QueueConcurrency, appCore.Handle)

	httpServer, err := server.New(server.Config{
		Jobs:          appCore,
		InternalToken: cfg.InternalToken,
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

	slog.Info("indexer server listening", "addr", addr, "workers", cfg.QueueConcurrency)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
