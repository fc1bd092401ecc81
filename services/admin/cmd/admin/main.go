package main

import (
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"

	"github.com/WillianCassan/chatbot-with-rag/internal/ratelimit"
	"github.com/WillianCassan/chatbot-with-rag/internal/util"
	"github.com/WillianCassan/chatbot-with-rag/pkg/auth"
	"github.com/WillianCassan/chatbot-with-rag/pkg/queue"
	"github.com/WillianCassan/chatbot-with-rag/pkg/storage"
	"github.com/WillianCassan/chatbot-with-rag/pkg/store"
	"github.com/WillianCassan/chatbot-with-rag/services/admin/internal/app"
	"github.com/WillianCassan/chatbot-with-rag/services/admin/internal/config"
	"github.com/WillianCassan/chatbot-with-rag/services/admin/internal/server"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("failed to load .env: %v", err)
	}
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger("admin", cfg.LogLevel)

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
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		Stream:   cfg.QueueStream,
		Group:    cfg.QueueGroup,
	})
	if err != nil {
		util.Fatal("failed to init job queue", "err", err)
	}
	defer jobs.Close()

	tokens, err := auth.NewTokenIssuer(cfg.JWTSecretKey, cfg.AccessTokenTTL(), auth.JWTOptions{
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
	})
	if err != nil {
		util.Fatal("failed to init token issuer", "err", err)
	}

	loginWindow, _ := config.ParseDuration(cfg.LoginRateWindow)
	loginLimiter, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "chatbot:admin:login", cfg.LoginRateLimit, loginWindow)
	if err != nil {
		util.Fatal("failed to init login limiter", "err", err)
	}
	trusted, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		util.Fatal("invalid trusted proxies", "err", err)
	}
	loc, err := time.LoadLocation(cfg.TimeZone)
	if err != nil {
		util.Fatal("invalid time zone", "tz", cfg.TimeZone, "err", err)
	}

	appCore, err := app.New(app.Config{
		Documents:         dataStore,
		Users:             dataStore,
		Chunks:            app.StoreChunks(dataStore),
		Objects:           objects,
		Queue:             jobs,
		Tokens:            tokens,
		MaxUploadBytes:    cfg.MaxUploadBytes,
		AllowedExtensions: cfg.AllowedExtensions,
	})
	if err != nil {
		util.Fatal("failed to init app", "err", err)
	}

	httpServer, err := server.New(server.Config{
		App:                appCore,
		LoginLimiter:       loginLimiter,
		TrustedProxies:     trusted,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		Location:           loc,
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

	slog.Info("admin server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
