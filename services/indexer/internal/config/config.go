package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default location of the indexer config file.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port                       string `yaml:"port"`
	LogLevel                   string `yaml:"logLevel"`
	DatabaseURL                string `yaml:"databaseURL"`
	RedisAddr                  string `yaml:"redisAddr"`
	RedisPassword              string `yaml:"redisPassword"`
	QueueStream                string `yaml:"queueStream"`
	QueueGroup                 string `yaml:"queueGroup"`
	QueueConcurrency           int    `yaml:"queueConcurrency"`
	QueueMaxRetries            int    `yaml:"queueMaxRetries"`
	QueueRetryDelaySeconds     int    `yaml:"queueRetryDelaySeconds"`
	MinioEndpoint              string `yaml:"minioEndpoint"`
	MinioAccessKey             string `yaml:"minioAccessKey"`
	MinioSecretKey             string `yaml:"minioSecretKey"`
	MinioBucket                string `yaml:"minioBucket"`
	MinioUseSSL                bool   `yaml:"minioUseSSL"`
	EmbeddingProvider          string `yaml:"embeddingProvider"`
	EmbeddingBaseURL           string `yaml:"embeddingBaseURL"`
	EmbeddingAPIKey            string `yaml:"embeddingAPIKey"`
	EmbeddingModel             string `yaml:"embeddingModel"`
	EmbeddingDim               int    `yaml:"embeddingDim"`
	EmbeddingBatchSize         int    `yaml:"embeddingBatchSize"`
	EmbeddingConcurrency       int    `yaml:"embeddingConcurrency"`
	EmbeddingRequestsPerMinute int    `yaml:"embeddingRequestsPerMinute"`
	ChunkSize                  int    `yaml:"chunkSize"`
	ChunkOverlap               int    `yaml:"chunkOverlap"`
	PDFToTextPath              string `yaml:"pdftotextPath"`
	InternalToken              string `yaml:"internalToken"`
}

// Load reads config from path. An empty path falls back to INDEXER_CONFIG
// and then ConfigPath.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = os.Getenv("INDEXER_CONFIG")
	}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	// Override with environment variables
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.MinioEndpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	if v := os.Getenv("MINIO_BUCKET"); v != "" {
		cfg.MinioBucket = v
	}
	if v := os.Getenv("MINIO_USE_SSL"); v == "true" {
		cfg.MinioUseSSL = true
	}
	if v := os.Getenv("EMBEDDING_PROVIDER"); v != "" {
		cfg.EmbeddingProvider = v
	}
	if v := os.Getenv("EMBEDDING_BASE_URL"); v != "" {
		cfg.EmbeddingBaseURL = v
	}
	if v := os.Getenv("EMBEDDING_MODEL"); v != "" {
		cfg.EmbeddingModel = v
	}
	if v := os.Getenv("EMBEDDING_DIM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.EmbeddingDim = n
		}
	}
	if v := os.Getenv("INDEXER_INTERNAL_TOKEN"); v != "" {
		cfg.InternalToken = v
	}
	if cfg.EmbeddingAPIKey == "" {
		cfg.EmbeddingAPIKey = firstEnv("OPENAI_API_KEY", "OPEN_AI_API_KEY")
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *FileConfig) {
	if cfg.QueueStream == "" {
		cfg.QueueStream = "chatbot:index:jobs"
	}
	if cfg.QueueGroup == "" {
		cfg.QueueGroup = "indexer"
	}
	if cfg.QueueConcurrency <= 0 {
		cfg.QueueConcurrency = 2
	}
	if cfg.QueueMaxRetries <= 0 {
		cfg.QueueMaxRetries = 3
	}
	if cfg.QueueRetryDelaySeconds <= 0 {
		cfg.QueueRetryDelaySeconds = 5
	}
	cfg.EmbeddingProvider = strings.ToLower(strings.TrimSpace(cfg.EmbeddingProvider))
	if cfg.EmbeddingProvider == "" {
		cfg.EmbeddingProvider = "openai"
	}
	if cfg.EmbeddingModel == "" && cfg.EmbeddingProvider == "openai" {
		cfg.EmbeddingModel = "text-embedding-3-small"
	}
	if cfg.EmbeddingDim <= 0 && cfg.EmbeddingProvider == "openai" {
		cfg.EmbeddingDim = 1536
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 250
	}
	if cfg.ChunkOverlap <= 0 {
		cfg.ChunkOverlap = 20
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if cfg.RedisAddr == "" {
		return errors.New("config: redisAddr is required (set in config.yaml or REDIS_ADDR)")
	}
	if cfg.MinioEndpoint == "" {
		return errors.New("config: minioEndpoint is required (set in config.yaml)")
	}
	if cfg.MinioBucket == "" {
		return errors.New("config: minioBucket is required (set in config.yaml)")
	}
	switch cfg.EmbeddingProvider {
	case "openai":
		if cfg.EmbeddingAPIKey == "" {
			return errors.New("config: embeddingAPIKey is required for openai (set in config.yaml or OPENAI_API_KEY)")
		}
	case "ollama":
		if cfg.EmbeddingBaseURL == "" {
			return errors.New("config: embeddingBaseURL is required for ollama (set in config.yaml)")
		}
	default:
		return fmt.Errorf("config: unknown embeddingProvider %q", cfg.EmbeddingProvider)
	}
	if cfg.EmbeddingModel == "" {
		return errors.New("config: embeddingModel is required (set in config.yaml)")
	}
	if cfg.EmbeddingDim <= 0 {
		return errors.New("config: embeddingDim is required (set in config.yaml)")
	}
	if cfg.ChunkOverlap >= cfg.ChunkSize {
		return errors.New("config: chunkOverlap must be smaller than chunkSize")
	}
	return nil
}

func firstEnv(keys ...string) string {
	for _, key := range keys {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
	}
	return ""
}
