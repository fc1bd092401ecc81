package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default location of the bot config file.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port               string   `yaml:"port"`
	LogLevel           string   `yaml:"logLevel"`
	DatabaseURL        string   `yaml:"databaseURL"`
	RedisAddr          string   `yaml:"redisAddr"`
	RedisPassword      string   `yaml:"redisPassword"`
	CORSAllowedOrigins []string `yaml:"corsAllowedOrigins"`

	OrgName         string `yaml:"orgName"`
	OrgServicesFile string `yaml:"orgServicesFile"`

	OpenAIAPIKey          string `yaml:"openAIAPIKey"`
	OpenAIBaseURL         string `yaml:"openAIBaseURL"`
	ChatProvider          string `yaml:"chatProvider"`
	ChatBaseURL           string `yaml:"chatBaseURL"`
	ChatModel             string `yaml:"chatModel"`
	SummaryModel          string `yaml:"summaryModel"`
	EmbeddingProvider     string `yaml:"embeddingProvider"`
	EmbeddingBaseURL      string `yaml:"embeddingBaseURL"`
	EmbeddingModel        string `yaml:"embeddingModel"`
	EmbeddingDim          int    `yaml:"embeddingDim"`
	TranscriptionModel    string `yaml:"transcriptionModel"`
	TranscriptionLanguage string `yaml:"transcriptionLanguage"`
	SpeechModel           string `yaml:"speechModel"`
	SpeechVoice           string `yaml:"speechVoice"`
	SpeechFormat          string `yaml:"speechFormat"`
	LLMRequestsPerMinute  int    `yaml:"llmRequestsPerMinute"`

	HistoryLimit  int    `yaml:"historyLimit"`
	TopK          int    `yaml:"topK"`
	ReplyAttempts int    `yaml:"replyAttempts"`
	RetryBackoff  string `yaml:"retryBackoff"`
	MaxReplyRunes int    `yaml:"maxReplyRunes"`

	EvolutionAPIURL            string  `yaml:"evolutionAPIURL"`
	EvolutionAPIKey            string  `yaml:"evolutionAPIKey"`
	EvolutionInstanceID        string  `yaml:"evolutionInstanceID"`
	EvolutionWebhookToken      string  `yaml:"evolutionWebhookToken"`
	EvolutionRequestsPerSecond float64 `yaml:"evolutionRequestsPerSecond"`

	WebhookConcurrency int64  `yaml:"webhookConcurrency"`
	PhoneRateLimit     int    `yaml:"phoneRateLimit"`
	PhoneRateWindow    string `yaml:"phoneRateWindow"`
}

// Load reads config from path. An empty path falls back to BOT_CONFIG and
// then ConfigPath.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = os.Getenv("BOT_CONFIG")
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
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		cfg.CORSAllowedOrigins = splitCSV(v)
	}
	if v := os.Getenv("ORG_NAME"); v != "" {
		cfg.OrgName = v
	}
	if v := os.Getenv("ORG_SERVICES_FILE"); v != "" {
		cfg.OrgServicesFile = v
	}
	if v := firstEnv("OPENAI_API_KEY", "OPEN_AI_API_KEY"); v != "" {
		cfg.OpenAIAPIKey = v
	}
	if v := os.Getenv("CHAT_MODEL"); v != "" {
		cfg.ChatModel = v
	}
	if v := os.Getenv("EMBEDDING_MODEL"); v != "" {
		cfg.EmbeddingModel = v
	}
	if v := os.Getenv("EMBEDDING_DIM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.EmbeddingDim = n
		}
	}
	if v := os.Getenv("EVOLUTION_API_URL"); v != "" {
		cfg.EvolutionAPIURL = v
	}
	if v := os.Getenv("EVOLUTION_API_KEY"); v != "" {
		cfg.EvolutionAPIKey = v
	}
	if v := os.Getenv("EVOLUTION_INSTANCE_ID"); v != "" {
		cfg.EvolutionInstanceID = v
	}
	if v := os.Getenv("EVOLUTION_WEBHOOK_TOKEN"); v != "" {
		cfg.EvolutionWebhookToken = v
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *FileConfig) {
	if cfg.OrgName == "" {
		cfg.OrgName = "PROCON"
	}
	if cfg.OrgServicesFile == "" {
		cfg.OrgServicesFile = "utils/servicos.txt"
	}
	cfg.ChatProvider = strings.ToLower(strings.TrimSpace(cfg.ChatProvider))
	if cfg.ChatProvider == "" {
		cfg.ChatProvider = "openai"
	}
	if cfg.ChatModel == "" && cfg.ChatProvider == "openai" {
		cfg.ChatModel = "gpt-3.5-turbo"
	}
	if cfg.SummaryModel == "" {
		cfg.SummaryModel = cfg.ChatModel
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
	if cfg.TranscriptionModel == "" {
		cfg.TranscriptionModel = "whisper-1"
	}
	if cfg.TranscriptionLanguage == "" {
		cfg.TranscriptionLanguage = "pt"
	}
	if cfg.SpeechModel == "" {
		cfg.SpeechModel = "tts-1"
	}
	if cfg.SpeechVoice == "" {
		cfg.SpeechVoice = "nova"
	}
	if cfg.SpeechFormat == "" {
		cfg.SpeechFormat = "opus"
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 20
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 30
	}
	if cfg.ReplyAttempts <= 0 {
		cfg.ReplyAttempts = 4
	}
	if cfg.RetryBackoff == "" {
		cfg.RetryBackoff = "2s"
	}
	if cfg.MaxReplyRunes <= 0 {
		cfg.MaxReplyRunes = 300
	}
	if cfg.EvolutionRequestsPerSecond <= 0 {
		cfg.EvolutionRequestsPerSecond = 5
	}
	if cfg.WebhookConcurrency <= 0 {
		cfg.WebhookConcurrency = 16
	}
	if cfg.PhoneRateLimit <= 0 {
		cfg.PhoneRateLimit = 20
	}
	if cfg.PhoneRateWindow == "" {
		cfg.PhoneRateWindow = "1m"
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if cfg.EvolutionAPIURL == "" {
		return errors.New("config: evolutionAPIURL is required (set in config.yaml or EVOLUTION_API_URL)")
	}
	if cfg.EvolutionAPIKey == "" {
		return errors.New("config: evolutionAPIKey is required (set in config.yaml or EVOLUTION_API_KEY)")
	}
	if cfg.EvolutionInstanceID == "" {
		return errors.New("config: evolutionInstanceID is required (set in config.yaml or EVOLUTION_INSTANCE_ID)")
	}
	if cfg.EvolutionWebhookToken == "" {
		return errors.New("config: evolutionWebhookToken is required (set in config.yaml or EVOLUTION_WEBHOOK_TOKEN)")
	}
	for name, provider := range map[string]string{"chatProvider": cfg.ChatProvider, "embeddingProvider": cfg.EmbeddingProvider} {
		switch provider {
		case "openai":
			if cfg.OpenAIAPIKey == "" {
				return fmt.Errorf("config: openAIAPIKey is required when %s is openai (set in config.yaml or OPENAI_API_KEY)", name)
			}
		case "ollama":
		default:
			return fmt.Errorf("config: unknown %s %q", name, provider)
		}
	}
	if cfg.ChatProvider == "ollama" && cfg.ChatBaseURL == "" {
		return errors.New("config: chatBaseURL is required for ollama (set in config.yaml)")
	}
	if cfg.EmbeddingProvider == "ollama" && cfg.EmbeddingBaseURL == "" {
		return errors.New("config: embeddingBaseURL is required for ollama (set in config.yaml)")
	}
	if cfg.ChatModel == "" {
		return errors.New("config: chatModel is required (set in config.yaml)")
	}
	if cfg.EmbeddingModel == "" {
		return errors.New("config: embeddingModel is required (set in config.yaml)")
	}
	if cfg.EmbeddingDim <= 0 {
		return errors.New("config: embeddingDim is required (set in config.yaml)")
	}
	if _, err := ParseDuration(cfg.RetryBackoff); err != nil {
		return fmt.Errorf("config: retryBackoff: %w", err)
	}
	if _, err := ParseDuration(cfg.PhoneRateWindow); err != nil {
		return fmt.Errorf("config: phoneRateWindow: %w", err)
	}
	return nil
}

// AudioEnabled reports whether voice notes can be transcribed and answered.
func (c FileConfig) AudioEnabled() bool {
	return c.OpenAIAPIKey != ""
}

// ParseDuration parses a Go duration string that must be positive.
func ParseDuration(raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive, got %s", raw)
	}
	return d, nil
}

func firstEnv(keys ...string) string {
	for _, key := range keys {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
	}
	return ""
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
