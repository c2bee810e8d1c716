// Package config loads application configuration with multi-source
// priority: environment variables override the config file, which overrides
// defaults.
//
// The config file is ~/.grounded/config.yaml (or ./config.yaml). Secrets
// (API keys, DATABASE_URL) come from the environment only and are never
// written to the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

var (
	// ErrInvalidProvider indicates the AI provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrMissingAPIKey indicates the selected provider's API key is not set.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidBackend indicates the storage backend is not supported.
	ErrInvalidBackend = errors.New("invalid storage backend")

	// ErrMissingDatabaseURL indicates the postgres backend was selected
	// without a connection URL.
	ErrMissingDatabaseURL = errors.New("missing database URL")

	// ErrInvalidDimension indicates the embedding dimension is out of range.
	ErrInvalidDimension = errors.New("invalid embedding dimension")

	// ErrInvalidChunking indicates the chunk size or overlap is invalid.
	ErrInvalidChunking = errors.New("invalid chunking parameters")

	// ErrInvalidRetrieval indicates a retrieval tuning value is out of range.
	ErrInvalidRetrieval = errors.New("invalid retrieval parameters")
)

// Provider identifiers used in Config.Provider.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// Storage backend identifiers used in Config.Backend.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

// PgVectorDimension is the vector width of the chunks table. The embedding
// dimension must match it when the postgres backend is selected.
const PgVectorDimension = 768

// Config stores application configuration.
type Config struct {
	// AI provider selection
	Provider        string `mapstructure:"provider"`
	GeminiAPIKey    string `mapstructure:"gemini_api_key"` // env only
	OpenAIAPIKey    string `mapstructure:"openai_api_key"` // env only
	EmbeddingModel  string `mapstructure:"embedding_model"`
	GenerationModel string `mapstructure:"generation_model"`
	Dimension       int    `mapstructure:"dimension"`

	// Storage
	Backend     string `mapstructure:"backend"`
	DatabaseURL string `mapstructure:"database_url"` // env only

	// Chunking
	ChunkMaxTokens     int `mapstructure:"chunk_max_tokens"`
	ChunkOverlapTokens int `mapstructure:"chunk_overlap_tokens"`

	// Retrieval
	TopK          int     `mapstructure:"top_k"`
	MinSimilarity float64 `mapstructure:"min_similarity"`
	ContextBudget int     `mapstructure:"context_budget"`
	HistoryBudget int     `mapstructure:"history_budget"`
	DedupWindow   int     `mapstructure:"dedup_window"`

	// Sessions
	RejectWhenBusy bool   `mapstructure:"reject_when_busy"`
	OwnerID        string `mapstructure:"owner_id"`

	// Logging
	LogLevel string `mapstructure:"log_level"`
	LogJSON  bool   `mapstructure:"log_json"`

	// Telemetry
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// TelemetryConfig configures OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"service_name"`
}

// Load reads configuration with env > file > defaults priority.
func Load() (*Config, error) {
	v := viper.New()

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}
	configDir := filepath.Join(home, ".grounded")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v)
	bindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("provider", ProviderGemini)
	v.SetDefault("dimension", PgVectorDimension)

	v.SetDefault("backend", BackendMemory)

	v.SetDefault("chunk_max_tokens", 200)
	v.SetDefault("chunk_overlap_tokens", 40)

	v.SetDefault("top_k", 5)
	v.SetDefault("min_similarity", 0.35)
	v.SetDefault("context_budget", 2000)
	v.SetDefault("history_budget", 1000)
	v.SetDefault("dedup_window", 2)

	v.SetDefault("reject_when_busy", false)
	v.SetDefault("owner_id", "default")

	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.endpoint", "localhost:4318")
	v.SetDefault("telemetry.service_name", "grounded")
}

// bindEnv wires environment overrides. GROUNDED_* covers the tunables;
// secrets use their conventional unprefixed names.
func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix("GROUNDED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	mustBind := func(key string, envVars ...string) {
		if err := v.BindEnv(append([]string{key}, envVars...)...); err != nil {
			panic(fmt.Sprintf("BUG: binding %q: %v", key, err))
		}
	}
	mustBind("gemini_api_key", "GEMINI_API_KEY")
	mustBind("openai_api_key", "OPENAI_API_KEY")
	mustBind("database_url", "DATABASE_URL")
}

// Validate applies fail-fast range and dependency checks.
func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderGemini:
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("%w: GEMINI_API_KEY is required for provider %q", ErrMissingAPIKey, c.Provider)
		}
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("%w: OPENAI_API_KEY is required for provider %q", ErrMissingAPIKey, c.Provider)
		}
	default:
		return fmt.Errorf("%w: %q (expected %q or %q)", ErrInvalidProvider, c.Provider, ProviderGemini, ProviderOpenAI)
	}

	switch c.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("%w: DATABASE_URL is required for backend %q", ErrMissingDatabaseURL, c.Backend)
		}
		if c.Dimension != PgVectorDimension {
			return fmt.Errorf("%w: postgres backend requires dimension %d, got %d",
				ErrInvalidDimension, PgVectorDimension, c.Dimension)
		}
	default:
		return fmt.Errorf("%w: %q (expected %q or %q)", ErrInvalidBackend, c.Backend, BackendMemory, BackendPostgres)
	}

	if c.Dimension <= 0 || c.Dimension > 4096 {
		return fmt.Errorf("%w: %d (expected 1..4096)", ErrInvalidDimension, c.Dimension)
	}

	if c.ChunkMaxTokens <= 0 {
		return fmt.Errorf("%w: chunk_max_tokens must be positive, got %d", ErrInvalidChunking, c.ChunkMaxTokens)
	}
	if c.ChunkOverlapTokens < 0 || c.ChunkOverlapTokens >= c.ChunkMaxTokens {
		return fmt.Errorf("%w: chunk_overlap_tokens %d must be in [0, %d)",
			ErrInvalidChunking, c.ChunkOverlapTokens, c.ChunkMaxTokens)
	}

	if c.TopK <= 0 {
		return fmt.Errorf("%w: top_k must be positive, got %d", ErrInvalidRetrieval, c.TopK)
	}
	if c.MinSimilarity < 0 || c.MinSimilarity > 1 {
		return fmt.Errorf("%w: min_similarity %f must be in [0, 1]", ErrInvalidRetrieval, c.MinSimilarity)
	}
	if c.ContextBudget <= 0 || c.HistoryBudget < 0 {
		return fmt.Errorf("%w: context_budget %d / history_budget %d",
			ErrInvalidRetrieval, c.ContextBudget, c.HistoryBudget)
	}

	return nil
}

// APIKey returns the key for the selected provider.
func (c *Config) APIKey() string {
	if c.Provider == ProviderOpenAI {
		return c.OpenAIAPIKey
	}
	return c.GeminiAPIKey
}
