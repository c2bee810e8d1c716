package config

import (
	"errors"
	"testing"
)

func validConfig() *Config {
	return &Config{
		Provider:           ProviderGemini,
		GeminiAPIKey:       "test-key",
		Dimension:          768,
		Backend:            BackendMemory,
		ChunkMaxTokens:     200,
		ChunkOverlapTokens: 40,
		TopK:               5,
		MinSimilarity:      0.35,
		ContextBudget:      2000,
		HistoryBudget:      1000,
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{
			name:   "valid defaults",
			mutate: func(*Config) {},
		},
		{
			name: "unknown provider",
			mutate: func(c *Config) {
				c.Provider = "anthropic"
			},
			wantErr: ErrInvalidProvider,
		},
		{
			name: "gemini without key",
			mutate: func(c *Config) {
				c.GeminiAPIKey = ""
			},
			wantErr: ErrMissingAPIKey,
		},
		{
			name: "openai without key",
			mutate: func(c *Config) {
				c.Provider = ProviderOpenAI
				c.OpenAIAPIKey = ""
			},
			wantErr: ErrMissingAPIKey,
		},
		{
			name: "openai with key",
			mutate: func(c *Config) {
				c.Provider = ProviderOpenAI
				c.OpenAIAPIKey = "sk-test"
			},
		},
		{
			name: "unknown backend",
			mutate: func(c *Config) {
				c.Backend = "sqlite"
			},
			wantErr: ErrInvalidBackend,
		},
		{
			name: "postgres without database url",
			mutate: func(c *Config) {
				c.Backend = BackendPostgres
			},
			wantErr: ErrMissingDatabaseURL,
		},
		{
			name: "postgres with database url",
			mutate: func(c *Config) {
				c.Backend = BackendPostgres
				c.DatabaseURL = "postgres://localhost:5432/grounded"
			},
		},
		{
			name: "postgres with mismatched dimension",
			mutate: func(c *Config) {
				c.Backend = BackendPostgres
				c.DatabaseURL = "postgres://localhost:5432/grounded"
				c.Dimension = 1536
			},
			wantErr: ErrInvalidDimension,
		},
		{
			name: "zero dimension",
			mutate: func(c *Config) {
				c.Dimension = 0
			},
			wantErr: ErrInvalidDimension,
		},
		{
			name: "overlap equals chunk size",
			mutate: func(c *Config) {
				c.ChunkOverlapTokens = c.ChunkMaxTokens
			},
			wantErr: ErrInvalidChunking,
		},
		{
			name: "negative overlap",
			mutate: func(c *Config) {
				c.ChunkOverlapTokens = -1
			},
			wantErr: ErrInvalidChunking,
		},
		{
			name: "zero top_k",
			mutate: func(c *Config) {
				c.TopK = 0
			},
			wantErr: ErrInvalidRetrieval,
		},
		{
			name: "similarity above one",
			mutate: func(c *Config) {
				c.MinSimilarity = 1.5
			},
			wantErr: ErrInvalidRetrieval,
		},
		{
			name: "zero context budget",
			mutate: func(c *Config) {
				c.ContextBudget = 0
			},
			wantErr: ErrInvalidRetrieval,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestAPIKey(t *testing.T) {
	cfg := validConfig()
	cfg.OpenAIAPIKey = "openai-key"

	if got := cfg.APIKey(); got != "test-key" {
		t.Errorf("APIKey() = %q for gemini, want %q", got, "test-key")
	}

	cfg.Provider = ProviderOpenAI
	if got := cfg.APIKey(); got != "openai-key" {
		t.Errorf("APIKey() = %q for openai, want %q", got, "openai-key")
	}
}
