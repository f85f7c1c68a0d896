package llm

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"lifelog/internal/types"
)

// Config selects and configures a model provider.
type Config struct {
	Provider        string        `yaml:"provider"`
	APIKey          string        `yaml:"api_key"`
	Model           string        `yaml:"model"`
	BaseURL         string        `yaml:"base_url"`
	Timeout         time.Duration `yaml:"timeout"`
	MaxOutputTokens int           `yaml:"max_output_tokens"`
}

// New builds the client for the configured provider.
func New(cfg Config, logger *zap.Logger) (types.LLMClient, error) {
	switch cfg.Provider {
	case "", "gemini":
		return NewGeminiClient(GeminiConfig{
			APIKey:          cfg.APIKey,
			BaseURL:         cfg.BaseURL,
			Model:           cfg.Model,
			Timeout:         cfg.Timeout,
			MaxOutputTokens: cfg.MaxOutputTokens,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Provider)
	}
}
