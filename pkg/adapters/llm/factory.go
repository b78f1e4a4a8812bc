package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/aescanero/taskmesh/pkg/adapters/llm/anthropic"
	"github.com/aescanero/taskmesh/pkg/domain"
	"go.uber.org/zap"
)

// Capability is an LLM-backed worker that can be registered with the dispatcher
type Capability interface {
	Invoke(ctx context.Context, input domain.Input) (any, error)
}

// Config holds LLM capability configuration
type Config struct {
	Provider       string
	APIKey         string
	Model          string
	MaxTokens      int64
	BaseURL        string
	RequestTimeout time.Duration
	Logger         *zap.Logger
}

// NewCapability creates an LLM capability based on provider
func NewCapability(cfg *Config) (Capability, error) {
	switch cfg.Provider {
	case "anthropic":
		c, err := anthropic.NewCapability(anthropic.Config{
			APIKey:         cfg.APIKey,
			Model:          cfg.Model,
			MaxTokens:      cfg.MaxTokens,
			BaseURL:        cfg.BaseURL,
			RequestTimeout: cfg.RequestTimeout,
		}, cfg.Logger)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
}
