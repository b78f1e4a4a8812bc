package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/aescanero/taskmesh/pkg/domain"
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"
)

const (
	defaultModel     = "claude-sonnet-4-20250514"
	defaultMaxTokens = 4096

	defaultSystemPrompt = "You write clear technical documentation from the material you are given. " +
		"Use Markdown. Do not invent facts that are not present in the material."
)

// Config holds Anthropic capability settings
type Config struct {
	APIKey         string
	Model          string
	MaxTokens      int64
	BaseURL        string
	RequestTimeout time.Duration
	SystemPrompt   string
}

// Capability synthesizes documentation with the Anthropic Messages API.
//
// The task payload may carry "prompt" and "title"; outputs of completed
// dependencies are appended as material. The SDK's own retries are disabled:
// the dispatcher retries busy and timeout failures.
type Capability struct {
	client       anthropic.Client
	model        string
	maxTokens    int64
	systemPrompt string
	logger       *zap.Logger
}

// Output is the result of one documentation call
type Output struct {
	Text         string `json:"text"`
	Model        string `json:"model"`
	StopReason   string `json:"stop_reason,omitempty"`
	InputTokens  int64  `json:"input_tokens"`
	OutputTokens int64  `json:"output_tokens"`
}

// NewCapability creates a new Anthropic-backed capability
func NewCapability(cfg Config, logger *zap.Logger) (*Capability, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.RequestTimeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.RequestTimeout))
	}

	c := &Capability{
		client:       anthropic.NewClient(opts...),
		model:        cfg.Model,
		maxTokens:    cfg.MaxTokens,
		systemPrompt: cfg.SystemPrompt,
		logger:       logger,
	}
	if c.model == "" {
		c.model = defaultModel
	}
	if c.maxTokens <= 0 {
		c.maxTokens = defaultMaxTokens
	}
	if c.systemPrompt == "" {
		c.systemPrompt = defaultSystemPrompt
	}

	return c, nil
}

// Invoke sends one Messages request built from the task input
func (c *Capability) Invoke(ctx context.Context, input domain.Input) (any, error) {
	prompt, err := buildPrompt(input)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: c.systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return nil, classify(err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			text.WriteString(variant.Text)
		}
	}

	c.logger.Debug("anthropic call completed",
		zap.String("model", string(msg.Model)),
		zap.Int64("input_tokens", msg.Usage.InputTokens),
		zap.Int64("output_tokens", msg.Usage.OutputTokens),
		zap.Duration("duration", time.Since(start)))

	return Output{
		Text:         text.String(),
		Model:        string(msg.Model),
		StopReason:   string(msg.StopReason),
		InputTokens:  msg.Usage.InputTokens,
		OutputTokens: msg.Usage.OutputTokens,
	}, nil
}

// buildPrompt renders the payload and upstream material into one user message
func buildPrompt(input domain.Input) (string, error) {
	var b strings.Builder

	if title, ok := input.Payload["title"].(string); ok && title != "" {
		fmt.Fprintf(&b, "Title: %s\n\n", title)
	}
	prompt, _ := input.Payload["prompt"].(string)
	if prompt == "" && len(input.Upstream) == 0 {
		return "", fmt.Errorf("payload needs a prompt or upstream material: %w", domain.ErrInvalidInput)
	}
	if prompt == "" {
		prompt = "Write documentation covering the material below."
	}
	b.WriteString(prompt)

	ids := make([]string, 0, len(input.Upstream))
	for id := range input.Upstream {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		var pretty any
		material := string(input.Upstream[id])
		if err := json.Unmarshal(input.Upstream[id], &pretty); err == nil {
			if s, ok := pretty.(string); ok {
				material = s
			} else if indented, err := json.MarshalIndent(pretty, "", "  "); err == nil {
				material = string(indented)
			}
		}
		fmt.Fprintf(&b, "\n\n## Material from %s\n\n%s", id, material)
	}

	return b.String(), nil
}

// classify maps API errors onto the worker error sentinels
func classify(err error) error {
	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("anthropic request failed: %w", err)
	}

	switch {
	case apiErr.StatusCode == http.StatusTooManyRequests,
		apiErr.StatusCode == 529,
		apiErr.StatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("anthropic API busy (status %d): %w", apiErr.StatusCode, domain.ErrBusy)
	case apiErr.StatusCode == http.StatusRequestTimeout:
		return fmt.Errorf("anthropic API timed out: %w", domain.ErrTimeout)
	case apiErr.StatusCode == http.StatusBadRequest,
		apiErr.StatusCode == http.StatusRequestEntityTooLarge,
		apiErr.StatusCode == http.StatusUnprocessableEntity:
		return fmt.Errorf("anthropic rejected request (status %d): %w", apiErr.StatusCode, domain.ErrInvalidInput)
	default:
		return fmt.Errorf("anthropic request failed (status %d): %w", apiErr.StatusCode, err)
	}
}
