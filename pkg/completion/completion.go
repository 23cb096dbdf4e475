// Package completion generates persona replies with an OpenAI-compatible
// chat completion service.
//
// When no API key is configured the client answers with a labelled
// placeholder instead of failing, so the voice pipeline stays testable
// without live credentials.
package completion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/teslashibe/go-persona/internal/httpc"
	"github.com/teslashibe/go-persona/pkg/persona"
)

// StubPrefix marks placeholder replies produced without credentials.
const StubPrefix = "[TEST RESPONSE]"

// Config holds completion client configuration.
type Config struct {
	APIKey  string
	BaseURL string

	// Model is used when the persona does not name one.
	Model string

	// Timeout bounds a single request.
	Timeout time.Duration

	Logger *slog.Logger
}

// Option configures the client.
type Option func(*Config)

// WithAPIKey sets the API key. An empty key enables stub mode.
func WithAPIKey(key string) Option {
	return func(c *Config) { c.APIKey = key }
}

// WithBaseURL overrides the API base URL.
func WithBaseURL(url string) Option {
	return func(c *Config) { c.BaseURL = url }
}

// WithModel sets the fallback model.
func WithModel(model string) Option {
	return func(c *Config) { c.Model = model }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.Timeout = d }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Model:   persona.DefaultModel,
		Timeout: 30 * time.Second,
		Logger:  slog.Default(),
	}
}

// Client calls the completion service.
type Client struct {
	config *Config
	client *openai.Client
	logger *slog.Logger
}

// New creates a client. It never fails for a missing key.
func New(opts ...Option) *Client {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	c := &Client{
		config: cfg,
		logger: cfg.Logger.With("component", "completion.Client"),
	}
	if cfg.APIKey != "" {
		oc := openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			oc.BaseURL = cfg.BaseURL
		}
		oc.HTTPClient = httpc.NewClient(cfg.Timeout)
		c.client = openai.NewClientWithConfig(oc)
	}
	return c
}

// Stubbed reports whether the client answers with placeholders.
func (c *Client) Stubbed() bool {
	return c.client == nil
}

// Complete sends prompt as the user turn under the persona's system prompt
// and returns the raw reply text. Role prefixes are left for the caller.
func (c *Client) Complete(ctx context.Context, prompt string, p *persona.Config) (string, error) {
	if p == nil {
		return "", ErrNoPersona
	}
	if c.client == nil {
		c.logger.Debug("no API key, returning stub", "persona", p.Name)
		return Stub(prompt, p), nil
	}

	req := openai.ChatCompletionRequest{
		Model: c.model(p),
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: p.SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: temperature(p),
		MaxTokens:   maxTokens(p),
		Stop:        p.Stop,
	}

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", wrapError(err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}

	text := resp.Choices[0].Message.Content
	c.logger.Debug("completion received",
		"persona", p.Name,
		"model", req.Model,
		"latency_ms", time.Since(start).Milliseconds(),
		"tokens", resp.Usage.TotalTokens,
	)
	return text, nil
}

func (c *Client) model(p *persona.Config) string {
	if p.Model != "" {
		return p.Model
	}
	if c.config.Model != "" {
		return c.config.Model
	}
	return persona.DefaultModel
}

func temperature(p *persona.Config) float32 {
	if p.Temperature == 0 {
		return persona.DefaultTemperature
	}
	return p.Temperature
}

func maxTokens(p *persona.Config) int {
	if p.MaxTokens <= 0 {
		return persona.DefaultMaxTokens
	}
	return p.MaxTokens
}

// Stub builds the placeholder reply used when no key is configured.
func Stub(prompt string, p *persona.Config) string {
	msg := prompt
	if i := strings.LastIndex(prompt, "User message: "); i >= 0 {
		msg = prompt[i+len("User message: "):]
		if j := strings.Index(msg, "\n\n"); j >= 0 {
			msg = msg[:j]
		}
	}
	if r := []rune(msg); len(r) > 80 {
		msg = string(r[:80]) + "..."
	}
	return fmt.Sprintf("%s %s received: %q", StubPrefix, p.DisplayName, msg)
}

func wrapError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		e := &APIError{
			StatusCode: apiErr.HTTPStatusCode,
			Message:    apiErr.Message,
			Type:       apiErr.Type,
			Err:        err,
		}
		if apiErr.Code != nil {
			e.Code = fmt.Sprint(apiErr.Code)
		}
		return e
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &APIError{StatusCode: reqErr.HTTPStatusCode, Message: reqErr.Error(), Err: err}
	}
	return &APIError{Message: err.Error(), Err: err}
}
