// Package anthropic implements llm.Provider on the Anthropic Messages API.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/oceanbase/scopemem-go/pkg/llm"
)

// DefaultModel is used when Config.Model is empty.
const DefaultModel = "claude-3-5-sonnet-20240620"

// Client is an Anthropic LLM client.
// System messages are sent in the request's system field, as the Messages
// API requires.
type Client struct {
	client anthropic.Client
	model  string
	params *llm.ModelParams
}

// Config is the configuration for the Anthropic LLM client.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string

	// Params constrains generation parameters. Several Claude models reject
	// temperature and top_p in the same request; Unsupported drops one.
	Params *llm.ModelParams
}

// NewClient creates a new Anthropic LLM client.
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil || cfg.APIKey == "" {
		return nil, errors.New("anthropic llm: API key is required")
	}
	if err := cfg.Params.Validate(); err != nil {
		return nil, fmt.Errorf("anthropic llm: %w", err)
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	return &Client{
		client: anthropic.NewClient(opts...),
		model:  model,
		params: cfg.Params,
	}, nil
}

// Model returns the model name.
func (c *Client) Model() string { return c.model }

// Generate implements llm.Provider.
func (c *Client) Generate(ctx context.Context, prompt string, opts ...llm.GenerateOption) (string, error) {
	return c.GenerateWithMessages(ctx, []llm.Message{llm.User(prompt)}, opts...)
}

// GenerateWithMessages implements llm.Provider.
func (c *Client) GenerateWithMessages(ctx context.Context, messages []llm.Message, opts ...llm.GenerateOption) (string, error) {
	resolved := c.params.Apply(llm.ApplyGenerateOptions(opts))

	params := anthropic.MessageNewParams{
		Model:         anthropic.Model(c.model),
		MaxTokens:     1024,
		StopSequences: resolved.Stop,
	}
	if resolved.MaxTokens != nil {
		params.MaxTokens = int64(*resolved.MaxTokens)
	}
	if resolved.Temperature != nil {
		params.Temperature = anthropic.Float(*resolved.Temperature)
	}
	if resolved.TopP != nil {
		params.TopP = anthropic.Float(*resolved.TopP)
	}

	for _, msg := range messages {
		switch msg.Role {
		case llm.RoleSystem:
			params.System = append(params.System, anthropic.TextBlockParam{Text: msg.Content})
		case llm.RoleAssistant:
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}
	if len(params.Messages) == 0 {
		return "", errors.New("anthropic llm: at least one user message is required")
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic llm: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return "", errors.New("llm generation failed: no text content returned")
	}
	return text.String(), nil
}

// Close implements llm.Provider. The SDK client holds no resources.
func (c *Client) Close() error {
	return nil
}
