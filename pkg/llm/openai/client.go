// Package openai implements llm.Provider on the OpenAI chat completions
// API. Any OpenAI-compatible endpoint (DeepSeek, DashScope compatible mode,
// Ollama's /v1) works by setting BaseURL.
package openai

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/oceanbase/scopemem-go/pkg/llm"
)

// DefaultModel is used when Config.Model is empty.
const DefaultModel = openai.GPT4

// Client is an OpenAI LLM client.
type Client struct {
	client *openai.Client
	model  string
	params *llm.ModelParams
}

// Config is the configuration for the OpenAI LLM client.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string

	// Params constrains generation parameters for models that reject or
	// pin some of them. Nil passes requested values through.
	Params *llm.ModelParams
}

// NewClient creates a new OpenAI LLM client.
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("openai llm: nil config")
	}
	if err := cfg.Params.Validate(); err != nil {
		return nil, fmt.Errorf("openai llm: %w", err)
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	return &Client{
		client: openai.NewClientWithConfig(config),
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

	chatMessages := make([]openai.ChatCompletionMessage, len(messages))
	for i, msg := range messages {
		chatMessages[i] = openai.ChatCompletionMessage{Role: msg.Role, Content: msg.Content}
	}

	req := openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: chatMessages,
		Stop:     resolved.Stop,
	}
	if resolved.Temperature != nil {
		req.Temperature = float32(*resolved.Temperature)
	}
	if resolved.TopP != nil {
		req.TopP = float32(*resolved.TopP)
	}
	if resolved.MaxTokens != nil {
		req.MaxTokens = *resolved.MaxTokens
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("llm generation failed: no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

// Close implements llm.Provider. The SDK client holds no resources.
func (c *Client) Close() error {
	return nil
}
