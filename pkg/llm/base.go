// Package llm is the language model collaborator of the memory engine.
//
// The engine calls a Provider for three jobs: extracting candidate memories
// from a conversation turn, compressing fragments that do not fit the token
// budget, and estimating importance. Every call is optional; without a
// provider the engine falls back to heuristics.
package llm

import "context"

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Defaults applied by ApplyGenerateOptions.
const (
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 1000
	DefaultTopP        = 1.0
)

// Provider generates text. Implemented by the OpenAI client, which also
// serves OpenAI-compatible endpoints (DeepSeek, DashScope, Ollama), and by
// the Anthropic client.
type Provider interface {
	// Generate answers a single user prompt.
	Generate(ctx context.Context, prompt string, opts ...GenerateOption) (string, error)

	// GenerateWithMessages answers a conversation. System messages carry
	// the instructions; the last message is normally the user's.
	GenerateWithMessages(ctx context.Context, messages []Message, opts ...GenerateOption) (string, error)

	Close() error
}

// Message is one conversation message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// System returns a system message.
func System(content string) Message { return Message{Role: RoleSystem, Content: content} }

// User returns a user message.
func User(content string) Message { return Message{Role: RoleUser, Content: content} }

// GenerateOptions are the requested sampling settings. A provider's
// ModelParams may override or drop them; see ModelParams.Apply.
type GenerateOptions struct {
	Temperature float64
	MaxTokens   int
	TopP        float64
	Stop        []string
}

// GenerateOption configures GenerateOptions.
type GenerateOption func(*GenerateOptions)

// WithTemperature sets the sampling temperature. Extraction and
// summarization use 0 for repeatable output.
func WithTemperature(temp float64) GenerateOption {
	return func(opts *GenerateOptions) {
		opts.Temperature = temp
	}
}

// WithMaxTokens caps the response length.
//
// Example:
//
//	out, _ := provider.GenerateWithMessages(ctx, msgs, llm.WithMaxTokens(target))
func WithMaxTokens(max int) GenerateOption {
	return func(opts *GenerateOptions) {
		opts.MaxTokens = max
	}
}

// WithTopP sets nucleus sampling.
func WithTopP(topP float64) GenerateOption {
	return func(opts *GenerateOptions) {
		opts.TopP = topP
	}
}

// WithStop ends generation at any of the given sequences.
func WithStop(stop ...string) GenerateOption {
	return func(opts *GenerateOptions) {
		opts.Stop = append(opts.Stop, stop...)
	}
}

// ApplyGenerateOptions folds opts over the package defaults.
func ApplyGenerateOptions(opts []GenerateOption) *GenerateOptions {
	options := &GenerateOptions{
		Temperature: DefaultTemperature,
		MaxTokens:   DefaultMaxTokens,
		TopP:        DefaultTopP,
	}
	for _, opt := range opts {
		opt(options)
	}
	return options
}
