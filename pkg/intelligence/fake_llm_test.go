package intelligence_test

import (
	"context"
	"errors"
	"sync"

	"github.com/oceanbase/scopemem-go/pkg/llm"
)

// fakeLLM returns canned responses and records the messages it was sent.
type fakeLLM struct {
	mu       sync.Mutex
	response string
	err      error
	calls    [][]llm.Message
	opts     []*llm.GenerateOptions
}

func (f *fakeLLM) Generate(ctx context.Context, prompt string, opts ...llm.GenerateOption) (string, error) {
	return f.GenerateWithMessages(ctx, []llm.Message{{Role: "user", Content: prompt}}, opts...)
}

func (f *fakeLLM) GenerateWithMessages(_ context.Context, messages []llm.Message, opts ...llm.GenerateOption) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, messages)
	f.opts = append(f.opts, llm.ApplyGenerateOptions(opts))
	return f.response, f.err
}

func (f *fakeLLM) Close() error { return nil }

func (f *fakeLLM) Model() string { return "fake-model" }

var errUnavailable = errors.New("unavailable")
