package intelligence

import (
	"context"
	"fmt"
	"strings"

	"github.com/oceanbase/scopemem-go/pkg/llm"
)

// LLMSummarizer compresses text with an LLM.
type LLMSummarizer struct {
	llm llm.Provider
}

// NewLLMSummarizer creates a summarizer backed by provider.
func NewLLMSummarizer(provider llm.Provider) *LLMSummarizer {
	return &LLMSummarizer{llm: provider}
}

// Summarize implements Summarizer. The caller still checks the size of the
// result; models do not reliably honor token limits.
func (s *LLMSummarizer) Summarize(ctx context.Context, text string, targetTokens int) (string, error) {
	if targetTokens <= 0 {
		return "", fmt.Errorf("summarize: non-positive target")
	}
	messages := []llm.Message{
		llm.System(fmt.Sprintf(
			"Compress the user's text to at most %d tokens. Keep names, numbers, dates and obligations. "+
				"Return only the compressed text.", targetTokens)),
		llm.User(text),
	}
	out, err := s.llm.GenerateWithMessages(ctx, messages,
		llm.WithMaxTokens(targetTokens), llm.WithTemperature(0))
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	return strings.TrimSpace(out), nil
}
