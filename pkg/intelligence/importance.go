package intelligence

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/oceanbase/scopemem-go/pkg/llm"
	"github.com/oceanbase/scopemem-go/pkg/storage"
)

// ImportanceEvaluator estimates the initial importance of a memory.
//
// It supports two evaluation modes:
//   - LLM-based: asks the model for a score (requires a provider)
//   - Rule-based: keyword and memory-type heuristics
//
// The LLM path falls back to rules on any failure.
type ImportanceEvaluator struct {
	// llm is the provider for LLM-based evaluation. If nil, rules are used.
	llm llm.Provider

	// opts are passed to every generation call.
	opts []llm.GenerateOption
}

// NewImportanceEvaluator creates a new importance evaluator.
func NewImportanceEvaluator(provider llm.Provider, opts ...llm.GenerateOption) *ImportanceEvaluator {
	return &ImportanceEvaluator{llm: provider, opts: opts}
}

// typeBaseline is the starting importance per memory type.
var typeBaseline = map[storage.MemoryType]float64{
	storage.TypeGuideline:    0.6,
	storage.TypeInstruction:  0.5,
	storage.TypePreference:   0.4,
	storage.TypeFact:         0.3,
	storage.TypeEntity:       0.3,
	storage.TypeRelationship: 0.3,
	storage.TypeSummary:      0.2,
}

var importantKeywords = []string{
	"important", "critical", "urgent", "remember", "must", "always", "never",
	"deadline", "policy", "compliance", "security", "password", "secret", "confidential",
	"prefer", "preference", "like", "dislike",
}

// Evaluate returns an importance score between 0.0 and 1.0.
//
// Parameters:
//   - ctx: Context for cancellation
//   - content: Content to evaluate
//   - memoryType: Memory type, used by the rule-based baseline
func (e *ImportanceEvaluator) Evaluate(ctx context.Context, content string, memoryType storage.MemoryType) float64 {
	if e.llm != nil {
		score, err := e.evaluateWithLLM(ctx, content)
		if err == nil {
			return score
		}
	}
	return e.EvaluateWithRules(content, memoryType)
}

func (e *ImportanceEvaluator) evaluateWithLLM(ctx context.Context, content string) (float64, error) {
	systemPrompt := `You are an importance evaluator for an organizational knowledge base.
Rate how important it is to remember the given content on a scale from 0.0 to 1.0.
Consider durability, actionability, and how many people it affects.
Return a JSON object with an "importance_score" field.`

	messages := []llm.Message{
		llm.System(systemPrompt),
		llm.User(fmt.Sprintf("Content: %s\n\nReturn JSON: {\"importance_score\": 0.0-1.0}", content)),
	}

	response, err := e.llm.GenerateWithMessages(ctx, messages, e.opts...)
	if err != nil {
		return 0, err
	}
	return parseImportanceResponse(response)
}

// EvaluateWithRules scores content with heuristics only.
func (e *ImportanceEvaluator) EvaluateWithRules(content string, memoryType storage.MemoryType) float64 {
	score, ok := typeBaseline[memoryType]
	if !ok {
		score = 0.3
	}
	contentLower := strings.ToLower(content)

	// Length factor
	if len(content) > 200 {
		score += 0.1
	} else if len(content) > 80 {
		score += 0.05
	}

	for _, keyword := range importantKeywords {
		if strings.Contains(contentLower, keyword) {
			score += 0.05
		}
	}

	if strings.Contains(content, "!") {
		score += 0.05
	}

	return math.Min(score, 1.0)
}

var numberPattern = regexp.MustCompile(`\d+\.?\d*`)

// parseImportanceResponse extracts a score from a model response.
func parseImportanceResponse(response string) (float64, error) {
	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}") + 1
	if start >= 0 && end > start {
		var result struct {
			Score *float64 `json:"importance_score"`
		}
		if err := json.Unmarshal([]byte(response[start:end]), &result); err == nil && result.Score != nil {
			return clamp01(*result.Score), nil
		}
	}

	if match := numberPattern.FindString(response); match != "" {
		var score float64
		if _, err := fmt.Sscanf(match, "%f", &score); err == nil {
			return clamp01(score), nil
		}
	}

	return 0, fmt.Errorf("no importance score in response")
}
