package intelligence

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/oceanbase/scopemem-go/pkg/llm"
	"github.com/oceanbase/scopemem-go/pkg/storage"
)

// Turn is one conversation turn handed to extraction.
type Turn struct {
	ConversationID string        `json:"conversation_id"`
	MessageID      string        `json:"message_id"`
	Messages       []llm.Message `json:"messages"`
}

// Extracted is a raw candidate fact produced by extraction.
type Extracted struct {
	Content    string             `json:"content"`
	Type       storage.MemoryType `json:"type"`
	Confidence float64            `json:"confidence"`
	SubjectKey string             `json:"subject,omitempty"`
	Attributes map[string]string  `json:"attributes,omitempty"`
	ValidFrom  *time.Time         `json:"valid_from,omitempty"`
}

// CandidateExtractor is the extraction collaborator.
type CandidateExtractor interface {
	ExtractCandidates(ctx context.Context, turn *Turn) ([]Extracted, error)
}

// LLMExtractor extracts candidate facts from a conversation turn using an
// LLM.
//
// Example usage:
//
//	extractor := NewLLMExtractor(provider, "")
//	candidates, err := extractor.ExtractCandidates(ctx, turn)
type LLMExtractor struct {
	// llm is the LLM provider for extraction.
	llm llm.Provider

	// customPrompt replaces the default system prompt when set.
	customPrompt string

	// now is the clock used for the "today" hint in the prompt.
	now func() time.Time
}

// NewLLMExtractor creates a new extractor. An empty prompt uses the default.
func NewLLMExtractor(provider llm.Provider, customPrompt string) *LLMExtractor {
	return &LLMExtractor{llm: provider, customPrompt: customPrompt, now: time.Now}
}

// Model returns the model name recorded as extraction provenance.
func (e *LLMExtractor) Model() string {
	if named, ok := e.llm.(interface{ Model() string }); ok {
		return named.Model()
	}
	return ""
}

// ExtractCandidates implements CandidateExtractor.
//
// The extraction process:
//  1. Formats the turn's user and assistant messages as a transcript
//  2. Calls the LLM with the extraction prompt
//  3. Parses the JSON response into typed candidates
//
// Candidates with empty content are dropped; unknown types become facts and
// confidence is clamped to [0,1] with 0.5 as the default.
func (e *LLMExtractor) ExtractCandidates(ctx context.Context, turn *Turn) ([]Extracted, error) {
	if turn == nil {
		return nil, nil
	}
	conversation := formatTurn(turn)
	if conversation == "" {
		return nil, nil
	}

	messages := []llm.Message{
		llm.System(e.systemPrompt()),
		llm.User(fmt.Sprintf("Input:\n%s", conversation)),
	}

	response, err := e.llm.GenerateWithMessages(ctx, messages, llm.WithTemperature(0))
	if err != nil {
		return nil, fmt.Errorf("failed to extract candidates: %w", err)
	}

	candidates, err := ParseExtraction(response)
	if err != nil {
		return nil, fmt.Errorf("failed to parse extraction response: %w", err)
	}
	return candidates, nil
}

func formatTurn(turn *Turn) string {
	var parts []string
	for _, msg := range turn.Messages {
		if msg.Role == "system" || strings.TrimSpace(msg.Content) == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %s", msg.Role, msg.Content))
	}
	return strings.Join(parts, "\n")
}

func (e *LLMExtractor) systemPrompt() string {
	if e.customPrompt != "" {
		return e.customPrompt
	}

	today := e.now().UTC().Format("2006-01-02")
	return fmt.Sprintf(`You extract durable knowledge from workplace conversations into distinct, self-contained memories.

Memory types: fact, preference, instruction, summary, entity, relationship, guideline.

Rules:
1. COMPLETE: each memory must be understandable on its own (who/what/when).
2. SEPARATE: extract distinct facts separately.
3. TEMPORAL: when the conversation says since when a fact holds, set "valid_from" (RFC 3339).
4. SUBJECT: when a fact describes a property that can change over time (a version, an owner, a status),
   set "subject" to a short stable key for that property, e.g. "billing-api.version".
5. Confidence is how certain the statement is, from 0.0 to 1.0.

Examples:
Input: user: Hi.
Output: {"candidates": []}

Input: user: Since February 15 the billing API uses v3.
Output: {"candidates": [{"content": "Billing API uses v3", "type": "fact", "confidence": 0.9, "subject": "billing-api.version", "valid_from": "2026-02-15T00:00:00Z"}]}

Input: user: Please always answer me in German.
Output: {"candidates": [{"content": "Prefers answers in German", "type": "preference", "confidence": 0.95}]}

Rules:
- Today: %s
- Return JSON only: {"candidates": [...]}
- If nothing is worth remembering, return an empty list
- Preserve input language`, today)
}

// ParseExtraction parses an extraction response. Markdown code fences are
// ignored.
func ParseExtraction(response string) ([]Extracted, error) {
	response = removeCodeBlocks(response)

	var result struct {
		Candidates []Extracted `json:"candidates"`
	}
	if err := json.Unmarshal([]byte(response), &result); err != nil {
		return nil, fmt.Errorf("invalid JSON response: %w", err)
	}

	candidates := make([]Extracted, 0, len(result.Candidates))
	for _, c := range result.Candidates {
		c.Content = strings.TrimSpace(c.Content)
		if c.Content == "" {
			continue
		}
		if !c.Type.Valid() {
			c.Type = storage.TypeFact
		}
		if c.Confidence <= 0 {
			c.Confidence = 0.5
		}
		c.Confidence = clamp01(c.Confidence)
		candidates = append(candidates, c)
	}
	return candidates, nil
}

// removeCodeBlocks removes code fences (```json ... ```) from a response.
func removeCodeBlocks(response string) string {
	response = strings.ReplaceAll(response, "```json", "")
	response = strings.ReplaceAll(response, "```", "")
	return strings.TrimSpace(response)
}
