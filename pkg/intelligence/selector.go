package intelligence

import (
	"context"
	"log"
	"sort"
	"strings"

	"github.com/oceanbase/scopemem-go/pkg/storage"
)

// Summarizer is the compression collaborator used when a fragment does not
// fit the remaining budget.
type Summarizer interface {
	Summarize(ctx context.Context, text string, targetTokens int) (string, error)
}

// Scored is a candidate memory with its score.
type Scored struct {
	Memory    *storage.Memory
	Breakdown Breakdown

	// Pinned items are included before the greedy pass.
	Pinned bool
}

// Selected is a fragment chosen for the context.
type Selected struct {
	Scored

	Content    string
	Tokens     int
	Compressed bool
	Truncated  bool
}

// DefaultMinFragmentTokens is the smallest shortened fragment worth
// including.
const DefaultMinFragmentTokens = 8

// Selector packs scored candidates into a token budget.
type Selector struct {
	counter     TokenCounter
	summarizer  Summarizer
	minFragment int
	logger      *log.Logger
}

// NewSelector creates a selector. summarizer may be nil, in which case
// oversized fragments are truncated.
func NewSelector(counter TokenCounter, summarizer Summarizer, logger *log.Logger) *Selector {
	if counter == nil {
		counter = NewTokenCounter("")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Selector{
		counter:     counter,
		summarizer:  summarizer,
		minFragment: DefaultMinFragmentTokens,
		logger:      logger,
	}
}

// Counter returns the token counter.
func (s *Selector) Counter() TokenCounter { return s.counter }

// Select picks fragments greedily by score, pinned items first.
//
// A candidate that does not fit the remaining budget is compressed to the
// remaining size, or truncated when compression is unavailable or still too
// large; after such an item the greedy pass stops. Pinned items that do not
// fit are shortened the same way but never end the pass. The total token
// count of the result never exceeds budget.
func (s *Selector) Select(ctx context.Context, candidates []Scored, budget int) []Selected {
	if budget <= 0 || len(candidates) == 0 {
		return nil
	}

	ordered := make([]Scored, len(candidates))
	copy(ordered, candidates)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Pinned != ordered[j].Pinned {
			return ordered[i].Pinned
		}
		if ordered[i].Breakdown.Total != ordered[j].Breakdown.Total {
			return ordered[i].Breakdown.Total > ordered[j].Breakdown.Total
		}
		return ordered[i].Memory.ID < ordered[j].Memory.ID
	})

	remaining := budget
	var selected []Selected

	for _, c := range ordered {
		if remaining <= 0 {
			break
		}
		content := strings.TrimSpace(c.Memory.Content)
		if content == "" {
			continue
		}

		size := s.counter.Count(content)
		if size <= remaining {
			selected = append(selected, Selected{Scored: c, Content: content, Tokens: size})
			remaining -= size
			continue
		}

		if remaining >= s.minFragment {
			if sel, ok := s.shorten(ctx, c, content, remaining); ok {
				selected = append(selected, sel)
				remaining -= sel.Tokens
			}
		}
		if !c.Pinned {
			break
		}
	}

	return selected
}

// shorten compresses or truncates content to at most target tokens.
func (s *Selector) shorten(ctx context.Context, c Scored, content string, target int) (Selected, bool) {
	sel := Selected{Scored: c}

	if s.summarizer != nil {
		summary, err := s.summarizer.Summarize(ctx, content, target)
		if err != nil {
			s.logger.Printf("[selector] summarize memory %d failed, truncating: %v", c.Memory.ID, err)
		} else if summary = strings.TrimSpace(summary); summary != "" {
			sel.Content = summary
			sel.Compressed = true
		}
	}
	if sel.Content == "" {
		sel.Content = content
	}

	sel.Tokens = s.counter.Count(sel.Content)
	if sel.Tokens > target {
		sel.Content = strings.TrimSpace(s.counter.Truncate(sel.Content, target))
		sel.Truncated = true
		sel.Tokens = s.counter.Count(sel.Content)
	}

	if sel.Content == "" || sel.Tokens > target || (sel.Truncated && sel.Tokens < s.minFragment) {
		return Selected{}, false
	}
	return sel, true
}
