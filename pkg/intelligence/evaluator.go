package intelligence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oceanbase/scopemem-go/pkg/storage"
)

// Action is the outcome of evaluating a candidate.
type Action string

const (
	ActionAdd    Action = "ADD"
	ActionUpdate Action = "UPDATE"
	ActionMerge  Action = "MERGE"
	ActionSkip   Action = "SKIP"
)

// DefaultSimilarityThreshold is the cosine similarity above which two
// memories in the same anchor are near-duplicates.
const DefaultSimilarityThreshold = 0.9

// DefaultSameContentThreshold is the word-set similarity above which two
// near-duplicates are considered substantively the same, unless they differ
// in a number, a negation or a quantifier.
const DefaultSameContentThreshold = 0.8

// Candidate is a fragment under evaluation.
type Candidate struct {
	Content     string
	ContentHash string
	Embedding   []float64

	// AnchorKey is the anchor the candidate would be stored under.
	AnchorKey string

	SubjectKey string
	Attributes map[string]string
	Confidence float64

	// ValidFrom is set when the source states when the fact became true.
	ValidFrom *time.Time

	// Visible reports whether the contributor may see an existing memory.
	// Invisible memories are never returned as a target. Nil means every
	// memory is visible.
	Visible func(*storage.Memory) bool
}

func (c *Candidate) visible(m *storage.Memory) bool {
	return c.Visible == nil || c.Visible(m)
}

// Decision is the evaluator's verdict.
type Decision struct {
	Action Action

	// Target is the existing memory for UPDATE, MERGE and SKIP. It is nil
	// for a SKIP caused by a memory the contributor cannot see.
	Target *storage.Memory

	// Similarity is the similarity to Target.
	Similarity float64

	// MergedContent is the content to store for MERGE.
	MergedContent string

	// ConflictsWith lists open memories the new row must be resolved
	// against after an ADD.
	ConflictsWith []*storage.Memory

	Reason string
}

// Evaluator decides whether a candidate is novel, a near-duplicate of an
// existing memory in the same anchor, or a newer version of one.
//
// Near-duplicates are found by cosine similarity of embeddings. When either
// side has no embedding yet, word-set similarity is used instead.
//
// Example usage:
//
//	evaluator := NewEvaluator(store, 0.9)
//	decision, err := evaluator.Evaluate(ctx, candidate)
//	switch decision.Action {
//	case ActionAdd: ...
//	}
type Evaluator struct {
	// store is the memory store searched for near-duplicates.
	store storage.Store

	// threshold is the cosine similarity threshold for near-duplicates.
	threshold float64

	// sameThreshold is the word-set similarity at which content is the same.
	sameThreshold float64

	// scanLimit caps the number of open memories compared per anchor.
	scanLimit int
}

// NewEvaluator creates a new evaluator.
//
// Parameters:
//   - store: Memory store
//   - threshold: Cosine similarity threshold (0.0-1.0). If 0, defaults to 0.9.
func NewEvaluator(store storage.Store, threshold float64) *Evaluator {
	if threshold <= 0 {
		threshold = DefaultSimilarityThreshold
	}
	return &Evaluator{
		store:         store,
		threshold:     threshold,
		sameThreshold: DefaultSameContentThreshold,
		scanLimit:     1000,
	}
}

// Threshold returns the near-duplicate threshold.
func (e *Evaluator) Threshold() float64 { return e.threshold }

// Evaluate decides what to do with a candidate. It never writes.
//
// The decision procedure:
//  1. An open memory with the same normalized content hash in the anchor: SKIP.
//  2. Open memories sharing the candidate's subject key: ADD, then resolve
//     the new row against them.
//  3. The most similar open memory at or above the threshold:
//     - same content: SKIP
//     - candidate states a later validFrom: ADD, then resolve
//     - candidate confidence >= existing confidence: UPDATE
//     - candidate contributes novel words: MERGE
//     - otherwise: SKIP
//  4. No near-duplicate: ADD.
func (e *Evaluator) Evaluate(ctx context.Context, c *Candidate) (*Decision, error) {
	if c == nil || strings.TrimSpace(c.Content) == "" {
		return nil, fmt.Errorf("Evaluate: empty candidate")
	}
	if c.ContentHash == "" {
		c.ContentHash = ContentHash(c.Content)
	}

	existing, err := e.store.FindOpenByHash(ctx, c.AnchorKey, c.ContentHash)
	switch {
	case err == nil:
		// The anchor holds at most one open row per content hash, so an
		// invisible twin still blocks the write.
		d := &Decision{Action: ActionSkip, Target: existing, Similarity: 1, Reason: "identical content"}
		if !c.visible(existing) {
			d.Target = nil
		}
		return d, nil
	case !errors.Is(err, storage.ErrNotFound):
		return nil, fmt.Errorf("Evaluate: %w", err)
	}

	open, err := e.store.ListMemories(ctx, &storage.ListOptions{
		AnchorKeys: []string{c.AnchorKey},
		OpenOnly:   true,
		Limit:      e.scanLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("Evaluate: %w", err)
	}
	if c.Visible != nil {
		visible := open[:0]
		for _, m := range open {
			if c.Visible(m) {
				visible = append(visible, m)
			}
		}
		open = visible
	}

	if c.SubjectKey != "" {
		var same []*storage.Memory
		for _, m := range open {
			if m.SubjectKey != c.SubjectKey {
				continue
			}
			if e.sameContent(m.Content, c.Content) {
				return &Decision{Action: ActionSkip, Target: m, Similarity: 1, Reason: "same subject, same content"}, nil
			}
			same = append(same, m)
		}
		if len(same) > 0 {
			return &Decision{Action: ActionAdd, ConflictsWith: same, Reason: "same subject"}, nil
		}
	}

	best, similarity := e.nearest(c, open)
	if best == nil {
		return &Decision{Action: ActionAdd, Reason: "novel"}, nil
	}

	decision := &Decision{Target: best, Similarity: similarity}

	switch {
	case e.sameContent(best.Content, c.Content):
		decision.Action = ActionSkip
		decision.Reason = "same content"

	case c.ValidFrom != nil && c.ValidFrom.After(best.ValidFrom):
		decision.Action = ActionAdd
		decision.Target = nil
		decision.ConflictsWith = []*storage.Memory{best}
		decision.Reason = "newer version"

	case c.Confidence >= best.Confidence:
		decision.Action = ActionUpdate
		decision.Reason = "materially different, confidence not lower"

	default:
		novel := NovelWords(best.Content, c.Content)
		if len(novel) == 0 {
			decision.Action = ActionSkip
			decision.Reason = "lower confidence, nothing new"
			break
		}
		decision.Action = ActionMerge
		decision.MergedContent = MergeContent(best.Content, c.Content)
		decision.Reason = "lower confidence, novel details"
	}

	return decision, nil
}

// nearest returns the most similar open memory at or above the threshold.
func (e *Evaluator) nearest(c *Candidate, open []*storage.Memory) (*storage.Memory, float64) {
	var (
		best      *storage.Memory
		bestScore float64
	)
	for _, m := range open {
		var score float64
		if len(c.Embedding) > 0 && len(m.Embedding) > 0 {
			score = CosineSimilarity(c.Embedding, m.Embedding)
		} else {
			score = Jaccard(c.Content, m.Content)
		}
		if score >= e.threshold && score > bestScore {
			best, bestScore = m, score
		}
	}
	return best, bestScore
}

func (e *Evaluator) sameContent(a, b string) bool {
	na, nb := Normalize(a), Normalize(b)
	if na == nb {
		return true
	}
	if MaterialChange(na, nb) {
		return false
	}
	return Jaccard(na, nb) >= e.sameThreshold
}

// materialWords flip or scope a statement when added or removed. "t" is
// what remains of contractions such as "don't" after normalization.
var materialWords = map[string]struct{}{
	"not": {}, "no": {}, "never": {}, "none": {}, "nobody": {}, "nothing": {},
	"neither": {}, "nor": {}, "without": {}, "cannot": {}, "t": {},
	"always": {}, "all": {}, "every": {}, "each": {}, "any": {}, "only": {},
	"some": {}, "most": {}, "few": {}, "many": {},
}

// MaterialChange reports whether the word sets of a and b differ in a word
// holding a digit, a negation or a quantifier.
func MaterialChange(a, b string) bool {
	ta, tb := Tokens(a), Tokens(b)
	return materialDiff(ta, tb) || materialDiff(tb, ta)
}

func materialDiff(from, to map[string]struct{}) bool {
	for w := range from {
		if _, ok := to[w]; ok {
			continue
		}
		if _, ok := materialWords[w]; ok {
			return true
		}
		if strings.ContainsAny(w, "0123456789") {
			return true
		}
	}
	return false
}

// MergeContent appends the candidate's content to the existing content
// unless it is already contained in it.
func MergeContent(existing, candidate string) string {
	existing = strings.TrimSpace(existing)
	candidate = strings.TrimSpace(candidate)
	if strings.Contains(Normalize(existing), Normalize(candidate)) {
		return existing
	}
	sep := " "
	if !strings.HasSuffix(existing, ".") && !strings.HasSuffix(existing, ";") {
		sep = "; "
	}
	return existing + sep + candidate
}
