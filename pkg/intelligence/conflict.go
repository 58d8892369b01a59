package intelligence

import (
	"time"

	"github.com/oceanbase/scopemem-go/pkg/storage"
)

// Outcome is the result kind of a conflict resolution.
type Outcome string

const (
	OutcomeNoConflict Outcome = "no_conflict"
	OutcomeSupersede  Outcome = "supersede"
	OutcomeFlag       Outcome = "flag"
)

// TieBreak selects the policy for memories with equal validFrom and equal
// confidence.
type TieBreak string

const (
	// TieBreakNewestCreated lets the most recently created row win and
	// flags the loser for review.
	TieBreakNewestCreated TieBreak = "newest_created_wins"

	// TieBreakFlagBoth closes neither row and flags both for review.
	TieBreakFlagBoth TieBreak = "flag_both"
)

// Resolution describes how two conflicting memories are reconciled. Winner
// and Loser are nil for NoConflict, and for Flag under TieBreakFlagBoth.
type Resolution struct {
	Outcome Outcome
	Winner  *storage.Memory
	Loser   *storage.Memory

	// Flagged lists memories that need human review.
	Flagged []*storage.Memory

	// Rule is the resolution rule that decided (1-4).
	Rule   int
	Reason string
}

// ConflictResolver reconciles two memories on the same subject in the same
// anchor. Subject identity is decided by the caller.
type ConflictResolver struct {
	tieBreak TieBreak
}

// NewConflictResolver creates a resolver with the given tie-break policy.
// An empty policy defaults to TieBreakNewestCreated.
func NewConflictResolver(tieBreak TieBreak) *ConflictResolver {
	if tieBreak == "" {
		tieBreak = TieBreakNewestCreated
	}
	return &ConflictResolver{tieBreak: tieBreak}
}

// Resolve decides the outcome for a and b without modifying them.
//
// Rules, in order:
//  1. A distinguishing attribute with different values: NoConflict.
//  2. Different validFrom: the later one supersedes.
//  3. Equal validFrom: strictly higher confidence wins; the loser is flagged.
//  4. All equal: the tie-break policy decides; the outcome is always Flag.
func (r *ConflictResolver) Resolve(a, b *storage.Memory) *Resolution {
	if a == nil || b == nil || a.ID == b.ID {
		return &Resolution{Outcome: OutcomeNoConflict, Reason: "same memory"}
	}
	if !a.IsOpen() || !b.IsOpen() {
		return &Resolution{Outcome: OutcomeNoConflict, Reason: "already closed"}
	}

	if distinguished(a, b) {
		return &Resolution{Outcome: OutcomeNoConflict, Rule: 1, Reason: "distinguishing attribute differs"}
	}

	if !a.ValidFrom.Equal(b.ValidFrom) {
		winner, loser := a, b
		if b.ValidFrom.After(a.ValidFrom) {
			winner, loser = b, a
		}
		return &Resolution{Outcome: OutcomeSupersede, Winner: winner, Loser: loser, Rule: 2, Reason: "later validFrom"}
	}

	if a.Confidence != b.Confidence {
		winner, loser := a, b
		if b.Confidence > a.Confidence {
			winner, loser = b, a
		}
		return &Resolution{
			Outcome: OutcomeSupersede, Winner: winner, Loser: loser,
			Flagged: []*storage.Memory{loser}, Rule: 3, Reason: "higher confidence",
		}
	}

	if r.tieBreak == TieBreakFlagBoth {
		return &Resolution{Outcome: OutcomeFlag, Flagged: []*storage.Memory{a, b}, Rule: 4, Reason: "tie, both flagged"}
	}

	winner, loser := a, b
	if b.CreatedAt.After(a.CreatedAt) || (b.CreatedAt.Equal(a.CreatedAt) && b.ID > a.ID) {
		winner, loser = b, a
	}
	return &Resolution{
		Outcome: OutcomeFlag, Winner: winner, Loser: loser,
		Flagged: []*storage.Memory{loser}, Rule: 4, Reason: "tie, newest created wins",
	}
}

// Apply returns updated copies of the memories the resolution changes. The
// loser is closed at the winner's validFrom when that is after the loser's
// own validFrom, otherwise at now, so validTo always exceeds validFrom.
// Flagged memories become pending unless private.
func (r *ConflictResolver) Apply(res *Resolution, now time.Time) []*storage.Memory {
	if res == nil || res.Outcome == OutcomeNoConflict {
		return nil
	}

	changed := make(map[int64]*storage.Memory)
	var order []int64
	get := func(m *storage.Memory) *storage.Memory {
		if c, ok := changed[m.ID]; ok {
			return c
		}
		c := m.Clone()
		changed[m.ID] = c
		order = append(order, m.ID)
		return c
	}

	if res.Loser != nil && res.Winner != nil {
		loser := get(res.Loser)
		closeAt := ClosingTime(res.Winner.ValidFrom, loser.ValidFrom, now)
		loser.ValidTo = &closeAt
		loser.UpdatedAt = now
	}

	for _, m := range res.Flagged {
		c := get(m)
		if c.Visibility != storage.VisibilityPrivate {
			c.ApprovalStatus = storage.ApprovalPending
			c.ApprovedAt = nil
			c.ApprovedByUserID = ""
		}
		c.UpdatedAt = now
	}

	out := make([]*storage.Memory, 0, len(order))
	for _, id := range order {
		out = append(out, changed[id])
	}
	return out
}

// ClosingTime returns the validTo for a superseded memory.
func ClosingTime(winnerFrom, loserFrom, now time.Time) time.Time {
	if winnerFrom.After(loserFrom) {
		return winnerFrom
	}
	if now.After(loserFrom) {
		return now
	}
	return loserFrom.Add(time.Second)
}

// distinguished reports whether a shared attribute has different values.
func distinguished(a, b *storage.Memory) bool {
	for k, va := range a.Attributes {
		if vb, ok := b.Attributes[k]; ok && vb != va {
			return true
		}
	}
	return false
}
