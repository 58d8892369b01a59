package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/oceanbase/scopemem-go/pkg/embedder"
	"github.com/oceanbase/scopemem-go/pkg/intelligence"
	"github.com/oceanbase/scopemem-go/pkg/storage"
)

// AssembleContext selects the memories most relevant to query that the
// caller may see, packed into tokenBudget tokens.
//
// The assembly process:
//  1. Reads open candidates anchored in the caller's scope chain, plus the
//     caller's own memories, valid at the query time
//  2. Drops everything the caller may not see
//  3. Scores candidates with the profile until the soft deadline; the
//     unscored tail is dropped and the result marked incomplete
//  4. Selects greedily within the budget, pinned memories first
//  5. Records an access on every selected memory
//
// A zero profile uses AssemblyProfile. The total size of the returned
// fragments never exceeds tokenBudget.
//
// Example:
//
//	caller := &core.CallerContext{UserID: "bob", OrganizationID: "org1", GroupIDs: []string{"g1"}}
//	result, err := client.AssembleContext(ctx, caller, "customer data rules", 500, core.AssemblyProfile)
//	for _, f := range result.Fragments {
//	    fmt.Println(f.Content, f.Score)
//	}
func (c *Client) AssembleContext(ctx context.Context, caller *CallerContext, query string, tokenBudget int,
	profile ScoringProfile, opts ...AssembleOption) (*ContextResult, error) {
	const op = "AssembleContext"
	if caller == nil || caller.UserID == "" {
		return nil, invalidInput(op, "caller is required")
	}
	if tokenBudget <= 0 {
		return nil, invalidInput(op, "token budget must be positive")
	}
	if profile == (ScoringProfile{}) {
		profile = AssemblyProfile
	}
	if err := profile.Validate(); err != nil {
		return nil, invalidInput(op, "%v", err)
	}

	options := applyAssembleOptions(opts)
	now := c.now()
	asOf := now
	if options.AsOf != nil {
		asOf = options.AsOf.UTC()
	}
	limit := options.CandidateLimit
	if limit <= 0 {
		limit = c.engine.CandidateLimit
	}
	softDeadline := options.SoftDeadline
	if softDeadline <= 0 {
		softDeadline = c.engine.SoftDeadline
	}
	deadline := time.Now().Add(softDeadline)

	result := &ContextResult{Budget: tokenBudget, AsOf: asOf}

	q := intelligence.Query{Text: query}
	if c.embedder != nil && strings.TrimSpace(query) != "" {
		vec, err := c.embedder.Embed(ctx, query)
		if err == nil {
			err = embedder.CheckVector(c.embedder, vec)
		}
		if err != nil {
			c.logger.Printf("[scopemem] query embedding failed, using keyword relevance: %v", err)
		} else {
			q.Embedding = vec
		}
	}

	candidates, err := c.store.ListMemories(ctx, &storage.ListOptions{
		AnchorKeys:  c.resolver.AnchorKeys(caller),
		OwnerUserID: caller.UserID,
		AsOf:        &asOf,
		Limit:       limit + 1,
		Order:       storage.OrderByImportance,
	})
	if err != nil {
		return nil, NewMemoryError(op, fmt.Errorf("%w: %v", ErrStorageOperation, err))
	}
	if len(candidates) > limit {
		candidates = candidates[:limit]
		result.Incomplete = true
		result.IncompleteReason = fmt.Sprintf("candidate limit %d reached", limit)
	}

	visible := c.resolver.Filter(ctx, candidates, caller)

	scored := make([]intelligence.Scored, 0, len(visible))
	for i, m := range visible {
		if time.Now().After(deadline) || ctx.Err() != nil {
			result.Incomplete = true
			result.IncompleteReason = fmt.Sprintf("soft deadline reached after ranking %d of %d candidates", i, len(visible))
			break
		}
		scored = append(scored, intelligence.Scored{
			Memory:    m,
			Breakdown: c.intel.Scorer.Score(m, q, asOf, profile),
			Pinned:    isPinned(m),
		})
	}
	if err := ctx.Err(); err != nil {
		return nil, NewMemoryError(op, err)
	}
	result.Considered = len(scored)

	selected := c.intel.Selector.Select(ctx, scored, tokenBudget)
	result.Fragments = make([]Fragment, 0, len(selected))
	for _, s := range selected {
		result.Fragments = append(result.Fragments, toFragment(s))
		result.Used += s.Tokens
	}

	c.recordAccess(ctx, caller.UserID, selected, now)
	return result, nil
}

// isPinned reports whether a memory is force-included before the greedy
// pass: explicitly pinned memories and organization-wide guidelines.
func isPinned(m *storage.Memory) bool {
	return m.Pinned || (m.MemoryType == storage.TypeGuideline && m.Visibility == storage.VisibilityOrganization)
}

// recordAccess bumps the access statistics of selected memories. Lost
// increments are tolerated; failures are logged.
func (c *Client) recordAccess(ctx context.Context, actorID string, selected []intelligence.Selected, now time.Time) {
	if len(selected) == 0 {
		return
	}
	events := make([]*storage.AuditEvent, 0, len(selected))
	for _, s := range selected {
		m := s.Memory
		current := c.intel.Decay.DecayedImportance(m.BaseImportance, m.LastTouched(), now)
		base := c.intel.Decay.Reinforce(current)
		if err := c.store.RecordAccess(ctx, m.ID, now, base); err != nil {
			c.logger.Printf("[scopemem] access bump for memory %d failed: %v", m.ID, err)
			continue
		}
		events = append(events, accessedEvent(m, actorID, "selected", now))
	}
	if len(events) > 0 {
		c.audit(ctx, events...)
	}
}
