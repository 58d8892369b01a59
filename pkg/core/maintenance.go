package core

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/oceanbase/scopemem-go/pkg/embedder"
	"github.com/oceanbase/scopemem-go/pkg/intelligence"
	"github.com/oceanbase/scopemem-go/pkg/sharing"
	"github.com/oceanbase/scopemem-go/pkg/storage"
)

// maxResolveAttempts bounds optimistic retries of a conflict resolution.
const maxResolveAttempts = 3

// sweepBatchSize is the page size of promotion sweeps.
const sweepBatchSize = 200

// RunDecayPass ages every memory as of now and archives the ones that fell
// below the retention floor. It is meant to be invoked by an external
// scheduler.
//
// Decay is a pure function of the time since the last access, so re-running
// a pass, or resuming an interrupted one with WithAfterID(report.Watermark),
// never decays a memory twice.
func (c *Client) RunDecayPass(ctx context.Context, now time.Time, opts ...DecayOption) (*DecayReport, error) {
	options := &DecayOptions{}
	for _, opt := range opts {
		opt(options)
	}
	if now.IsZero() {
		now = c.now()
	}
	report, err := c.intel.Decay.RunPass(ctx, now.UTC(), options.AfterID)
	if report != nil {
		c.logger.Printf("[decay] scanned=%d decayed=%d archived=%d failed=%d watermark=%d",
			report.Scanned, report.Decayed, report.Archived, report.Failed, report.Watermark)
	}
	return report, NewMemoryError("RunDecayPass", err)
}

// ResolveConflict reconciles two memories that address the same subject in
// the same anchor. The loser is closed, never deleted, and ambiguous cases
// are sent back to review.
//
// Writes use optimistic version checks; a memory that changed between read
// and write is re-read and the resolution recomputed.
func (c *Client) ResolveConflict(ctx context.Context, aID, bID int64) (*ConflictResult, error) {
	if aID == 0 || bID == 0 || aID == bID {
		return nil, invalidInput("ResolveConflict", "two distinct memory ids are required")
	}
	res, err := c.resolvePair(ctx, aID, bID)
	return res, NewMemoryError("ResolveConflict", err)
}

func (c *Client) resolvePair(ctx context.Context, aID, bID int64) (*ConflictResult, error) {
	for attempt := 0; attempt < maxResolveAttempts; attempt++ {
		a, err := c.store.GetMemory(ctx, aID)
		if err != nil {
			return nil, err
		}
		b, err := c.store.GetMemory(ctx, bID)
		if err != nil {
			return nil, err
		}
		if a.AnchorKey() != b.AnchorKey() {
			return &ConflictResult{Outcome: intelligence.OutcomeNoConflict, Reason: "different anchors"}, nil
		}

		now := c.now()
		resolution := c.intel.Conflicts.Resolve(a, b)
		result := &ConflictResult{Outcome: resolution.Outcome, Reason: resolution.Reason}
		if resolution.Winner != nil {
			result.WinnerID = resolution.Winner.ID
		}
		if resolution.Loser != nil {
			result.LoserID = resolution.Loser.ID
		}

		versions := map[int64]*storage.Memory{a.ID: a, b.ID: b}
		changed := c.intel.Conflicts.Apply(resolution, now)
		if len(changed) == 0 {
			return result, nil
		}

		updates := make([]storage.MemoryUpdate, 0, len(changed))
		var events []*storage.AuditEvent
		for _, next := range changed {
			before := versions[next.ID]
			updates = append(updates, storage.MemoryUpdate{Memory: next, ExpectedVersion: before.Version})
			events = append(events, resolutionEvents(before, next, resolution, now)...)
		}
		// Both rows are written together; a concurrent change to either
		// one rolls back the pair and the resolution is recomputed.
		if err := c.store.UpdateMemories(ctx, updates, events...); err != nil {
			if errors.Is(err, storage.ErrVersionConflict) {
				c.logger.Printf("[scopemem] resolving %d against %d raced (attempt %d), retrying", aID, bID, attempt+1)
				continue
			}
			return result, err
		}

		for _, next := range changed {
			before := versions[next.ID]
			if next.ValidTo != nil && before.ValidTo == nil {
				result.Superseded = append(result.Superseded, next.ID)
			}
			if next.ApprovalStatus == storage.ApprovalPending && before.ApprovalStatus != storage.ApprovalPending {
				result.Flagged = append(result.Flagged, next.ID)
			}
		}
		return result, nil
	}
	return nil, storage.ErrVersionConflict
}

// resolutionEvents are the superseded and flagged events of one row
// changed by a resolution.
func resolutionEvents(before, after *storage.Memory, res *intelligence.Resolution, now time.Time) []*storage.AuditEvent {
	id := strconv.FormatInt(after.ID, 10)
	var events []*storage.AuditEvent
	if after.ValidTo != nil && before.ValidTo == nil {
		events = append(events, &storage.AuditEvent{
			EventType:   storage.EventSuperseded,
			EntityType:  storage.EntityMemory,
			EntityID:    id,
			ActorUserID: "system:conflict",
			Before:      "valid_to=null",
			After:       fmt.Sprintf("valid_to=%s rule=%d", after.ValidTo.Format(time.RFC3339), res.Rule),
			Scope:       after.Anchor(),
			CreatedAt:   now,
		})
	}
	for _, f := range res.Flagged {
		if f.ID != after.ID {
			continue
		}
		events = append(events, &storage.AuditEvent{
			EventType:   storage.EventFlagged,
			EntityType:  storage.EntityMemory,
			EntityID:    id,
			ActorUserID: "system:conflict",
			Before:      string(before.ApprovalStatus),
			After:       fmt.Sprintf("%s: %s", after.ApprovalStatus, res.Reason),
			Scope:       after.Anchor(),
			CreatedAt:   now,
		})
	}
	return events
}

// RunPromotionSweep proposes sharing hot memories one level wider on behalf
// of their owners. Memories that already have a pending proposal are
// skipped.
func (c *Client) RunPromotionSweep(ctx context.Context, now time.Time) (*PromotionReport, error) {
	if now.IsZero() {
		now = c.now()
	}
	report := &PromotionReport{}
	var afterID int64
	for {
		if err := ctx.Err(); err != nil {
			return report, NewMemoryError("RunPromotionSweep", err)
		}
		batch, err := c.store.ListMemories(ctx, &storage.ListOptions{
			OpenOnly: true,
			AfterID:  afterID,
			Limit:    sweepBatchSize,
			Order:    storage.OrderByID,
		})
		if err != nil {
			return report, NewMemoryError("RunPromotionSweep", err)
		}

		for _, m := range batch {
			afterID = m.ID
			report.Scanned++
			if !c.intel.Promotion.ShouldPromote(m, now) {
				continue
			}
			visibility, scopeID, ok := intelligence.NextVisibility(m)
			if !ok {
				report.Skipped++
				continue
			}
			p, err := c.workflow.Propose(ctx, &sharing.ProposeRequest{
				MemoryID:         m.ID,
				ActorID:          m.OwnerUserID,
				TargetVisibility: visibility,
				TargetScopeID:    scopeID,
				Confidence:       m.Confidence,
				SupportingEvidence: []string{
					fmt.Sprintf("access_count=%d", m.AccessCount),
					fmt.Sprintf("importance=%.2f", m.Importance),
				},
			})
			switch {
			case err == nil:
				report.Proposed = append(report.Proposed, p.ID)
			case errors.Is(err, storage.ErrConflict), errors.Is(err, sharing.ErrInvalidProposal),
				errors.Is(err, sharing.ErrPermissionDenied):
				report.Skipped++
			default:
				report.Failed++
				c.logger.Printf("[scopemem] promotion of memory %d failed: %v", m.ID, err)
			}
		}

		if len(batch) < sweepBatchSize {
			return report, nil
		}
	}
}

// RetryPendingEmbeddings embeds up to limit memories stored without an
// embedding and returns how many were fixed. Rows that changed meanwhile are
// left for the next run.
func (c *Client) RetryPendingEmbeddings(ctx context.Context, limit int) (int, error) {
	const op = "RetryPendingEmbeddings"
	if c.embedder == nil {
		return 0, nil
	}
	if limit <= 0 {
		limit = 100
	}
	pending, err := c.store.ListMemories(ctx, &storage.ListOptions{
		EmbeddingPending: true,
		Limit:            limit,
		Order:            storage.OrderByID,
	})
	if err != nil || len(pending) == 0 {
		return 0, NewMemoryError(op, err)
	}

	texts := make([]string, len(pending))
	for i, m := range pending {
		texts[i] = m.Content
	}
	vectors, err := c.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, NewMemoryError(op, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err))
	}
	if len(vectors) != len(pending) {
		return 0, NewMemoryError(op, fmt.Errorf("%w: got %d vectors for %d texts", ErrEmbeddingFailed, len(vectors), len(pending)))
	}

	fixed := 0
	for i, m := range pending {
		if err := embedder.CheckVector(c.embedder, vectors[i]); err != nil {
			c.logger.Printf("[scopemem] embedding of memory %d rejected: %v", m.ID, err)
			continue
		}
		next := m.Clone()
		next.Embedding = vectors[i]
		next.EmbeddingPending = false
		next.UpdatedAt = c.now()
		if err := c.store.UpdateMemory(ctx, next, m.Version); err != nil {
			c.logger.Printf("[scopemem] storing embedding of memory %d failed: %v", m.ID, err)
			continue
		}
		fixed++
	}
	return fixed, nil
}
