package core

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/oceanbase/scopemem-go/pkg/embedder"
	"github.com/oceanbase/scopemem-go/pkg/intelligence"
	"github.com/oceanbase/scopemem-go/pkg/storage"
)

// maxIngestAttempts bounds the re-evaluations after a lost write race.
const maxIngestAttempts = 3

// IngestCandidate stores a candidate fragment unless an equivalent memory
// already exists in the same scope anchor.
//
// The candidate is embedded, then evaluated against the open memories of its
// anchor:
//   - ADD: a new row is created; private rows are approved, shared rows
//     pending. Rows the new one contradicts are resolved against it.
//   - UPDATE: the near-duplicate gets the new content and confidence.
//   - MERGE: novel details are appended to the near-duplicate.
//   - SKIP: nothing is written and no access is recorded.
//
// When two writers race to create the same memory, the loser re-evaluates
// and ends in UPDATE or SKIP. Ingesting the same candidate twice yields
// SKIP the second time.
//
// An unavailable embedding collaborator does not fail ingestion: the row is
// stored without an embedding and retried by RetryPendingEmbeddings.
func (c *Client) IngestCandidate(ctx context.Context, cand *Candidate) (*IngestResult, error) {
	const op = "IngestCandidate"
	if err := c.validateCandidate(ctx, cand); err != nil {
		return nil, err
	}

	now := c.now()
	row := toStorageMemory(cand, now)
	if row.Confidence == 0 {
		row.Confidence = 0.5
	}
	row.Embedding, row.EmbeddingPending = c.embed(ctx, row.Content)

	contributor := contributorOf(row)
	visible := func(m *storage.Memory) bool { return c.resolver.CanSee(ctx, contributor, m) }

	var lastErr error
	for attempt := 0; attempt < maxIngestAttempts; attempt++ {
		evalCand := toEvaluatorCandidate(row, cand.ValidFrom != nil)
		evalCand.Visible = visible
		decision, err := c.intel.Evaluator.Evaluate(ctx, evalCand)
		if err != nil {
			return nil, NewMemoryError(op, fmt.Errorf("%w: %v", ErrStorageOperation, err))
		}

		var result *IngestResult
		switch decision.Action {
		case intelligence.ActionSkip:
			if decision.Target == nil {
				return &IngestResult{Action: intelligence.ActionSkip, Reason: decision.Reason}, nil
			}
			return &IngestResult{
				Action:   intelligence.ActionSkip,
				MemoryID: decision.Target.ID,
				Memory:   decision.Target,
				Reason:   decision.Reason,
			}, nil
		case intelligence.ActionAdd:
			result, err = c.add(ctx, cand, row.Clone(), decision)
		case intelligence.ActionUpdate, intelligence.ActionMerge:
			result, err = c.revise(ctx, row, decision)
		default:
			return nil, NewMemoryError(op, fmt.Errorf("unknown action %q", decision.Action))
		}

		switch {
		case err == nil:
			result.Reason = decision.Reason
			return result, nil
		case errors.Is(err, storage.ErrDuplicate), errors.Is(err, storage.ErrVersionConflict):
			lastErr = err
			c.logger.Printf("[scopemem] %s lost a write race (attempt %d): %v", op, attempt+1, err)
		default:
			return nil, NewMemoryError(op, err)
		}
	}
	return nil, NewMemoryError(op, lastErr)
}

// contributorOf is the caller a row is written by, placed in the row's own
// scopes. Ingestion only matches memories this caller may see.
func contributorOf(row *storage.Memory) *CallerContext {
	caller := &CallerContext{
		UserID:         row.ContributedByUserID,
		OrganizationID: row.OrganizationID,
		SpaceID:        row.SpaceID,
		AreaID:         row.AreaID,
		TaskID:         row.TaskID,
	}
	if row.GroupID != "" {
		caller.GroupIDs = []string{row.GroupID}
	}
	return caller
}

// validateCandidate checks the candidate and the legality of its scope.
func (c *Client) validateCandidate(ctx context.Context, cand *Candidate) error {
	const op = "IngestCandidate"
	if cand == nil || strings.TrimSpace(cand.Content) == "" {
		return invalidInput(op, "content is required")
	}
	if cand.OwnerUserID == "" {
		return invalidInput(op, "owner is required")
	}
	if cand.Confidence < 0 || cand.Confidence > 1 || math.IsNaN(cand.Confidence) {
		return invalidInput(op, "confidence must be within [0, 1]")
	}
	if cand.MemoryType != "" && !cand.MemoryType.Valid() {
		return invalidInput(op, "unknown memory type %q", cand.MemoryType)
	}

	visibility := cand.Visibility
	if visibility == "" {
		visibility = storage.VisibilityPrivate
	}
	if !visibility.Valid() {
		return invalidInput(op, "unknown visibility %q", cand.Visibility)
	}
	if cand.ValidFrom != nil && cand.ValidFrom.IsZero() {
		return invalidInput(op, "valid_from must not be zero")
	}
	if visibility == storage.VisibilityPrivate {
		return nil
	}

	draft := toStorageMemory(cand, c.now())
	anchor := draft.Anchor()
	if anchor.IsZero() {
		return invalidInput(op, "visibility %s needs a %s id", visibility, visibility.Level())
	}

	switch visibility {
	case storage.VisibilitySpace, storage.VisibilityArea:
		ok, err := c.resolver.Access().CanAccessScope(ctx, cand.OwnerUserID, anchor)
		if err != nil {
			return NewMemoryError(op, err)
		}
		if !ok {
			return NewMemoryError(op, fmt.Errorf("%w: %s cannot access %s", ErrPermissionDenied, cand.OwnerUserID, anchor))
		}
	}
	return nil
}

// embed returns the embedding of text, or nil and true when the collaborator
// failed and the row must be retried later.
func (c *Client) embed(ctx context.Context, text string) ([]float64, bool) {
	if c.embedder == nil {
		return nil, false
	}
	vec, err := c.embedder.Embed(ctx, text)
	if err == nil {
		err = embedder.CheckVector(c.embedder, vec)
	}
	if err != nil {
		c.logger.Printf("[scopemem] embedding failed, storing without one: %v", err)
		return nil, true
	}
	return vec, false
}

// add inserts a new row and resolves it against the memories it
// contradicts.
func (c *Client) add(ctx context.Context, cand *Candidate, row *storage.Memory, decision *intelligence.Decision) (*IngestResult, error) {
	now := c.now()
	row.ID = c.snowflakeNode.Generate().Int64()

	importance := cand.Importance
	if importance <= 0 {
		importance = c.intel.Importance.Evaluate(ctx, row.Content, row.MemoryType)
	}
	row.Importance = clampUnit(importance)
	row.BaseImportance = row.Importance

	if row.Visibility == storage.VisibilityPrivate {
		row.ApprovalStatus = storage.ApprovalApproved
	} else {
		row.ApprovalStatus = storage.ApprovalPending
	}
	row.Version = 1

	if err := c.store.InsertMemory(ctx, row); err != nil {
		return nil, err
	}
	c.audit(ctx, &storage.AuditEvent{
		EventType:   storage.EventCreated,
		EntityType:  storage.EntityMemory,
		EntityID:    strconv.FormatInt(row.ID, 10),
		ActorUserID: row.ContributedByUserID,
		After:       fmt.Sprintf("visibility=%s approval=%s", row.Visibility, row.ApprovalStatus),
		Scope:       row.Anchor(),
		CreatedAt:   now,
	})

	result := &IngestResult{Action: intelligence.ActionAdd, MemoryID: row.ID, Memory: row}
	for _, other := range decision.ConflictsWith {
		res, err := c.resolvePair(ctx, row.ID, other.ID)
		if err != nil {
			c.logger.Printf("[scopemem] resolving memory %d against %d failed: %v", row.ID, other.ID, err)
			continue
		}
		result.Superseded = append(result.Superseded, res.Superseded...)
		result.Flagged = append(result.Flagged, res.Flagged...)
	}
	if len(decision.ConflictsWith) > 0 {
		if fresh, err := c.store.GetMemory(ctx, row.ID); err == nil {
			result.Memory = fresh
		}
	}
	return result, nil
}

// revise applies an UPDATE or MERGE to the decision's target.
func (c *Client) revise(ctx context.Context, row *storage.Memory, decision *intelligence.Decision) (*IngestResult, error) {
	now := c.now()
	target := decision.Target
	next := target.Clone()

	event := storage.EventUpdated
	if decision.Action == intelligence.ActionMerge {
		event = storage.EventMerged
		next.Content = decision.MergedContent
		next.Embedding, next.EmbeddingPending = c.embed(ctx, next.Content)
	} else {
		next.Content = row.Content
		next.Embedding = row.Embedding
		next.EmbeddingPending = row.EmbeddingPending
		next.Confidence = math.Max(target.Confidence, row.Confidence)
		if row.SubjectKey != "" {
			next.SubjectKey = row.SubjectKey
		}
		if len(row.Attributes) > 0 {
			next.Attributes = row.Attributes
		}
		if row.SourceConversationID != "" {
			next.SourceConversationID = row.SourceConversationID
			next.SourceMessageID = row.SourceMessageID
			next.ExtractionModel = row.ExtractionModel
		}
	}
	next.ContentHash = intelligence.ContentHash(next.Content)
	next.UpdatedAt = now

	if err := c.store.UpdateMemory(ctx, next, target.Version); err != nil {
		return nil, err
	}
	c.audit(ctx, &storage.AuditEvent{
		EventType:   event,
		EntityType:  storage.EntityMemory,
		EntityID:    strconv.FormatInt(target.ID, 10),
		ActorUserID: row.ContributedByUserID,
		Before:      target.Content,
		After:       next.Content,
		Scope:       next.Anchor(),
		CreatedAt:   now,
	})
	return &IngestResult{Action: decision.Action, MemoryID: next.ID, Memory: next}, nil
}

func clampUnit(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
