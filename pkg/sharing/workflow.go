// Package sharing implements the approval workflow that widens the
// visibility of a memory.
//
// A proposal moves from pending to exactly one of approved, rejected or
// withdrawn; all three are final. At most one pending proposal exists per
// memory, and an approval closes the proposal and rewrites the memory in a
// single transaction. Every transition appends an audit event.
package sharing

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oceanbase/scopemem-go/pkg/hierarchy"
	"github.com/oceanbase/scopemem-go/pkg/storage"
)

var (
	// ErrPermissionDenied indicates that the actor may not perform the
	// transition.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrInvalidProposal indicates a proposal that does not widen the
	// memory's visibility or names an unusable target scope.
	ErrInvalidProposal = errors.New("invalid proposal")
)

// Decision is a reviewer's verdict.
type Decision string

const (
	DecisionApprove Decision = "approved"
	DecisionReject  Decision = "rejected"
)

// ParseDecision accepts "approve", "approved", "reject" and "rejected".
func ParseDecision(s string) (Decision, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "approve", "approved":
		return DecisionApprove, nil
	case "reject", "rejected":
		return DecisionReject, nil
	}
	return "", fmt.Errorf("unknown decision %q", s)
}

// ProposeRequest asks to widen a memory's visibility.
type ProposeRequest struct {
	MemoryID           int64
	ActorID            string
	TargetVisibility   storage.Visibility
	TargetScopeID      string
	Confidence         float64
	SupportingEvidence []string
}

// DefaultNotifyTimeout bounds a single notification.
const DefaultNotifyTimeout = 10 * time.Second

// maxApproveAttempts bounds re-reads when the memory changes during review.
const maxApproveAttempts = 3

// Workflow is the sharing state machine.
type Workflow struct {
	store    storage.Store
	resolver *hierarchy.Resolver
	notifier Notifier
	logger   *log.Logger
	now      func() time.Time

	notifyTimeout time.Duration
	pending       sync.WaitGroup
}

// Option configures a Workflow.
type Option func(*Workflow)

// WithNotifier sets the approver notification collaborator.
func WithNotifier(n Notifier) Option {
	return func(w *Workflow) { w.notifier = n }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(w *Workflow) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(w *Workflow) {
		if now != nil {
			w.now = now
		}
	}
}

// WithNotifyTimeout bounds each notification.
func WithNotifyTimeout(d time.Duration) Option {
	return func(w *Workflow) {
		if d > 0 {
			w.notifyTimeout = d
		}
	}
}

// NewWorkflow creates a workflow.
func NewWorkflow(store storage.Store, resolver *hierarchy.Resolver, opts ...Option) *Workflow {
	w := &Workflow{
		store:         store,
		resolver:      resolver,
		logger:        log.Default(),
		now:           time.Now,
		notifyTimeout: DefaultNotifyTimeout,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.resolver == nil {
		w.resolver = hierarchy.NewResolver(nil, w.logger)
	}
	return w
}

// Propose creates a pending proposal. The actor must own the memory or
// manage its current scope, and the target must be strictly wider than the
// current visibility. A second pending proposal for the same memory fails
// with storage.ErrConflict.
func (w *Workflow) Propose(ctx context.Context, req *ProposeRequest) (*storage.Proposal, error) {
	if req == nil || req.ActorID == "" || req.MemoryID == 0 {
		return nil, fmt.Errorf("Propose: %w: missing memory or actor", ErrInvalidProposal)
	}

	m, err := w.store.GetMemory(ctx, req.MemoryID)
	if err != nil {
		return nil, fmt.Errorf("Propose: %w", err)
	}
	if !w.mayChange(ctx, req.ActorID, m) {
		return nil, fmt.Errorf("Propose: %w", ErrPermissionDenied)
	}

	scopeID, err := targetScope(m, req.TargetVisibility, req.TargetScopeID)
	if err != nil {
		return nil, fmt.Errorf("Propose: %w", err)
	}

	now := w.now().UTC()
	p := &storage.Proposal{
		ID:                 uuid.NewString(),
		MemoryID:           m.ID,
		ProposedVisibility: req.TargetVisibility,
		ProposedScopeID:    scopeID,
		ProposedByUserID:   req.ActorID,
		ProposedAt:         now,
		Status:             storage.ProposalPending,
		ConfidenceScore:    req.Confidence,
		SupportingEvidence: req.SupportingEvidence,
	}

	event := &storage.AuditEvent{
		EventType:   storage.EventProposed,
		EntityType:  storage.EntityProposal,
		EntityID:    p.ID,
		ActorUserID: req.ActorID,
		Before:      string(m.Visibility),
		After:       fmt.Sprintf("%s:%s", p.ProposedVisibility, p.ProposedScopeID),
		Scope:       p.TargetScope(),
		CreatedAt:   now,
	}
	if err := w.store.CreateProposal(ctx, p, event); err != nil {
		return nil, fmt.Errorf("Propose: %w", err)
	}

	w.logger.Printf("[sharing] proposal %s created for memory %d by %s", p.ID, m.ID, req.ActorID)
	w.notify(p)
	return p, nil
}

// Review approves or rejects a pending proposal. The actor must manage the
// target scope. A proposal that is no longer pending yields
// storage.ErrConflict and nothing is written.
func (w *Workflow) Review(ctx context.Context, proposalID, actorID string, decision Decision, notes string) (*storage.Proposal, error) {
	p, err := w.store.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, fmt.Errorf("Review: %w", err)
	}
	if p.Status != storage.ProposalPending {
		return nil, fmt.Errorf("Review: proposal is %s: %w", p.Status, storage.ErrConflict)
	}
	if !w.resolver.CanManage(ctx, actorID, p.TargetScope()) {
		return nil, fmt.Errorf("Review: %w", ErrPermissionDenied)
	}

	switch decision {
	case DecisionApprove:
		err = w.approve(ctx, p, actorID, notes)
	case DecisionReject:
		err = w.close(ctx, p, storage.ProposalRejected, storage.EventRejected, actorID, notes)
	default:
		err = fmt.Errorf("unknown decision %q", decision)
	}
	if err != nil {
		return nil, fmt.Errorf("Review: %w", err)
	}
	return p, nil
}

// Withdraw closes a pending proposal on behalf of its proposer or the
// memory's owner.
func (w *Workflow) Withdraw(ctx context.Context, proposalID, actorID string) (*storage.Proposal, error) {
	p, err := w.store.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, fmt.Errorf("Withdraw: %w", err)
	}
	if p.Status != storage.ProposalPending {
		return nil, fmt.Errorf("Withdraw: proposal is %s: %w", p.Status, storage.ErrConflict)
	}
	if actorID != p.ProposedByUserID {
		m, err := w.store.GetMemory(ctx, p.MemoryID)
		if err != nil {
			return nil, fmt.Errorf("Withdraw: %w", err)
		}
		if m.OwnerUserID != actorID {
			return nil, fmt.Errorf("Withdraw: %w", ErrPermissionDenied)
		}
	}

	if err := w.close(ctx, p, storage.ProposalWithdrawn, storage.EventWithdrawn, actorID, ""); err != nil {
		return nil, fmt.Errorf("Withdraw: %w", err)
	}
	return p, nil
}

// Unshare returns a shared memory to private visibility. The actor must own
// the memory or manage its current scope.
func (w *Workflow) Unshare(ctx context.Context, memoryID int64, actorID string) (*storage.Memory, error) {
	for attempt := 0; attempt < maxApproveAttempts; attempt++ {
		m, err := w.store.GetMemory(ctx, memoryID)
		if err != nil {
			return nil, fmt.Errorf("Unshare: %w", err)
		}
		if !w.mayChange(ctx, actorID, m) {
			return nil, fmt.Errorf("Unshare: %w", ErrPermissionDenied)
		}
		if m.Visibility == storage.VisibilityPrivate {
			return m, nil
		}

		now := w.now().UTC()
		next := m.Clone()
		next.Visibility = storage.VisibilityPrivate
		next.ApprovalStatus = storage.ApprovalApproved
		next.UpdatedAt = now

		err = w.store.UpdateMemory(ctx, next, m.Version)
		if errors.Is(err, storage.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("Unshare: %w", err)
		}

		w.audit(ctx, &storage.AuditEvent{
			EventType:   storage.EventUnshared,
			EntityType:  storage.EntityMemory,
			EntityID:    strconv.FormatInt(m.ID, 10),
			ActorUserID: actorID,
			Before:      string(m.Visibility),
			After:       string(next.Visibility),
			Scope:       m.Anchor(),
			CreatedAt:   now,
		})
		return next, nil
	}
	return nil, fmt.Errorf("Unshare: %w", storage.ErrVersionConflict)
}

// ReviewMemory settles the approval status of a memory awaiting review,
// such as a shared memory added by ingestion or the loser of a conflict.
// The actor must manage the memory's anchor scope.
func (w *Workflow) ReviewMemory(ctx context.Context, memoryID int64, actorID string, decision Decision, notes string) (*storage.Memory, error) {
	status := storage.ApprovalApproved
	event := storage.EventApproved
	switch decision {
	case DecisionApprove:
	case DecisionReject:
		status, event = storage.ApprovalRejected, storage.EventRejected
	default:
		return nil, fmt.Errorf("ReviewMemory: unknown decision %q", decision)
	}

	for attempt := 0; attempt < maxApproveAttempts; attempt++ {
		m, err := w.store.GetMemory(ctx, memoryID)
		if err != nil {
			return nil, fmt.Errorf("ReviewMemory: %w", err)
		}
		if m.ApprovalStatus != storage.ApprovalPending {
			return nil, fmt.Errorf("ReviewMemory: memory is %s: %w", m.ApprovalStatus, storage.ErrConflict)
		}
		if !w.resolver.CanManage(ctx, actorID, m.Anchor()) {
			return nil, fmt.Errorf("ReviewMemory: %w", ErrPermissionDenied)
		}

		now := w.now().UTC()
		next := m.Clone()
		next.ApprovalStatus = status
		next.UpdatedAt = now
		if status == storage.ApprovalApproved {
			next.ApprovedByUserID = actorID
			next.ApprovedAt = &now
		}

		err = w.store.UpdateMemory(ctx, next, m.Version)
		if errors.Is(err, storage.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("ReviewMemory: %w", err)
		}

		w.audit(ctx, &storage.AuditEvent{
			EventType:   event,
			EntityType:  storage.EntityMemory,
			EntityID:    strconv.FormatInt(m.ID, 10),
			ActorUserID: actorID,
			Before:      string(m.ApprovalStatus),
			After:       strings.TrimSpace(string(status) + " " + notes),
			Scope:       m.Anchor(),
			CreatedAt:   now,
		})
		return next, nil
	}
	return nil, fmt.Errorf("ReviewMemory: %w", storage.ErrVersionConflict)
}

// Get returns a proposal.
func (w *Workflow) Get(ctx context.Context, proposalID string) (*storage.Proposal, error) {
	return w.store.GetProposal(ctx, proposalID)
}

// List lists proposals.
func (w *Workflow) List(ctx context.Context, filter *storage.ProposalFilter) ([]*storage.Proposal, error) {
	return w.store.ListProposals(ctx, filter)
}

// Wait blocks until in-flight notifications finish.
func (w *Workflow) Wait() {
	w.pending.Wait()
}

// approve applies the proposal to a fresh read of the memory. A memory that
// changed between read and write is re-read; a proposal that was closed
// concurrently is a conflict.
func (w *Workflow) approve(ctx context.Context, p *storage.Proposal, actorID, notes string) error {
	for attempt := 0; attempt < maxApproveAttempts; attempt++ {
		m, err := w.store.GetMemory(ctx, p.MemoryID)
		if err != nil {
			return err
		}
		if !m.IsOpen() {
			return fmt.Errorf("%w: memory %d is closed", ErrInvalidProposal, m.ID)
		}
		if p.ProposedVisibility.Rank() <= m.Visibility.Rank() {
			return fmt.Errorf("%w: memory %d is already %s", ErrInvalidProposal, m.ID, m.Visibility)
		}

		now := w.now().UTC()
		next := m.Clone()
		next.Visibility = p.ProposedVisibility
		next.SetScopeID(p.ProposedVisibility.Level(), p.ProposedScopeID)
		next.ApprovalStatus = storage.ApprovalApproved
		next.ApprovedByUserID = actorID
		next.ApprovedAt = &now
		next.UpdatedAt = now

		events := []*storage.AuditEvent{
			{
				EventType:   storage.EventApproved,
				EntityType:  storage.EntityProposal,
				EntityID:    p.ID,
				ActorUserID: actorID,
				Before:      string(storage.ProposalPending),
				After:       strings.TrimSpace(string(storage.ProposalApproved) + " " + notes),
				Scope:       p.TargetScope(),
				CreatedAt:   now,
			},
			{
				EventType:   storage.EventShared,
				EntityType:  storage.EntityMemory,
				EntityID:    strconv.FormatInt(m.ID, 10),
				ActorUserID: actorID,
				Before:      string(m.Visibility),
				After:       string(next.Visibility),
				Scope:       next.Anchor(),
				CreatedAt:   now,
			},
		}

		err = w.store.ApproveProposal(ctx, &storage.ApproveParams{
			ProposalID:            p.ID,
			ReviewerID:            actorID,
			Notes:                 notes,
			ReviewedAt:            now,
			Memory:                next,
			ExpectedMemoryVersion: m.Version,
		}, events...)
		if errors.Is(err, storage.ErrVersionConflict) {
			w.logger.Printf("[sharing] memory %d changed during approval of %s, retrying", m.ID, p.ID)
			continue
		}
		if err != nil {
			return err
		}

		p.Status = storage.ProposalApproved
		p.ReviewedByUserID = actorID
		p.ReviewedAt = &now
		p.ReviewNotes = notes
		return nil
	}
	return storage.ErrVersionConflict
}

func (w *Workflow) close(ctx context.Context, p *storage.Proposal, status storage.ProposalStatus,
	eventType storage.EventType, actorID, notes string) error {
	now := w.now().UTC()
	event := &storage.AuditEvent{
		EventType:   eventType,
		EntityType:  storage.EntityProposal,
		EntityID:    p.ID,
		ActorUserID: actorID,
		Before:      string(storage.ProposalPending),
		After:       strings.TrimSpace(string(status) + " " + notes),
		Scope:       p.TargetScope(),
		CreatedAt:   now,
	}
	err := w.store.CloseProposal(ctx, &storage.CloseParams{
		ProposalID: p.ID,
		Status:     status,
		ActorID:    actorID,
		Notes:      notes,
		ClosedAt:   now,
	}, event)
	if err != nil {
		return err
	}

	p.Status = status
	p.ReviewedByUserID = actorID
	p.ReviewedAt = &now
	p.ReviewNotes = notes
	return nil
}

// mayChange reports whether actor owns m or manages its anchor scope.
func (w *Workflow) mayChange(ctx context.Context, actorID string, m *storage.Memory) bool {
	if actorID == "" {
		return false
	}
	if m.OwnerUserID == actorID {
		return true
	}
	return w.resolver.CanManage(ctx, actorID, m.Anchor())
}

// notify runs the notifier detached from the caller's context.
func (w *Workflow) notify(p *storage.Proposal) {
	if w.notifier == nil {
		return
	}
	snapshot := *p
	w.pending.Add(1)
	go func() {
		defer w.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), w.notifyTimeout)
		defer cancel()
		if err := w.notifier.NotifyApprovers(ctx, &snapshot); err != nil {
			w.logger.Printf("[sharing] notify approvers of %s failed: %v", snapshot.ID, err)
		}
	}()
}

func (w *Workflow) audit(ctx context.Context, events ...*storage.AuditEvent) {
	if err := w.store.AppendAudit(ctx, events...); err != nil {
		w.logger.Printf("[sharing] audit append failed: %v", err)
	}
}

// targetScope validates the escalation and returns the target scope ID.
func targetScope(m *storage.Memory, target storage.Visibility, scopeID string) (string, error) {
	if !target.Valid() || target == storage.VisibilityPrivate {
		return "", fmt.Errorf("%w: target visibility %q", ErrInvalidProposal, target)
	}
	if !m.IsOpen() {
		return "", fmt.Errorf("%w: memory %d is closed", ErrInvalidProposal, m.ID)
	}
	current := m.Visibility
	if current == "" {
		current = storage.VisibilityPrivate
	}
	if target.Rank() <= current.Rank() {
		return "", fmt.Errorf("%w: %s does not widen %s", ErrInvalidProposal, target, current)
	}

	existing := m.ScopeID(target.Level())
	switch {
	case scopeID == "":
		scopeID = existing
	case existing != "" && existing != scopeID:
		return "", fmt.Errorf("%w: memory belongs to %s %s, not %s", ErrInvalidProposal, target.Level(), existing, scopeID)
	}
	if scopeID == "" {
		return "", fmt.Errorf("%w: no %s id", ErrInvalidProposal, target.Level())
	}
	return scopeID, nil
}
