package core

import (
	"context"

	"github.com/oceanbase/scopemem-go/pkg/sharing"
	"github.com/oceanbase/scopemem-go/pkg/storage"
)

// ProposeSharing proposes widening a memory's visibility. It fails with
// ErrConflict while another proposal for the memory is pending.
//
// Example:
//
//	p, err := client.ProposeSharing(ctx, &core.ProposeRequest{
//	    MemoryID:         id,
//	    ActorID:          "alice",
//	    TargetVisibility: core.VisibilitySpace,
//	    TargetScopeID:    "s1",
//	})
//	if errors.Is(err, core.ErrConflict) {
//	    // a proposal is already under review
//	}
func (c *Client) ProposeSharing(ctx context.Context, req *ProposeRequest) (*Proposal, error) {
	p, err := c.workflow.Propose(ctx, req)
	return p, NewMemoryError("ProposeSharing", err)
}

// ReviewProposal approves or rejects a pending proposal. Approval applies
// the new visibility and closes the proposal atomically. A proposal that was
// already reviewed yields ErrConflict.
func (c *Client) ReviewProposal(ctx context.Context, proposalID, actorID string, decision Decision, notes string) (*Proposal, error) {
	p, err := c.workflow.Review(ctx, proposalID, actorID, decision, notes)
	return p, NewMemoryError("ReviewProposal", err)
}

// WithdrawProposal withdraws a pending proposal.
func (c *Client) WithdrawProposal(ctx context.Context, proposalID, actorID string) (*Proposal, error) {
	p, err := c.workflow.Withdraw(ctx, proposalID, actorID)
	return p, NewMemoryError("WithdrawProposal", err)
}

// Unshare returns a shared memory to private visibility.
func (c *Client) Unshare(ctx context.Context, memoryID int64, actorID string) (*Memory, error) {
	m, err := c.workflow.Unshare(ctx, memoryID, actorID)
	return m, NewMemoryError("Unshare", err)
}

// ReviewMemory approves or rejects a memory awaiting review.
func (c *Client) ReviewMemory(ctx context.Context, memoryID int64, actorID string, decision Decision, notes string) (*Memory, error) {
	m, err := c.workflow.ReviewMemory(ctx, memoryID, actorID, decision, notes)
	return m, NewMemoryError("ReviewMemory", err)
}

// GetProposal returns a proposal.
func (c *Client) GetProposal(ctx context.Context, proposalID string) (*Proposal, error) {
	p, err := c.workflow.Get(ctx, proposalID)
	return p, NewMemoryError("GetProposal", err)
}

// ListProposals lists proposals, optionally restricted to one memory or
// status.
func (c *Client) ListProposals(ctx context.Context, filter *storage.ProposalFilter) ([]*Proposal, error) {
	ps, err := c.workflow.List(ctx, filter)
	return ps, NewMemoryError("ListProposals", err)
}

// ParseDecision parses "approved"/"approve" or "rejected"/"reject".
func ParseDecision(s string) (Decision, error) {
	return sharing.ParseDecision(s)
}
