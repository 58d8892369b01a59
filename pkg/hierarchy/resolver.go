// Package hierarchy resolves a caller's position in the organization tree
// into a scope chain and decides which memories the caller may see.
//
// Visibility is allow-list only: a memory is visible when one of the rules in
// CanSee matches, and invisible otherwise. Errors from the access-control
// collaborator are treated as a denial.
package hierarchy

import (
	"context"
	"log"

	"github.com/oceanbase/scopemem-go/pkg/storage"
)

// CallerContext is the caller's position in the hierarchy.
type CallerContext struct {
	UserID         string   `json:"user_id"`
	OrganizationID string   `json:"organization_id"`
	GroupIDs       []string `json:"group_ids,omitempty"`
	SpaceID        string   `json:"space_id,omitempty"`
	AreaID         string   `json:"area_id,omitempty"`
	TaskID         string   `json:"task_id,omitempty"`
}

// InGroup reports whether the caller belongs to the group.
func (c *CallerContext) InGroup(groupID string) bool {
	if groupID == "" {
		return false
	}
	for _, g := range c.GroupIDs {
		if g == groupID {
			return true
		}
	}
	return false
}

// Resolver computes scope chains and filters memories by visibility.
type Resolver struct {
	access AccessChecker
	logger *log.Logger
}

// NewResolver creates a Resolver. A nil checker denies all space and area
// access.
func NewResolver(access AccessChecker, logger *log.Logger) *Resolver {
	if access == nil {
		access = DenyAll{}
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Resolver{access: access, logger: logger}
}

// Access returns the access-control collaborator.
func (r *Resolver) Access() AccessChecker { return r.access }

// ResolveScopeChain returns the caller's scopes from most specific (area) to
// least specific (organization). Levels the caller is not positioned at are
// omitted.
func (r *Resolver) ResolveScopeChain(caller *CallerContext) []storage.ScopeRef {
	if caller == nil {
		return nil
	}
	chain := make([]storage.ScopeRef, 0, 3+len(caller.GroupIDs))
	if caller.AreaID != "" {
		chain = append(chain, storage.ScopeRef{Level: storage.ScopeArea, ID: caller.AreaID})
	}
	if caller.SpaceID != "" {
		chain = append(chain, storage.ScopeRef{Level: storage.ScopeSpace, ID: caller.SpaceID})
	}
	for _, g := range caller.GroupIDs {
		if g != "" {
			chain = append(chain, storage.ScopeRef{Level: storage.ScopeGroup, ID: g})
		}
	}
	if caller.OrganizationID != "" {
		chain = append(chain, storage.ScopeRef{Level: storage.ScopeOrganization, ID: caller.OrganizationID})
	}
	return chain
}

// AnchorKeys returns the anchor keys of shared memories anchored on the
// caller's scope chain. The caller's own private memories are selected by
// owner instead.
func (r *Resolver) AnchorKeys(caller *CallerContext) []string {
	chain := r.ResolveScopeChain(caller)
	keys := make([]string, 0, len(chain))
	for _, ref := range chain {
		keys = append(keys, storage.SharedAnchorKey(ref))
	}
	return keys
}

// CanSee reports whether the caller may see the memory.
func (r *Resolver) CanSee(ctx context.Context, caller *CallerContext, m *storage.Memory) bool {
	if caller == nil || m == nil || caller.UserID == "" {
		return false
	}
	if m.OwnerUserID == caller.UserID {
		return true
	}

	// Non-owners only see reviewed content.
	if m.ApprovalStatus != storage.ApprovalApproved {
		return false
	}

	switch m.Visibility {
	case storage.VisibilityOrganization:
		return m.OrganizationID != "" && m.OrganizationID == caller.OrganizationID

	case storage.VisibilityGroup:
		if m.OrganizationID != "" && m.OrganizationID != caller.OrganizationID {
			return false
		}
		return caller.InGroup(m.GroupID)

	case storage.VisibilitySpace, storage.VisibilityArea:
		ref := m.Anchor()
		if ref.IsZero() {
			return false
		}
		ok, err := r.access.CanAccessScope(ctx, caller.UserID, ref)
		if err != nil {
			r.logger.Printf("[hierarchy] access check for %s on %s failed: %v", caller.UserID, ref, err)
			return false
		}
		return ok
	}

	return false
}

// Filter returns the memories the caller may see, preserving order.
func (r *Resolver) Filter(ctx context.Context, memories []*storage.Memory, caller *CallerContext) []*storage.Memory {
	visible := make([]*storage.Memory, 0, len(memories))
	for _, m := range memories {
		if r.CanSee(ctx, caller, m) {
			visible = append(visible, m)
		}
	}
	return visible
}

// CanManage reports whether the user holds manage permission on the scope.
func (r *Resolver) CanManage(ctx context.Context, userID string, ref storage.ScopeRef) bool {
	if userID == "" || ref.IsZero() {
		return false
	}
	ok, err := r.access.CanManageScope(ctx, userID, ref)
	if err != nil {
		r.logger.Printf("[hierarchy] manage check for %s on %s failed: %v", userID, ref, err)
		return false
	}
	return ok
}
