// Package storage provides the persisted entities of the memory engine and the
// Store interface that all database backends must satisfy.
//
// Entities are defined here rather than in the core package so that the
// intelligence, hierarchy and sharing packages can share them without import
// cycles.
package storage

import (
	"context"
	"errors"
	"time"
)

// Predefined storage errors. Backends wrap these so callers can use errors.Is.
var (
	// ErrNotFound indicates that the requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate indicates that an open memory with the same anchor and
	// normalized content already exists.
	ErrDuplicate = errors.New("duplicate memory")

	// ErrVersionConflict indicates that a row changed since it was read.
	ErrVersionConflict = errors.New("version conflict")

	// ErrConflict indicates that a state transition lost a race: a pending
	// proposal already exists, or the proposal is no longer pending.
	ErrConflict = errors.New("conflict")
)

// Store defines the interface for persistence backends.
//
// All mutating operations are atomic at the row level. Operations taking an
// expected version implement optimistic concurrency: they fail with
// ErrVersionConflict when the row changed since it was read.
type Store interface {
	// InsertMemory inserts a new memory. Returns ErrDuplicate when the
	// memory's dedup key collides with an open memory.
	InsertMemory(ctx context.Context, memory *Memory) error

	// GetMemory retrieves a memory by ID.
	GetMemory(ctx context.Context, id int64) (*Memory, error)

	// FindOpenByHash returns the open memory with the given anchor key and
	// normalized content hash, or ErrNotFound.
	FindOpenByHash(ctx context.Context, anchorKey, contentHash string) (*Memory, error)

	// ListMemories lists memories matching the given options.
	ListMemories(ctx context.Context, opts *ListOptions) ([]*Memory, error)

	// UpdateMemory writes the mutable fields of memory if the stored version
	// equals expectedVersion. On success memory.Version is incremented.
	UpdateMemory(ctx context.Context, memory *Memory, expectedVersion int64) error

	// UpdateMemories applies several version-checked updates and their
	// audit events in a single transaction: either every row is written or
	// none is.
	UpdateMemories(ctx context.Context, updates []MemoryUpdate, events ...*AuditEvent) error

	// RecordAccess bumps the access counter and last access time. It is a
	// best-effort increment and performs no version check.
	RecordAccess(ctx context.Context, id int64, at time.Time, baseImportance float64) error

	// CreateProposal inserts a pending proposal together with its audit
	// events. Returns ErrConflict if a pending proposal exists for the memory.
	CreateProposal(ctx context.Context, proposal *Proposal, events ...*AuditEvent) error

	// GetProposal retrieves a proposal by ID.
	GetProposal(ctx context.Context, id string) (*Proposal, error)

	// ListProposals lists proposals matching the filter.
	ListProposals(ctx context.Context, filter *ProposalFilter) ([]*Proposal, error)

	// ApproveProposal closes a pending proposal as approved and applies the
	// new memory state in a single transaction.
	ApproveProposal(ctx context.Context, params *ApproveParams, events ...*AuditEvent) error

	// CloseProposal moves a pending proposal to a terminal status without
	// touching the memory. Returns ErrConflict if it is no longer pending.
	CloseProposal(ctx context.Context, params *CloseParams, events ...*AuditEvent) error

	// AppendAudit appends audit events.
	AppendAudit(ctx context.Context, events ...*AuditEvent) error

	// ListAudit lists audit events in append order.
	ListAudit(ctx context.Context, filter *AuditFilter) ([]*AuditEvent, error)

	// Close closes the store and releases resources.
	Close() error
}

// ListOrder controls the ordering of ListMemories.
type ListOrder int

const (
	// OrderByID orders by ascending ID (stable keyset pagination).
	OrderByID ListOrder = iota

	// OrderByImportance orders by descending importance, then recency.
	OrderByImportance
)

// ListOptions contains options for ListMemories.
type ListOptions struct {
	// AnchorKeys restricts results to memories anchored at one of these keys.
	AnchorKeys []string

	// OwnerUserID additionally includes memories owned by this user.
	// Combined with AnchorKeys using OR.
	OwnerUserID string

	// SubjectKey restricts results to one subject.
	SubjectKey string

	// AsOf restricts results to memories valid at the given instant.
	AsOf *time.Time

	// OpenOnly restricts results to memories whose validTo is null.
	OpenOnly bool

	// IncludeArchived includes soft-archived memories.
	IncludeArchived bool

	// EmbeddingPending restricts results to memories awaiting an embedding.
	EmbeddingPending bool

	// AfterID skips memories with ID <= AfterID (keyset pagination).
	AfterID int64

	// Limit caps the number of results. Zero means no limit.
	Limit int

	// Order selects the result ordering.
	Order ListOrder
}

// ProposalFilter contains options for ListProposals.
type ProposalFilter struct {
	MemoryID int64
	Status   ProposalStatus
	Limit    int
}

// AuditFilter contains options for ListAudit.
type AuditFilter struct {
	EntityType EntityType
	EntityID   string
	EventType  EventType
	Limit      int
}

// MemoryUpdate is one compare-and-swap write of UpdateMemories.
type MemoryUpdate struct {
	Memory          *Memory
	ExpectedVersion int64
}

// ApproveParams carries the compare-and-swap inputs of an approval.
type ApproveParams struct {
	ProposalID string
	ReviewerID string
	Notes      string
	ReviewedAt time.Time

	// Memory is the memory in its post-approval state.
	Memory *Memory

	// ExpectedMemoryVersion is the version the memory was read at.
	ExpectedMemoryVersion int64
}

// CloseParams carries the compare-and-swap inputs of a rejection or withdrawal.
type CloseParams struct {
	ProposalID string
	Status     ProposalStatus
	ActorID    string
	Notes      string
	ClosedAt   time.Time
}
