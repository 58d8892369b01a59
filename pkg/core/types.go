package core

import (
	"time"

	"github.com/oceanbase/scopemem-go/pkg/hierarchy"
	"github.com/oceanbase/scopemem-go/pkg/intelligence"
	"github.com/oceanbase/scopemem-go/pkg/sharing"
	"github.com/oceanbase/scopemem-go/pkg/storage"
)

// Entity and collaborator types re-exported so callers only need this
// package.
type (
	Memory         = storage.Memory
	Proposal       = storage.Proposal
	AuditEvent     = storage.AuditEvent
	Visibility     = storage.Visibility
	ScopeRef       = storage.ScopeRef
	ScopeLevel     = storage.ScopeLevel
	MemoryType     = storage.MemoryType
	CallerContext  = hierarchy.CallerContext
	ScoringProfile = intelligence.ScoringProfile
	Breakdown      = intelligence.Breakdown
	Action         = intelligence.Action
	DecayReport    = intelligence.DecayReport
	Turn           = intelligence.Turn
	Decision       = sharing.Decision
	ProposeRequest = sharing.ProposeRequest
)

// Standard scoring profiles.
var (
	RetrievalProfile = intelligence.RetrievalProfile
	AssemblyProfile  = intelligence.AssemblyProfile
)

// Candidate is a fragment submitted for ingestion, either extracted from a
// conversation or entered directly by a user.
//
// Example:
//
//	candidate := &core.Candidate{
//	    Content:        "Deploys run on Fridays",
//	    OwnerUserID:    "alice",
//	    OrganizationID: "org1",
//	    SpaceID:        "s1",
//	    Visibility:     core.VisibilityPrivate,
//	    Confidence:     0.8,
//	}
type Candidate struct {
	Content    string     `json:"content"`
	MemoryType MemoryType `json:"memory_type,omitempty"`

	OwnerUserID         string `json:"owner_user_id"`
	ContributedByUserID string `json:"contributed_by_user_id,omitempty"`

	OrganizationID string     `json:"organization_id,omitempty"`
	GroupID        string     `json:"group_id,omitempty"`
	SpaceID        string     `json:"space_id,omitempty"`
	AreaID         string     `json:"area_id,omitempty"`
	TaskID         string     `json:"task_id,omitempty"`
	Visibility     Visibility `json:"visibility,omitempty"`

	Confidence float64 `json:"confidence"`

	// SubjectKey names the property the fact describes. Open memories in
	// the same anchor with the same subject are resolved against the new
	// row.
	SubjectKey string            `json:"subject_key,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`

	// ValidFrom is when the fact became true. Nil means now.
	ValidFrom *time.Time `json:"valid_from,omitempty"`

	SourceConversationID string `json:"source_conversation_id,omitempty"`
	SourceMessageID      string `json:"source_message_id,omitempty"`
	ExtractionModel      string `json:"extraction_model,omitempty"`

	Pinned bool `json:"pinned,omitempty"`

	// Importance overrides the estimated importance when positive.
	Importance float64 `json:"importance,omitempty"`
}

// Visibility constants.
const (
	VisibilityPrivate      = storage.VisibilityPrivate
	VisibilityArea         = storage.VisibilityArea
	VisibilitySpace        = storage.VisibilitySpace
	VisibilityGroup        = storage.VisibilityGroup
	VisibilityOrganization = storage.VisibilityOrganization
)

// Ingestion actions.
const (
	ActionAdd    = intelligence.ActionAdd
	ActionUpdate = intelligence.ActionUpdate
	ActionMerge  = intelligence.ActionMerge
	ActionSkip   = intelligence.ActionSkip
)

// Review decisions.
const (
	DecisionApprove = sharing.DecisionApprove
	DecisionReject  = sharing.DecisionReject
)

// IngestResult is the outcome of IngestCandidate.
type IngestResult struct {
	Action   Action `json:"action"`
	MemoryID int64  `json:"memory_id"`

	// Memory is the stored row after the write, or the existing row for
	// SKIP.
	Memory *Memory `json:"memory,omitempty"`

	// Superseded lists memories closed by the new row.
	Superseded []int64 `json:"superseded,omitempty"`

	// Flagged lists memories sent back to review by a conflict.
	Flagged []int64 `json:"flagged,omitempty"`

	Reason string `json:"reason,omitempty"`
}

// Fragment is one piece of assembled context.
type Fragment struct {
	Content        string     `json:"content"`
	SourceMemoryID int64      `json:"source_memory_id"`
	Score          float64    `json:"score"`
	ScopeLevel     ScopeLevel `json:"scope_level"`
	Breakdown      Breakdown  `json:"breakdown"`
	Tokens         int        `json:"tokens"`
	Pinned         bool       `json:"pinned,omitempty"`
	Compressed     bool       `json:"compressed,omitempty"`
	Truncated      bool       `json:"truncated,omitempty"`
}

// ContextResult is the outcome of AssembleContext.
type ContextResult struct {
	Fragments []Fragment `json:"fragments"`
	Budget    int        `json:"budget"`
	Used      int        `json:"used"`

	// Incomplete is set when candidates were dropped before ranking; the
	// context may then miss relevant memories.
	Incomplete       bool   `json:"incomplete,omitempty"`
	IncompleteReason string `json:"incomplete_reason,omitempty"`

	// Considered is the number of visible candidates that were ranked.
	Considered int       `json:"considered"`
	AsOf       time.Time `json:"as_of"`
}

// ConversationScope places the memories extracted from a conversation.
type ConversationScope struct {
	OwnerUserID    string     `json:"owner_user_id"`
	OrganizationID string     `json:"organization_id,omitempty"`
	GroupID        string     `json:"group_id,omitempty"`
	SpaceID        string     `json:"space_id,omitempty"`
	AreaID         string     `json:"area_id,omitempty"`
	TaskID         string     `json:"task_id,omitempty"`
	Visibility     Visibility `json:"visibility,omitempty"`
}

// ConflictResult is the outcome of ResolveConflict.
type ConflictResult struct {
	Outcome    intelligence.Outcome `json:"outcome"`
	WinnerID   int64                `json:"winner_id,omitempty"`
	LoserID    int64                `json:"loser_id,omitempty"`
	Superseded []int64              `json:"superseded,omitempty"`
	Flagged    []int64              `json:"flagged,omitempty"`
	Reason     string               `json:"reason,omitempty"`
}

// PromotionReport summarizes a promotion sweep.
type PromotionReport struct {
	Scanned  int      `json:"scanned"`
	Proposed []string `json:"proposed,omitempty"`
	Skipped  int      `json:"skipped"`
	Failed   int      `json:"failed"`
}

// MemoryResult is the result of an asynchronous ingestion.
type MemoryResult struct {
	Result *IngestResult
	Error  error
}

// ContextResultAsync is the result of an asynchronous assembly.
type ContextResultAsync struct {
	Result *ContextResult
	Error  error
}

// DecayResult is the result of an asynchronous decay pass.
type DecayResult struct {
	Report *DecayReport
	Error  error
}
