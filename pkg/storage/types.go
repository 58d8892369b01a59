package storage

import "time"

// Visibility determines which scope anchor of a memory is authoritative.
type Visibility string

const (
	VisibilityPrivate      Visibility = "private"
	VisibilityArea         Visibility = "area"
	VisibilitySpace        Visibility = "space"
	VisibilityGroup        Visibility = "group"
	VisibilityOrganization Visibility = "organization"
)

// Rank orders visibilities from narrowest (0) to broadest (4).
// Unknown visibilities rank -1.
func (v Visibility) Rank() int {
	switch v {
	case VisibilityPrivate:
		return 0
	case VisibilityArea:
		return 1
	case VisibilitySpace:
		return 2
	case VisibilityGroup:
		return 3
	case VisibilityOrganization:
		return 4
	default:
		return -1
	}
}

// Valid reports whether v is a known visibility.
func (v Visibility) Valid() bool { return v.Rank() >= 0 }

// Level returns the scope level a non-private visibility is anchored at.
func (v Visibility) Level() ScopeLevel {
	switch v {
	case VisibilityArea:
		return ScopeArea
	case VisibilitySpace:
		return ScopeSpace
	case VisibilityGroup:
		return ScopeGroup
	case VisibilityOrganization:
		return ScopeOrganization
	default:
		return ""
	}
}

// ScopeLevel is a level of the organizational hierarchy.
type ScopeLevel string

const (
	ScopeOrganization ScopeLevel = "organization"
	ScopeGroup        ScopeLevel = "group"
	ScopeSpace        ScopeLevel = "space"
	ScopeArea         ScopeLevel = "area"
	ScopeTask         ScopeLevel = "task"
)

// ScopeRef names one node of the hierarchy.
type ScopeRef struct {
	Level ScopeLevel `json:"level"`
	ID    string     `json:"id"`
}

// String returns "level:id".
func (r ScopeRef) String() string { return string(r.Level) + ":" + r.ID }

// IsZero reports whether the reference is empty.
func (r ScopeRef) IsZero() bool { return r.ID == "" }

// MemoryType classifies a memory.
type MemoryType string

const (
	TypeFact         MemoryType = "fact"
	TypePreference   MemoryType = "preference"
	TypeInstruction  MemoryType = "instruction"
	TypeSummary      MemoryType = "summary"
	TypeEntity       MemoryType = "entity"
	TypeRelationship MemoryType = "relationship"
	TypeGuideline    MemoryType = "guideline"
)

// Valid reports whether t is a known memory type.
func (t MemoryType) Valid() bool {
	switch t {
	case TypeFact, TypePreference, TypeInstruction, TypeSummary,
		TypeEntity, TypeRelationship, TypeGuideline:
		return true
	}
	return false
}

// ApprovalStatus is the approval state of a memory.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// ProposalStatus is the state of a sharing proposal.
type ProposalStatus string

const (
	ProposalPending   ProposalStatus = "pending"
	ProposalApproved  ProposalStatus = "approved"
	ProposalRejected  ProposalStatus = "rejected"
	ProposalWithdrawn ProposalStatus = "withdrawn"
)

// IsTerminal reports whether no further transition is allowed.
func (s ProposalStatus) IsTerminal() bool {
	return s == ProposalApproved || s == ProposalRejected || s == ProposalWithdrawn
}

// Memory is a single knowledge fragment.
type Memory struct {
	ID                  int64  `json:"id"`
	OwnerUserID         string `json:"owner_user_id"`
	ContributedByUserID string `json:"contributed_by_user_id,omitempty"`

	OrganizationID string     `json:"organization_id,omitempty"`
	GroupID        string     `json:"group_id,omitempty"`
	SpaceID        string     `json:"space_id,omitempty"`
	AreaID         string     `json:"area_id,omitempty"`
	TaskID         string     `json:"task_id,omitempty"`
	Visibility     Visibility `json:"visibility"`

	Content     string     `json:"content"`
	ContentHash string     `json:"content_hash"`
	MemoryType  MemoryType `json:"memory_type"`

	// SubjectKey is an externally supplied subject identity used to detect
	// contradicting memories.
	SubjectKey string `json:"subject_key,omitempty"`

	// Attributes are distinguishing attributes; two memories on the same
	// subject with different values for a shared attribute do not conflict.
	Attributes map[string]string `json:"attributes,omitempty"`

	Importance float64 `json:"importance"`

	// BaseImportance is the importance at the last access. Decay is a pure
	// function of BaseImportance and the time since the last access.
	BaseImportance float64 `json:"base_importance"`

	Confidence     float64    `json:"confidence"`
	AccessCount    int        `json:"access_count"`
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`

	ValidFrom time.Time  `json:"valid_from"`
	ValidTo   *time.Time `json:"valid_to,omitempty"`

	SourceConversationID string `json:"source_conversation_id,omitempty"`
	SourceMessageID      string `json:"source_message_id,omitempty"`
	ExtractionModel      string `json:"extraction_model,omitempty"`

	ApprovalStatus   ApprovalStatus `json:"approval_status"`
	ApprovedByUserID string         `json:"approved_by_user_id,omitempty"`
	ApprovedAt       *time.Time     `json:"approved_at,omitempty"`

	// Embedding is nil when the embedding collaborator was unavailable;
	// EmbeddingPending is then set for background retry.
	Embedding        []float64 `json:"embedding,omitempty"`
	EmbeddingPending bool      `json:"embedding_pending,omitempty"`

	Pinned     bool       `json:"pinned,omitempty"`
	ArchivedAt *time.Time `json:"archived_at,omitempty"`
	Version    int64      `json:"version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Anchor returns the scope anchor that governs the memory's visibility.
//
// For shared memories the anchor is the scope named by the visibility; lower
// anchors are ignored. Private memories anchor at their most specific scope.
func (m *Memory) Anchor() ScopeRef {
	if level := m.Visibility.Level(); level != "" {
		return ScopeRef{Level: level, ID: m.ScopeID(level)}
	}
	for _, level := range []ScopeLevel{ScopeTask, ScopeArea, ScopeSpace, ScopeGroup, ScopeOrganization} {
		if id := m.ScopeID(level); id != "" {
			return ScopeRef{Level: level, ID: id}
		}
	}
	return ScopeRef{}
}

// AnchorKey returns the key under which duplicates are detected. Private
// memories of different owners never share an anchor key.
func (m *Memory) AnchorKey() string {
	a := m.Anchor()
	if m.Visibility == VisibilityPrivate || m.Visibility == "" {
		return "private:" + m.OwnerUserID + "/" + a.String()
	}
	return SharedAnchorKey(a)
}

// SharedAnchorKey returns the anchor key of memories shared at ref.
func SharedAnchorKey(ref ScopeRef) string {
	return string(ref.Level) + "/" + ref.String()
}

// DedupKey returns the unique key enforced for open memories, or "" for
// closed, archived or unhashed memories.
func (m *Memory) DedupKey() string {
	if m.ValidTo != nil || m.ArchivedAt != nil || m.ContentHash == "" {
		return ""
	}
	return m.AnchorKey() + "|" + m.ContentHash
}

// ScopeID returns the scope identifier at the given level.
func (m *Memory) ScopeID(level ScopeLevel) string {
	switch level {
	case ScopeOrganization:
		return m.OrganizationID
	case ScopeGroup:
		return m.GroupID
	case ScopeSpace:
		return m.SpaceID
	case ScopeArea:
		return m.AreaID
	case ScopeTask:
		return m.TaskID
	}
	return ""
}

// SetScopeID sets the scope identifier at the given level.
func (m *Memory) SetScopeID(level ScopeLevel, id string) {
	switch level {
	case ScopeOrganization:
		m.OrganizationID = id
	case ScopeGroup:
		m.GroupID = id
	case ScopeSpace:
		m.SpaceID = id
	case ScopeArea:
		m.AreaID = id
	case ScopeTask:
		m.TaskID = id
	}
}

// ValidAt reports whether the memory was valid at t.
func (m *Memory) ValidAt(t time.Time) bool {
	if t.Before(m.ValidFrom) {
		return false
	}
	return m.ValidTo == nil || t.Before(*m.ValidTo)
}

// IsOpen reports whether the memory is currently valid and not archived.
func (m *Memory) IsOpen() bool {
	return m.ValidTo == nil && m.ArchivedAt == nil
}

// LastTouched returns the last access time, or the creation time if the
// memory was never accessed.
func (m *Memory) LastTouched() time.Time {
	if m.LastAccessedAt != nil {
		return *m.LastAccessedAt
	}
	return m.CreatedAt
}

// Clone returns a deep copy of the memory.
func (m *Memory) Clone() *Memory {
	c := *m
	if m.Attributes != nil {
		c.Attributes = make(map[string]string, len(m.Attributes))
		for k, v := range m.Attributes {
			c.Attributes[k] = v
		}
	}
	if m.Embedding != nil {
		c.Embedding = append([]float64(nil), m.Embedding...)
	}
	c.LastAccessedAt = cloneTime(m.LastAccessedAt)
	c.ValidTo = cloneTime(m.ValidTo)
	c.ApprovedAt = cloneTime(m.ApprovedAt)
	c.ArchivedAt = cloneTime(m.ArchivedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Proposal is a request to escalate a memory's visibility.
type Proposal struct {
	ID                 string         `json:"id"`
	MemoryID           int64          `json:"memory_id"`
	ProposedVisibility Visibility     `json:"proposed_visibility"`
	ProposedScopeID    string         `json:"proposed_scope_id"`
	ProposedByUserID   string         `json:"proposed_by_user_id"`
	ProposedAt         time.Time      `json:"proposed_at"`
	Status             ProposalStatus `json:"status"`
	ReviewedByUserID   string         `json:"reviewed_by_user_id,omitempty"`
	ReviewedAt         *time.Time     `json:"reviewed_at,omitempty"`
	ReviewNotes        string         `json:"review_notes,omitempty"`
	ConfidenceScore    float64        `json:"confidence_score"`
	SupportingEvidence []string       `json:"supporting_evidence,omitempty"`
}

// TargetScope returns the scope the proposal escalates to.
func (p *Proposal) TargetScope() ScopeRef {
	return ScopeRef{Level: p.ProposedVisibility.Level(), ID: p.ProposedScopeID}
}

// EntityType identifies the kind of row an audit event refers to.
type EntityType string

const (
	EntityMemory   EntityType = "memory"
	EntityProposal EntityType = "proposal"
)

// EventType is the kind of an audit event.
type EventType string

const (
	EventCreated    EventType = "created"
	EventUpdated    EventType = "updated"
	EventMerged     EventType = "merged"
	EventSuperseded EventType = "superseded"
	EventFlagged    EventType = "flagged"
	EventProposed   EventType = "proposed"
	EventApproved   EventType = "approved"
	EventRejected   EventType = "rejected"
	EventWithdrawn  EventType = "withdrawn"
	EventAccessed   EventType = "accessed"
	EventShared     EventType = "shared"
	EventUnshared   EventType = "unshared"
	EventArchived   EventType = "archived"
)

// AuditEvent is an append-only record of a change or access.
type AuditEvent struct {
	ID          string     `json:"id"`
	EventType   EventType  `json:"event_type"`
	EntityType  EntityType `json:"entity_type"`
	EntityID    string     `json:"entity_id"`
	ActorUserID string     `json:"actor_user_id"`
	Before      string     `json:"before,omitempty"`
	After       string     `json:"after,omitempty"`
	Scope       ScopeRef   `json:"scope"`
	CreatedAt   time.Time  `json:"created_at"`
}
