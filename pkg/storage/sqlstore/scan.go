package sqlstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oceanbase/scopemem-go/pkg/storage"
)

const memoryColumns = `id, owner_user_id, contributed_by, organization_id, group_id, space_id,
	area_id, task_id, visibility, content, content_hash, memory_type, subject_key, attributes,
	importance, base_importance, confidence, access_count, last_accessed_at, valid_from, valid_to,
	source_conversation_id, source_message_id, extraction_model, approval_status, approved_by,
	approved_at, embedding, embedding_pending, pinned, archived_at, version, created_at, updated_at`

const proposalColumns = `id, memory_id, proposed_visibility, proposed_scope_id, proposed_by,
	proposed_at, status, reviewed_by, reviewed_at, review_notes, confidence_score, supporting_evidence`

const auditColumns = `id, event_type, entity_type, entity_id, actor_user_id, before_value,
	after_value, scope_level, scope_id, created_at`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMemory(row rowScanner) (*storage.Memory, error) {
	var (
		m                                             storage.Memory
		contributedBy, orgID, groupID, spaceID        sql.NullString
		areaID, taskID, subjectKey, attributes        sql.NullString
		sourceConv, sourceMsg, model, approvedBy      sql.NullString
		embedding                                     sql.NullString
		lastAccessed, validTo, approvedAt, archivedAt sql.NullTime
		embeddingPending, pinned                      int
	)

	err := row.Scan(
		&m.ID, &m.OwnerUserID, &contributedBy, &orgID, &groupID, &spaceID,
		&areaID, &taskID, &m.Visibility, &m.Content, &m.ContentHash, &m.MemoryType, &subjectKey, &attributes,
		&m.Importance, &m.BaseImportance, &m.Confidence, &m.AccessCount, &lastAccessed, &m.ValidFrom, &validTo,
		&sourceConv, &sourceMsg, &model, &m.ApprovalStatus, &approvedBy,
		&approvedAt, &embedding, &embeddingPending, &pinned, &archivedAt, &m.Version, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	m.ContributedByUserID = contributedBy.String
	m.OrganizationID = orgID.String
	m.GroupID = groupID.String
	m.SpaceID = spaceID.String
	m.AreaID = areaID.String
	m.TaskID = taskID.String
	m.SubjectKey = subjectKey.String
	m.SourceConversationID = sourceConv.String
	m.SourceMessageID = sourceMsg.String
	m.ExtractionModel = model.String
	m.ApprovedByUserID = approvedBy.String
	m.EmbeddingPending = embeddingPending != 0
	m.Pinned = pinned != 0

	m.ValidFrom = m.ValidFrom.UTC()
	m.CreatedAt = m.CreatedAt.UTC()
	m.UpdatedAt = m.UpdatedAt.UTC()
	m.LastAccessedAt = timePtr(lastAccessed)
	m.ValidTo = timePtr(validTo)
	m.ApprovedAt = timePtr(approvedAt)
	m.ArchivedAt = timePtr(archivedAt)

	if attributes.Valid && attributes.String != "" {
		if err := json.Unmarshal([]byte(attributes.String), &m.Attributes); err != nil {
			return nil, fmt.Errorf("decode attributes of memory %d: %w", m.ID, err)
		}
	}
	if embedding.Valid && embedding.String != "" {
		if err := json.Unmarshal([]byte(embedding.String), &m.Embedding); err != nil {
			return nil, fmt.Errorf("decode embedding of memory %d: %w", m.ID, err)
		}
	}

	return &m, nil
}

func scanProposal(row rowScanner) (*storage.Proposal, error) {
	var (
		p                 storage.Proposal
		reviewedBy, notes sql.NullString
		evidence          sql.NullString
		reviewedAt        sql.NullTime
	)

	err := row.Scan(&p.ID, &p.MemoryID, &p.ProposedVisibility, &p.ProposedScopeID, &p.ProposedByUserID,
		&p.ProposedAt, &p.Status, &reviewedBy, &reviewedAt, &notes, &p.ConfidenceScore, &evidence)
	if err != nil {
		return nil, err
	}

	p.ProposedAt = p.ProposedAt.UTC()
	p.ReviewedByUserID = reviewedBy.String
	p.ReviewNotes = notes.String
	p.ReviewedAt = timePtr(reviewedAt)
	if evidence.Valid && evidence.String != "" {
		if err := json.Unmarshal([]byte(evidence.String), &p.SupportingEvidence); err != nil {
			return nil, fmt.Errorf("decode evidence of proposal %s: %w", p.ID, err)
		}
	}
	return &p, nil
}

func scanAudit(row rowScanner) (*storage.AuditEvent, error) {
	var (
		e                    storage.AuditEvent
		actor, before, after sql.NullString
		scopeLevel, scopeID  sql.NullString
	)
	err := row.Scan(&e.ID, &e.EventType, &e.EntityType, &e.EntityID, &actor, &before,
		&after, &scopeLevel, &scopeID, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	e.ActorUserID = actor.String
	e.Before = before.String
	e.After = after.String
	e.Scope = storage.ScopeRef{Level: storage.ScopeLevel(scopeLevel.String), ID: scopeID.String}
	e.CreatedAt = e.CreatedAt.UTC()
	return &e, nil
}

// nullString maps "" to NULL.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// encodeJSON returns NULL for empty values.
func encodeJSON(v interface{}, empty bool) (sql.NullString, error) {
	if empty {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}
