package sqlstore

import (
	"context"
	"fmt"
	"strings"
)

// initTables creates the memory, proposal and audit tables.
//
// Uniqueness that only applies to a subset of rows (one open memory per
// anchor and content hash, one pending proposal per memory) is enforced with
// nullable unique key columns, which every supported backend treats as
// distinct when NULL.
func (s *Store) initTables(ctx context.Context) error {
	t := s.dialect.Types()

	statements := []string{
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id %[2]s PRIMARY KEY,
			owner_user_id %[3]s NOT NULL,
			contributed_by %[3]s,
			organization_id %[3]s,
			group_id %[3]s,
			space_id %[3]s,
			area_id %[3]s,
			task_id %[3]s,
			visibility %[3]s NOT NULL,
			anchor_key %[3]s NOT NULL,
			dedup_key %[3]s UNIQUE,
			content %[4]s NOT NULL,
			content_hash %[3]s NOT NULL,
			memory_type %[3]s NOT NULL,
			subject_key %[3]s,
			attributes %[4]s,
			importance %[5]s NOT NULL,
			base_importance %[5]s NOT NULL,
			confidence %[5]s NOT NULL,
			access_count %[6]s NOT NULL DEFAULT 0,
			last_accessed_at %[7]s NULL,
			valid_from %[7]s NOT NULL,
			valid_to %[7]s NULL,
			source_conversation_id %[3]s,
			source_message_id %[3]s,
			extraction_model %[3]s,
			approval_status %[3]s NOT NULL,
			approved_by %[3]s,
			approved_at %[7]s NULL,
			embedding %[4]s,
			embedding_pending %[6]s NOT NULL DEFAULT 0,
			pinned %[6]s NOT NULL DEFAULT 0,
			archived_at %[7]s NULL,
			version %[2]s NOT NULL DEFAULT 1,
			created_at %[7]s NOT NULL,
			updated_at %[7]s NOT NULL
		)`, s.memories, t.BigInt, t.Key, t.Text, t.Float, t.Int, t.Time),

		fmt.Sprintf(`CREATE INDEX idx_%[1]s_anchor ON %[1]s(anchor_key)`, s.memories),
		fmt.Sprintf(`CREATE INDEX idx_%[1]s_subject ON %[1]s(subject_key)`, s.memories),
		fmt.Sprintf(`CREATE INDEX idx_%[1]s_owner ON %[1]s(owner_user_id)`, s.memories),

		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id %[2]s PRIMARY KEY,
			memory_id %[3]s NOT NULL,
			pending_key %[2]s UNIQUE,
			proposed_visibility %[2]s NOT NULL,
			proposed_scope_id %[2]s NOT NULL,
			proposed_by %[2]s NOT NULL,
			proposed_at %[5]s NOT NULL,
			status %[2]s NOT NULL,
			reviewed_by %[2]s,
			reviewed_at %[5]s NULL,
			review_notes %[4]s,
			confidence_score %[6]s NOT NULL,
			supporting_evidence %[4]s
		)`, s.proposals, t.Key, t.BigInt, t.Text, t.Time, t.Float),

		fmt.Sprintf(`CREATE INDEX idx_%[1]s_memory ON %[1]s(memory_id)`, s.proposals),

		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id %[2]s PRIMARY KEY,
			event_type %[2]s NOT NULL,
			entity_type %[2]s NOT NULL,
			entity_id %[2]s NOT NULL,
			actor_user_id %[2]s,
			before_value %[3]s,
			after_value %[3]s,
			scope_level %[2]s,
			scope_id %[2]s,
			created_at %[4]s NOT NULL
		)`, s.audit, t.Key, t.Text, t.Time),

		fmt.Sprintf(`CREATE INDEX idx_%[1]s_entity ON %[1]s(entity_type, entity_id)`, s.audit),
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			// CREATE INDEX IF NOT EXISTS is not portable to MySQL; an existing
			// index is the only expected failure here.
			if strings.HasPrefix(strings.TrimSpace(stmt), "CREATE INDEX") && isDuplicateIndex(err) {
				continue
			}
			return fmt.Errorf("initTables: %w", err)
		}
	}
	return nil
}

func isDuplicateIndex(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already exists") || strings.Contains(msg, "duplicate key name")
}
