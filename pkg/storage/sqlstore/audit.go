package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/oceanbase/scopemem-go/pkg/storage"
)

// AppendAudit appends audit events. Events without an ID get a ULID, which
// sorts in append order.
func (s *Store) AppendAudit(ctx context.Context, events ...*storage.AuditEvent) error {
	if err := s.appendAudit(ctx, s.db, events); err != nil {
		return fmt.Errorf("AppendAudit: %w", err)
	}
	return nil
}

func (s *Store) appendAudit(ctx context.Context, ex execer, events []*storage.AuditEvent) error {
	if len(events) == 0 {
		return nil
	}

	query := s.q(`
		INSERT INTO %s (`+auditColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.audit)

	for _, e := range events {
		if e == nil {
			continue
		}
		if e.ID == "" {
			e.ID = ulid.Make().String()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = time.Now().UTC()
		}
		_, err := ex.ExecContext(ctx, query,
			e.ID,
			string(e.EventType),
			string(e.EntityType),
			e.EntityID,
			nullString(e.ActorUserID),
			nullString(e.Before),
			nullString(e.After),
			nullString(string(e.Scope.Level)),
			nullString(e.Scope.ID),
			e.CreatedAt.UTC(),
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// ListAudit lists audit events in append order.
func (s *Store) ListAudit(ctx context.Context, filter *storage.AuditFilter) ([]*storage.AuditEvent, error) {
	if filter == nil {
		filter = &storage.AuditFilter{}
	}

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE 1 = 1`, auditColumns, s.audit)
	args := []interface{}{}
	if filter.EntityType != "" {
		query += " AND entity_type = ?"
		args = append(args, string(filter.EntityType))
	}
	if filter.EntityID != "" {
		query += " AND entity_id = ?"
		args = append(args, filter.EntityID)
	}
	if filter.EventType != "" {
		query += " AND event_type = ?"
		args = append(args, string(filter.EventType))
	}
	query += " ORDER BY id ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("ListAudit: %w", err)
	}
	defer rows.Close()

	var events []*storage.AuditEvent
	for rows.Next() {
		e, err := scanAudit(rows)
		if err != nil {
			return nil, fmt.Errorf("ListAudit: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListAudit: %w", err)
	}
	return events, nil
}

var _ storage.Store = (*Store)(nil)
