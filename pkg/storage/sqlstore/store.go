package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oceanbase/scopemem-go/pkg/storage"
)

// Store implements storage.Store for any database/sql backend.
type Store struct {
	db      *sql.DB
	dialect Dialect

	// table names, derived from the collection name
	memories  string
	proposals string
	audit     string
}

// Config contains configuration for creating a Store.
type Config struct {
	// DB is an open database handle. The Store takes ownership of it.
	DB *sql.DB

	// Dialect describes the backend.
	Dialect Dialect

	// CollectionName is the memory table name. The proposal and audit tables
	// use it as a prefix.
	CollectionName string
}

// New creates a Store and initializes its tables.
func New(ctx context.Context, cfg *Config) (*Store, error) {
	if cfg == nil || cfg.DB == nil || cfg.Dialect == nil {
		return nil, errors.New("sqlstore.New: db and dialect are required")
	}
	name := cfg.CollectionName
	if name == "" {
		name = "memories"
	}

	s := &Store{
		db:        cfg.DB,
		dialect:   cfg.Dialect,
		memories:  name,
		proposals: name + "_proposals",
		audit:     name + "_audit",
	}

	if err := s.initTables(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Dialect returns the backend dialect.
func (s *Store) Dialect() Dialect { return s.dialect }

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// q formats a query template with a table name and rebinds placeholders.
func (s *Store) q(format string, table string) string {
	return s.dialect.Rebind(fmt.Sprintf(format, table))
}

// InsertMemory inserts a new memory.
func (s *Store) InsertMemory(ctx context.Context, memory *storage.Memory) error {
	query := s.q(`
		INSERT INTO %s (`+memoryColumns+`, anchor_key, dedup_key)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.memories)

	attributes, err := encodeJSON(memory.Attributes, len(memory.Attributes) == 0)
	if err != nil {
		return fmt.Errorf("InsertMemory: %w", err)
	}
	embedding, err := encodeJSON(memory.Embedding, memory.Embedding == nil)
	if err != nil {
		return fmt.Errorf("InsertMemory: %w", err)
	}

	if memory.Version == 0 {
		memory.Version = 1
	}

	_, err = s.db.ExecContext(ctx, query,
		memory.ID,
		memory.OwnerUserID,
		nullString(memory.ContributedByUserID),
		nullString(memory.OrganizationID),
		nullString(memory.GroupID),
		nullString(memory.SpaceID),
		nullString(memory.AreaID),
		nullString(memory.TaskID),
		string(memory.Visibility),
		memory.Content,
		memory.ContentHash,
		string(memory.MemoryType),
		nullString(memory.SubjectKey),
		attributes,
		memory.Importance,
		memory.BaseImportance,
		memory.Confidence,
		memory.AccessCount,
		nullTime(memory.LastAccessedAt),
		memory.ValidFrom.UTC(),
		nullTime(memory.ValidTo),
		nullString(memory.SourceConversationID),
		nullString(memory.SourceMessageID),
		nullString(memory.ExtractionModel),
		string(memory.ApprovalStatus),
		nullString(memory.ApprovedByUserID),
		nullTime(memory.ApprovedAt),
		embedding,
		boolInt(memory.EmbeddingPending),
		boolInt(memory.Pinned),
		nullTime(memory.ArchivedAt),
		memory.Version,
		memory.CreatedAt.UTC(),
		memory.UpdatedAt.UTC(),
		memory.AnchorKey(),
		nullString(memory.DedupKey()),
	)
	if err != nil {
		if s.dialect.IsUniqueViolation(err) {
			return fmt.Errorf("InsertMemory: %w", storage.ErrDuplicate)
		}
		return fmt.Errorf("InsertMemory: %w", err)
	}
	return nil
}

// GetMemory retrieves a memory by ID.
func (s *Store) GetMemory(ctx context.Context, id int64) (*storage.Memory, error) {
	query := s.q(`SELECT `+memoryColumns+` FROM %s WHERE id = ?`, s.memories)

	memory, err := scanMemory(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("GetMemory: %w", storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("GetMemory: %w", err)
	}
	return memory, nil
}

// FindOpenByHash returns the open memory holding the dedup key for the given
// anchor and content hash.
func (s *Store) FindOpenByHash(ctx context.Context, anchorKey, contentHash string) (*storage.Memory, error) {
	query := s.q(`SELECT `+memoryColumns+` FROM %s WHERE dedup_key = ?`, s.memories)

	memory, err := scanMemory(s.db.QueryRowContext(ctx, query, anchorKey+"|"+contentHash))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("FindOpenByHash: %w", storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("FindOpenByHash: %w", err)
	}
	return memory, nil
}

// ListMemories lists memories matching the given options.
func (s *Store) ListMemories(ctx context.Context, opts *storage.ListOptions) ([]*storage.Memory, error) {
	if opts == nil {
		opts = &storage.ListOptions{}
	}

	where, args := buildMemoryWhere(opts)
	query := fmt.Sprintf(`SELECT %s FROM %s %s`, memoryColumns, s.memories, where)

	switch opts.Order {
	case storage.OrderByImportance:
		query += " ORDER BY importance DESC, id DESC"
	default:
		query += " ORDER BY id ASC"
	}
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("ListMemories: %w", err)
	}
	defer rows.Close()

	var memories []*storage.Memory
	for rows.Next() {
		memory, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("ListMemories: %w", err)
		}
		memories = append(memories, memory)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListMemories: %w", err)
	}
	return memories, nil
}

// buildMemoryWhere builds the WHERE clause of ListMemories with "?"
// placeholders.
func buildMemoryWhere(opts *storage.ListOptions) (string, []interface{}) {
	conditions := []string{}
	args := []interface{}{}

	var scope []string
	if len(opts.AnchorKeys) > 0 {
		placeholders := make([]string, len(opts.AnchorKeys))
		for i, key := range opts.AnchorKeys {
			placeholders[i] = "?"
			args = append(args, key)
		}
		scope = append(scope, "anchor_key IN ("+strings.Join(placeholders, ", ")+")")
	}
	if opts.OwnerUserID != "" {
		scope = append(scope, "owner_user_id = ?")
		args = append(args, opts.OwnerUserID)
	}
	if len(scope) > 0 {
		conditions = append(conditions, "("+strings.Join(scope, " OR ")+")")
	}

	if opts.SubjectKey != "" {
		conditions = append(conditions, "subject_key = ?")
		args = append(args, opts.SubjectKey)
	}

	if opts.AsOf != nil {
		asOf := opts.AsOf.UTC()
		conditions = append(conditions, "valid_from <= ?", "(valid_to IS NULL OR valid_to > ?)")
		args = append(args, asOf, asOf)
	}
	if opts.OpenOnly {
		conditions = append(conditions, "valid_to IS NULL")
	}
	if !opts.IncludeArchived {
		conditions = append(conditions, "archived_at IS NULL")
	}
	if opts.EmbeddingPending {
		conditions = append(conditions, "embedding_pending = 1")
	}
	if opts.AfterID > 0 {
		conditions = append(conditions, "id > ?")
		args = append(args, opts.AfterID)
	}

	if len(conditions) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(conditions, " AND "), args
}

// UpdateMemory writes the mutable fields of memory if the stored version
// equals expectedVersion.
func (s *Store) UpdateMemory(ctx context.Context, memory *storage.Memory, expectedVersion int64) error {
	if err := s.updateMemory(ctx, s.db, memory, expectedVersion); err != nil {
		return fmt.Errorf("UpdateMemory: %w", err)
	}
	return nil
}

// UpdateMemories writes all updates and events in one transaction. On
// failure no row changes and the in-memory versions are restored.
func (s *Store) UpdateMemories(ctx context.Context, updates []storage.MemoryUpdate, events ...*storage.AuditEvent) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, u := range updates {
			if err := s.updateMemory(ctx, tx, u.Memory, u.ExpectedVersion); err != nil {
				return err
			}
		}
		return s.appendAudit(ctx, tx, events)
	})
	if err != nil {
		for _, u := range updates {
			u.Memory.Version = u.ExpectedVersion
		}
		return fmt.Errorf("UpdateMemories: %w", err)
	}
	return nil
}

func (s *Store) updateMemory(ctx context.Context, ex execer, memory *storage.Memory, expectedVersion int64) error {
	query := s.q(`
		UPDATE %s SET
			organization_id = ?, group_id = ?, space_id = ?, area_id = ?, task_id = ?,
			visibility = ?, anchor_key = ?, dedup_key = ?,
			content = ?, content_hash = ?, memory_type = ?, subject_key = ?, attributes = ?,
			importance = ?, base_importance = ?, confidence = ?,
			valid_from = ?, valid_to = ?,
			approval_status = ?, approved_by = ?, approved_at = ?,
			embedding = ?, embedding_pending = ?, pinned = ?, archived_at = ?,
			version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
	`, s.memories)

	attributes, err := encodeJSON(memory.Attributes, len(memory.Attributes) == 0)
	if err != nil {
		return err
	}
	embedding, err := encodeJSON(memory.Embedding, memory.Embedding == nil)
	if err != nil {
		return err
	}

	res, err := ex.ExecContext(ctx, query,
		nullString(memory.OrganizationID),
		nullString(memory.GroupID),
		nullString(memory.SpaceID),
		nullString(memory.AreaID),
		nullString(memory.TaskID),
		string(memory.Visibility),
		memory.AnchorKey(),
		nullString(memory.DedupKey()),
		memory.Content,
		memory.ContentHash,
		string(memory.MemoryType),
		nullString(memory.SubjectKey),
		attributes,
		memory.Importance,
		memory.BaseImportance,
		memory.Confidence,
		memory.ValidFrom.UTC(),
		nullTime(memory.ValidTo),
		string(memory.ApprovalStatus),
		nullString(memory.ApprovedByUserID),
		nullTime(memory.ApprovedAt),
		embedding,
		boolInt(memory.EmbeddingPending),
		boolInt(memory.Pinned),
		nullTime(memory.ArchivedAt),
		memory.UpdatedAt.UTC(),
		memory.ID,
		expectedVersion,
	)
	if err != nil {
		if s.dialect.IsUniqueViolation(err) {
			return storage.ErrDuplicate
		}
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return storage.ErrVersionConflict
	}

	memory.Version = expectedVersion + 1
	return nil
}

// RecordAccess bumps the access counter without a version check. Decay and
// access updates may interleave; the counter is an approximate signal.
func (s *Store) RecordAccess(ctx context.Context, id int64, at time.Time, baseImportance float64) error {
	query := s.q(`
		UPDATE %s SET
			access_count = access_count + 1,
			last_accessed_at = ?,
			base_importance = ?,
			importance = ?,
			version = version + 1
		WHERE id = ?
	`, s.memories)

	res, err := s.db.ExecContext(ctx, query, at.UTC(), baseImportance, baseImportance, id)
	if err != nil {
		return fmt.Errorf("RecordAccess: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("RecordAccess: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("RecordAccess: %w", storage.ErrNotFound)
	}
	return nil
}
