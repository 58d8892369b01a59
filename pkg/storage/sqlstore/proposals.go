package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/oceanbase/scopemem-go/pkg/storage"
)

// CreateProposal inserts a pending proposal and its audit events in one
// transaction. The pending_key column holds the memory ID while the proposal
// is pending, so a second pending proposal for the same memory violates the
// unique constraint and the insert fails with ErrConflict.
func (s *Store) CreateProposal(ctx context.Context, proposal *storage.Proposal, events ...*storage.AuditEvent) error {
	query := s.q(`
		INSERT INTO %s (`+proposalColumns+`, pending_key)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.proposals)

	evidence, err := encodeJSON(proposal.SupportingEvidence, len(proposal.SupportingEvidence) == 0)
	if err != nil {
		return fmt.Errorf("CreateProposal: %w", err)
	}

	var pendingKey sql.NullString
	if proposal.Status == storage.ProposalPending {
		pendingKey = nullString(strconv.FormatInt(proposal.MemoryID, 10))
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, query,
			proposal.ID,
			proposal.MemoryID,
			string(proposal.ProposedVisibility),
			proposal.ProposedScopeID,
			proposal.ProposedByUserID,
			proposal.ProposedAt.UTC(),
			string(proposal.Status),
			nullString(proposal.ReviewedByUserID),
			nullTime(proposal.ReviewedAt),
			nullString(proposal.ReviewNotes),
			proposal.ConfidenceScore,
			evidence,
			pendingKey,
		)
		if err != nil {
			if s.dialect.IsUniqueViolation(err) {
				return storage.ErrConflict
			}
			return err
		}
		return s.appendAudit(ctx, tx, events)
	})
	if err != nil {
		return fmt.Errorf("CreateProposal: %w", err)
	}
	return nil
}

// GetProposal retrieves a proposal by ID.
func (s *Store) GetProposal(ctx context.Context, id string) (*storage.Proposal, error) {
	query := s.q(`SELECT `+proposalColumns+` FROM %s WHERE id = ?`, s.proposals)

	proposal, err := scanProposal(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("GetProposal: %w", storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("GetProposal: %w", err)
	}
	return proposal, nil
}

// ListProposals lists proposals matching the filter, oldest first.
func (s *Store) ListProposals(ctx context.Context, filter *storage.ProposalFilter) ([]*storage.Proposal, error) {
	if filter == nil {
		filter = &storage.ProposalFilter{}
	}

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE 1 = 1`, proposalColumns, s.proposals)
	args := []interface{}{}
	if filter.MemoryID != 0 {
		query += " AND memory_id = ?"
		args = append(args, filter.MemoryID)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	query += " ORDER BY proposed_at ASC, id ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("ListProposals: %w", err)
	}
	defer rows.Close()

	var proposals []*storage.Proposal
	for rows.Next() {
		proposal, err := scanProposal(rows)
		if err != nil {
			return nil, fmt.Errorf("ListProposals: %w", err)
		}
		proposals = append(proposals, proposal)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListProposals: %w", err)
	}
	return proposals, nil
}

// ApproveProposal closes a pending proposal as approved and writes the new
// memory state in one transaction. It fails with ErrConflict when the
// proposal is no longer pending and with ErrVersionConflict when the memory
// changed since it was read; in both cases nothing is written.
func (s *Store) ApproveProposal(ctx context.Context, params *storage.ApproveParams, events ...*storage.AuditEvent) error {
	if params == nil || params.Memory == nil {
		return fmt.Errorf("ApproveProposal: missing memory")
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.closeProposal(ctx, tx, params.ProposalID, storage.ProposalApproved,
			params.ReviewerID, params.Notes, params.ReviewedAt); err != nil {
			return err
		}
		if err := s.updateMemory(ctx, tx, params.Memory, params.ExpectedMemoryVersion); err != nil {
			return err
		}
		return s.appendAudit(ctx, tx, events)
	})
	if err != nil {
		params.Memory.Version = params.ExpectedMemoryVersion
		return fmt.Errorf("ApproveProposal: %w", err)
	}
	return nil
}

// CloseProposal moves a pending proposal to a terminal status.
func (s *Store) CloseProposal(ctx context.Context, params *storage.CloseParams, events ...*storage.AuditEvent) error {
	if params == nil || !params.Status.IsTerminal() {
		return fmt.Errorf("CloseProposal: invalid target status")
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.closeProposal(ctx, tx, params.ProposalID, params.Status,
			params.ActorID, params.Notes, params.ClosedAt); err != nil {
			return err
		}
		return s.appendAudit(ctx, tx, events)
	})
	if err != nil {
		return fmt.Errorf("CloseProposal: %w", err)
	}
	return nil
}

// closeProposal is the compare-and-swap on status = 'pending'.
func (s *Store) closeProposal(ctx context.Context, tx *sql.Tx, id string, status storage.ProposalStatus,
	actorID, notes string, at time.Time) error {
	query := s.q(`
		UPDATE %s SET
			status = ?, pending_key = NULL, reviewed_by = ?, reviewed_at = ?, review_notes = ?
		WHERE id = ? AND status = ?
	`, s.proposals)

	res, err := tx.ExecContext(ctx, query,
		string(status), nullString(actorID), at.UTC(), nullString(notes),
		id, string(storage.ProposalPending))
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return storage.ErrConflict
	}
	return nil
}

// withTx runs fn in a transaction, committing on success.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
