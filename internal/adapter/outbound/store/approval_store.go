package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/guardian-hq/guardian/internal/domain/approval"
)

// execer covers *sql.DB and *sql.Tx so approval inserts can join the
// per-message outcome transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertApproval(ctx context.Context, db execer, isPostgres bool, a *approval.Approval) error {
	var resolvedAt any
	if a.ResolvedAt != nil {
		resolvedAt = formatTime(*a.ResolvedAt)
	}
	_, err := db.ExecContext(ctx, rebind(isPostgres,
		`INSERT INTO approvals (request_id, intent_event_id, decision_event_id, status, reviewer_id, comment, created_at, resolved_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		a.RequestID, a.IntentEventID, a.DecisionEventID, string(a.Status),
		a.ReviewerID, a.Comment, formatTime(a.CreatedAt), resolvedAt)
	if err != nil {
		return fmt.Errorf("insert approval %s: %w", a.RequestID, err)
	}
	return nil
}

// Create implements approval.Store.
func (s *Store) Create(ctx context.Context, a *approval.Approval) error {
	return insertApproval(ctx, s.db, s.isPostgres, a)
}

// List implements approval.Store: newest first, optionally filtered by status.
func (s *Store) List(ctx context.Context, status approval.Status) ([]approval.Approval, error) {
	query := `SELECT request_id, intent_event_id, decision_event_id, status, reviewer_id, comment, created_at, resolved_at
		FROM approvals`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, rebind(s.isPostgres, query), args...)
	if err != nil {
		return nil, fmt.Errorf("query approvals: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []approval.Approval
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate approvals: %w", err)
	}
	return out, nil
}

// Get implements approval.Store.
func (s *Store) Get(ctx context.Context, requestID string) (*approval.Approval, error) {
	row := s.db.QueryRowContext(ctx, rebind(s.isPostgres,
		`SELECT request_id, intent_event_id, decision_event_id, status, reviewer_id, comment, created_at, resolved_at
		 FROM approvals WHERE request_id = ?`), requestID)
	a, err := scanApproval(row)
	if err == sql.ErrNoRows {
		return nil, approval.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Resolve implements approval.Store. The UPDATE matches only rows still in
// PENDING, so the transition is atomic at the storage layer: of concurrent
// resolutions exactly one affects a row. When nothing was affected a second
// read distinguishes an unknown ID from an already-resolved one.
func (s *Store) Resolve(ctx context.Context, requestID string, terminal approval.Status, reviewerID, comment string) (*approval.Approval, error) {
	if !terminal.Terminal() {
		return nil, fmt.Errorf("status %q is not terminal", terminal)
	}
	now := time.Now().UTC()

	res, err := s.db.ExecContext(ctx, rebind(s.isPostgres,
		`UPDATE approvals SET status = ?, reviewer_id = ?, comment = ?, resolved_at = ?
		 WHERE request_id = ? AND status = ?`),
		string(terminal), reviewerID, comment, formatTime(now),
		requestID, string(approval.StatusPending))
	if err != nil {
		return nil, fmt.Errorf("resolve approval %s: %w", requestID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("resolve approval %s: %w", requestID, err)
	}
	if n == 0 {
		if _, err := s.Get(ctx, requestID); err != nil {
			return nil, err // ErrNotFound
		}
		return nil, approval.ErrAlreadyResolved
	}
	return s.Get(ctx, requestID)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanApproval(row rowScanner) (*approval.Approval, error) {
	var a approval.Approval
	var status, createdAt string
	var resolvedAt sql.NullString
	if err := row.Scan(&a.RequestID, &a.IntentEventID, &a.DecisionEventID,
		&status, &a.ReviewerID, &a.Comment, &createdAt, &resolvedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scan approval row: %w", err)
	}
	a.Status = approval.Status(status)
	a.CreatedAt = parseTime(createdAt)
	if resolvedAt.Valid {
		t := parseTime(resolvedAt.String)
		a.ResolvedAt = &t
	}
	return &a, nil
}
