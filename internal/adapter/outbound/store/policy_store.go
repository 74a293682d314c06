package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/guardian-hq/guardian/internal/domain/policy"
)

// Rule documents are stored as one JSON column plus the columns the loader
// filters and orders on. The document keeps conditions in their declarative
// form: symbolic allowlist names are resolved at load time, not at rest.

// GetEnabledRules implements policy.RuleStore.
func (s *Store) GetEnabledRules(ctx context.Context) ([]policy.Rule, error) {
	return s.queryRules(ctx, rebind(s.isPostgres,
		`SELECT document, updated_at FROM policies WHERE enabled = 1 ORDER BY priority DESC, policy_id`))
}

// GetAllRules implements policy.RuleStore.
func (s *Store) GetAllRules(ctx context.Context) ([]policy.Rule, error) {
	return s.queryRules(ctx,
		`SELECT document, updated_at FROM policies ORDER BY priority DESC, policy_id`)
}

func (s *Store) queryRules(ctx context.Context, query string) ([]policy.Rule, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query policies: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var rules []policy.Rule
	for rows.Next() {
		var doc, updatedAt string
		if err := rows.Scan(&doc, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan policy row: %w", err)
		}
		var r policy.Rule
		if err := json.Unmarshal([]byte(doc), &r); err != nil {
			return nil, fmt.Errorf("decode policy document: %w", err)
		}
		r.UpdatedAt = parseTime(updatedAt)
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate policies: %w", err)
	}
	return rules, nil
}

// GetRule implements policy.RuleStore. Returns nil when absent.
func (s *Store) GetRule(ctx context.Context, policyID string) (*policy.Rule, error) {
	var doc, updatedAt string
	err := s.db.QueryRowContext(ctx, rebind(s.isPostgres,
		`SELECT document, updated_at FROM policies WHERE policy_id = ?`), policyID).
		Scan(&doc, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query policy %s: %w", policyID, err)
	}
	var r policy.Rule
	if err := json.Unmarshal([]byte(doc), &r); err != nil {
		return nil, fmt.Errorf("decode policy document: %w", err)
	}
	r.UpdatedAt = parseTime(updatedAt)
	return &r, nil
}

// SaveRule implements policy.RuleStore with create-or-replace semantics.
func (s *Store) SaveRule(ctx context.Context, r *policy.Rule) error {
	if !r.Effect.Valid() {
		return fmt.Errorf("policy %s: unknown effect %q", r.PolicyID, r.Effect)
	}
	doc, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode policy document: %w", err)
	}
	enabled := 0
	if r.Enabled {
		enabled = 1
	}
	now := formatTime(time.Now())

	res, err := s.db.ExecContext(ctx, rebind(s.isPostgres,
		`UPDATE policies SET version = ?, priority = ?, enabled = ?, document = ?, updated_at = ? WHERE policy_id = ?`),
		r.Version, r.Priority, enabled, string(doc), now, r.PolicyID)
	if err != nil {
		return fmt.Errorf("update policy %s: %w", r.PolicyID, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	_, err = s.db.ExecContext(ctx, rebind(s.isPostgres,
		`INSERT INTO policies (policy_id, version, priority, enabled, document, updated_at) VALUES (?, ?, ?, ?, ?, ?)`),
		r.PolicyID, r.Version, r.Priority, enabled, string(doc), now)
	if err != nil {
		return fmt.Errorf("insert policy %s: %w", r.PolicyID, err)
	}
	return nil
}

// DeleteRule implements policy.RuleStore.
func (s *Store) DeleteRule(ctx context.Context, policyID string) error {
	_, err := s.db.ExecContext(ctx, rebind(s.isPostgres,
		`DELETE FROM policies WHERE policy_id = ?`), policyID)
	if err != nil {
		return fmt.Errorf("delete policy %s: %w", policyID, err)
	}
	return nil
}
