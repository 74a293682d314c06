package store

import (
	"context"
	"fmt"

	"github.com/guardian-hq/guardian/internal/domain/approval"
	"github.com/guardian-hq/guardian/internal/domain/decision"
)

// PersistOutcome implements decision.RecordStore. The action, decision, and
// optional approval rows are written in one transaction; any failure rolls
// back all of them so a redelivered intent replays the whole outcome.
//
// A duplicate action insert means this intent was already processed by an
// earlier delivery: the transaction is rolled back and
// decision.ErrAlreadyProcessed is returned.
func (s *Store) PersistOutcome(ctx context.Context, action decision.ActionRecord, dec decision.Record, appr *approval.Approval) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, rebind(s.isPostgres,
		`INSERT INTO actions (event_id, trace_id, agent_id, action_type, target, args_hash, context_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		action.EventID, action.TraceID, action.AgentID, action.ActionType,
		action.Target, action.ArgsHash, string(action.ContextJSON), formatTime(action.CreatedAt))
	if err != nil {
		if isDuplicate(err) {
			return decision.ErrAlreadyProcessed
		}
		return fmt.Errorf("insert action %s: %w", action.EventID, err)
	}

	_, err = tx.ExecContext(ctx, rebind(s.isPostgres,
		`INSERT INTO decisions (event_id, intent_event_id, decision, risk_score, severity, reasons_json, policy_hits_json, rewrite_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		dec.EventID, dec.IntentEventID, string(dec.Decision), dec.RiskScore, string(dec.Severity),
		string(dec.ReasonsJSON), string(dec.PolicyHitsJSON), string(dec.RewriteJSON), formatTime(dec.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert decision %s: %w", dec.EventID, err)
	}

	if appr != nil {
		if err := insertApproval(ctx, tx, s.isPostgres, appr); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit outcome for %s: %w", action.EventID, err)
	}
	return nil
}
