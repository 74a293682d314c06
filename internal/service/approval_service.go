package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/guardian-hq/guardian/internal/domain/approval"
	"github.com/guardian-hq/guardian/internal/domain/decision"
	"github.com/guardian-hq/guardian/internal/port/outbound"
)

// ApprovalService is the reviewer-facing workflow around pending approvals.
type ApprovalService struct {
	store  approval.Store
	bus    outbound.Bus
	stream string
	logger *slog.Logger
}

// NewApprovalService wires the approval workflow. stream is the
// approval-decision stream resolutions are announced on.
func NewApprovalService(store approval.Store, bus outbound.Bus, stream string, logger *slog.Logger) *ApprovalService {
	return &ApprovalService{store: store, bus: bus, stream: stream, logger: logger}
}

// ListPending returns unresolved approvals, newest first.
func (s *ApprovalService) ListPending(ctx context.Context) ([]approval.Approval, error) {
	return s.store.List(ctx, approval.StatusPending)
}

// Get returns one approval by request ID.
func (s *ApprovalService) Get(ctx context.Context, requestID string) (*approval.Approval, error) {
	if _, err := uuid.Parse(requestID); err != nil {
		return nil, approval.ErrInvalidID
	}
	return s.store.Get(ctx, requestID)
}

// Resolve transitions an approval to APPROVED or DENIED and announces the
// resolution on the approval-decision stream.
//
// The durable transition is the source of truth. A failure to emit the
// announcement is logged and swallowed: the resolution has already happened
// and must not be reported as failed, and re-running it would hit
// ErrAlreadyResolved anyway.
func (s *ApprovalService) Resolve(ctx context.Context, requestID string, terminal approval.Status, reviewerID, comment string) (*approval.Approval, error) {
	if _, err := uuid.Parse(requestID); err != nil {
		return nil, approval.ErrInvalidID
	}

	resolved, err := s.store.Resolve(ctx, requestID, terminal, reviewerID, comment)
	if err != nil {
		return nil, err
	}

	ev := decision.ApprovalDecisionEvent{
		RequestID: resolved.RequestID,
		Decision:  string(resolved.Status),
		Comment:   resolved.Comment,
		Timestamp: time.Now().UTC(),
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		s.logger.Warn("encode approval decision event", "request_id", requestID, "error", err)
		return resolved, nil
	}
	if _, err := s.bus.Append(ctx, s.stream, payload); err != nil {
		s.logger.Warn("emit approval decision event", "request_id", requestID, "error", err)
	}

	s.logger.Info("approval resolved",
		"request_id", resolved.RequestID,
		"status", resolved.Status,
		"reviewer_id", reviewerID)
	return resolved, nil
}
