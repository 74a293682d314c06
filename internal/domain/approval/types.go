// Package approval contains the domain types for human approval of
// REQUIRE_APPROVAL decisions.
//
// An approval record is created when the pipeline renders REQUIRE_APPROVAL
// and lives until a reviewer resolves it. The pending -> terminal transition
// is conditional and irreversible: of any number of concurrent resolutions
// exactly one succeeds.
package approval

import (
	"context"
	"errors"
	"time"
)

// Status is the lifecycle state of an approval request.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusDenied   Status = "DENIED"
)

// Terminal reports whether s is a resolved state.
func (s Status) Terminal() bool { return s == StatusApproved || s == StatusDenied }

var (
	// ErrNotFound is returned when no approval exists for a request ID.
	ErrNotFound = errors.New("approval not found")
	// ErrAlreadyResolved is returned when the approval left PENDING before
	// this resolution attempt.
	ErrAlreadyResolved = errors.New("approval already resolved")
	// ErrInvalidID is returned when a request ID is not a UUID.
	ErrInvalidID = errors.New("invalid approval request id")
)

// Approval is one pending or resolved approval request.
type Approval struct {
	RequestID       string     `json:"request_id"`
	IntentEventID   string     `json:"intent_event_id"`
	DecisionEventID string     `json:"decision_event_id"`
	Status          Status     `json:"status"`
	ReviewerID      string     `json:"reviewer_id,omitempty"`
	Comment         string     `json:"comment,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	// ResolvedAt is set iff Status is terminal.
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// Store is the durable registry of approval records.
type Store interface {
	// Create inserts a new approval in state PENDING.
	Create(ctx context.Context, a *Approval) error
	// List returns approvals newest-first, filtered by status when non-empty.
	List(ctx context.Context, status Status) ([]Approval, error)
	// Get returns an approval by request ID, or ErrNotFound.
	Get(ctx context.Context, requestID string) (*Approval, error)
	// Resolve conditionally transitions PENDING -> terminal. The update
	// matches only rows still in PENDING; when it affects nothing, a second
	// read distinguishes ErrNotFound from ErrAlreadyResolved.
	Resolve(ctx context.Context, requestID string, terminal Status, reviewerID, comment string) (*Approval, error)
}
