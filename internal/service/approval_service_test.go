package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/guardian-hq/guardian/internal/domain/approval"
	"github.com/guardian-hq/guardian/internal/domain/decision"
)

const approvalDecisionStream = "approval.decision"

func newApprovalFixture(t *testing.T) (*ApprovalService, *fakeApprovalStore, *fakeBus) {
	t.Helper()
	store := newFakeApprovalStore()
	bus := newFakeBus()
	svc := NewApprovalService(store, bus, approvalDecisionStream, testLogger())
	return svc, store, bus
}

func pendingApproval(t *testing.T, store *fakeApprovalStore) string {
	t.Helper()
	id := uuid.NewString()
	err := store.Create(context.Background(), &approval.Approval{
		RequestID:       id,
		IntentEventID:   "intent-1",
		DecisionEventID: "dec-1",
		Status:          approval.StatusPending,
		CreatedAt:       time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("Create() returned unexpected error: %v", err)
	}
	return id
}

func TestResolve_ApprovesAndEmitsEvent(t *testing.T) {
	svc, store, bus := newApprovalFixture(t)
	id := pendingApproval(t, store)

	resolved, err := svc.Resolve(context.Background(), id, approval.StatusApproved, "alice", "verified manually")
	if err != nil {
		t.Fatalf("Resolve() returned unexpected error: %v", err)
	}
	if resolved.Status != approval.StatusApproved {
		t.Errorf("expected APPROVED, got %s", resolved.Status)
	}
	if resolved.ResolvedAt == nil {
		t.Error("expected ResolvedAt on a resolved approval")
	}

	payloads := bus.payloads(approvalDecisionStream)
	if len(payloads) != 1 {
		t.Fatalf("expected 1 approval decision event, got %d", len(payloads))
	}
	var ev decision.ApprovalDecisionEvent
	if err := json.Unmarshal(payloads[0], &ev); err != nil {
		t.Fatalf("event is not valid JSON: %v", err)
	}
	if ev.RequestID != id || ev.Decision != "APPROVED" || ev.Comment != "verified manually" {
		t.Errorf("unexpected event contents: %+v", ev)
	}
}

func TestResolve_EmitFailureDoesNotFailTheResolution(t *testing.T) {
	svc, store, bus := newApprovalFixture(t)
	id := pendingApproval(t, store)
	bus.mu.Lock()
	bus.appendErr = errors.New("broker gone")
	bus.mu.Unlock()

	resolved, err := svc.Resolve(context.Background(), id, approval.StatusDenied, "bob", "")
	if err != nil {
		t.Fatalf("Resolve() must succeed despite emit failure, got: %v", err)
	}
	if resolved.Status != approval.StatusDenied {
		t.Errorf("expected DENIED, got %s", resolved.Status)
	}
	// The durable record is the source of truth.
	got, err := store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get() returned unexpected error: %v", err)
	}
	if got.Status != approval.StatusDenied {
		t.Errorf("expected durable DENIED, got %s", got.Status)
	}
}

func TestResolve_SecondResolutionFails(t *testing.T) {
	svc, store, _ := newApprovalFixture(t)
	id := pendingApproval(t, store)
	ctx := context.Background()

	if _, err := svc.Resolve(ctx, id, approval.StatusApproved, "alice", ""); err != nil {
		t.Fatalf("first Resolve() returned unexpected error: %v", err)
	}
	_, err := svc.Resolve(ctx, id, approval.StatusDenied, "bob", "")
	if !errors.Is(err, approval.ErrAlreadyResolved) {
		t.Fatalf("expected ErrAlreadyResolved, got %v", err)
	}
}

func TestResolve_RejectsMalformedID(t *testing.T) {
	svc, _, bus := newApprovalFixture(t)

	_, err := svc.Resolve(context.Background(), "not-a-uuid", approval.StatusApproved, "alice", "")
	if !errors.Is(err, approval.ErrInvalidID) {
		t.Fatalf("expected ErrInvalidID, got %v", err)
	}
	if len(bus.payloads(approvalDecisionStream)) != 0 {
		t.Error("no event may be emitted for a rejected resolution")
	}
}

func TestResolve_UnknownIDIsNotFound(t *testing.T) {
	svc, _, _ := newApprovalFixture(t)
	_, err := svc.Resolve(context.Background(), uuid.NewString(), approval.StatusApproved, "alice", "")
	if !errors.Is(err, approval.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListPending_FiltersResolved(t *testing.T) {
	svc, store, _ := newApprovalFixture(t)
	ctx := context.Background()
	keep := pendingApproval(t, store)
	done := pendingApproval(t, store)

	if _, err := svc.Resolve(ctx, done, approval.StatusApproved, "alice", ""); err != nil {
		t.Fatalf("Resolve() returned unexpected error: %v", err)
	}

	pending, err := svc.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending() returned unexpected error: %v", err)
	}
	if len(pending) != 1 || pending[0].RequestID != keep {
		t.Errorf("expected only the unresolved approval, got %+v", pending)
	}
}

func TestGet_RejectsMalformedID(t *testing.T) {
	svc, _, _ := newApprovalFixture(t)
	_, err := svc.Get(context.Background(), "42")
	if !errors.Is(err, approval.ErrInvalidID) {
		t.Fatalf("expected ErrInvalidID, got %v", err)
	}
}
