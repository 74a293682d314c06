package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/guardian-hq/guardian/internal/domain/approval"
	"github.com/guardian-hq/guardian/internal/domain/decision"
	"github.com/guardian-hq/guardian/internal/domain/intent"
	"github.com/guardian-hq/guardian/internal/domain/policy"
	"github.com/guardian-hq/guardian/internal/port/outbound"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeRuleStore serves a fixed rule set and counts loads.
type fakeRuleStore struct {
	mu    sync.Mutex
	rules []policy.Rule
	err   error
	loads int
}

func (f *fakeRuleStore) GetEnabledRules(context.Context) ([]policy.Rule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]policy.Rule, len(f.rules))
	copy(out, f.rules)
	return out, nil
}

func (f *fakeRuleStore) GetAllRules(ctx context.Context) ([]policy.Rule, error) {
	return f.GetEnabledRules(ctx)
}

func (f *fakeRuleStore) GetRule(context.Context, string) (*policy.Rule, error) { return nil, nil }
func (f *fakeRuleStore) SaveRule(context.Context, *policy.Rule) error         { return nil }
func (f *fakeRuleStore) DeleteRule(context.Context, string) error             { return nil }

func (f *fakeRuleStore) loadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loads
}

// fakeBus records appended payloads per stream.
type fakeBus struct {
	mu        sync.Mutex
	appended  map[string][][]byte
	appendErr error
}

func newFakeBus() *fakeBus {
	return &fakeBus{appended: map[string][][]byte{}}
}

func (f *fakeBus) Append(_ context.Context, stream string, payload []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return "", f.appendErr
	}
	f.appended[stream] = append(f.appended[stream], payload)
	return "1-0", nil
}

func (f *fakeBus) EnsureGroup(context.Context, string, string) error { return nil }
func (f *fakeBus) ReadGroup(context.Context, string, string, string, int64, time.Duration) ([]outbound.StreamMessage, error) {
	return nil, nil
}
func (f *fakeBus) Ack(context.Context, string, string, ...string) error { return nil }
func (f *fakeBus) Ping(context.Context) error                           { return nil }
func (f *fakeBus) Close() error                                         { return nil }

func (f *fakeBus) payloads(stream string) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.appended[stream]
}

// fakeRecordStore keeps outcomes in memory, rejecting duplicate intent IDs.
type fakeRecordStore struct {
	mu        sync.Mutex
	actions   map[string]decision.ActionRecord
	decisions []decision.Record
	approvals []*approval.Approval
}

func newFakeRecordStore() *fakeRecordStore {
	return &fakeRecordStore{actions: map[string]decision.ActionRecord{}}
}

func (f *fakeRecordStore) PersistOutcome(_ context.Context, action decision.ActionRecord, dec decision.Record, appr *approval.Approval) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, dup := f.actions[action.EventID]; dup {
		return decision.ErrAlreadyProcessed
	}
	f.actions[action.EventID] = action
	f.decisions = append(f.decisions, dec)
	if appr != nil {
		f.approvals = append(f.approvals, appr)
	}
	return nil
}

// fakeApprovalStore is an in-memory approval.Store.
type fakeApprovalStore struct {
	mu        sync.Mutex
	approvals map[string]*approval.Approval
	createErr error
}

func newFakeApprovalStore() *fakeApprovalStore {
	return &fakeApprovalStore{approvals: map[string]*approval.Approval{}}
}

func (f *fakeApprovalStore) Create(_ context.Context, a *approval.Approval) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	cp := *a
	f.approvals[a.RequestID] = &cp
	return nil
}

func (f *fakeApprovalStore) List(_ context.Context, status approval.Status) ([]approval.Approval, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []approval.Approval
	for _, a := range f.approvals {
		if status == "" || a.Status == status {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (f *fakeApprovalStore) Get(_ context.Context, requestID string) (*approval.Approval, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.approvals[requestID]
	if !ok {
		return nil, approval.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (f *fakeApprovalStore) Resolve(_ context.Context, requestID string, terminal approval.Status, reviewerID, comment string) (*approval.Approval, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.approvals[requestID]
	if !ok {
		return nil, approval.ErrNotFound
	}
	if a.Status.Terminal() {
		return nil, approval.ErrAlreadyResolved
	}
	now := time.Now().UTC()
	a.Status = terminal
	a.ReviewerID = reviewerID
	a.Comment = comment
	a.ResolvedAt = &now
	cp := *a
	return &cp, nil
}

// fixedScorer returns a canned signal.
type fixedScorer struct {
	sig policy.Signal
}

func (f fixedScorer) Score(context.Context, *intent.Intent) policy.Signal { return f.sig }

var errStoreDown = errors.New("store down")
