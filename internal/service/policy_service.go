// Package service contains the Guardian application services: the policy
// loader, the evaluation pipeline, and the approval workflow. Services own
// orchestration; the pure decision logic lives in internal/domain.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/guardian-hq/guardian/internal/adapter/outbound/cel"
	"github.com/guardian-hq/guardian/internal/domain/policy"
)

// ErrPolicyLoad marks a failure to produce a usable policy snapshot. The
// pipeline surfaces it instead of evaluating against an empty or partial rule
// set: no decision is rendered without policies.
var ErrPolicyLoad = errors.New("policy load failed")

// snapshotTTL bounds how stale a cached policy snapshot may be.
const snapshotTTL = 30 * time.Second

// Snapshot is an immutable, fully resolved rule set: symbolic allowlists
// replaced with concrete values and CEL conditions compiled.
type Snapshot struct {
	Rules []policy.Rule
	// Fingerprint identifies the rule content; two snapshots with equal
	// fingerprints render identical decisions for identical intents.
	Fingerprint uint64
	LoadedAt    time.Time
}

// PolicyService loads rules from the store and prepares them for the engine.
// Snapshots are cached for a short TTL so per-intent evaluation does not hit
// the database.
type PolicyService struct {
	store      policy.RuleStore
	allowlists *policy.AllowlistRegistry
	evaluator  *cel.Evaluator
	logger     *slog.Logger

	mu       sync.Mutex
	snapshot *Snapshot
}

// NewPolicyService creates the policy loader.
func NewPolicyService(store policy.RuleStore, allowlists *policy.AllowlistRegistry, logger *slog.Logger) (*PolicyService, error) {
	evaluator, err := cel.NewEvaluator()
	if err != nil {
		return nil, fmt.Errorf("create condition evaluator: %w", err)
	}
	return &PolicyService{
		store:      store,
		allowlists: allowlists,
		evaluator:  evaluator,
		logger:     logger,
	}, nil
}

// Load returns the current policy snapshot, reloading from the store when the
// cached one has expired. A load failure is wrapped in ErrPolicyLoad and the
// stale snapshot, if any, is NOT returned: partial or outdated enforcement is
// worse than refusing to decide.
func (s *PolicyService) Load(ctx context.Context) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.snapshot != nil && time.Since(s.snapshot.LoadedAt) < snapshotTTL {
		return s.snapshot, nil
	}

	snap, err := s.load(ctx)
	if err != nil {
		s.snapshot = nil
		return nil, fmt.Errorf("%w: %v", ErrPolicyLoad, err)
	}
	s.snapshot = snap
	return snap, nil
}

// Invalidate drops the cached snapshot so the next Load hits the store.
// Called after policy mutations.
func (s *PolicyService) Invalidate() {
	s.mu.Lock()
	s.snapshot = nil
	s.mu.Unlock()
}

func (s *PolicyService) load(ctx context.Context) (*Snapshot, error) {
	rules, err := s.store.GetEnabledRules(ctx)
	if err != nil {
		return nil, err
	}

	resolved := make([]policy.Rule, 0, len(rules))
	for _, r := range rules {
		rule, err := s.prepare(r)
		if err != nil {
			return nil, fmt.Errorf("policy %s: %w", r.PolicyID, err)
		}
		resolved = append(resolved, rule)
	}

	snap := &Snapshot{
		Rules:       resolved,
		Fingerprint: fingerprint(resolved),
		LoadedAt:    time.Now(),
	}
	s.logger.Debug("policy snapshot loaded",
		"rules", len(resolved), "fingerprint", fmt.Sprintf("%016x", snap.Fingerprint))
	return snap, nil
}

// prepare resolves symbolic allowlist names and compiles CEL conditions.
// Unknown symbolic names pass through unresolved; the engine treats an
// unresolved predicate as non-matching, so the rule simply never fires.
func (s *PolicyService) prepare(r policy.Rule) (policy.Rule, error) {
	conditions := make([]policy.Condition, len(r.Conditions))
	for i, c := range r.Conditions {
		cond := policy.Condition{
			NotInAllowlist: s.resolveAllowlists(c.NotInAllowlist),
			InAllowlist:    s.resolveAllowlists(c.InAllowlist),
			CEL:            c.CEL,
		}
		if c.CEL != "" {
			prg, err := s.evaluator.Compile(c.CEL)
			if err != nil {
				return policy.Rule{}, fmt.Errorf("condition %d: %w", i, err)
			}
			cond.Program = prg
		}
		conditions[i] = cond
	}
	r.Conditions = conditions
	return r, nil
}

func (s *PolicyService) resolveAllowlists(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for field, v := range m {
		if name, ok := v.(string); ok {
			if values, found := s.allowlists.Resolve(name); found {
				out[field] = values
				continue
			}
			s.logger.Warn("unknown allowlist name in policy condition", "name", name, "field", field)
		}
		out[field] = v
	}
	return out
}

// fingerprint hashes the rule documents in load order.
func fingerprint(rules []policy.Rule) uint64 {
	h := xxhash.New()
	for _, r := range rules {
		doc, err := json.Marshal(r)
		if err != nil {
			continue
		}
		_, _ = h.Write(doc)
	}
	return h.Sum64()
}
