// Package policy contains the domain types and the pure decision engine for
// Guardian rule evaluation.
package policy

import "time"

// Effect is the outcome a rule contributes, and the decision the engine
// ultimately renders. The set is closed.
type Effect string

const (
	EffectAllow           Effect = "ALLOW"
	EffectRewrite         Effect = "REWRITE"
	EffectRequireApproval Effect = "REQUIRE_APPROVAL"
	EffectBlock           Effect = "BLOCK"
)

// Rank orders effects by restrictiveness: ALLOW < REWRITE < REQUIRE_APPROVAL < BLOCK.
func (e Effect) Rank() int {
	switch e {
	case EffectAllow:
		return 0
	case EffectRewrite:
		return 1
	case EffectRequireApproval:
		return 2
	case EffectBlock:
		return 3
	}
	return -1
}

// Valid reports whether e is a member of the closed effect set.
func (e Effect) Valid() bool { return e.Rank() >= 0 }

// MaxEffect returns the more restrictive of two effects.
func MaxEffect(a, b Effect) Effect {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// Severity buckets a risk score for human consumption.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// SeverityFromScore maps a risk score to a severity bucket.
func SeverityFromScore(score float64) Severity {
	switch {
	case score >= 0.90:
		return SeverityCritical
	case score >= 0.70:
		return SeverityHigh
	case score >= 0.40:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// ConditionProgram is a pre-compiled rule condition expression.
// Programs are compiled by the policy loader; the engine only evaluates them,
// so evaluation stays deterministic and free of I/O.
type ConditionProgram interface {
	Eval(tree map[string]any) (bool, error)
}

// Condition is a predicate attached to a rule. At most one of the fields is
// set per condition entry.
type Condition struct {
	// NotInAllowlist maps a dotted intent field to an allowlist the resolved
	// value must NOT appear in. The value is either a concrete []string or a
	// symbolic allowlist name resolved at load time.
	NotInAllowlist map[string]any `json:"not_in_allowlist,omitempty" yaml:"not_in_allowlist,omitempty"`
	// InAllowlist is the symmetric predicate: the value MUST appear.
	InAllowlist map[string]any `json:"in_allowlist,omitempty" yaml:"in_allowlist,omitempty"`
	// CEL is an optional expression over the intent tree, compiled at load
	// time into Program.
	CEL string `json:"cel,omitempty" yaml:"cel,omitempty"`

	// Program is the compiled form of CEL. Never serialized.
	Program ConditionProgram `json:"-" yaml:"-"`
}

// Rule is a matcher with an effect and an optional risk boost.
type Rule struct {
	PolicyID string `json:"policy_id" yaml:"policy_id"`
	Version  int    `json:"version" yaml:"version"`
	// Priority orders evaluation; higher priority rules are considered first.
	Priority int  `json:"priority" yaml:"priority"`
	Enabled  bool `json:"enabled" yaml:"enabled"`

	// Match maps dotted intent paths to an expected value or expected set.
	Match      map[string]any `json:"match" yaml:"match"`
	Conditions []Condition    `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	Effect     Effect         `json:"effect" yaml:"effect"`
	// RiskBoost is the rule's non-negative contribution to the aggregate score.
	RiskBoost float64 `json:"risk_boost" yaml:"risk_boost"`
	Message   string  `json:"message,omitempty" yaml:"message,omitempty"`

	UpdatedAt time.Time `json:"updated_at,omitempty" yaml:"-"`
}

// Signal is the optional LLM risk contribution to a decision.
// The zero value means "no signal": a zero score never changes the aggregate
// and a nil rewrite never promotes to REWRITE.
type Signal struct {
	Score   float64
	Reasons []string
	Rewrite map[string]any
}

// Risk is the aggregated risk block of a decision.
type Risk struct {
	Score    float64  `json:"score"`
	Severity Severity `json:"severity"`
	Reasons  []string `json:"reasons"`
}

// Outcome is the engine's verdict for one intent.
type Outcome struct {
	Decision   Effect
	Risk       Risk
	PolicyHits []string
	// Rewrite is the LLM-proposed safer payload; set iff Decision is REWRITE.
	Rewrite map[string]any
}
