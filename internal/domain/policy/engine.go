package policy

import (
	"math"
	"sort"
	"strings"

	"github.com/guardian-hq/guardian/internal/domain/intent"
)

// maxReasons caps the reasons list in a decision payload.
const maxReasons = 10

// Score thresholds. Applied after policy hits; they only ever promote the
// decision, never demote it.
const (
	blockThreshold    = 0.85
	approvalThreshold = 0.60
	rewriteThreshold  = 0.30
)

// Decide evaluates an intent tree against a rule set plus an optional LLM
// signal and renders a decision. It is a pure function: no I/O, no clock, and
// identical inputs produce identical outputs byte-for-byte.
//
// The tree is the string-keyed form of the intent (intent.Tree()); the caller
// is responsible for normalizing the intent first so action.target_domain and
// context.data_classification are populated.
func Decide(tree map[string]any, rules []Rule, sig Signal) Outcome {
	ordered := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if r.Enabled {
			ordered = append(ordered, r)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority > ordered[j].Priority
	})

	var hits []Rule
	for _, r := range ordered {
		if ruleMatches(tree, r) {
			hits = append(hits, r)
		}
	}

	baseScore := 0.0
	var reasons []string
	hitIDs := make([]string, 0, len(hits))
	for _, h := range hits {
		baseScore += h.RiskBoost
		if h.Message != "" {
			reasons = append(reasons, h.Message)
		}
		hitIDs = append(hitIDs, h.PolicyID)
	}

	// The LLM signal can only escalate the score, never lower it.
	score := math.Max(baseScore, sig.Score)
	if score > 1 {
		score = 1
	}
	reasons = append(reasons, sig.Reasons...)
	if len(reasons) > maxReasons {
		reasons = reasons[:maxReasons]
	}

	decision := EffectAllow
	for _, h := range hits {
		decision = MaxEffect(decision, h.Effect)
	}
	switch {
	case score > blockThreshold:
		decision = MaxEffect(decision, EffectBlock)
	case score > approvalThreshold:
		decision = MaxEffect(decision, EffectRequireApproval)
	case score > rewriteThreshold && sig.Rewrite != nil:
		decision = MaxEffect(decision, EffectRewrite)
	}

	var rewrite map[string]any
	if decision == EffectRewrite {
		rewrite = sig.Rewrite
	}
	if reasons == nil {
		reasons = []string{}
	}

	return Outcome{
		Decision: decision,
		Risk: Risk{
			Score:    math.Round(score*10000) / 10000,
			Severity: SeverityFromScore(score),
			Reasons:  reasons,
		},
		PolicyHits: hitIDs,
		Rewrite:    rewrite,
	}
}

// ruleMatches reports whether every match clause and every condition of the
// rule holds for the intent tree.
func ruleMatches(tree map[string]any, r Rule) bool {
	for path, expected := range r.Match {
		if !clauseMatches(tree, path, expected) {
			return false
		}
	}
	for _, c := range r.Conditions {
		if !conditionMatches(tree, c) {
			return false
		}
	}
	return true
}

// clauseMatches resolves a dotted path and compares against the expected
// value or expected set.
func clauseMatches(tree map[string]any, path string, expected any) bool {
	resolved := intent.Resolve(tree, path)

	expectedList, expectedIsList := asSlice(expected)
	if expectedIsList {
		if resolvedList, ok := asSlice(resolved); ok {
			// At least one resolved element appears in the expected set,
			// compared case-insensitively.
			for _, rv := range resolvedList {
				if containsFold(expectedList, rv) {
					return true
				}
			}
			return false
		}
		return memberOf(expectedList, resolved)
	}

	return equalValues(resolved, expected)
}

// conditionMatches evaluates a single allowlist or expression predicate.
// An allowlist value that did not resolve to a concrete list (an unknown
// symbolic name passed through the loader) never matches, so the rule does
// not fire on an unresolvable predicate.
func conditionMatches(tree map[string]any, c Condition) bool {
	for field, listVal := range c.NotInAllowlist {
		values, ok := asStringSlice(listVal)
		if !ok {
			return false
		}
		if inAllowlist(tree, field, values) {
			return false
		}
	}
	for field, listVal := range c.InAllowlist {
		values, ok := asStringSlice(listVal)
		if !ok {
			return false
		}
		if !inAllowlist(tree, field, values) {
			return false
		}
	}
	if c.Program != nil {
		ok, err := c.Program.Eval(tree)
		if err != nil || !ok {
			return false
		}
	}
	return true
}

// inAllowlist resolves the field and checks list membership. When the field
// is action.target_domain and the resolved value is empty, the domain is
// recomputed from action.target.
func inAllowlist(tree map[string]any, field string, values []string) bool {
	resolved := intent.Resolve(tree, field)
	s, _ := resolved.(string)
	if s == "" && field == "action.target_domain" {
		if target, ok := intent.Resolve(tree, "action.target").(string); ok {
			s = intent.TargetDomain(target)
		}
	}
	for _, v := range values {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

func asSlice(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case []string:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out, true
	default:
		return nil, false
	}
}

func asStringSlice(v any) ([]string, bool) {
	switch s := v.(type) {
	case []string:
		return s, true
	case []any:
		out := make([]string, 0, len(s))
		for _, e := range s {
			es, ok := e.(string)
			if !ok {
				return nil, false
			}
			out = append(out, es)
		}
		return out, true
	default:
		return nil, false
	}
}

// containsFold reports whether v appears in list, comparing strings
// case-insensitively.
func containsFold(list []any, v any) bool {
	vs, vIsString := v.(string)
	for _, e := range list {
		if es, ok := e.(string); ok && vIsString {
			if strings.EqualFold(es, vs) {
				return true
			}
			continue
		}
		if equalValues(e, v) {
			return true
		}
	}
	return false
}

// memberOf reports whether a scalar is a member of the expected set.
func memberOf(list []any, v any) bool {
	for _, e := range list {
		if equalValues(v, e) {
			return true
		}
	}
	return false
}

// equalValues compares a resolved intent value with an expected rule value.
// Numbers compare numerically (rule documents decode to float64, intents may
// carry ints); everything else compares by equality.
func equalValues(a, b any) bool {
	if af, aok := asFloat(a); aok {
		if bf, bok := asFloat(b); bok {
			return af == bf
		}
		return false
	}
	return a == b
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
