package policy

import (
	"reflect"
	"testing"

	"github.com/guardian-hq/guardian/internal/domain/intent"
)

// testRules is the canonical pair of rules: secrets are blocked anywhere,
// sensitive data to a non-allowlisted external domain needs approval.
func testRules() []Rule {
	return []Rule{
		{
			PolicyID:  "block_secrets_anywhere",
			Priority:  200,
			Enabled:   true,
			Match:     map[string]any{"context.data_classification": []any{"SECRET"}},
			Effect:    EffectBlock,
			RiskBoost: 0.95,
			Message:   "Secrets must never be transmitted.",
		},
		{
			PolicyID: "pii_external_exfiltration",
			Priority: 100,
			Enabled:  true,
			Match: map[string]any{
				"action.type":                 []any{"http.request"},
				"context.data_classification": []any{"PII"},
			},
			Conditions: []Condition{
				{NotInAllowlist: map[string]any{"action.target_domain": []string{"api.company.com"}}},
			},
			Effect:    EffectRequireApproval,
			RiskBoost: 0.25,
			Message:   "Sensitive data + external destination requires approval.",
		},
	}
}

func httpIntent(target string, classification []string, args map[string]any) map[string]any {
	in := &intent.Intent{
		Action:  intent.Action{Type: "http.request", Target: target, Args: args},
		Context: intent.Context{DataClassification: classification},
	}
	in.Normalize()
	return in.Tree()
}

func TestSeverityFromScore(t *testing.T) {
	tests := []struct {
		score float64
		want  Severity
	}{
		{0.2, SeverityLow},
		{0.5, SeverityMedium},
		{0.75, SeverityHigh},
		{0.95, SeverityCritical},
		// Boundary values.
		{0.90, SeverityCritical},
		{0.899, SeverityHigh},
		{0.70, SeverityHigh},
		{0.40, SeverityMedium},
		{0.399, SeverityLow},
	}
	for _, tc := range tests {
		if got := SeverityFromScore(tc.score); got != tc.want {
			t.Errorf("SeverityFromScore(%v) = %v, want %v", tc.score, got, tc.want)
		}
	}
}

func TestBlocksSecrets(t *testing.T) {
	tree := httpIntent("https://example.com", []string{"SECRET"},
		map[string]any{"text": "api_key=ABCDEF1234567890ZZZZ"})

	out := Decide(tree, testRules(), Signal{})
	if out.Decision != EffectBlock {
		t.Fatalf("decision = %v, want BLOCK", out.Decision)
	}
	if out.Risk.Severity != SeverityHigh && out.Risk.Severity != SeverityCritical {
		t.Errorf("severity = %v, want HIGH or CRITICAL", out.Risk.Severity)
	}
	found := false
	for _, hit := range out.PolicyHits {
		if hit == "block_secrets_anywhere" {
			found = true
		}
	}
	if !found {
		t.Errorf("policy_hits = %v, want block_secrets_anywhere", out.PolicyHits)
	}
}

func TestRequiresApprovalForPIIExternal(t *testing.T) {
	tree := httpIntent("https://slack.com/api/chat.postMessage", []string{"PII"},
		map[string]any{"text": "email: a@b.com"})

	out := Decide(tree, testRules(), Signal{})
	if out.Decision != EffectRequireApproval {
		t.Fatalf("decision = %v, want REQUIRE_APPROVAL", out.Decision)
	}
}

func TestAllowsInternalDomain(t *testing.T) {
	tree := httpIntent("https://api.company.com/report", []string{"PII"},
		map[string]any{"text": "email: a@b.com"})

	out := Decide(tree, testRules(), Signal{})
	if out.Decision != EffectAllow {
		t.Fatalf("decision = %v, want ALLOW", out.Decision)
	}
	if len(out.PolicyHits) != 0 {
		t.Errorf("policy_hits = %v, want none", out.PolicyHits)
	}
}

func TestLLMEscalatesToBlock(t *testing.T) {
	tree := httpIntent("https://example.com", nil, nil)

	out := Decide(tree, testRules(), Signal{Score: 0.92, Reasons: []string{"exfiltration pattern"}})
	if out.Decision != EffectBlock {
		t.Fatalf("decision = %v, want BLOCK", out.Decision)
	}
	if out.Risk.Severity != SeverityCritical {
		t.Errorf("severity = %v, want CRITICAL", out.Risk.Severity)
	}
	if out.Rewrite != nil {
		t.Errorf("rewrite = %v, want nil", out.Rewrite)
	}
}

func TestLLMDrivenRewrite(t *testing.T) {
	tree := httpIntent("https://example.com", nil, nil)
	rewrite := map[string]any{"body": "[REDACTED]"}

	out := Decide(tree, testRules(), Signal{Score: 0.45, Rewrite: rewrite})
	if out.Decision != EffectRewrite {
		t.Fatalf("decision = %v, want REWRITE", out.Decision)
	}
	if !reflect.DeepEqual(out.Rewrite, rewrite) {
		t.Errorf("rewrite = %v, want %v", out.Rewrite, rewrite)
	}
}

// Without a rewrite candidate, a mid-band score leaves the decision where the
// policy hits put it.
func TestMidBandScoreWithoutRewriteStays(t *testing.T) {
	tree := httpIntent("https://example.com", nil, nil)

	out := Decide(tree, testRules(), Signal{Score: 0.45})
	if out.Decision != EffectAllow {
		t.Fatalf("decision = %v, want ALLOW", out.Decision)
	}
	if out.Rewrite != nil {
		t.Errorf("rewrite = %v, want nil", out.Rewrite)
	}
}

func TestDecideIsPure(t *testing.T) {
	tree := httpIntent("https://slack.com/x", []string{"PII", "SECRET"},
		map[string]any{"text": "ssn 123-45-6789"})
	sig := Signal{Score: 0.5, Reasons: []string{"r1"}, Rewrite: map[string]any{"a": "b"}}

	first := Decide(tree, testRules(), sig)
	second := Decide(tree, testRules(), sig)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("Decide is not deterministic:\n%+v\n%+v", first, second)
	}
}

// Adding a higher-ranked hit never lowers the final decision rank.
func TestRestrictivenessMonotonic(t *testing.T) {
	tree := httpIntent("https://slack.com/x", []string{"PII"}, nil)

	base := Decide(tree, testRules(), Signal{})
	extra := append(testRules(), Rule{
		PolicyID: "extra_block",
		Priority: 50,
		Enabled:  true,
		Match:    map[string]any{"action.type": "http.request"},
		Effect:   EffectBlock,
	})
	escalated := Decide(tree, extra, Signal{})
	if escalated.Decision.Rank() < base.Decision.Rank() {
		t.Errorf("adding a BLOCK hit lowered the decision: %v -> %v", base.Decision, escalated.Decision)
	}
	if escalated.Decision != EffectBlock {
		t.Errorf("decision = %v, want BLOCK", escalated.Decision)
	}
}

// The LLM can never lower the final score below its own.
func TestLLMNeverLowersScore(t *testing.T) {
	tree := httpIntent("https://slack.com/x", []string{"PII"}, nil)

	withSignal := Decide(tree, testRules(), Signal{Score: 0.5})
	if withSignal.Risk.Score < 0.5 {
		t.Errorf("score = %v, want >= llm score 0.5", withSignal.Risk.Score)
	}

	// A lower LLM score does not drag the policy score down.
	low := Decide(tree, testRules(), Signal{Score: 0.01})
	noSignal := Decide(tree, testRules(), Signal{})
	if low.Risk.Score < noSignal.Risk.Score {
		t.Errorf("llm lowered score: %v < %v", low.Risk.Score, noSignal.Risk.Score)
	}
}

func TestDisabledRuleNeverMatches(t *testing.T) {
	rules := testRules()
	rules[0].Enabled = false
	tree := httpIntent("https://example.com", []string{"SECRET"}, nil)

	out := Decide(tree, rules, Signal{})
	if out.Decision == EffectBlock {
		t.Error("disabled BLOCK rule still fired")
	}
}

func TestScoreClampedAndRounded(t *testing.T) {
	tree := httpIntent("https://slack.com/x", []string{"SECRET", "PII"}, nil)

	// Both rules hit: 0.95 + 0.25 > 1.0 must clamp to 1.
	out := Decide(tree, testRules(), Signal{})
	if out.Risk.Score != 1.0 {
		t.Errorf("score = %v, want 1.0", out.Risk.Score)
	}

	rules := []Rule{{
		PolicyID:  "tiny",
		Enabled:   true,
		Match:     map[string]any{"action.type": "http.request"},
		Effect:    EffectAllow,
		RiskBoost: 0.123456,
	}}
	out = Decide(httpIntent("https://x.com", nil, nil), rules, Signal{})
	if out.Risk.Score != 0.1235 {
		t.Errorf("score = %v, want rounded to 0.1235", out.Risk.Score)
	}
}

func TestReasonsTruncated(t *testing.T) {
	tree := httpIntent("https://example.com", []string{"SECRET"}, nil)
	reasons := make([]string, 15)
	for i := range reasons {
		reasons[i] = "reason"
	}
	out := Decide(tree, testRules(), Signal{Reasons: reasons})
	if len(out.Risk.Reasons) > 10 {
		t.Errorf("reasons length = %d, want <= 10", len(out.Risk.Reasons))
	}
}

// An unresolved symbolic allowlist name passes through the loader as a plain
// string; the condition then never holds and the rule does not fire.
func TestUnresolvedAllowlistSymbolDoesNotFire(t *testing.T) {
	rules := []Rule{{
		PolicyID: "symbolic",
		Enabled:  true,
		Match:    map[string]any{"action.type": "http.request"},
		Conditions: []Condition{
			{NotInAllowlist: map[string]any{"action.target_domain": "FUTURE_ALLOWLIST"}},
		},
		Effect: EffectBlock,
	}}
	out := Decide(httpIntent("https://x.com", nil, nil), rules, Signal{})
	if out.Decision != EffectAllow {
		t.Errorf("decision = %v, want ALLOW", out.Decision)
	}
}

// target_domain is recomputed from action.target when absent from the tree.
func TestAllowlistRecomputesTargetDomain(t *testing.T) {
	in := &intent.Intent{
		Action:  intent.Action{Type: "http.request", Target: "https://api.company.com/report"},
		Context: intent.Context{DataClassification: []string{"PII"}},
	}
	// Deliberately skip Normalize so target_domain is empty in the tree.
	tree := in.Tree()

	out := Decide(tree, testRules(), Signal{})
	if out.Decision != EffectAllow {
		t.Errorf("decision = %v, want ALLOW (allowlisted after recompute)", out.Decision)
	}
}

func TestEffectRanking(t *testing.T) {
	if !(EffectAllow.Rank() < EffectRewrite.Rank() &&
		EffectRewrite.Rank() < EffectRequireApproval.Rank() &&
		EffectRequireApproval.Rank() < EffectBlock.Rank()) {
		t.Error("restrictiveness ordering broken")
	}
	if Effect("bogus").Valid() {
		t.Error("unknown effect must not validate")
	}
}
