// Package outbound defines the ports Guardian services use to reach
// collaborators: the LLM risk scorer and the stream broker.
package outbound

import (
	"context"

	"github.com/guardian-hq/guardian/internal/domain/intent"
	"github.com/guardian-hq/guardian/internal/domain/policy"
)

// Scorer produces an optional LLM risk signal for an intent.
//
// Contract: a scorer never raises into the pipeline. Any failure, timeout, or
// disabled configuration yields the zero Signal (score 0, no reasons, no
// rewrite) so the engine degrades cleanly to policy-only. Implementations
// clamp the score to [0, 1] and truncate reasons to 10 entries.
type Scorer interface {
	Score(ctx context.Context, in *intent.Intent) policy.Signal
}

// NopScorer is the disabled-scorer implementation.
type NopScorer struct{}

// Score always returns the zero signal.
func (NopScorer) Score(context.Context, *intent.Intent) policy.Signal { return policy.Signal{} }
