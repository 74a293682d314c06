package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/guardian-hq/guardian/internal/domain/approval"
	"github.com/guardian-hq/guardian/internal/domain/classify"
	"github.com/guardian-hq/guardian/internal/domain/decision"
	"github.com/guardian-hq/guardian/internal/domain/intent"
	"github.com/guardian-hq/guardian/internal/domain/policy"
	"github.com/guardian-hq/guardian/internal/port/outbound"
)

// PipelineOptions are the knobs of the evaluation pipeline beyond its
// collaborators.
type PipelineOptions struct {
	// DecisionStream is the stream decision events are appended to.
	DecisionStream string
	// PersistSyncApprovals makes the synchronous evaluate path create durable
	// approval records for REQUIRE_APPROVAL verdicts. Off by default: a
	// synchronous caller usually re-submits through the intent stream.
	PersistSyncApprovals bool
	// Tracer instruments per-intent evaluation. Nil means no tracing.
	Tracer trace.Tracer
	// Decisions counts rendered decisions by effect. Nil means no counting.
	Decisions *prometheus.CounterVec
}

// Pipeline evaluates intents: classify, load policies, score, decide, and for
// the stream path persist the outcome and emit the decision event.
type Pipeline struct {
	policies  *PolicyService
	scorer    outbound.Scorer
	records   decision.RecordStore
	approvals approval.Store
	bus       outbound.Bus
	opts      PipelineOptions
	logger    *slog.Logger
	tracer    trace.Tracer
}

// NewPipeline wires the evaluation pipeline.
func NewPipeline(policies *PolicyService, scorer outbound.Scorer, records decision.RecordStore,
	approvals approval.Store, bus outbound.Bus, opts PipelineOptions, logger *slog.Logger) *Pipeline {
	tracer := opts.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("guardian")
	}
	return &Pipeline{
		policies:  policies,
		scorer:    scorer,
		records:   records,
		approvals: approvals,
		bus:       bus,
		opts:      opts,
		logger:    logger,
		tracer:    tracer,
	}
}

// Evaluate renders a decision for the intent without persisting anything and
// without emitting events. Used by the synchronous HTTP endpoint; the
// returned event has no approval request ID unless PersistSyncApprovals is
// set.
func (p *Pipeline) Evaluate(ctx context.Context, in *intent.Intent) (*decision.Event, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.evaluate")
	defer span.End()

	ev, _, err := p.decide(ctx, in)
	if err != nil {
		return nil, err
	}

	if ev.Decision == policy.EffectRequireApproval && p.opts.PersistSyncApprovals {
		appr := p.newApproval(in, ev)
		if err := p.approvals.Create(ctx, appr); err != nil {
			return nil, fmt.Errorf("create approval record: %w", err)
		}
		ev.Approval = decision.ApprovalRef{Required: true, RequestID: &appr.RequestID}
	}

	p.count(ev)
	span.SetAttributes(
		attribute.String("guardian.decision", string(ev.Decision)),
		attribute.Float64("guardian.risk_score", ev.Risk.Score),
	)
	return ev, nil
}

// Process renders a decision for a streamed intent, durably persists the
// outcome, and appends the decision event. ACKing the intent message is the
// caller's job and must happen only after Process returns nil.
//
// Returns decision.ErrAlreadyProcessed when this intent's event ID was
// already recorded; redelivered messages take this path.
func (p *Pipeline) Process(ctx context.Context, in *intent.Intent) (*decision.Event, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.process")
	defer span.End()

	ev, outcome, err := p.decide(ctx, in)
	if err != nil {
		return nil, err
	}

	var appr *approval.Approval
	if ev.Decision == policy.EffectRequireApproval {
		appr = p.newApproval(in, ev)
		ev.Approval = decision.ApprovalRef{Required: true, RequestID: &appr.RequestID}
	}

	action, rec, err := buildRecords(in, ev, outcome)
	if err != nil {
		return nil, err
	}
	if err := p.records.PersistOutcome(ctx, action, rec, appr); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode decision event: %w", err)
	}
	if _, err := p.bus.Append(ctx, p.opts.DecisionStream, payload); err != nil {
		return nil, fmt.Errorf("append decision event: %w", err)
	}

	p.count(ev)
	span.SetAttributes(
		attribute.String("guardian.decision", string(ev.Decision)),
		attribute.Float64("guardian.risk_score", ev.Risk.Score),
	)
	p.logger.Info("decision rendered",
		"intent_event_id", in.EventID,
		"decision", ev.Decision,
		"risk_score", ev.Risk.Score,
		"severity", ev.Risk.Severity,
		"policy_hits", ev.PolicyHits)
	return ev, nil
}

// decide runs the pure part of the pipeline: normalize, classify, load the
// policy snapshot, score, and render.
func (p *Pipeline) decide(ctx context.Context, in *intent.Intent) (*decision.Event, *policy.Outcome, error) {
	in.Normalize()
	in.AddClassifications(classify.Classify(in))

	snap, err := p.policies.Load(ctx)
	if err != nil {
		return nil, nil, err
	}

	sig := p.scorer.Score(ctx, in)
	outcome := policy.Decide(in.Tree(), snap.Rules, sig)

	ev := &decision.Event{
		EventID:       uuid.NewString(),
		TraceID:       in.TraceID,
		IntentEventID: in.EventID,
		Timestamp:     time.Now().UTC(),
		Decision:      outcome.Decision,
		Risk:          outcome.Risk,
		PolicyHits:    outcome.PolicyHits,
		Rewrite:       outcome.Rewrite,
		Approval:      decision.ApprovalRef{Required: false, RequestID: nil},
	}
	return ev, &outcome, nil
}

func (p *Pipeline) newApproval(in *intent.Intent, ev *decision.Event) *approval.Approval {
	return &approval.Approval{
		RequestID:       uuid.NewString(),
		IntentEventID:   in.EventID,
		DecisionEventID: ev.EventID,
		Status:          approval.StatusPending,
		CreatedAt:       ev.Timestamp,
	}
}

func (p *Pipeline) count(ev *decision.Event) {
	if p.opts.Decisions != nil {
		p.opts.Decisions.WithLabelValues(string(ev.Decision)).Inc()
	}
}

func buildRecords(in *intent.Intent, ev *decision.Event, outcome *policy.Outcome) (decision.ActionRecord, decision.Record, error) {
	contextJSON, err := json.Marshal(in.Context)
	if err != nil {
		return decision.ActionRecord{}, decision.Record{}, fmt.Errorf("encode intent context: %w", err)
	}
	reasonsJSON, err := json.Marshal(outcome.Risk.Reasons)
	if err != nil {
		return decision.ActionRecord{}, decision.Record{}, fmt.Errorf("encode reasons: %w", err)
	}
	hitsJSON, err := json.Marshal(outcome.PolicyHits)
	if err != nil {
		return decision.ActionRecord{}, decision.Record{}, fmt.Errorf("encode policy hits: %w", err)
	}
	rewriteJSON, err := json.Marshal(outcome.Rewrite)
	if err != nil {
		return decision.ActionRecord{}, decision.Record{}, fmt.Errorf("encode rewrite: %w", err)
	}

	action := decision.ActionRecord{
		EventID:     in.EventID,
		TraceID:     in.TraceID,
		AgentID:     in.AgentID,
		ActionType:  in.Action.Type,
		Target:      in.Action.Target,
		ArgsHash:    decision.HashArgs(in.Action.Args),
		ContextJSON: contextJSON,
		CreatedAt:   ev.Timestamp,
	}
	rec := decision.Record{
		EventID:        ev.EventID,
		IntentEventID:  in.EventID,
		Decision:       ev.Decision,
		RiskScore:      ev.Risk.Score,
		Severity:       ev.Risk.Severity,
		ReasonsJSON:    reasonsJSON,
		PolicyHitsJSON: hitsJSON,
		RewriteJSON:    rewriteJSON,
		CreatedAt:      ev.Timestamp,
	}
	return action, rec, nil
}
