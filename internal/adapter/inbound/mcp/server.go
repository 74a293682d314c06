// Package mcp exposes Guardian over the Model Context Protocol, so agent
// frameworks can ask for decisions and drive the approval workflow as tool
// calls over stdio.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/guardian-hq/guardian/internal/domain/approval"
	"github.com/guardian-hq/guardian/internal/domain/intent"
	"github.com/guardian-hq/guardian/internal/service"
)

// Server wraps the MCP SDK server around the Guardian services.
type Server struct {
	mcpServer *mcpsdk.Server
	pipeline  *service.Pipeline
	approvals *service.ApprovalService
	logger    *slog.Logger
}

// New creates the MCP server and registers the Guardian tools.
func New(pipeline *service.Pipeline, approvals *service.ApprovalService, version string, logger *slog.Logger) *Server {
	s := &Server{
		pipeline:  pipeline,
		approvals: approvals,
		logger:    logger,
	}
	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    "guardian",
			Version: version,
		},
		nil,
	)
	s.registerTools()
	return s
}

// Run starts the MCP server on stdio transport. Blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "guardian_evaluate",
		Description: "Evaluate a proposed agent action against Guardian policies. Returns ALLOW, REWRITE, REQUIRE_APPROVAL, or BLOCK with the risk assessment. Does not execute anything.",
	}, s.handleEvaluate)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "guardian_pending",
		Description: "List approval requests waiting for human review.",
	}, s.handlePending)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "guardian_resolve",
		Description: "Approve or deny a pending approval request by its request ID.",
	}, s.handleResolve)
}

// EvaluateInput defines parameters for the guardian_evaluate tool.
type EvaluateInput struct {
	AgentID    string         `json:"agent_id" jsonschema:"identifier of the agent proposing the action"`
	ActionType string         `json:"action_type" jsonschema:"action category, e.g. http.request or email.send"`
	Target     string         `json:"target,omitempty" jsonschema:"destination URL or path"`
	Method     string         `json:"method,omitempty" jsonschema:"verb, e.g. GET or POST"`
	Args       map[string]any `json:"args,omitempty" jsonschema:"action payload"`
	UserPrompt string         `json:"user_prompt,omitempty" jsonschema:"the user request that produced this action"`
}

// EvaluateOutput contains the rendered decision.
type EvaluateOutput struct {
	Decision   string   `json:"decision"`
	RiskScore  float64  `json:"risk_score"`
	Severity   string   `json:"severity"`
	Reasons    []string `json:"reasons"`
	PolicyHits []string `json:"policy_hits"`
	// RequestID is set when the decision requires approval and a durable
	// request was created.
	RequestID string `json:"request_id,omitempty"`
}

func (s *Server) handleEvaluate(ctx context.Context, req *mcpsdk.CallToolRequest, input EvaluateInput) (*mcpsdk.CallToolResult, EvaluateOutput, error) {
	if input.AgentID == "" || input.ActionType == "" {
		return nil, EvaluateOutput{}, fmt.Errorf("agent_id and action_type are required")
	}

	in := &intent.Intent{
		AgentID:   input.AgentID,
		Timestamp: time.Now().UTC(),
		Action: intent.Action{
			Type:   input.ActionType,
			Target: input.Target,
			Method: input.Method,
			Args:   input.Args,
		},
		Context: intent.Context{UserPrompt: input.UserPrompt},
	}

	ev, err := s.pipeline.Evaluate(ctx, in)
	if err != nil {
		return nil, EvaluateOutput{}, err
	}

	out := EvaluateOutput{
		Decision:   string(ev.Decision),
		RiskScore:  ev.Risk.Score,
		Severity:   string(ev.Risk.Severity),
		Reasons:    ev.Risk.Reasons,
		PolicyHits: ev.PolicyHits,
	}
	if ev.Approval.RequestID != nil {
		out.RequestID = *ev.Approval.RequestID
	}
	return nil, out, nil
}

// PendingInput is empty: the tool takes no parameters.
type PendingInput struct{}

// PendingItem describes one waiting approval request.
type PendingItem struct {
	RequestID     string `json:"request_id"`
	IntentEventID string `json:"intent_event_id"`
	CreatedAt     string `json:"created_at"`
}

// PendingOutput lists the waiting approval requests.
type PendingOutput struct {
	Approvals []PendingItem `json:"approvals"`
}

func (s *Server) handlePending(ctx context.Context, req *mcpsdk.CallToolRequest, input PendingInput) (*mcpsdk.CallToolResult, PendingOutput, error) {
	pending, err := s.approvals.ListPending(ctx)
	if err != nil {
		return nil, PendingOutput{}, err
	}
	out := PendingOutput{Approvals: make([]PendingItem, 0, len(pending))}
	for _, a := range pending {
		out.Approvals = append(out.Approvals, PendingItem{
			RequestID:     a.RequestID,
			IntentEventID: a.IntentEventID,
			CreatedAt:     a.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return nil, out, nil
}

// ResolveInput defines parameters for the guardian_resolve tool.
type ResolveInput struct {
	RequestID  string `json:"request_id" jsonschema:"approval request ID from guardian_pending"`
	Decision   string `json:"decision" jsonschema:"APPROVED or DENIED"`
	ReviewerID string `json:"reviewer_id" jsonschema:"identity of the reviewer"`
	Comment    string `json:"comment,omitempty" jsonschema:"optional reviewer comment"`
}

// ResolveOutput confirms the resolution.
type ResolveOutput struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
}

func (s *Server) handleResolve(ctx context.Context, req *mcpsdk.CallToolRequest, input ResolveInput) (*mcpsdk.CallToolResult, ResolveOutput, error) {
	if input.ReviewerID == "" {
		return nil, ResolveOutput{}, fmt.Errorf("reviewer_id is required")
	}
	terminal := approval.Status(input.Decision)
	if !terminal.Terminal() {
		return nil, ResolveOutput{}, fmt.Errorf("decision must be APPROVED or DENIED, got %q", input.Decision)
	}

	resolved, err := s.approvals.Resolve(ctx, input.RequestID, terminal, input.ReviewerID, input.Comment)
	if err != nil {
		switch {
		case errors.Is(err, approval.ErrInvalidID), errors.Is(err, approval.ErrNotFound), errors.Is(err, approval.ErrAlreadyResolved):
			return &mcpsdk.CallToolResult{IsError: true}, ResolveOutput{RequestID: input.RequestID, Status: err.Error()}, nil
		}
		return nil, ResolveOutput{}, err
	}
	return nil, ResolveOutput{RequestID: resolved.RequestID, Status: string(resolved.Status)}, nil
}
