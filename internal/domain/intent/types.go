// Package intent contains the domain types for agent action intents.
//
// An intent is the unit of work submitted by an autonomous agent: a proposed
// action (HTTP call, email send, file access, tool invocation) together with
// the conversational context it was produced in. Intents are ephemeral inputs
// owned by the caller; Guardian only derives fields on them (target domain,
// sensitivity tags) before evaluation.
package intent

import (
	"net/url"
	"time"
)

// Action describes the operation the agent wants to perform.
type Action struct {
	// Type is the action category, e.g. "http.request", "email.send".
	Type string `json:"type"`
	// Tool is the tool the agent used to produce this action.
	Tool string `json:"tool"`
	// Target is the destination URL or path.
	Target string `json:"target"`
	// Method is the optional verb (HTTP method, file operation).
	Method string `json:"method,omitempty"`
	// Args is the free-form action payload.
	Args map[string]any `json:"args"`
	// TargetDomain is derived from Target before policy matching.
	// Empty string when Target is not a URL.
	TargetDomain string `json:"target_domain,omitempty"`
}

// Context carries the conversational and organizational context of an intent.
type Context struct {
	UserPrompt         string           `json:"user_prompt,omitempty"`
	ModelOutputExcerpt string           `json:"model_output_excerpt,omitempty"`
	// DataClassification holds sensitivity tags. Classifiers append to it;
	// it is always present (possibly empty) by the time the engine runs.
	DataClassification []string         `json:"data_classification"`
	Workspace          string           `json:"workspace,omitempty"`
	UserRole           string           `json:"user_role,omitempty"`
	Attachments        []map[string]any `json:"attachments,omitempty"`
}

// Intent is a proposed action submitted by an agent for evaluation.
type Intent struct {
	EventID   string    `json:"event_id"`
	TraceID   string    `json:"trace_id"`
	Timestamp time.Time `json:"timestamp"`
	AgentID   string    `json:"agent_id"`
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	Action    Action    `json:"action"`
	Context   Context   `json:"context"`
}

// TargetDomain extracts the host portion of a target URL.
// Returns the empty string when the target is not a URL.
func TargetDomain(target string) string {
	if target == "" {
		return ""
	}
	u, err := url.Parse(target)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// Normalize populates derived fields so that every intent the engine observes
// has action.target_domain set (empty string if not a URL) and
// context.data_classification present.
func (in *Intent) Normalize() {
	in.Action.TargetDomain = TargetDomain(in.Action.Target)
	if in.Context.DataClassification == nil {
		in.Context.DataClassification = []string{}
	}
}

// AddClassifications merges sensitivity tags into the context without
// duplication, preserving the order tags were first seen.
func (in *Intent) AddClassifications(tags []string) {
	for _, t := range tags {
		found := false
		for _, existing := range in.Context.DataClassification {
			if existing == t {
				found = true
				break
			}
		}
		if !found {
			in.Context.DataClassification = append(in.Context.DataClassification, t)
		}
	}
}

// Tree returns the intent as a tree of string-keyed nodes for dotted-path
// lookup and rule condition evaluation.
func (in *Intent) Tree() map[string]any {
	classification := make([]any, len(in.Context.DataClassification))
	for i, c := range in.Context.DataClassification {
		classification[i] = c
	}
	attachments := make([]any, len(in.Context.Attachments))
	for i, a := range in.Context.Attachments {
		attachments[i] = a
	}
	return map[string]any{
		"event_id":   in.EventID,
		"trace_id":   in.TraceID,
		"agent_id":   in.AgentID,
		"session_id": in.SessionID,
		"user_id":    in.UserID,
		"action": map[string]any{
			"type":          in.Action.Type,
			"tool":          in.Action.Tool,
			"target":        in.Action.Target,
			"method":        in.Action.Method,
			"target_domain": in.Action.TargetDomain,
			"args":          in.Action.Args,
		},
		"context": map[string]any{
			"user_prompt":          in.Context.UserPrompt,
			"model_output_excerpt": in.Context.ModelOutputExcerpt,
			"data_classification":  classification,
			"workspace":            in.Context.Workspace,
			"user_role":            in.Context.UserRole,
			"attachments":          attachments,
		},
	}
}
