package policy

import "context"

// RuleStore persists and retrieves rule documents.
// Implementations live in the outbound store adapter; the loader in the
// service layer resolves symbolic allowlists and compiles conditions on top.
type RuleStore interface {
	// GetEnabledRules returns all enabled rules.
	GetEnabledRules(ctx context.Context) ([]Rule, error)
	// GetAllRules returns every rule, enabled or not.
	GetAllRules(ctx context.Context) ([]Rule, error)
	// GetRule returns a rule by policy ID, or nil when absent.
	GetRule(ctx context.Context, policyID string) (*Rule, error)
	// SaveRule creates or replaces a rule document.
	SaveRule(ctx context.Context, r *Rule) error
	// DeleteRule removes a rule by policy ID.
	DeleteRule(ctx context.Context, policyID string) error
}
