package policy

// ExternalDomainsRef is the symbolic name rules use to reference the
// configured external destination allowlist. The policy loader replaces it
// with the concrete list; rule documents stay declarative.
const ExternalDomainsRef = "EXTERNAL_DOMAINS_ALLOWLIST"

// InternalDomainsRef names the internal domain set. Reserved for rules that
// gate on internal destinations.
const InternalDomainsRef = "INTERNAL_DOMAINS"

// AllowlistRegistry maps symbolic allowlist names to concrete value sets.
// Extending the registry is a configuration change, not a schema change.
type AllowlistRegistry struct {
	lists map[string][]string
}

// NewAllowlistRegistry creates a registry seeded with the default lists.
func NewAllowlistRegistry() *AllowlistRegistry {
	return &AllowlistRegistry{
		lists: map[string][]string{
			ExternalDomainsRef: {"api.company.com", "hooks.slack.com"},
			InternalDomainsRef: {"internal.company.local", "intranet.company.com"},
		},
	}
}

// Register installs or replaces a named allowlist.
func (r *AllowlistRegistry) Register(name string, values []string) {
	r.lists[name] = append([]string{}, values...)
}

// Resolve returns the values of a named allowlist. The second return is false
// for unknown names, which the loader passes through unchanged.
func (r *AllowlistRegistry) Resolve(name string) ([]string, bool) {
	values, ok := r.lists[name]
	if !ok {
		return nil, false
	}
	return append([]string{}, values...), true
}
