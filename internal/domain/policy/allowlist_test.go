package policy

import "testing"

func TestAllowlistRegistryDefaults(t *testing.T) {
	reg := NewAllowlistRegistry()

	external, ok := reg.Resolve(ExternalDomainsRef)
	if !ok {
		t.Fatal("external domains allowlist missing")
	}
	found := false
	for _, d := range external {
		if d == "api.company.com" {
			found = true
		}
	}
	if !found {
		t.Errorf("external allowlist = %v, want api.company.com present", external)
	}

	if _, ok := reg.Resolve("NO_SUCH_LIST"); ok {
		t.Error("unknown allowlist name must not resolve")
	}
}

func TestAllowlistRegistryRegister(t *testing.T) {
	reg := NewAllowlistRegistry()
	reg.Register(ExternalDomainsRef, []string{"example.org"})

	values, ok := reg.Resolve(ExternalDomainsRef)
	if !ok || len(values) != 1 || values[0] != "example.org" {
		t.Errorf("Resolve after Register = %v, %v", values, ok)
	}

	// Resolve hands out copies; mutating the result must not leak back.
	values[0] = "mutated"
	again, _ := reg.Resolve(ExternalDomainsRef)
	if again[0] != "example.org" {
		t.Error("registry values leaked to caller")
	}
}
