package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/guardian-hq/guardian/internal/adapter/outbound/store"
	"github.com/guardian-hq/guardian/internal/config"
	"github.com/guardian-hq/guardian/internal/domain/policy"
)

var seedCmd = &cobra.Command{
	Use:   "seed [policies.yaml]",
	Short: "Load policy rules from a YAML file",
	Long: `Load policy rules from a YAML file into the policy store.

Existing rules with the same policy_id are replaced; other rules are left
untouched, so seeding is safe to repeat.

The file holds a list of rules under a top-level "policies" key:

  policies:
    - policy_id: no-secrets-external
      version: 1
      priority: 100
      enabled: true
      match:
        action.type: [http.request]
      conditions:
        - not_in_allowlist:
            action.target_domain: EXTERNAL_DOMAINS_ALLOWLIST
      effect: BLOCK
      risk_boost: 0.9
      message: secrets must not leave approved domains

Example:
  guardian seed policies/guardian-policies.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

type seedFile struct {
	Policies []policy.Rule `yaml:"policies"`
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger := newLogger(cfg.Server.LogLevel)

	raw, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read policy file: %w", err)
	}

	var file seedFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("failed to parse policy file: %w", err)
	}
	if len(file.Policies) == 0 {
		return fmt.Errorf("no policies found in %s", args[0])
	}

	for i, r := range file.Policies {
		if r.PolicyID == "" {
			return fmt.Errorf("policies[%d]: policy_id is required", i)
		}
		if !r.Effect.Valid() {
			return fmt.Errorf("policies[%d] (%s): invalid effect %q", i, r.PolicyID, r.Effect)
		}
		if r.RiskBoost < 0 {
			return fmt.Errorf("policies[%d] (%s): risk_boost must be non-negative", i, r.PolicyID)
		}
	}

	st, err := store.Open(cfg.Database.URL, logger)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() { _ = st.Close() }()

	ctx := context.Background()
	for i := range file.Policies {
		r := file.Policies[i]
		if err := st.SaveRule(ctx, &r); err != nil {
			return fmt.Errorf("failed to save %s: %w", r.PolicyID, err)
		}
		logger.Info("policy saved", "policy_id", r.PolicyID, "effect", r.Effect, "priority", r.Priority)
	}

	fmt.Printf("seeded %d policies from %s\n", len(file.Policies), args[0])
	return nil
}
