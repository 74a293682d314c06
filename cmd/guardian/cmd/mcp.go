package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/guardian-hq/guardian/internal/adapter/inbound/mcp"
	"github.com/guardian-hq/guardian/internal/adapter/outbound/llm"
	"github.com/guardian-hq/guardian/internal/adapter/outbound/redisstream"
	"github.com/guardian-hq/guardian/internal/adapter/outbound/store"
	"github.com/guardian-hq/guardian/internal/config"
	"github.com/guardian-hq/guardian/internal/domain/policy"
	"github.com/guardian-hq/guardian/internal/service"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve Guardian tools over MCP stdio",
	Long: `Serve the Guardian tools (guardian_evaluate, guardian_pending,
guardian_resolve) over Model Context Protocol stdio transport, so agent
frameworks can call Guardian as a tool server.

All logging goes to stderr; stdout carries the MCP stream.

Example Claude Desktop / MCP client config:
  {
    "mcpServers": {
      "guardian": {"command": "guardian", "args": ["mcp"]}
    }
  }`,
	RunE: runMCP,
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger := newLogger(cfg.Server.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.Database.URL, logger)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() { _ = st.Close() }()

	bus, err := redisstream.New(cfg.Redis.URL, logger)
	if err != nil {
		return fmt.Errorf("failed to create stream bus: %w", err)
	}
	defer func() { _ = bus.Close() }()
	if err := bus.Ping(ctx); err != nil {
		logger.Warn("redis unreachable, decision events will not be published", "error", err)
	}

	policies, err := service.NewPolicyService(st, policy.NewAllowlistRegistry(), logger)
	if err != nil {
		return fmt.Errorf("failed to create policy service: %w", err)
	}

	scorer := llm.New(llm.Config{
		BaseURL: cfg.LLM.BaseURL,
		Model:   cfg.LLM.Model,
		APIKey:  cfg.LLM.APIKey,
		Timeout: cfg.LLM.Timeout,
	}, logger)

	// Tool calls are synchronous, but approvals created through MCP must be
	// durable so reviewers can resolve them later.
	pipeline := service.NewPipeline(policies, scorer, st, st, bus, service.PipelineOptions{
		DecisionStream:       cfg.Streams.Decision,
		PersistSyncApprovals: true,
	}, logger)
	approvals := service.NewApprovalService(st, bus, cfg.Streams.ApprovalDecision, logger)

	logger.Info("guardian mcp server starting", "version", Version)
	return mcp.New(pipeline, approvals, Version, logger).Run(ctx)
}
