package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/guardian-hq/guardian/internal/adapter/inbound/http"
	"github.com/guardian-hq/guardian/internal/adapter/outbound/llm"
	"github.com/guardian-hq/guardian/internal/adapter/outbound/redisstream"
	"github.com/guardian-hq/guardian/internal/adapter/outbound/store"
	"github.com/guardian-hq/guardian/internal/adapter/outbound/telemetry"
	"github.com/guardian-hq/guardian/internal/config"
	"github.com/guardian-hq/guardian/internal/domain/policy"
	"github.com/guardian-hq/guardian/internal/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Start the Guardian HTTP API server.

The server exposes synchronous evaluation (/evaluate), asynchronous intake
(/decide), the approval workflow (/approvals), policy management (/policies),
and the usual /health and /metrics endpoints.

A reachable Redis is not required to serve: without the broker, /decide and
decision event publication are unavailable, but synchronous evaluation keeps
working.

Examples:
  guardian serve
  guardian --config /etc/guardian/guardian.yaml serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger := newLogger(cfg.Server.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tel, err := telemetry.Setup(ctx, cfg.Telemetry.Enabled, "guardian", Version)
	if err != nil {
		return fmt.Errorf("failed to set up telemetry: %w", err)
	}
	defer func() { _ = tel.Shutdown(context.Background()) }()

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
		// Degraded but serviceable: synchronous evaluation needs no broker.
		logger.Warn("redis unreachable, async intake and event publication degraded",
			"url", cfg.Redis.URL, "error", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := http.NewMetrics(registry)

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
	if cfg.LLM.BaseURL != "" {
		logger.Info("llm scorer enabled", "base_url", cfg.LLM.BaseURL, "model", cfg.LLM.Model)
	}

	pipeline := service.NewPipeline(policies, scorer, st, st, bus, service.PipelineOptions{
		DecisionStream:       cfg.Streams.Decision,
		PersistSyncApprovals: cfg.Server.EvaluatePersistsApprovals,
		Tracer:               tel.Tracer(),
		Decisions:            metrics.DecisionsTotal,
	}, logger)

	approvals := service.NewApprovalService(st, bus, cfg.Streams.ApprovalDecision, logger)

	srv := http.NewServer(pipeline, approvals, policies, st, bus,
		http.WithAddr(cfg.Server.Addr),
		http.WithAdminKeyHash(cfg.Server.AdminKeyHash),
		http.WithIntentStream(cfg.Streams.Intent),
		http.WithHealthChecker(http.NewHealthChecker(st, bus, Version)),
		http.WithMetrics(registry, metrics),
		http.WithLogger(logger),
	)

	logger.Info("guardian starting",
		"version", Version,
		"addr", cfg.Server.Addr,
		"database", cfg.Database.URL,
		"intent_stream", cfg.Streams.Intent,
		"decision_stream", cfg.Streams.Decision,
		"llm_scoring", cfg.LLM.BaseURL != "",
	)

	if err := srv.Start(ctx); err != nil {
		return err
	}
	logger.Info("guardian stopped")
	return nil
}
