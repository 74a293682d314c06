package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/guardian-hq/guardian/internal/adapter/inbound/http"
	"github.com/guardian-hq/guardian/internal/adapter/inbound/stream"
	"github.com/guardian-hq/guardian/internal/adapter/outbound/llm"
	"github.com/guardian-hq/guardian/internal/adapter/outbound/redisstream"
	"github.com/guardian-hq/guardian/internal/adapter/outbound/store"
	"github.com/guardian-hq/guardian/internal/adapter/outbound/telemetry"
	"github.com/guardian-hq/guardian/internal/config"
	"github.com/guardian-hq/guardian/internal/domain/policy"
	"github.com/guardian-hq/guardian/internal/service"
	"github.com/prometheus/client_golang/prometheus"
)

var workCmd = &cobra.Command{
	Use:   "work",
	Short: "Start a stream worker consuming the intent stream",
	Long: `Start a Guardian worker that consumes agent intents from the Redis
stream through a consumer group, renders decisions, persists outcomes, and
publishes decision events.

Unlike serve, the worker requires both the database and the broker: it exits
non-zero when either is unreachable at startup.

Run multiple workers by giving each a distinct consumer name:
  GUARDIAN_CONSUMER_NAME=guardian-2 guardian work`,
	RunE: runWork,
}

func init() {
	rootCmd.AddCommand(workCmd)
}

func runWork(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger := newLogger(cfg.Server.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tel, err := telemetry.Setup(ctx, cfg.Telemetry.Enabled, "guardian-worker", Version)
	if err != nil {
		return fmt.Errorf("failed to set up telemetry: %w", err)
	}
	defer func() { _ = tel.Shutdown(context.Background()) }()

	st, err := store.Open(cfg.Database.URL, logger)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() { _ = st.Close() }()
	if err := st.Ping(ctx); err != nil {
		return fmt.Errorf("database unreachable: %w", err)
	}

	bus, err := redisstream.New(cfg.Redis.URL, logger)
	if err != nil {
		return fmt.Errorf("failed to create stream bus: %w", err)
	}
	defer func() { _ = bus.Close() }()
	if err := bus.Ping(ctx); err != nil {
		// The worker is pointless without the broker, unlike serve.
		return fmt.Errorf("redis unreachable: %w", err)
	}

	registry := prometheus.NewRegistry()
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

	pipeline := service.NewPipeline(policies, scorer, st, st, bus, service.PipelineOptions{
		DecisionStream: cfg.Streams.Decision,
		Tracer:         tel.Tracer(),
		Decisions:      metrics.DecisionsTotal,
	}, logger)

	worker := stream.NewWorker(bus, pipeline, stream.Options{
		Stream:   cfg.Streams.Intent,
		Group:    cfg.Consumer.Group,
		Consumer: cfg.Consumer.Name,
		Messages: metrics.WorkerMessages,
	}, logger)

	logger.Info("guardian worker starting",
		"version", Version,
		"stream", cfg.Streams.Intent,
		"group", cfg.Consumer.Group,
		"consumer", cfg.Consumer.Name,
	)

	if err := worker.Run(ctx); err != nil {
		return fmt.Errorf("worker failed: %w", err)
	}
	logger.Info("guardian worker stopped")
	return nil
}
