package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/guardian-hq/guardian/internal/domain/approval"
	"github.com/guardian-hq/guardian/internal/domain/intent"
	"github.com/guardian-hq/guardian/internal/domain/policy"
	"github.com/guardian-hq/guardian/internal/port/outbound"
	"github.com/guardian-hq/guardian/internal/service"
)

// adminKeyHeader authenticates policy mutations.
const adminKeyHeader = "X-Guardian-Admin-Key"

// Server is the inbound HTTP adapter.
type Server struct {
	addr         string
	adminKeyHash string
	intentStream string

	pipeline  *service.Pipeline
	approvals *service.ApprovalService
	policies  *service.PolicyService
	rules     policy.RuleStore
	bus       outbound.Bus
	health    *HealthChecker
	registry  *prometheus.Registry
	metrics   *Metrics
	logger    *slog.Logger

	server *http.Server
}

// Option is a functional option for configuring the Server.
type Option func(*Server)

// WithAddr sets the listen address. Default is "127.0.0.1:8085".
func WithAddr(addr string) Option {
	return func(s *Server) { s.addr = addr }
}

// WithAdminKeyHash protects policy mutations with an argon2id-hashed admin
// key. An empty hash leaves them open, for local development.
func WithAdminKeyHash(hash string) Option {
	return func(s *Server) { s.adminKeyHash = hash }
}

// WithIntentStream sets the stream the intake endpoint appends intents to.
func WithIntentStream(stream string) Option {
	return func(s *Server) { s.intentStream = stream }
}

// WithHealthChecker sets the health checker for the /health endpoint.
func WithHealthChecker(hc *HealthChecker) Option {
	return func(s *Server) { s.health = hc }
}

// WithMetrics shares an externally created registry and metric set, so the
// pipeline and worker can record into the same registry the /metrics endpoint
// serves. Without this option the server creates its own.
func WithMetrics(reg *prometheus.Registry, m *Metrics) Option {
	return func(s *Server) {
		s.registry = reg
		s.metrics = m
	}
}

// WithLogger sets the logger for the server.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// NewServer creates the HTTP API server around the Guardian services.
func NewServer(pipeline *service.Pipeline, approvals *service.ApprovalService,
	policies *service.PolicyService, rules policy.RuleStore, bus outbound.Bus, opts ...Option) *Server {
	s := &Server{
		addr:         "127.0.0.1:8085",
		intentStream: "action.intent",
		pipeline:     pipeline,
		approvals:    approvals,
		policies:     policies,
		rules:        rules,
		bus:          bus,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Metrics returns the server's metric set. Valid after Router or Start.
func (s *Server) Metrics() *Metrics { return s.metrics }

// Router builds the route tree and the Prometheus registry.
func (s *Server) Router() http.Handler {
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
		s.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	if s.metrics == nil {
		s.metrics = NewMetrics(s.registry)
	}
	reg := s.registry

	r := chi.NewRouter()
	r.Use(MetricsMiddleware(s.metrics))

	if s.health != nil {
		r.Method(http.MethodGet, "/health", s.health.Handler())
	}
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	r.Post("/evaluate", s.handleEvaluate)
	r.Post("/decide", s.handleDecide)

	r.Route("/approvals", func(r chi.Router) {
		r.Get("/pending", s.handleListPending)
		r.Post("/{requestID}/approve", s.resolveHandler(approval.StatusApproved))
		r.Post("/{requestID}/deny", s.resolveHandler(approval.StatusDenied))
	})

	r.Route("/policies", func(r chi.Router) {
		r.Get("/", s.handleListPolicies)
		r.With(s.requireAdminKey).Post("/", s.handleSavePolicy)
		r.With(s.requireAdminKey).Delete("/{policyID}", s.handleDeletePolicy)
	})

	return r
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", s.addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// handleEvaluate renders a decision synchronously without persisting the
// action. Returns 503 when no policy snapshot can be loaded: Guardian never
// answers from an empty rule set.
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	in, ok := s.decodeIntent(w, r)
	if !ok {
		return
	}

	ev, err := s.pipeline.Evaluate(r.Context(), in)
	if errors.Is(err, service.ErrPolicyLoad) {
		s.respondError(w, http.StatusServiceUnavailable, "policy snapshot unavailable")
		return
	}
	if err != nil {
		s.logger.Error("synchronous evaluation", "intent_event_id", in.EventID, "error", err)
		s.respondError(w, http.StatusInternalServerError, "evaluation failed")
		return
	}
	s.respondJSON(w, http.StatusOK, ev)
}

// handleDecide accepts an intent for asynchronous processing: it lands on
// the intent stream and the worker renders the decision.
func (s *Server) handleDecide(w http.ResponseWriter, r *http.Request) {
	in, ok := s.decodeIntent(w, r)
	if !ok {
		return
	}

	payload, err := json.Marshal(in)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "encode intent")
		return
	}
	if _, err := s.bus.Append(r.Context(), s.intentStream, payload); err != nil {
		s.logger.Error("append intent", "intent_event_id", in.EventID, "error", err)
		s.respondError(w, http.StatusServiceUnavailable, "intent broker unavailable")
		return
	}

	s.respondJSON(w, http.StatusAccepted, map[string]string{
		"event_id": in.EventID,
		"trace_id": in.TraceID,
	})
}

// decodeIntent parses and completes the submitted intent: missing IDs and
// timestamps are assigned here so both intake paths see fully-formed intents.
func (s *Server) decodeIntent(w http.ResponseWriter, r *http.Request) (*intent.Intent, bool) {
	var in intent.Intent
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid intent JSON")
		return nil, false
	}
	if in.AgentID == "" || in.Action.Type == "" {
		s.respondError(w, http.StatusBadRequest, "agent_id and action.type are required")
		return nil, false
	}
	if in.EventID == "" {
		in.EventID = uuid.NewString()
	}
	if in.TraceID == "" {
		in.TraceID = uuid.NewString()
	}
	if in.Timestamp.IsZero() {
		in.Timestamp = time.Now().UTC()
	}
	return &in, true
}

func (s *Server) handleListPending(w http.ResponseWriter, r *http.Request) {
	pending, err := s.approvals.ListPending(r.Context())
	if err != nil {
		s.logger.Error("list pending approvals", "error", err)
		s.respondError(w, http.StatusInternalServerError, "list approvals failed")
		return
	}
	if pending == nil {
		pending = []approval.Approval{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"approvals": pending})
}

type resolveRequest struct {
	ReviewerID string `json:"reviewer_id"`
	Comment    string `json:"comment"`
}

func (s *Server) resolveHandler(terminal approval.Status) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := chi.URLParam(r, "requestID")

		var req resolveRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid resolution JSON")
			return
		}
		if req.ReviewerID == "" {
			s.respondError(w, http.StatusBadRequest, "reviewer_id is required")
			return
		}

		resolved, err := s.approvals.Resolve(r.Context(), requestID, terminal, req.ReviewerID, req.Comment)
		switch {
		case errors.Is(err, approval.ErrInvalidID):
			s.respondError(w, http.StatusBadRequest, "malformed request id")
		case errors.Is(err, approval.ErrNotFound):
			s.respondError(w, http.StatusNotFound, "approval not found")
		case errors.Is(err, approval.ErrAlreadyResolved):
			s.respondError(w, http.StatusBadRequest, "approval already resolved")
		case err != nil:
			s.logger.Error("resolve approval", "request_id", requestID, "error", err)
			s.respondError(w, http.StatusInternalServerError, "resolution failed")
		default:
			s.respondJSON(w, http.StatusOK, resolved)
		}
	}
}

func (s *Server) handleListPolicies(w http.ResponseWriter, r *http.Request) {
	rules, err := s.rules.GetAllRules(r.Context())
	if err != nil {
		s.logger.Error("list policies", "error", err)
		s.respondError(w, http.StatusInternalServerError, "list policies failed")
		return
	}
	if rules == nil {
		rules = []policy.Rule{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"policies": rules})
}

func (s *Server) handleSavePolicy(w http.ResponseWriter, r *http.Request) {
	var rule policy.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid policy JSON")
		return
	}
	if rule.PolicyID == "" {
		s.respondError(w, http.StatusBadRequest, "policy_id is required")
		return
	}
	if !rule.Effect.Valid() {
		s.respondError(w, http.StatusBadRequest, "unknown effect")
		return
	}

	if err := s.rules.SaveRule(r.Context(), &rule); err != nil {
		s.logger.Error("save policy", "policy_id", rule.PolicyID, "error", err)
		s.respondError(w, http.StatusInternalServerError, "save policy failed")
		return
	}
	s.invalidatePolicies()
	s.respondJSON(w, http.StatusOK, rule)
}

func (s *Server) handleDeletePolicy(w http.ResponseWriter, r *http.Request) {
	policyID := chi.URLParam(r, "policyID")
	if err := s.rules.DeleteRule(r.Context(), policyID); err != nil {
		s.logger.Error("delete policy", "policy_id", policyID, "error", err)
		s.respondError(w, http.StatusInternalServerError, "delete policy failed")
		return
	}
	s.invalidatePolicies()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) invalidatePolicies() {
	s.policies.Invalidate()
	if s.metrics != nil {
		s.metrics.PolicyReloads.Inc()
	}
}

// requireAdminKey gates policy mutations behind the configured admin key.
// The stored value is an argon2id hash; the plaintext key never touches disk.
func (s *Server) requireAdminKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.adminKeyHash == "" {
			next.ServeHTTP(w, r)
			return
		}
		key := r.Header.Get(adminKeyHeader)
		if key == "" {
			s.respondError(w, http.StatusUnauthorized, "admin key required")
			return
		}
		match, err := argon2id.ComparePasswordAndHash(key, s.adminKeyHash)
		if err != nil || !match {
			s.respondError(w, http.StatusUnauthorized, "invalid admin key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, code int, msg string) {
	s.respondJSON(w, code, map[string]string{"error": msg})
}
