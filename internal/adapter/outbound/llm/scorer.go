// Package llm implements the optional risk scorer on an OpenAI-compatible
// chat completion endpoint (Ollama, vLLM, or a hosted API).
//
// The scorer is advisory and fail-open: any transport, decode, or model
// failure yields a zero signal and the rule engine decides alone. It can
// raise a risk score but never lower one, because the engine takes the max
// of the rule score and the model score.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/guardian-hq/guardian/internal/domain/intent"
	"github.com/guardian-hq/guardian/internal/domain/policy"
	"github.com/guardian-hq/guardian/internal/port/outbound"
)

const maxReasons = 10

const systemPrompt = `You are a security risk scorer for autonomous agent actions.
Given an action intent, respond with ONLY a JSON object:
{"score": <float 0.0-1.0>, "reasons": [<short strings>], "rewrite": <null or a safer replacement for the action args>}
Score 0.0 means clearly safe, 1.0 means certainly dangerous. Do not add prose.`

// Config holds the scorer settings. An empty BaseURL disables scoring.
type Config struct {
	BaseURL string
	Model   string
	APIKey  string
	Timeout time.Duration
}

// Scorer calls the chat completion endpoint and parses the model's JSON
// verdict into a policy.Signal.
type Scorer struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

// New returns the configured scorer, or outbound.NopScorer when no base URL
// is set.
func New(cfg Config, logger *slog.Logger) outbound.Scorer {
	if cfg.BaseURL == "" {
		return outbound.NopScorer{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Scorer{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type verdict struct {
	Score   float64        `json:"score"`
	Reasons []string       `json:"reasons"`
	Rewrite map[string]any `json:"rewrite"`
}

// Score implements outbound.Scorer. It never returns an error: failures are
// logged at debug level and collapse to the zero signal.
func (s *Scorer) Score(ctx context.Context, it *intent.Intent) policy.Signal {
	intentJSON, err := json.Marshal(it)
	if err != nil {
		s.logger.Debug("llm scorer: encode intent", "error", err)
		return policy.Signal{}
	}

	body, err := json.Marshal(chatRequest{
		Model: s.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: "Score this action intent:\n" + string(intentJSON)},
		},
	})
	if err != nil {
		s.logger.Debug("llm scorer: encode request", "error", err)
		return policy.Signal{}
	}

	url := strings.TrimSuffix(s.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		s.logger.Debug("llm scorer: build request", "error", err)
		return policy.Signal{}
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Debug("llm scorer: request failed", "error", err)
		return policy.Signal{}
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		s.logger.Debug("llm scorer: non-200 response", "status", resp.StatusCode)
		return policy.Signal{}
	}

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		s.logger.Debug("llm scorer: decode response", "error", err)
		return policy.Signal{}
	}
	if len(cr.Choices) == 0 {
		s.logger.Debug("llm scorer: empty choices")
		return policy.Signal{}
	}

	var v verdict
	content := stripFences(cr.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), &v); err != nil {
		s.logger.Debug("llm scorer: model output is not JSON", "error", err)
		return policy.Signal{}
	}

	rewrite := v.Rewrite
	if rewrite != nil && len(rewrite) == 0 {
		// The model signalled a rewrite but produced no payload; fall back
		// to redacting the known sensitive argument keys.
		rewrite = MinimalSafeRewrite(it.Action.Args)
	}

	return policy.Signal{
		Score:   clamp01(v.Score),
		Reasons: truncate(v.Reasons, maxReasons),
		Rewrite: rewrite,
	}
}

// stripFences removes a surrounding markdown code fence, which smaller models
// add despite the prompt.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

func truncate(ss []string, n int) []string {
	if len(ss) > n {
		return ss[:n]
	}
	return ss
}

// sensitiveKeys are argument names whose values are redacted by the minimal
// safe rewrite.
var sensitiveKeys = map[string]struct{}{
	"password":      {},
	"secret":        {},
	"token":         {},
	"api_key":       {},
	"apikey":        {},
	"ssn":           {},
	"authorization": {},
}

// MinimalSafeRewrite returns a copy of args with sensitive values replaced by
// "[REDACTED]", recursing into nested objects. It is the rewrite of last
// resort when no model proposal is available.
func MinimalSafeRewrite(args map[string]any) map[string]any {
	if args == nil {
		return nil
	}
	out := make(map[string]any, len(args))
	for k, v := range args {
		if _, hit := sensitiveKeys[strings.ToLower(k)]; hit {
			out[k] = "[REDACTED]"
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			out[k] = MinimalSafeRewrite(nested)
			continue
		}
		out[k] = v
	}
	return out
}
