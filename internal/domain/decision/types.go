// Package decision contains the records and events Guardian produces per
// intent: the persisted action/decision rows and the decision event emitted
// to the decision stream.
package decision

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/guardian-hq/guardian/internal/domain/approval"
	"github.com/guardian-hq/guardian/internal/domain/policy"
)

// ErrAlreadyProcessed is returned when an action record for the intent's
// event ID already exists. The stream worker treats it as "skip and ACK":
// redelivery of a processed message is expected under at-least-once delivery.
var ErrAlreadyProcessed = errors.New("intent already processed")

// ApprovalRef is the approval block of a decision event. RequestID is null
// unless the decision is REQUIRE_APPROVAL.
type ApprovalRef struct {
	Required  bool    `json:"required"`
	RequestID *string `json:"request_id"`
}

// Event is the decision event appended to the decision stream and returned
// by the synchronous evaluate endpoint.
type Event struct {
	EventID       string         `json:"event_id"`
	TraceID       string         `json:"trace_id"`
	IntentEventID string         `json:"intent_event_id"`
	Timestamp     time.Time      `json:"timestamp"`
	Decision      policy.Effect  `json:"decision"`
	Risk          policy.Risk    `json:"risk"`
	PolicyHits    []string       `json:"policy_hits"`
	Rewrite       map[string]any `json:"rewrite"`
	Approval      ApprovalRef    `json:"approval"`
}

// ApprovalDecisionEvent is appended to the approval-decision stream when a
// reviewer resolves an approval. Downstream consumers correlate it with the
// prior decision via request_id.
type ApprovalDecisionEvent struct {
	RequestID string    `json:"request_id"`
	Decision  string    `json:"decision"`
	Comment   string    `json:"comment"`
	Timestamp time.Time `json:"timestamp"`
}

// ActionRecord is the persisted row for an observed intent, keyed by the
// intent's event ID. The key is what makes redelivery safe: a duplicate
// insert is rejected at the storage layer.
type ActionRecord struct {
	EventID     string
	TraceID     string
	AgentID     string
	ActionType  string
	Target      string
	ArgsHash    string
	ContextJSON []byte
	CreatedAt   time.Time
}

// Record is the persisted row for a rendered decision.
type Record struct {
	EventID        string
	IntentEventID  string
	Decision       policy.Effect
	RiskScore      float64
	Severity       policy.Severity
	ReasonsJSON    []byte
	PolicyHitsJSON []byte
	RewriteJSON    []byte
	CreatedAt      time.Time
}

// RecordStore persists the per-intent outcome. The three writes (action,
// decision, optional approval) happen in one transaction: a failure rolls
// back all of them and the intent message stays un-ACKed for redelivery.
type RecordStore interface {
	PersistOutcome(ctx context.Context, action ActionRecord, dec Record, appr *approval.Approval) error
}

// HashArgs returns the hex SHA-256 of the canonical JSON encoding of the
// action args. encoding/json sorts map keys, so equal args hash equally
// regardless of insertion order.
func HashArgs(args map[string]any) string {
	if args == nil {
		args = map[string]any{}
	}
	data, err := json.Marshal(args)
	if err != nil {
		// Maps with non-marshalable values do not occur for decoded intents;
		// hash the error text so the record still gets a stable value.
		data = []byte(err.Error())
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
