package stream

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/guardian-hq/guardian/internal/domain/decision"
	"github.com/guardian-hq/guardian/internal/domain/intent"
	"github.com/guardian-hq/guardian/internal/domain/policy"
	"github.com/guardian-hq/guardian/internal/port/outbound"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// scriptBus serves a fixed batch of messages once, then empty reads.
type scriptBus struct {
	mu       sync.Mutex
	batch    []outbound.StreamMessage
	served   bool
	acked    []string
	groupErr error
}

func (b *scriptBus) Append(context.Context, string, []byte) (string, error) { return "1-0", nil }

func (b *scriptBus) EnsureGroup(context.Context, string, string) error { return b.groupErr }

func (b *scriptBus) ReadGroup(ctx context.Context, _, _, _ string, _ int64, block time.Duration) ([]outbound.StreamMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.served {
		b.served = true
		return b.batch, nil
	}
	// Simulate the blocking read so the loop does not spin.
	select {
	case <-ctx.Done():
	case <-time.After(block):
	}
	return nil, nil
}

func (b *scriptBus) Ack(_ context.Context, _, _ string, ids ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.acked = append(b.acked, ids...)
	return nil
}

func (b *scriptBus) Ping(context.Context) error { return nil }
func (b *scriptBus) Close() error               { return nil }

func (b *scriptBus) ackedIDs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string{}, b.acked...)
}

// scriptProcessor returns canned results per intent event ID.
type scriptProcessor struct {
	mu      sync.Mutex
	results map[string]error
	seen    []string
}

func (p *scriptProcessor) Process(_ context.Context, in *intent.Intent) (*decision.Event, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen = append(p.seen, in.EventID)
	if err := p.results[in.EventID]; err != nil {
		return nil, err
	}
	return &decision.Event{EventID: "dec-" + in.EventID, Decision: policy.EffectAllow}, nil
}

func (p *scriptProcessor) seenIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string{}, p.seen...)
}

func intentMessage(id, eventID string) outbound.StreamMessage {
	payload, _ := json.Marshal(intent.Intent{EventID: eventID, AgentID: "agent-1"})
	return outbound.StreamMessage{ID: id, Values: map[string]string{"json": string(payload)}}
}

// runWorker runs the worker until the batch has been consumed, then cancels.
func runWorker(t *testing.T, bus *scriptBus, proc Processor) {
	t.Helper()
	w := NewWorker(bus, proc, Options{Stream: "action.intent", Group: "guardian", Consumer: "c1"}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// One read drains the scripted batch; give the loop a moment, then stop.
	deadline := time.After(2 * time.Second)
	for {
		bus.mu.Lock()
		served := bus.served
		bus.mu.Unlock()
		if served {
			break
		}
		select {
		case <-deadline:
			cancel()
			t.Fatal("worker never read the scripted batch")
		case <-time.After(5 * time.Millisecond):
		}
	}
	time.Sleep(50 * time.Millisecond)
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run() returned unexpected error: %v", err)
	}
}

func TestRun_ProcessesAndAcks(t *testing.T) {
	bus := &scriptBus{batch: []outbound.StreamMessage{
		intentMessage("1-0", "e1"),
		intentMessage("1-1", "e2"),
	}}
	proc := &scriptProcessor{results: map[string]error{}}

	runWorker(t, bus, proc)

	if got := proc.seenIDs(); len(got) != 2 {
		t.Fatalf("expected 2 processed intents, got %v", got)
	}
	if got := bus.ackedIDs(); len(got) != 2 {
		t.Errorf("expected both messages ACKed, got %v", got)
	}
}

func TestRun_AlreadyProcessedIsAcked(t *testing.T) {
	bus := &scriptBus{batch: []outbound.StreamMessage{intentMessage("1-0", "e-dup")}}
	proc := &scriptProcessor{results: map[string]error{"e-dup": decision.ErrAlreadyProcessed}}

	runWorker(t, bus, proc)

	if got := bus.ackedIDs(); len(got) != 1 || got[0] != "1-0" {
		t.Errorf("redelivered duplicate must be ACKed, got %v", got)
	}
}

func TestRun_ProcessingFailureLeavesMessagePending(t *testing.T) {
	bus := &scriptBus{batch: []outbound.StreamMessage{
		intentMessage("1-0", "e-fail"),
		intentMessage("1-1", "e-ok"),
	}}
	proc := &scriptProcessor{results: map[string]error{"e-fail": errors.New("store down")}}

	runWorker(t, bus, proc)

	acked := bus.ackedIDs()
	if len(acked) != 1 || acked[0] != "1-1" {
		t.Errorf("only the successful message may be ACKed, got %v", acked)
	}
}

func TestRun_MalformedPayloadIsAckedWithoutProcessing(t *testing.T) {
	bus := &scriptBus{batch: []outbound.StreamMessage{
		{ID: "1-0", Values: map[string]string{"json": "{not json"}},
		{ID: "1-1", Values: map[string]string{"other": "field"}},
	}}
	proc := &scriptProcessor{results: map[string]error{}}

	runWorker(t, bus, proc)

	if got := proc.seenIDs(); len(got) != 0 {
		t.Errorf("malformed messages must not reach the processor, got %v", got)
	}
	if got := bus.ackedIDs(); len(got) != 2 {
		t.Errorf("malformed messages must be ACKed to unblock the group, got %v", got)
	}
}

func TestRun_GroupCreationFailureIsFatal(t *testing.T) {
	bus := &scriptBus{groupErr: errors.New("broker down")}
	w := NewWorker(bus, &scriptProcessor{}, Options{Stream: "action.intent", Group: "guardian", Consumer: "c1"}, testLogger())

	if err := w.Run(context.Background()); err == nil {
		t.Fatal("expected error when the consumer group cannot be created")
	}
}

func TestRun_CancelStopsTheLoop(t *testing.T) {
	bus := &scriptBus{}
	w := NewWorker(bus, &scriptProcessor{}, Options{Stream: "action.intent", Group: "guardian", Consumer: "c1"}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() returned unexpected error on cancel: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("worker did not stop on context cancellation")
	}
}
