// Package stream contains the intent-stream worker: the consumer-group loop
// that turns streamed intents into decisions.
//
// Delivery is at least once. A message is ACKed only after its outcome is
// durable, so a crash between persist and ACK produces a redelivery that the
// pipeline detects as already processed and the worker ACKs without effect.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/guardian-hq/guardian/internal/domain/decision"
	"github.com/guardian-hq/guardian/internal/domain/intent"
	"github.com/guardian-hq/guardian/internal/port/outbound"
)

// payloadField is the stream field carrying the intent JSON.
const payloadField = "json"

const (
	readCount = 10
	readBlock = 2 * time.Second
)

// Processor renders and persists the decision for one intent.
type Processor interface {
	Process(ctx context.Context, in *intent.Intent) (*decision.Event, error)
}

// Options configure the worker's stream coordinates and instrumentation.
type Options struct {
	Stream   string
	Group    string
	Consumer string
	// Messages counts handled messages by result: processed, skipped,
	// malformed, failed. Nil disables counting.
	Messages *prometheus.CounterVec
}

// Worker consumes the intent stream through a consumer group.
type Worker struct {
	bus       outbound.Bus
	processor Processor
	opts      Options
	logger    *slog.Logger
}

// NewWorker wires a stream worker.
func NewWorker(bus outbound.Bus, processor Processor, opts Options, logger *slog.Logger) *Worker {
	return &Worker{bus: bus, processor: processor, opts: opts, logger: logger}
}

// Run consumes until ctx is cancelled. Creating the consumer group is the
// only fatal setup step; read errors inside the loop are logged and retried.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.bus.EnsureGroup(ctx, w.opts.Stream, w.opts.Group); err != nil {
		return err
	}
	w.logger.Info("worker started",
		"stream", w.opts.Stream, "group", w.opts.Group, "consumer", w.opts.Consumer)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker stopping", "consumer", w.opts.Consumer)
			return nil
		default:
		}

		msgs, err := w.bus.ReadGroup(ctx, w.opts.Stream, w.opts.Group, w.opts.Consumer, readCount, readBlock)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Error("read from intent stream", "error", err)
			// Back off briefly so a dead broker does not spin the loop.
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		for _, msg := range msgs {
			w.handle(ctx, msg)
		}
	}
}

// handle processes one message. ACK policy:
//   - malformed payloads are ACKed; they can never succeed on redelivery
//   - already-processed intents are ACKed; the outcome is already durable
//   - other processing failures leave the message pending for redelivery
func (w *Worker) handle(ctx context.Context, msg outbound.StreamMessage) {
	payload, ok := msg.Values[payloadField]
	if !ok {
		w.logger.Warn("message without payload field", "id", msg.ID)
		w.ack(ctx, msg.ID, "malformed")
		return
	}

	var in intent.Intent
	if err := json.Unmarshal([]byte(payload), &in); err != nil {
		w.logger.Warn("undecodable intent payload", "id", msg.ID, "error", err)
		w.ack(ctx, msg.ID, "malformed")
		return
	}

	ev, err := w.processor.Process(ctx, &in)
	if errors.Is(err, decision.ErrAlreadyProcessed) {
		w.logger.Debug("intent already processed", "id", msg.ID, "intent_event_id", in.EventID)
		w.ack(ctx, msg.ID, "skipped")
		return
	}
	if err != nil {
		w.logger.Error("process intent", "id", msg.ID, "intent_event_id", in.EventID, "error", err)
		w.count("failed")
		return
	}

	w.logger.Debug("intent processed",
		"id", msg.ID, "intent_event_id", in.EventID, "decision", ev.Decision)
	w.ack(ctx, msg.ID, "processed")
}

func (w *Worker) ack(ctx context.Context, id, result string) {
	if err := w.bus.Ack(ctx, w.opts.Stream, w.opts.Group, id); err != nil {
		w.logger.Error("ack message", "id", id, "error", err)
		w.count("failed")
		return
	}
	w.count(result)
}

func (w *Worker) count(result string) {
	if w.opts.Messages != nil {
		w.opts.Messages.WithLabelValues(result).Inc()
	}
}
