// Package dispatcher schedules AgentRun work per case onto a durable NATS
// JetStream work queue, one subject per case, and provides idempotent
// publish (via Nats-Msg-Id dedup) and debounce (via a short delay before
// publish, cancelled by a closer request arriving in the window). The
// worker loop reads tasks through one shared consumer (WorkerConsumer), so
// this package does not by itself keep a case to one run at a time
// (spec.md §4.3); the inbound pipeline's case lock does.
//
// Grounded on the teacher's workflow-orchestrator/task-dispatcher
// components, which drive JetStream streams/consumers and KV watches
// through nats.go directly rather than a bespoke transport.
package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/caseworker/internal/caseerr"
	"github.com/c360studio/caseworker/internal/model"
)

const (
	// StreamName is the JetStream stream carrying run-trigger tasks.
	StreamName = "CASEWORKER_TASKS"
	// subjectPrefix namespaces per-case subjects under the stream.
	subjectPrefix = "caseworker.tasks."
)

// Task is the durable unit of work a Dispatcher publishes: "run this case
// for this reason." The InboundPipeline consumer reads these and starts
// an AgentRun (spec.md §4.3, §4.5).
type Task struct {
	CaseID      string          `json:"case_id"`
	TriggerType model.TriggerType `json:"trigger_type"`
	MessageID   string          `json:"message_id,omitempty"`
	ProposalID  string          `json:"proposal_id,omitempty"`
}

// Dispatcher publishes and consumes per-case run-trigger tasks.
type Dispatcher struct {
	js     jetstream.JetStream
	stream jetstream.Stream
	logger *slog.Logger

	debounceDelay time.Duration

	mu       sync.Mutex
	pending  map[string]context.CancelFunc // caseID -> cancel for a debounced publish
}

// New builds a Dispatcher bound to an already-connected NATS client and
// ensures the underlying stream exists.
func New(ctx context.Context, nc *nats.Conn, logger *slog.Logger, debounceDelay time.Duration) (*Dispatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, caseerr.Wrap(caseerr.Transient, "create jetstream context", err)
	}

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{subjectPrefix + ">"},
		Retention: jetstream.WorkQueuePolicy,
		Storage:   jetstream.FileStorage,
		Duplicates: 2 * time.Minute,
	})
	if err != nil {
		return nil, caseerr.Wrap(caseerr.Transient, "create task stream", err)
	}

	return &Dispatcher{
		js:            js,
		stream:        stream,
		logger:        logger.With("component", "dispatcher"),
		debounceDelay: debounceDelay,
		pending:       make(map[string]context.CancelFunc),
	}, nil
}

func subjectFor(caseID string) string {
	return subjectPrefix + caseID
}

// Trigger publishes a task for caseID, deduplicated by idempotencyKey
// within JetStream's dedup window and debounced: if another Trigger call
// for the same case arrives within the debounce window, only the latest
// one is published (spec.md §4.3's "coalesce rapid-fire inbound
// messages into a single run").
func (d *Dispatcher) Trigger(ctx context.Context, task Task, idempotencyKey string) error {
	if d.debounceDelay <= 0 {
		return d.publish(ctx, task, idempotencyKey)
	}

	d.mu.Lock()
	if cancel, ok := d.pending[task.CaseID]; ok {
		cancel()
	}
	debounceCtx, cancel := context.WithCancel(context.Background())
	d.pending[task.CaseID] = cancel
	d.mu.Unlock()

	timer := time.NewTimer(d.debounceDelay)
	go func() {
		defer timer.Stop()
		select {
		case <-debounceCtx.Done():
			return
		case <-timer.C:
			d.mu.Lock()
			delete(d.pending, task.CaseID)
			d.mu.Unlock()
			if err := d.publish(context.Background(), task, idempotencyKey); err != nil {
				d.logger.Error("debounced publish failed", "case_id", task.CaseID, "error", err)
			}
		}
	}()
	return nil
}

// TriggerNow publishes immediately, bypassing debounce. Used by the HTTP
// API for human-review resolution, reset-to-last-inbound and
// force-new-run triggers, which must not be coalesced away (spec.md §4.3).
func (d *Dispatcher) TriggerNow(ctx context.Context, task Task, idempotencyKey string) error {
	return d.publish(ctx, task, idempotencyKey)
}

func (d *Dispatcher) publish(ctx context.Context, task Task, idempotencyKey string) error {
	data, err := json.Marshal(task)
	if err != nil {
		return caseerr.Wrap(caseerr.Validation, "marshal task", err)
	}

	msg := nats.NewMsg(subjectFor(task.CaseID))
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, idempotencyKey)

	_, err = d.js.PublishMsg(ctx, msg)
	if err != nil {
		return caseerr.Wrap(caseerr.Transient, "publish task", err)
	}
	return nil
}

// Consumer returns an ordered, single-in-flight consumer for the named
// case. The worker loop does not use it; it reads through WorkerConsumer.
func (d *Dispatcher) Consumer(ctx context.Context, caseID string) (jetstream.Consumer, error) {
	return d.stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       fmt.Sprintf("case-%s", caseID),
		FilterSubject: subjectFor(caseID),
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxAckPending: 1,
	})
}

// WorkerConsumer returns a durable, shared consumer across all case
// subjects for a pool of worker goroutines; per-case single-flight is
// enforced only at the application layer by the pipeline's CaseLock, not
// by this consumer's ack pending (because ack pending is per-consumer,
// not per-subject, when fan-in across cases).
func (d *Dispatcher) WorkerConsumer(ctx context.Context, durableName string, maxAckPending int) (jetstream.Consumer, error) {
	return d.stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       durableName,
		FilterSubject: subjectPrefix + ">",
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxAckPending: maxAckPending,
	})
}
