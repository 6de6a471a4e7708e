// Package notify publishes best-effort case-activity notifications over
// NATS core pub/sub (not JetStream — these are fire-and-forget UI/ops
// signals, not durable work). Grounded on the teacher's graph.PublishProposal,
// which tolerates a nil client so components can run with notifications
// disabled in tests.
package notify

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

const subjectPrefix = "caseworker.events."

// Event is a lightweight notification describing something that happened
// to a case — a new proposal, a gate resolution, an execution outcome —
// for a UI (e.g. the httpapi SSE stream) or an external ops channel to
// observe.
type Event struct {
	CaseID    string    `json:"case_id"`
	Type      string    `json:"type"`
	Summary   string    `json:"summary"`
	Timestamp time.Time `json:"timestamp"`
}

// Bus publishes Events. A nil *nats.Conn makes every Publish call a no-op,
// so callers never need to branch on whether notifications are enabled.
type Bus struct {
	nc     *nats.Conn
	logger *slog.Logger
}

// New builds a Bus. nc may be nil.
func New(nc *nats.Conn, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{nc: nc, logger: logger}
}

// Publish sends ev on the case's event subject. Errors are logged, not
// returned: a dropped notification must never fail the operation that
// triggered it.
func (b *Bus) Publish(ev Event) {
	if b.nc == nil {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		b.logger.Error("marshal notification event", "error", err)
		return
	}
	if err := b.nc.Publish(subjectPrefix+ev.CaseID, data); err != nil {
		b.logger.Error("publish notification event", "case_id", ev.CaseID, "error", err)
	}
}

// Subscribe returns a subscription to every case's events, used by the
// httpapi's SSE handler to fan events out to connected clients.
func (b *Bus) Subscribe() (*nats.Subscription, chan *nats.Msg, error) {
	ch := make(chan *nats.Msg, 64)
	if b.nc == nil {
		return nil, ch, nil
	}
	sub, err := b.nc.ChanSubscribe(subjectPrefix+">", ch)
	return sub, ch, err
}
