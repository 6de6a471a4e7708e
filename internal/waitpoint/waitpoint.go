// Package waitpoint implements the single-use durable suspension token a
// Proposal uses to pause an AgentRun pending a human decision (spec.md
// §4.4). A Waitpoint is a row, not a goroutine parked on a channel: the
// Decisioner's CompleteWaitpoint call and the Reaper's expiry sweep both
// act on the row directly, and a NATS JetStream KV bucket is used only to
// wake a waiting Dispatcher consumer (Design Notes §9: "model the run as
// a row the Dispatcher wakes," not a suspended thread).
package waitpoint

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/caseworker/internal/caseerr"
	"github.com/c360studio/caseworker/internal/model"
)

const bucketName = "CASEWORKER_WAITPOINTS"

// waitStore is the subset of store.Store that Manager depends on.
type waitStore interface {
	CreateWaitpoint(ctx context.Context, w *model.Waitpoint) error
	GetWaitpoint(ctx context.Context, token string) (*model.Waitpoint, error)
	CompleteWaitpoint(ctx context.Context, token string, payload map[string]any) (bool, error)
	ListExpiredWaitpoints(ctx context.Context) ([]*model.Waitpoint, error)
}

// Manager creates and completes waitpoints, and notifies the wake-up KV
// bucket on completion so any dispatcher loop parked on a Watch can
// resume the suspended case immediately instead of waiting for the next
// poll.
type Manager struct {
	store waitStore
	kv    jetstream.KeyValue
}

// New builds a Manager and ensures the wake-up KV bucket exists.
func New(ctx context.Context, store waitStore, nc *nats.Conn) (*Manager, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, caseerr.Wrap(caseerr.Transient, "create jetstream context", err)
	}
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket: bucketName,
		TTL:    24 * time.Hour,
	})
	if err != nil {
		return nil, caseerr.Wrap(caseerr.Transient, "create waitpoint kv bucket", err)
	}
	return &Manager{store: store, kv: kv}, nil
}

// Create mints a new single-use token for proposalID, valid until ttl
// elapses.
func (m *Manager) Create(ctx context.Context, proposalID string, ttl time.Duration) (*model.Waitpoint, error) {
	now := time.Now().UTC()
	w := &model.Waitpoint{
		Token:      uuid.NewString(),
		ProposalID: proposalID,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}
	if err := m.store.CreateWaitpoint(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

// Get fetches a waitpoint by token.
func (m *Manager) Get(ctx context.Context, token string) (*model.Waitpoint, error) {
	return m.store.GetWaitpoint(ctx, token)
}

// Complete performs the single-use CAS completion and, on success, writes
// a wake-up marker to the KV bucket so any parked watcher resumes the
// case promptly. Returns caseerr.Conflict if the waitpoint was already
// completed by a prior caller.
func (m *Manager) Complete(ctx context.Context, token string, caseID string, payload map[string]any) error {
	won, err := m.store.CompleteWaitpoint(ctx, token, payload)
	if err != nil {
		return err
	}
	if !won {
		return caseerr.Wrap(caseerr.Conflict, "waitpoint already completed", nil)
	}
	if _, err := m.kv.Put(ctx, wakeKey(caseID), []byte(token)); err != nil {
		// The completion already committed; a failed wake notification just
		// means the case resumes on the next poll instead of immediately.
		return nil
	}
	return nil
}

// Watch returns a channel of case IDs woken by waitpoint completions,
// mirroring the teacher's watchLoopCompletions KV-watch pattern.
func (m *Manager) Watch(ctx context.Context) (<-chan string, error) {
	watcher, err := m.kv.WatchAll(ctx)
	if err != nil {
		return nil, caseerr.Wrap(caseerr.Transient, "watch waitpoint kv", err)
	}

	out := make(chan string, 16)
	go func() {
		defer close(out)
		defer watcher.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case entry, ok := <-watcher.Updates():
				if !ok {
					return
				}
				if entry == nil {
					continue
				}
				caseID := caseIDFromKey(entry.Key())
				if caseID != "" {
					select {
					case out <- caseID:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return out, nil
}

func wakeKey(caseID string) string { return fmt.Sprintf("wake.%s", caseID) }

func caseIDFromKey(key string) string {
	const prefix = "wake."
	if len(key) > len(prefix) && key[:len(prefix)] == prefix {
		return key[len(prefix):]
	}
	return ""
}
