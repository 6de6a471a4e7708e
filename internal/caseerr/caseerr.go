// Package caseerr defines the error-kind taxonomy used across the
// caseworker engine (spec.md §7). Call sites wrap a Kind with context via
// fmt.Errorf("...: %w", err) and branch with errors.Is/errors.As, the same
// convention the teacher codebase uses throughout processor/*/component.go.
package caseerr

import "errors"

// Kind is a sentinel error identifying one of the taxonomy's categories.
// Kind values are comparable with errors.Is after wrapping.
type Kind struct {
	name string
}

func (k *Kind) Error() string { return k.name }

var (
	// Validation: caller error, rejected at the edge, never mutates state.
	Validation = &Kind{"validation"}
	// NotFound: the referenced entity does not exist.
	NotFound = &Kind{"not_found"}
	// Conflict: the requested transition is forbidden by current state,
	// or a lock/run is already held.
	Conflict = &Kind{"conflict"}
	// Transient: retryable failure (transport 5xx, lock contention,
	// deadlock). Returned to the caller as is: there is no in-process
	// retry loop; a worker task that fails with it is Nak'd and
	// redelivered by JetStream.
	Transient = &Kind{"transient"}
	// Permanent: non-retryable failure surfaced to the caller; state is
	// rolled back to the last safe point.
	Permanent = &Kind{"permanent"}
	// PartialSideEffect: an outbound side effect succeeded but the
	// subsequent state update failed. The Execution row records what was
	// sent; no Reaper job reconciles these automatically.
	PartialSideEffect = &Kind{"partial_side_effect"}
)

// wrapped pairs a Kind with a message and optional cause.
type wrapped struct {
	kind  *Kind
	msg   string
	cause error
}

func (w *wrapped) Error() string {
	if w.cause != nil {
		return w.msg + ": " + w.cause.Error()
	}
	return w.msg
}

func (w *wrapped) Unwrap() error { return w.cause }

func (w *wrapped) Is(target error) bool {
	if k, ok := target.(*Kind); ok {
		return w.kind == k
	}
	return false
}

// Wrap produces an error of the given kind carrying msg and, optionally,
// a wrapped cause.
func Wrap(kind *Kind, msg string, cause error) error {
	return &wrapped{kind: kind, msg: msg, cause: cause}
}

// Is reports whether err (or anything it wraps) is of the given kind.
func Is(err error, kind *Kind) bool {
	return errors.Is(err, kind)
}

// KindOf walks err's wrap chain and returns the first Kind found, or nil.
func KindOf(err error) *Kind {
	for _, k := range []*Kind{Validation, NotFound, Conflict, Transient, Permanent, PartialSideEffect} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
