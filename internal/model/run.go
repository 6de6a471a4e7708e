package model

import "time"

// RunStatus is the closed set of states an AgentRun moves through.
type RunStatus string

const (
	RunCreated   RunStatus = "created"
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunWaiting   RunStatus = "waiting"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// Active reports whether the run occupies the case's single active-run
// slot (spec.md §3 invariant: at most one of {queued, running, waiting}).
func (s RunStatus) Active() bool {
	return s == RunQueued || s == RunRunning || s == RunWaiting
}

// TriggerType names what caused an AgentRun to start.
type TriggerType string

const (
	TriggerInboundMessage    TriggerType = "INBOUND_MESSAGE"
	TriggerTimer             TriggerType = "TIMER"
	TriggerHumanReview       TriggerType = "HUMAN_REVIEW_RESOLUTION"
	TriggerForceNewRun       TriggerType = "FORCE_NEW_RUN"
	TriggerResetToLastInbound TriggerType = "RESET_TO_LAST_INBOUND"
	TriggerPortalResult      TriggerType = "PORTAL_RESULT"
)

// AgentRun is one orchestration attempt against a case.
type AgentRun struct {
	ID                string
	CaseID            string
	TriggerType       TriggerType
	Status            RunStatus
	StartedAt         *time.Time
	EndedAt           *time.Time
	Error             string
	LangGraphThreadID string // opaque continuation handle
	MessageID         string
	ProposalID        string
	Metadata          map[string]string
}

// CaseOperationLock grants mutual exclusion for one (case, operation)
// pair. See spec.md §4.2 and §3.
type CaseOperationLock struct {
	CaseID      string
	Operation   string
	Token       string
	HolderRunID string
	AcquiredAt  time.Time
	ExpiresAt   time.Time
}

// Expired reports whether the lock can be reclaimed.
func (l *CaseOperationLock) Expired(now time.Time) bool {
	return now.After(l.ExpiresAt)
}

// Waitpoint is a single-use durable token suspending a run until a human
// decision arrives. See spec.md §4.4.
type Waitpoint struct {
	Token             string
	ProposalID        string
	CreatedAt         time.Time
	ExpiresAt         time.Time
	CompletedAt       *time.Time
	CompletionPayload map[string]any
}

// Completed reports whether a winner has already claimed this waitpoint.
func (w *Waitpoint) Completed() bool { return w.CompletedAt != nil }

// ExecutionKind distinguishes the side effect an Execution row recorded.
type ExecutionKind string

const (
	ExecutionSendEmail     ExecutionKind = "send_email"
	ExecutionSubmitPortal  ExecutionKind = "submit_portal"
	ExecutionRecordOnly    ExecutionKind = "record_only"
)

// ExecutionStatus is the outcome of one side-effect attempt.
type ExecutionStatus string

const (
	ExecutionStarted   ExecutionStatus = "started"
	ExecutionSucceeded ExecutionStatus = "succeeded"
	ExecutionFailed    ExecutionStatus = "failed"
)

// Execution is an append-only record of every side effect attempted. It is
// the source of truth for "what actually happened" (spec.md §3, §7).
type Execution struct {
	ID                string
	ProposalID        string
	CaseID            string
	Kind              ExecutionKind
	ProviderMessageID string
	Status            ExecutionStatus
	StartedAt         time.Time
	CompletedAt       *time.Time
	Error             string
}

// ActivityLog is one append-only audit entry keyed by case.
type ActivityLog struct {
	ID        string
	CaseID    string
	EventType string
	Description string
	Metadata  map[string]any
	CreatedAt time.Time
}
