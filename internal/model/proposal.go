package model

import "time"

// ProposalStatus is the closed set of states a Proposal moves through.
// Transitions are forward-only apart from the DISPATCH-FAILED rollback to
// PENDING_APPROVAL (spec.md §3).
type ProposalStatus string

const (
	ProposalPendingApproval       ProposalStatus = "PENDING_APPROVAL"
	ProposalBlocked               ProposalStatus = "BLOCKED"
	ProposalDecisionReceived      ProposalStatus = "DECISION_RECEIVED"
	ProposalApproved              ProposalStatus = "APPROVED"
	ProposalExecuting             ProposalStatus = "EXECUTING"
	ProposalPendingPortal         ProposalStatus = "PENDING_PORTAL"
	ProposalExecuted              ProposalStatus = "EXECUTED"
	ProposalDismissed             ProposalStatus = "DISMISSED"
	ProposalWithdrawn             ProposalStatus = "WITHDRAWN"
	ProposalAdjustmentRequested   ProposalStatus = "ADJUSTMENT_REQUESTED"
)

// HumanDecision is the closed-schema payload recorded against a Proposal
// when a human resolves a gate (Design Notes §9: "specify a closed schema
// per action type and decode strictly; unknown fields retained on a
// sidecar extra map").
type HumanDecision struct {
	Action      GateOption             `json:"action"`
	Instruction string                 `json:"instruction,omitempty"`
	Reason      string                 `json:"reason,omitempty"`
	RouteMode   string                 `json:"route_mode,omitempty"`
	UserID      string                 `json:"user_id,omitempty"`
	Extra       map[string]any         `json:"extra,omitempty"`
}

// Proposal is the unit of planned action on a case.
type Proposal struct {
	ID                string
	CaseID            string
	TriggerMessageID  string // empty for timer-triggered proposals
	ActionType        ActionType
	ProposalKey       string // idempotency key: hash(case, trigger, action, draft digest)
	Status            ProposalStatus
	Confidence        float64
	RiskFlags         []string
	Warnings          []string
	GateOptions       []GateOption
	DraftSubject      string
	DraftBodyText     string
	DraftBodyHTML     string
	Reasoning         []string
	WaitpointToken    string
	ExecutionKey      string // unique when set
	RunID             string
	HumanDecision     *HumanDecision
	ExecutedAt        *time.Time
	EmailJobID        string
	AdjustmentCount   int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// HasGateOption reports whether action is one of the proposal's allowed
// human decisions (spec.md §4.8 precondition).
func (p *Proposal) HasGateOption(action GateOption) bool {
	for _, g := range p.GateOptions {
		if g == action {
			return true
		}
	}
	return false
}
