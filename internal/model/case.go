// Package model defines the domain types shared across the caseworker
// engine: cases, messages, proposals, runs, locks, waitpoints, executions
// and the append-only activity log.
package model

import "time"

// CaseStatus is the closed set of states a Case can occupy.
type CaseStatus string

const (
	CaseDraft               CaseStatus = "draft"
	CaseReadyToSend         CaseStatus = "ready_to_send"
	CaseSent                CaseStatus = "sent"
	CaseAwaitingResponse    CaseStatus = "awaiting_response"
	CaseResponded           CaseStatus = "responded"
	CaseCompleted           CaseStatus = "completed"
	CaseCancelled           CaseStatus = "cancelled"
	CaseNeedsHumanReview    CaseStatus = "needs_human_review"
	CaseNeedsPhoneCall      CaseStatus = "needs_phone_call"
	CaseNeedsContactInfo    CaseStatus = "needs_contact_info"
	CaseNeedsFeeApproval    CaseStatus = "needs_human_fee_approval"
	CasePortalInProgress    CaseStatus = "portal_in_progress"
)

// Terminal reports whether the case can no longer be mutated (save for
// outcome_summary).
func (s CaseStatus) Terminal() bool {
	return s == CaseCompleted || s == CaseCancelled
}

// AutopilotMode is the per-case autonomy policy.
type AutopilotMode string

const (
	AutopilotAuto       AutopilotMode = "AUTO"
	AutopilotSupervised AutopilotMode = "SUPERVISED"
	AutopilotManual     AutopilotMode = "MANUAL"
)

// PauseReason explains why a case currently requires a human.
type PauseReason string

const (
	PauseNone        PauseReason = ""
	PauseFeeQuote    PauseReason = "FEE_QUOTE"
	PauseDenial      PauseReason = "DENIAL"
	PauseScope       PauseReason = "SCOPE"
	PauseSensitive   PauseReason = "SENSITIVE"
	PauseIDRequired  PauseReason = "ID_REQUIRED"
	PauseManual      PauseReason = "MANUAL"
)

// Constraint is a canonical tag summarizing what an agency has said about
// a case. See spec.md Glossary.
type Constraint string

const (
	ConstraintFeeRequired  Constraint = "FEE_REQUIRED"
	ConstraintExemption    Constraint = "EXEMPTION"
	ConstraintNotHeld      Constraint = "NOT_HELD"
	ConstraintScopeNarrow  Constraint = "SCOPE_NARROWED"
	ConstraintIDRequired   Constraint = "ID_REQUIRED"
	ConstraintSensitive    Constraint = "SENSITIVE"
)

// ScopeItemStatus tracks one requested record category through the
// agency's response.
type ScopeItemStatus string

const (
	ScopeRequested           ScopeItemStatus = "REQUESTED"
	ScopeConfirmedAvailable  ScopeItemStatus = "CONFIRMED_AVAILABLE"
	ScopeNotDisclosable      ScopeItemStatus = "NOT_DISCLOSABLE"
	ScopeNotHeld             ScopeItemStatus = "NOT_HELD"
)

// ScopeItem is one line item of a records request.
type ScopeItem struct {
	Name   string          `json:"name"`
	Status ScopeItemStatus `json:"status"`
	Reason string          `json:"reason,omitempty"`
}

// FeeStatus tracks a quoted fee through acceptance/negotiation.
type FeeStatus string

const (
	FeeQuoted    FeeStatus = "quoted"
	FeeAccepted  FeeStatus = "accepted"
	FeeNegotiating FeeStatus = "negotiating"
	FeeDeclined  FeeStatus = "declined"
)

// FeeQuote is the agency's stated cost for fulfilling the request.
type FeeQuote struct {
	Amount   float64   `json:"amount"`
	Currency string    `json:"currency"`
	QuotedAt time.Time `json:"quoted_at"`
	Status   FeeStatus `json:"status"`
}

// Case is one records request against one agency.
type Case struct {
	ID             string
	Status         CaseStatus
	Substatus      string
	AutopilotMode  AutopilotMode
	RequiresHuman  bool
	PauseReason    PauseReason
	AgencyEmail    string
	PortalURL      string
	DeadlineDate   *time.Time
	FeeQuote       *FeeQuote
	ScopeItems     []ScopeItem
	Constraints    []Constraint
	OutcomeType    string
	OutcomeSummary string
	LastPortalStatus string
	ClosedAt       *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// HasConstraint reports whether the case already carries the given tag.
func (c *Case) HasConstraint(tag Constraint) bool {
	for _, t := range c.Constraints {
		if t == tag {
			return true
		}
	}
	return false
}

// AddConstraint appends a constraint tag if not already present.
func (c *Case) AddConstraint(tag Constraint) {
	if !c.HasConstraint(tag) {
		c.Constraints = append(c.Constraints, tag)
	}
}
