// Package decisioner implements auto/gate routing (spec.md §4.7) and
// human decision resolution (spec.md §4.8): given a freshly planned
// Proposal, decide whether it executes immediately or waits on a human,
// and later, resolve whatever gate decision a human supplies.
package decisioner

import (
	"context"
	"fmt"
	"time"

	"github.com/c360studio/caseworker/internal/caseerr"
	"github.com/c360studio/caseworker/internal/model"
	"github.com/c360studio/caseworker/internal/policy"
	"github.com/c360studio/caseworker/internal/waitpoint"
)

// proposalStore is the subset of store.Store the Decisioner depends on.
type proposalStore interface {
	UpdateProposal(ctx context.Context, p *model.Proposal) error
	UpdateProposalStatus(ctx context.Context, id string, expected, next model.ProposalStatus) (bool, error)
	SetHumanDecision(ctx context.Context, id string, decision *model.HumanDecision) error
	GetProposal(ctx context.Context, id string) (*model.Proposal, error)
}

// Decisioner routes proposals to auto-execution or a human gate, and
// resolves gate decisions once they arrive.
type Decisioner struct {
	store      proposalStore
	waitpoints *waitpoint.Manager
	policy     *policy.Registry
	// waitpointTTL is how long a gated proposal waits before the Reaper
	// expires it (spec.md §4.10).
	waitpointTTL time.Duration
}

// New builds a Decisioner.
func New(store proposalStore, waitpoints *waitpoint.Manager, pol *policy.Registry, waitpointTTL time.Duration) *Decisioner {
	return &Decisioner{store: store, waitpoints: waitpoints, policy: pol, waitpointTTL: waitpointTTL}
}

// Route decides whether a proposal auto-executes or is gated on a human,
// per the case's AutopilotMode and the policy registry's confidence
// thresholds (spec.md §4.7).
//
//   - AUTO: any action in the policy's auto-safe set, at or above
//     auto_min_confidence, executes without a human.
//   - SUPERVISED: only SEND_FOLLOWUP, at or above supervised_min_confidence,
//     executes without a human.
//   - MANUAL: every proposal is gated.
//
// Everything else is gated: the proposal moves to PENDING_APPROVAL and a
// Waitpoint is minted.
func (d *Decisioner) Route(ctx context.Context, c *model.Case, p *model.Proposal) error {
	autoExecute := false
	switch c.AutopilotMode {
	case model.AutopilotAuto:
		autoExecute = d.policy.MeetsAutoConfidence(p.ActionType, p.Confidence)
	case model.AutopilotSupervised:
		autoExecute = d.policy.MeetsSupervisedConfidence(p.ActionType, p.Confidence)
	case model.AutopilotManual:
		autoExecute = false
	}

	if autoExecute {
		p.Status = model.ProposalApproved
		p.Reasoning = append(p.Reasoning, fmt.Sprintf("auto-executed under %s mode", c.AutopilotMode))
		return d.store.UpdateProposal(ctx, p)
	}

	w, err := d.waitpoints.Create(ctx, p.ID, d.waitpointTTL)
	if err != nil {
		return err
	}
	p.Status = model.ProposalPendingApproval
	p.WaitpointToken = w.Token
	p.Reasoning = append(p.Reasoning, "gated for human approval")
	return d.store.UpdateProposal(ctx, p)
}

// Resolve applies a human's gate decision to a pending proposal (spec.md
// §4.8). It completes the proposal's waitpoint (single-use CAS — a
// second caller racing to resolve the same proposal gets
// caseerr.Conflict), records the decision, and returns the resulting
// status so the caller (the HTTP /decisions handler) knows whether to
// re-enter planning (ADJUST), execute (APPROVE), or stop (DISMISS).
func (d *Decisioner) Resolve(ctx context.Context, p *model.Proposal, token string, decision *model.HumanDecision) (model.ProposalStatus, error) {
	if !p.HasGateOption(decision.Action) {
		return "", caseerr.Wrap(caseerr.Validation, fmt.Sprintf("action %s not a valid gate option for this proposal", decision.Action), nil)
	}

	payload := map[string]any{"action": string(decision.Action), "reason": decision.Reason}
	if err := d.waitpoints.Complete(ctx, token, p.CaseID, payload); err != nil {
		return "", err
	}
	if err := d.store.SetHumanDecision(ctx, p.ID, decision); err != nil {
		return "", err
	}

	next, err := d.nextStatus(decision.Action)
	if err != nil {
		return "", err
	}

	ok, err := d.store.UpdateProposalStatus(ctx, p.ID, model.ProposalDecisionReceived, next)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", caseerr.Wrap(caseerr.Conflict, "proposal status changed concurrently", nil)
	}
	return next, nil
}

// nextStatus maps a GateOption to the proposal status it produces.
// Special cases per spec.md §4.8:
//   - RETRY_RESEARCH (SUBMIT_PORTAL only) re-enters planning rather than
//     executing or stopping, so it maps to ADJUSTMENT_REQUESTED like
//     ADJUST.
//   - DISMISS always stops the proposal permanently.
func (d *Decisioner) nextStatus(action model.GateOption) (model.ProposalStatus, error) {
	switch action {
	case model.GateApprove:
		return model.ProposalApproved, nil
	case model.GateAdjust, model.GateRetryResearch:
		return model.ProposalAdjustmentRequested, nil
	case model.GateDismiss:
		return model.ProposalDismissed, nil
	default:
		return "", caseerr.Wrap(caseerr.Validation, fmt.Sprintf("unknown gate option %s", action), nil)
	}
}
