// Package policy holds the Planner/Decisioner thresholds as mutable,
// mutex-guarded data rather than compiled-in constants, following the same
// shape as the teacher's model.Registry (capability -> preferred model)
// repurposed here for (action type / fee amount) -> policy decision.
package policy

import (
	"sync"

	"github.com/c360studio/caseworker/internal/config"
	"github.com/c360studio/caseworker/internal/model"
)

// Registry resolves policy questions the Planner and Decisioner need to
// answer against the current environment's configured thresholds
// (spec.md §9 Open Question: "exact thresholds are policy inputs, not a
// canonical value").
type Registry struct {
	mu              sync.RWMutex
	feeAutoApprove  float64
	feeHardCap      float64
	autoMinConf     float64
	supervisedConf  float64
	escalateBelow   float64
	autoSafeActions map[model.ActionType]bool
}

// NewRegistry builds a Registry from a loaded PolicyConfig.
func NewRegistry(cfg config.PolicyConfig) *Registry {
	r := &Registry{
		feeAutoApprove: cfg.FeeAutoApproveMax,
		feeHardCap:     cfg.FeeHardCap,
		autoMinConf:    cfg.AutoMinConfidence,
		supervisedConf: cfg.SupervisedMinConfidence,
		escalateBelow:  cfg.EscalateBelowConfidence,
	}
	r.autoSafeActions = make(map[model.ActionType]bool, len(cfg.AutoSafeActions))
	for _, a := range cfg.AutoSafeActions {
		r.autoSafeActions[model.ActionType(a)] = true
	}
	return r
}

// FeeBand classifies a quoted fee amount for the Planner's ACCEPT_FEE /
// NEGOTIATE_FEE rule (spec.md §4.6 rule 2).
type FeeBand int

const (
	// FeeBandAutoApprove: at or below fee_auto_approve_max.
	FeeBandAutoApprove FeeBand = iota
	// FeeBandNegotiate: between fee_auto_approve_max and fee_hard_cap.
	FeeBandNegotiate
	// FeeBandHardCap: at or above fee_hard_cap, always gated.
	FeeBandHardCap
)

// ClassifyFee returns which band an amount falls into.
func (r *Registry) ClassifyFee(amount float64) FeeBand {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch {
	case amount >= r.feeHardCap:
		return FeeBandHardCap
	case amount <= r.feeAutoApprove:
		return FeeBandAutoApprove
	default:
		return FeeBandNegotiate
	}
}

// MeetsAutoConfidence reports whether confidence clears the bar for
// AUTO-mode auto-execution of this action type (spec.md §4.7).
func (r *Registry) MeetsAutoConfidence(action model.ActionType, confidence float64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.autoSafeActions[action] {
		return false
	}
	return confidence >= r.autoMinConf
}

// MeetsSupervisedConfidence reports whether confidence clears the
// (higher) bar SUPERVISED mode requires for its narrower set of
// auto-executable actions (spec.md §4.7).
func (r *Registry) MeetsSupervisedConfidence(action model.ActionType, confidence float64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if action != model.ActionSendFollowup {
		return false
	}
	return confidence >= r.supervisedConf
}

// ShouldForceEscalate reports whether confidence is below the escalation
// threshold. The Planner consults it only for acknowledgements, which then
// fall through to the fallback rule (§4.6 rule 7).
func (r *Registry) ShouldForceEscalate(confidence float64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return confidence < r.escalateBelow
}

// SetFeeThresholds updates the fee bands at runtime (e.g. an operator
// adjusting policy without a restart).
func (r *Registry) SetFeeThresholds(autoApprove, hardCap float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.feeAutoApprove = autoApprove
	r.feeHardCap = hardCap
}

// SetAutoSafeActions replaces the set of actions eligible for AUTO-mode
// auto-execution.
func (r *Registry) SetAutoSafeActions(actions []model.ActionType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.autoSafeActions = make(map[model.ActionType]bool, len(actions))
	for _, a := range actions {
		r.autoSafeActions[a] = true
	}
}
