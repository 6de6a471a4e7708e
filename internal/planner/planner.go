// Package planner implements the rule-based ActionType selection spec.md
// §4.6 describes. Design Notes §9 requires ActionType to be a closed Go
// enum and the rule dispatch to be exhaustive over it rather than a
// string-keyed switch reaching into an external rules file — so unlike
// the teacher's YAML-driven workflow-orchestrator rules engine, these
// rules are ordinary Go functions evaluated in a fixed, first-match-wins
// order. The teacher's "ordered condition -> action" shape is kept; the
// condition/action representation is not, because the action space here
// is a closed set the compiler should check.
package planner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/c360studio/caseworker/internal/classifier"
	"github.com/c360studio/caseworker/internal/model"
	"github.com/c360studio/caseworker/internal/policy"
)

// Input bundles everything a rule needs to decide on an ActionType. It
// deliberately excludes direct store access — the Planner is a pure
// function of case state plus the latest message analysis.
type Input struct {
	Case       *model.Case
	Message    *model.Message // nil for timer-triggered planning
	Analysis   *model.Analysis
	TriggerMsg string // trigger_message_id, empty for timer triggers
}

// Decision is the Planner's output: the chosen action plus the reasoning
// trail attached to the resulting Proposal.
type Decision struct {
	Action     model.ActionType
	Confidence float64
	Reasoning  []string
	Warnings   []string
}

// rule is one first-match-wins planning rule.
type rule struct {
	name    string
	matches func(in Input, pol *policy.Registry) bool
	decide  func(in Input, pol *policy.Registry) Decision
}

// Planner selects an ActionType and assembles a draft for it.
type Planner struct {
	policy     *policy.Registry
	classifier classifier.Port
	rules      []rule
}

// New builds a Planner with the standard rule ordering from spec.md §4.6.
func New(pol *policy.Registry, clf classifier.Port) *Planner {
	p := &Planner{policy: pol, classifier: clf}
	p.rules = []rule{
		p.ruleFeeNotice(),
		p.ruleExemptionClaim(),
		p.ruleDenial(),
		p.ruleClarificationRequest(),
		p.rulePortalRequired(),
		p.ruleAcknowledgement(),
		p.ruleFallbackEscalate(),
	}
	return p
}

// Plan runs the rule chain and returns the first match, computing the
// deterministic idempotency key the store's proposal_key column enforces
// uniqueness on (spec.md §4.6).
func (p *Planner) Plan(ctx context.Context, in Input) (Decision, error) {
	for _, r := range p.rules {
		if r.matches(in, p.policy) {
			d := r.decide(in, p.policy)
			d.Reasoning = append([]string{fmt.Sprintf("rule:%s", r.name)}, d.Reasoning...)
			return d, nil
		}
	}
	// ruleFallbackEscalate always matches, so this is unreachable, but keep
	// an explicit default to make the exhaustiveness visible to a reader.
	return Decision{Action: model.ActionEscalate, Confidence: 0, Reasoning: []string{"no rule matched"}}, nil
}

// Draft asks the classifier to compose outbound text for the chosen
// action (spec.md §4.6 draft assembly step).
func (p *Planner) Draft(ctx context.Context, action model.ActionType, dc classifier.DraftContext) (*model.Draft, error) {
	return p.classifier.Draft(ctx, action, dc)
}

// ProposalKey computes the Planner's idempotency key: a digest of the
// case, trigger message, chosen action, and draft content, so replays of
// the same trigger never produce a second proposal (spec.md §4.6).
func ProposalKey(caseID, triggerMessageID string, action model.ActionType, draft *model.Draft) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s", caseID, triggerMessageID, action)
	if draft != nil {
		fmt.Fprintf(h, "|%s|%s", draft.Subject, draft.BodyText)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (p *Planner) ruleFeeNotice() rule {
	return rule{
		name: "fee_notice",
		matches: func(in Input, pol *policy.Registry) bool {
			return in.Analysis != nil && in.Analysis.Intent == "fee_notice" && in.Analysis.ExtractedFeeAmount != nil
		},
		decide: func(in Input, pol *policy.Registry) Decision {
			amount := *in.Analysis.ExtractedFeeAmount
			switch pol.ClassifyFee(amount) {
			case policy.FeeBandAutoApprove:
				return Decision{Action: model.ActionAcceptFee, Confidence: in.Analysis.Confidence,
					Reasoning: []string{fmt.Sprintf("fee $%.2f within auto-approve threshold", amount)}}
			case policy.FeeBandHardCap:
				return Decision{Action: model.ActionNegotiateFee, Confidence: in.Analysis.Confidence,
					Reasoning:  []string{fmt.Sprintf("fee $%.2f at or above hard cap, negotiating", amount)},
					Warnings:   []string{"fee_hard_cap_exceeded"}}
			default:
				return Decision{Action: model.ActionNegotiateFee, Confidence: in.Analysis.Confidence,
					Reasoning: []string{fmt.Sprintf("fee $%.2f requires negotiation", amount)}}
			}
		},
	}
}

func (p *Planner) ruleExemptionClaim() rule {
	return rule{
		name: "exemption_claim",
		matches: func(in Input, pol *policy.Registry) bool {
			return in.Analysis != nil && in.Analysis.Intent == "exemption_claim"
		},
		decide: func(in Input, pol *policy.Registry) Decision {
			return Decision{Action: model.ActionSendRebuttal, Confidence: in.Analysis.Confidence,
				Reasoning: []string{"agency cited an exemption, drafting rebuttal"}}
		},
	}
}

func (p *Planner) ruleDenial() rule {
	return rule{
		name: "denial",
		matches: func(in Input, pol *policy.Registry) bool {
			return in.Analysis != nil && in.Analysis.Intent == "denial"
		},
		decide: func(in Input, pol *policy.Registry) Decision {
			return Decision{Action: model.ActionSendAppeal, Confidence: in.Analysis.Confidence,
				Reasoning: []string{"agency denied the request, drafting appeal"}}
		},
	}
}

func (p *Planner) ruleClarificationRequest() rule {
	return rule{
		name: "clarification_request",
		matches: func(in Input, pol *policy.Registry) bool {
			return in.Analysis != nil && in.Analysis.Intent == "clarification_request"
		},
		decide: func(in Input, pol *policy.Registry) Decision {
			return Decision{Action: model.ActionSendClarification, Confidence: in.Analysis.Confidence,
				Reasoning: []string{"agency requested clarification"}}
		},
	}
}

func (p *Planner) rulePortalRequired() rule {
	return rule{
		name: "portal_required",
		matches: func(in Input, pol *policy.Registry) bool {
			return in.Analysis != nil && in.Analysis.Intent == "portal_required" && in.Case.PortalURL != ""
		},
		decide: func(in Input, pol *policy.Registry) Decision {
			return Decision{Action: model.ActionSubmitPortal, Confidence: in.Analysis.Confidence,
				Reasoning: []string{"agency requires portal submission"}}
		},
	}
}

func (p *Planner) ruleAcknowledgement() rule {
	return rule{
		name: "acknowledgement",
		matches: func(in Input, pol *policy.Registry) bool {
			return in.Analysis != nil && in.Analysis.Intent == "acknowledgement" && !pol.ShouldForceEscalate(in.Analysis.Confidence)
		},
		decide: func(in Input, pol *policy.Registry) Decision {
			return Decision{Action: model.ActionSendFollowup, Confidence: in.Analysis.Confidence,
				Reasoning: []string{"routine acknowledgement, sending status follow-up"}}
		},
	}
}

// ruleFallbackEscalate is spec.md §4.6 rule 7: when nothing else matched
// (including an acknowledgement whose confidence is below the escalation
// threshold), escalate to a human.
// It always matches, so it must be last in the chain.
func (p *Planner) ruleFallbackEscalate() rule {
	return rule{
		name:    "fallback_escalate",
		matches: func(in Input, pol *policy.Registry) bool { return true },
		decide: func(in Input, pol *policy.Registry) Decision {
			confidence := 0.0
			if in.Analysis != nil {
				confidence = in.Analysis.Confidence
			}
			return Decision{Action: model.ActionEscalate, Confidence: confidence,
				Reasoning: []string{"no specific rule matched or confidence below escalation threshold"}}
		},
	}
}
