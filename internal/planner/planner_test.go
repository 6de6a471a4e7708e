package planner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/caseworker/internal/classifier"
	"github.com/c360studio/caseworker/internal/config"
	"github.com/c360studio/caseworker/internal/model"
	"github.com/c360studio/caseworker/internal/policy"
)

func testPlanner(t *testing.T) *Planner {
	t.Helper()
	pol := policy.NewRegistry(config.PolicyConfig{
		FeeAutoApproveMax:       25.00,
		FeeHardCap:              100.00,
		AutoMinConfidence:       0.7,
		SupervisedMinConfidence: 0.8,
		EscalateBelowConfidence: 0.5,
	})
	return New(pol, classifier.NewStub())
}

func amountPtr(f float64) *float64 { return &f }

func TestPlan(t *testing.T) {
	tests := []struct {
		name     string
		in       Input
		wantRule string
		want     model.ActionType
	}{
		{
			name: "fee within auto-approve band",
			in: Input{
				Case:     &model.Case{},
				Analysis: &model.Analysis{Intent: "fee_notice", ExtractedFeeAmount: amountPtr(10), Confidence: 0.9},
			},
			wantRule: "rule:fee_notice",
			want:     model.ActionAcceptFee,
		},
		{
			name: "fee above hard cap negotiates",
			in: Input{
				Case:     &model.Case{},
				Analysis: &model.Analysis{Intent: "fee_notice", ExtractedFeeAmount: amountPtr(150), Confidence: 0.9},
			},
			wantRule: "rule:fee_notice",
			want:     model.ActionNegotiateFee,
		},
		{
			name: "fee between bands negotiates",
			in: Input{
				Case:     &model.Case{},
				Analysis: &model.Analysis{Intent: "fee_notice", ExtractedFeeAmount: amountPtr(50), Confidence: 0.9},
			},
			wantRule: "rule:fee_notice",
			want:     model.ActionNegotiateFee,
		},
		{
			name: "exemption claim drafts rebuttal",
			in: Input{
				Case:     &model.Case{},
				Analysis: &model.Analysis{Intent: "exemption_claim", Confidence: 0.9},
			},
			wantRule: "rule:exemption_claim",
			want:     model.ActionSendRebuttal,
		},
		{
			name: "denial drafts appeal",
			in: Input{
				Case:     &model.Case{},
				Analysis: &model.Analysis{Intent: "denial", Confidence: 0.9},
			},
			wantRule: "rule:denial",
			want:     model.ActionSendAppeal,
		},
		{
			name: "clarification request",
			in: Input{
				Case:     &model.Case{},
				Analysis: &model.Analysis{Intent: "clarification_request", Confidence: 0.9},
			},
			wantRule: "rule:clarification_request",
			want:     model.ActionSendClarification,
		},
		{
			name: "portal required with portal url set",
			in: Input{
				Case:     &model.Case{PortalURL: "https://agency.example/portal"},
				Analysis: &model.Analysis{Intent: "portal_required", Confidence: 0.9},
			},
			wantRule: "rule:portal_required",
			want:     model.ActionSubmitPortal,
		},
		{
			name: "portal required but no portal url falls through to escalate",
			in: Input{
				Case:     &model.Case{},
				Analysis: &model.Analysis{Intent: "portal_required", Confidence: 0.9},
			},
			wantRule: "rule:fallback_escalate",
			want:     model.ActionEscalate,
		},
		{
			name: "acknowledgement with high confidence sends followup",
			in: Input{
				Case:     &model.Case{},
				Analysis: &model.Analysis{Intent: "acknowledgement", Confidence: 0.9},
			},
			wantRule: "rule:acknowledgement",
			want:     model.ActionSendFollowup,
		},
		{
			name: "acknowledgement with low confidence escalates instead",
			in: Input{
				Case:     &model.Case{},
				Analysis: &model.Analysis{Intent: "acknowledgement", Confidence: 0.2},
			},
			wantRule: "rule:fallback_escalate",
			want:     model.ActionEscalate,
		},
		{
			name:     "nil analysis escalates",
			in:       Input{Case: &model.Case{}},
			wantRule: "rule:fallback_escalate",
			want:     model.ActionEscalate,
		},
	}

	p := testPlanner(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := p.Plan(context.Background(), tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.Action)
			require.NotEmpty(t, d.Reasoning)
			assert.Equal(t, tt.wantRule, d.Reasoning[0])
		})
	}
}

func TestProposalKeyDeterministic(t *testing.T) {
	draft := &model.Draft{Subject: "Re: case", BodyText: "body"}

	k1 := ProposalKey("case-1", "msg-1", model.ActionSendFollowup, draft)
	k2 := ProposalKey("case-1", "msg-1", model.ActionSendFollowup, draft)
	assert.Equal(t, k1, k2, "same inputs must produce the same key")

	k3 := ProposalKey("case-1", "msg-1", model.ActionSendAppeal, draft)
	assert.NotEqual(t, k1, k3, "different action must change the key")
}
