package decisioner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/caseworker/internal/caseerr"
	"github.com/c360studio/caseworker/internal/config"
	"github.com/c360studio/caseworker/internal/model"
	"github.com/c360studio/caseworker/internal/policy"
)

type fakeProposalStore struct {
	updated   *model.Proposal
	decisions map[string]*model.HumanDecision
}

func newFakeProposalStore() *fakeProposalStore {
	return &fakeProposalStore{decisions: make(map[string]*model.HumanDecision)}
}

func (f *fakeProposalStore) UpdateProposal(ctx context.Context, p *model.Proposal) error {
	f.updated = p
	return nil
}

func (f *fakeProposalStore) UpdateProposalStatus(ctx context.Context, id string, expected, next model.ProposalStatus) (bool, error) {
	return true, nil
}

func (f *fakeProposalStore) SetHumanDecision(ctx context.Context, id string, decision *model.HumanDecision) error {
	f.decisions[id] = decision
	return nil
}

func (f *fakeProposalStore) GetProposal(ctx context.Context, id string) (*model.Proposal, error) {
	return nil, nil
}

func testPolicy() *policy.Registry {
	return policy.NewRegistry(config.PolicyConfig{
		FeeAutoApproveMax:       25.00,
		FeeHardCap:              100.00,
		AutoMinConfidence:       0.7,
		SupervisedMinConfidence: 0.8,
		EscalateBelowConfidence: 0.5,
		AutoSafeActions:         []string{"SEND_FOLLOWUP", "ACCEPT_FEE"},
	})
}

func TestRouteAutoModeAboveThresholdExecutes(t *testing.T) {
	fs := newFakeProposalStore()
	d := New(fs, nil, testPolicy(), time.Hour)

	c := &model.Case{AutopilotMode: model.AutopilotAuto}
	p := &model.Proposal{ID: "p1", ActionType: model.ActionAcceptFee, Confidence: 0.9}

	require.NoError(t, d.Route(context.Background(), c, p))
	assert.Equal(t, model.ProposalApproved, p.Status)
	assert.Same(t, p, fs.updated)
}

func TestRouteSupervisedModeOnlyFollowupExecutes(t *testing.T) {
	fs := newFakeProposalStore()
	d := New(fs, nil, testPolicy(), time.Hour)

	c := &model.Case{AutopilotMode: model.AutopilotSupervised}
	p := &model.Proposal{ID: "p1", ActionType: model.ActionSendFollowup, Confidence: 0.85}

	require.NoError(t, d.Route(context.Background(), c, p))
	assert.Equal(t, model.ProposalApproved, p.Status)
}

func TestNextStatusMapping(t *testing.T) {
	d := &Decisioner{}

	tests := []struct {
		action model.GateOption
		want   model.ProposalStatus
	}{
		{model.GateApprove, model.ProposalApproved},
		{model.GateAdjust, model.ProposalAdjustmentRequested},
		{model.GateRetryResearch, model.ProposalAdjustmentRequested},
		{model.GateDismiss, model.ProposalDismissed},
	}
	for _, tt := range tests {
		got, err := d.nextStatus(tt.action)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := d.nextStatus(model.GateOption("BOGUS"))
	require.Error(t, err)
	assert.True(t, caseerr.Is(err, caseerr.Validation))
}
