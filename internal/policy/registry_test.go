package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/c360studio/caseworker/internal/config"
	"github.com/c360studio/caseworker/internal/model"
)

func testConfig() config.PolicyConfig {
	return config.PolicyConfig{
		FeeAutoApproveMax:       25.00,
		FeeHardCap:              100.00,
		AutoMinConfidence:       0.7,
		SupervisedMinConfidence: 0.8,
		EscalateBelowConfidence: 0.5,
		AutoSafeActions:         []string{"SEND_FOLLOWUP", "ACCEPT_FEE"},
	}
}

func TestClassifyFee(t *testing.T) {
	r := NewRegistry(testConfig())

	tests := []struct {
		name   string
		amount float64
		want   FeeBand
	}{
		{"well under threshold", 10.00, FeeBandAutoApprove},
		{"exactly at auto-approve max", 25.00, FeeBandAutoApprove},
		{"between thresholds", 50.00, FeeBandNegotiate},
		{"exactly at hard cap", 100.00, FeeBandHardCap},
		{"above hard cap", 250.00, FeeBandHardCap},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.ClassifyFee(tt.amount))
		})
	}
}

func TestMeetsAutoConfidence(t *testing.T) {
	r := NewRegistry(testConfig())

	assert.True(t, r.MeetsAutoConfidence(model.ActionAcceptFee, 0.9))
	assert.False(t, r.MeetsAutoConfidence(model.ActionAcceptFee, 0.5), "below auto_min_confidence")
	assert.False(t, r.MeetsAutoConfidence(model.ActionSendAppeal, 0.99), "not in auto-safe set")
}

func TestMeetsSupervisedConfidence(t *testing.T) {
	r := NewRegistry(testConfig())

	assert.True(t, r.MeetsSupervisedConfidence(model.ActionSendFollowup, 0.85))
	assert.False(t, r.MeetsSupervisedConfidence(model.ActionSendFollowup, 0.5))
	assert.False(t, r.MeetsSupervisedConfidence(model.ActionAcceptFee, 0.99), "only SEND_FOLLOWUP qualifies")
}

func TestShouldForceEscalate(t *testing.T) {
	r := NewRegistry(testConfig())

	assert.True(t, r.ShouldForceEscalate(0.3))
	assert.False(t, r.ShouldForceEscalate(0.6))
}

func TestSetFeeThresholds(t *testing.T) {
	r := NewRegistry(testConfig())
	r.SetFeeThresholds(10, 50)

	assert.Equal(t, FeeBandHardCap, r.ClassifyFee(50))
	assert.Equal(t, FeeBandAutoApprove, r.ClassifyFee(5))
}

func TestSetAutoSafeActions(t *testing.T) {
	r := NewRegistry(testConfig())
	r.SetAutoSafeActions([]model.ActionType{model.ActionSendAppeal})

	assert.True(t, r.MeetsAutoConfidence(model.ActionSendAppeal, 0.9))
	assert.False(t, r.MeetsAutoConfidence(model.ActionAcceptFee, 0.9), "replaced set no longer includes it")
}
