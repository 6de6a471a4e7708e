package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/caseworker/internal/caseerr"
	"github.com/c360studio/caseworker/internal/model"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	db, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db)
}

func newTestCase(id string) *model.Case {
	now := time.Now().UTC()
	return &model.Case{
		ID: id, Status: model.CaseSent, AutopilotMode: model.AutopilotSupervised,
		AgencyEmail: "agency@example.gov", CreatedAt: now, UpdatedAt: now,
	}
}

func TestCreateAndGetCase(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	c := newTestCase("case-1")
	require.NoError(t, s.CreateCase(ctx, c))

	got, err := s.GetCase(ctx, "case-1")
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)
	assert.Equal(t, c.Status, got.Status)
	assert.Equal(t, c.AgencyEmail, got.AgencyEmail)
}

func TestGetCaseNotFound(t *testing.T) {
	s := testStore(t)
	_, err := s.GetCase(context.Background(), "nonexistent")
	require.Error(t, err)
	assert.True(t, caseerr.Is(err, caseerr.NotFound))
}

func TestUpdateCasePersistsFeeQuote(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	c := newTestCase("case-1")
	require.NoError(t, s.CreateCase(ctx, c))

	c.FeeQuote = &model.FeeQuote{Amount: 42.50, Currency: "USD", QuotedAt: time.Now().UTC(), Status: model.FeeQuoted}
	require.NoError(t, s.UpdateCase(ctx, c))

	got, err := s.GetCase(ctx, "case-1")
	require.NoError(t, err)
	require.NotNil(t, got.FeeQuote)
	assert.Equal(t, 42.50, got.FeeQuote.Amount)
}

func TestUpdateCaseNotFound(t *testing.T) {
	s := testStore(t)
	c := newTestCase("missing")
	err := s.UpdateCase(context.Background(), c)
	require.Error(t, err)
	assert.True(t, caseerr.Is(err, caseerr.NotFound))
}

func TestListActiveCasesExcludesTerminal(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	active := newTestCase("case-active")
	require.NoError(t, s.CreateCase(ctx, active))

	closed := newTestCase("case-closed")
	closed.Status = model.CaseCompleted
	require.NoError(t, s.CreateCase(ctx, closed))

	cases, err := s.ListActiveCases(ctx)
	require.NoError(t, err)
	ids := make([]string, 0, len(cases))
	for _, c := range cases {
		ids = append(ids, c.ID)
	}
	assert.Contains(t, ids, "case-active")
	assert.NotContains(t, ids, "case-closed")
}

func testProposal(caseID, key string) *model.Proposal {
	now := time.Now().UTC()
	return &model.Proposal{
		ID: "prop-" + key, CaseID: caseID, ActionType: model.ActionSendFollowup,
		ProposalKey: key, Status: model.ProposalBlocked, Confidence: 0.9,
		GateOptions: model.ActionSendFollowup.DefaultGateOptions(),
		CreatedAt:   now, UpdatedAt: now,
	}
}

func TestCreateProposalDuplicateKeyConflicts(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateCase(ctx, newTestCase("case-1")))

	p1 := testProposal("case-1", "key-1")
	require.NoError(t, s.CreateProposal(ctx, p1))

	p2 := testProposal("case-1", "key-1")
	p2.ID = "prop-other"
	err := s.CreateProposal(ctx, p2)
	require.Error(t, err)
	assert.True(t, caseerr.Is(err, caseerr.Conflict))
}

func TestGetProposalByKeyReturnsNilWhenMissing(t *testing.T) {
	s := testStore(t)
	got, err := s.GetProposalByKey(context.Background(), "case-1", "no-such-key")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUpdateProposalStatusCAS(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateCase(ctx, newTestCase("case-1")))
	p := testProposal("case-1", "key-1")
	require.NoError(t, s.CreateProposal(ctx, p))

	ok, err := s.UpdateProposalStatus(ctx, p.ID, model.ProposalBlocked, model.ProposalPendingApproval)
	require.NoError(t, err)
	assert.True(t, ok)

	// A second CAS against the stale expected status must fail.
	ok, err = s.UpdateProposalStatus(ctx, p.ID, model.ProposalBlocked, model.ProposalApproved)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClaimExecutionOnlyOnce(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateCase(ctx, newTestCase("case-1")))
	p := testProposal("case-1", "key-1")
	require.NoError(t, s.CreateProposal(ctx, p))

	ok, err := s.ClaimExecution(ctx, p.ID, "exec-key-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.ClaimExecution(ctx, p.ID, "exec-key-2")
	require.NoError(t, err)
	assert.False(t, ok, "execution_key is already set, second claim must lose")
}

func TestSetHumanDecisionRejectsAlreadyDecided(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateCase(ctx, newTestCase("case-1")))
	p := testProposal("case-1", "key-1")
	p.Status = model.ProposalPendingApproval
	require.NoError(t, s.CreateProposal(ctx, p))

	decision := &model.HumanDecision{Action: model.GateApprove, UserID: "user-1"}
	require.NoError(t, s.SetHumanDecision(ctx, p.ID, decision))

	got, err := s.GetProposal(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ProposalDecisionReceived, got.Status)
	require.NotNil(t, got.HumanDecision)
	assert.Equal(t, model.GateApprove, got.HumanDecision.Action)

	err = s.SetHumanDecision(ctx, p.ID, decision)
	require.Error(t, err)
	assert.True(t, caseerr.Is(err, caseerr.Conflict))
}

func TestAcquireLockConflictThenReclaimAfterExpiry(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	lock, ok, err := s.AcquireLock(ctx, "case-1", "process_inbound", "token-1", "run-1", time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "token-1", lock.Token)

	_, ok, err = s.AcquireLock(ctx, "case-1", "process_inbound", "token-2", "run-2", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "lock still held and unexpired")

	time.Sleep(5 * time.Millisecond)

	_, ok, err = s.AcquireLock(ctx, "case-1", "process_inbound", "token-3", "run-3", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "expired lock must be reclaimable")
}

func TestReleaseLockRequiresMatchingToken(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	_, ok, err := s.AcquireLock(ctx, "case-1", "process_inbound", "token-1", "run-1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	released, err := s.ReleaseLock(ctx, "case-1", "process_inbound", "wrong-token")
	require.NoError(t, err)
	assert.False(t, released)

	released, err = s.ReleaseLock(ctx, "case-1", "process_inbound", "token-1")
	require.NoError(t, err)
	assert.True(t, released)
}
