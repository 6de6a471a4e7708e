package inbound

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/caseworker/internal/caselock"
	"github.com/c360studio/caseworker/internal/classifier"
	"github.com/c360studio/caseworker/internal/config"
	"github.com/c360studio/caseworker/internal/decisioner"
	"github.com/c360studio/caseworker/internal/model"
	"github.com/c360studio/caseworker/internal/notify"
	"github.com/c360studio/caseworker/internal/planner"
	"github.com/c360studio/caseworker/internal/policy"
)

// fakeLockStore is a minimal in-memory caselock store, duplicated here
// (rather than exported from the caselock package) because it backs a
// different package's test and the caselock tests already cover the
// lock semantics themselves.
type fakeLockStore struct {
	locks map[string]*model.CaseOperationLock
}

func newFakeLockStore() *fakeLockStore {
	return &fakeLockStore{locks: make(map[string]*model.CaseOperationLock)}
}

func (f *fakeLockStore) AcquireLock(ctx context.Context, caseID, operation, token, holderRunID string, ttl time.Duration) (*model.CaseOperationLock, bool, error) {
	k := caseID + "|" + operation
	if existing, ok := f.locks[k]; ok && existing.ExpiresAt.After(time.Now()) {
		return nil, false, nil
	}
	lock := &model.CaseOperationLock{CaseID: caseID, Operation: operation, Token: token, HolderRunID: holderRunID, ExpiresAt: time.Now().Add(ttl)}
	f.locks[k] = lock
	return lock, true, nil
}

func (f *fakeLockStore) ReleaseLock(ctx context.Context, caseID, operation, token string) (bool, error) {
	k := caseID + "|" + operation
	existing, ok := f.locks[k]
	if !ok || existing.Token != token {
		return false, nil
	}
	delete(f.locks, k)
	return true, nil
}

func (f *fakeLockStore) RefreshLock(ctx context.Context, caseID, operation, token string, ttl time.Duration) (bool, error) {
	return true, nil
}

// fakeProposalStore backs the Decisioner under test, same shape as
// decisioner's own test fakes.
type fakeProposalStore struct{}

func (f *fakeProposalStore) UpdateProposal(ctx context.Context, p *model.Proposal) error { return nil }
func (f *fakeProposalStore) UpdateProposalStatus(ctx context.Context, id string, expected, next model.ProposalStatus) (bool, error) {
	return true, nil
}
func (f *fakeProposalStore) SetHumanDecision(ctx context.Context, id string, decision *model.HumanDecision) error {
	return nil
}
func (f *fakeProposalStore) GetProposal(ctx context.Context, id string) (*model.Proposal, error) {
	return nil, nil
}

// fakePipelineStore implements the pipeline's store interface in memory.
type fakePipelineStore struct {
	cases      map[string]*model.Case
	inbound    map[string]*model.Message
	runs       map[string]*model.AgentRun
	proposals  map[string]*model.Proposal
	processed  map[string]bool
	activities []*model.ActivityLog
}

func newFakePipelineStore() *fakePipelineStore {
	return &fakePipelineStore{
		cases:     make(map[string]*model.Case),
		inbound:   make(map[string]*model.Message),
		runs:      make(map[string]*model.AgentRun),
		proposals: make(map[string]*model.Proposal),
		processed: make(map[string]bool),
	}
}

func (f *fakePipelineStore) GetCase(ctx context.Context, id string) (*model.Case, error) {
	return f.cases[id], nil
}

func (f *fakePipelineStore) UpdateCase(ctx context.Context, c *model.Case) error {
	f.cases[c.ID] = c
	return nil
}

func (f *fakePipelineStore) GetLatestUnprocessedInbound(ctx context.Context, caseID string) (*model.Message, error) {
	for _, m := range f.inbound {
		if m.CaseID == caseID && !f.processed[m.ID] {
			return m, nil
		}
	}
	return nil, nil
}

func (f *fakePipelineStore) MarkProcessed(ctx context.Context, messageID, runID string) error {
	f.processed[messageID] = true
	return nil
}

func (f *fakePipelineStore) CreateRun(ctx context.Context, r *model.AgentRun) error {
	f.runs[r.ID] = r
	return nil
}

func (f *fakePipelineStore) UpdateRunStatus(ctx context.Context, id string, status model.RunStatus, errStr string) error {
	if r, ok := f.runs[id]; ok {
		r.Status = status
		r.Error = errStr
	}
	return nil
}

func (f *fakePipelineStore) GetActiveRun(ctx context.Context, caseID string) (*model.AgentRun, error) {
	return nil, nil
}

func (f *fakePipelineStore) GetProposalByKey(ctx context.Context, caseID, proposalKey string) (*model.Proposal, error) {
	return f.proposals[proposalKey], nil
}

func (f *fakePipelineStore) CreateProposal(ctx context.Context, p *model.Proposal) error {
	f.proposals[p.ProposalKey] = p
	return nil
}

func (f *fakePipelineStore) AppendActivity(ctx context.Context, a *model.ActivityLog) error {
	f.activities = append(f.activities, a)
	return nil
}

type fakeExecutor struct {
	executed []*model.Proposal
}

func (x *fakeExecutor) Execute(ctx context.Context, p *model.Proposal) error {
	x.executed = append(x.executed, p)
	p.Status = model.ProposalExecuted
	return nil
}

func testPipeline(t *testing.T) (*Pipeline, *fakePipelineStore, *fakeExecutor) {
	t.Helper()
	store := newFakePipelineStore()
	locks := caselock.NewManager(newFakeLockStore(), time.Minute)
	pol := policy.NewRegistry(config.PolicyConfig{
		FeeAutoApproveMax:       25.00,
		FeeHardCap:              100.00,
		AutoMinConfidence:       0.5,
		SupervisedMinConfidence: 0.8,
		EscalateBelowConfidence: 0.3,
		AutoSafeActions:         []string{"SEND_FOLLOWUP", "ACCEPT_FEE"},
	})
	clf := classifier.NewStub()
	pl := planner.New(pol, clf)
	dec := decisioner.New(&fakeProposalStore{}, nil, pol, time.Hour)
	nb := notify.New(nil, slog.Default())
	ex := &fakeExecutor{}

	p := New(store, locks, pl, dec, clf, nb, ex, time.Minute)
	return p, store, ex
}

func TestProcessAutoApprovedMessageExecutes(t *testing.T) {
	p, store, ex := testPipeline(t)

	store.cases["case-1"] = &model.Case{ID: "case-1", AutopilotMode: model.AutopilotAuto}
	store.inbound["msg-1"] = &model.Message{ID: "msg-1", CaseID: "case-1", Subject: "status check", BodyText: "just checking in"}

	require.NoError(t, p.Process(context.Background(), "case-1", model.TriggerInboundMessage))

	assert.Len(t, ex.executed, 1)
	assert.True(t, store.processed["msg-1"])
	assert.Len(t, store.activities, 1)
}

func TestProcessNoUnprocessedMessageIsNoop(t *testing.T) {
	p, store, ex := testPipeline(t)
	store.cases["case-1"] = &model.Case{ID: "case-1", AutopilotMode: model.AutopilotAuto}

	require.NoError(t, p.Process(context.Background(), "case-1", model.TriggerInboundMessage))
	assert.Empty(t, ex.executed)
	assert.Empty(t, store.runs)
}

func TestProcessFoldsFeeIntoCase(t *testing.T) {
	p, store, _ := testPipeline(t)

	store.cases["case-1"] = &model.Case{ID: "case-1", AutopilotMode: model.AutopilotAuto}
	store.inbound["msg-1"] = &model.Message{ID: "msg-1", CaseID: "case-1", Subject: "fee notice", BodyText: "your request requires a fee of $15"}

	require.NoError(t, p.Process(context.Background(), "case-1", model.TriggerInboundMessage))

	require.NotNil(t, store.cases["case-1"].FeeQuote)
	assert.Equal(t, 15.0, store.cases["case-1"].FeeQuote.Amount)
}
