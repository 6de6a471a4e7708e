package executor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/caseworker/internal/caseerr"
	"github.com/c360studio/caseworker/internal/email"
	"github.com/c360studio/caseworker/internal/model"
	"github.com/c360studio/caseworker/internal/portal"
)

type fakeStore struct {
	claimed    map[string]bool
	executions map[string]*model.Execution
	cases      map[string]*model.Case
	proposals  []*model.Proposal
	claimErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		claimed:    make(map[string]bool),
		executions: make(map[string]*model.Execution),
		cases:      make(map[string]*model.Case),
	}
}

func (f *fakeStore) ClaimExecution(ctx context.Context, proposalID, executionKey string) (bool, error) {
	if f.claimErr != nil {
		return false, f.claimErr
	}
	if f.claimed[proposalID] {
		return false, nil
	}
	f.claimed[proposalID] = true
	return true, nil
}

func (f *fakeStore) CreateExecution(ctx context.Context, e *model.Execution) error {
	f.executions[e.ID] = e
	return nil
}

func (f *fakeStore) UpdateExecution(ctx context.Context, id string, status model.ExecutionStatus, providerMessageID, errStr string) error {
	e, ok := f.executions[id]
	if !ok {
		return errors.New("no such execution")
	}
	e.Status = status
	e.ProviderMessageID = providerMessageID
	e.Error = errStr
	return nil
}

func (f *fakeStore) GetCase(ctx context.Context, caseID string) (*model.Case, error) {
	c, ok := f.cases[caseID]
	if !ok {
		return nil, caseerr.Wrap(caseerr.NotFound, "case not found", nil)
	}
	return c, nil
}

func (f *fakeStore) UpdateCase(ctx context.Context, c *model.Case) error {
	f.cases[c.ID] = c
	return nil
}

func (f *fakeStore) UpdateProposal(ctx context.Context, p *model.Proposal) error {
	f.proposals = append(f.proposals, p)
	return nil
}

type fakeEmailSender struct {
	sentTo  string
	sendErr error
}

func (s *fakeEmailSender) Send(ctx context.Context, msg email.Message) (string, error) {
	if s.sendErr != nil {
		return "", s.sendErr
	}
	s.sentTo = msg.To
	return "provider-msg-1", nil
}

type fakePortalWorker struct {
	submitErr error
}

func (w *fakePortalWorker) Submit(ctx context.Context, req portal.SubmitRequest) (string, error) {
	if w.submitErr != nil {
		return "", w.submitErr
	}
	return "portal-job-1", nil
}

func TestExecuteSendsEmailAndMarksExecuted(t *testing.T) {
	fs := newFakeStore()
	fs.cases["case-1"] = &model.Case{ID: "case-1", AgencyEmail: "agency@example.gov"}
	sender := &fakeEmailSender{}
	x := New(fs, sender, &fakePortalWorker{})

	p := &model.Proposal{ID: "p1", CaseID: "case-1", ActionType: model.ActionSendFollowup, DraftSubject: "Re: case"}
	require.NoError(t, x.Execute(context.Background(), p))

	assert.Equal(t, model.ProposalExecuted, p.Status)
	assert.Equal(t, "agency@example.gov", sender.sentTo)
	assert.Equal(t, "provider-msg-1", p.EmailJobID)
	assert.Equal(t, model.CaseAwaitingResponse, fs.cases["case-1"].Status)
}

func TestExecuteIsIdempotentOnSecondClaim(t *testing.T) {
	fs := newFakeStore()
	fs.cases["case-1"] = &model.Case{ID: "case-1"}
	x := New(fs, &fakeEmailSender{}, &fakePortalWorker{})

	p := &model.Proposal{ID: "p1", CaseID: "case-1", ActionType: model.ActionSendFollowup}
	require.NoError(t, x.Execute(context.Background(), p))

	// A second proposal carrying the same id finds the execution already
	// claimed and must be a no-op, not a second send.
	p2 := &model.Proposal{ID: "p1", CaseID: "case-1", ActionType: model.ActionSendFollowup}
	require.NoError(t, x.Execute(context.Background(), p2))
	assert.NotEqual(t, model.ProposalExecuted, p2.Status, "second claim attempt leaves p2 untouched")
}

func TestExecuteEmailFailureReturnsTransient(t *testing.T) {
	fs := newFakeStore()
	fs.cases["case-1"] = &model.Case{ID: "case-1"}
	sender := &fakeEmailSender{sendErr: errors.New("smtp timeout")}
	x := New(fs, sender, &fakePortalWorker{})

	p := &model.Proposal{ID: "p1", CaseID: "case-1", ActionType: model.ActionSendFollowup}
	err := x.Execute(context.Background(), p)
	require.Error(t, err)
	assert.True(t, caseerr.Is(err, caseerr.Transient))
}

func TestExecuteSubmitPortal(t *testing.T) {
	fs := newFakeStore()
	fs.cases["case-1"] = &model.Case{ID: "case-1", PortalURL: "https://agency.example/portal"}
	x := New(fs, &fakeEmailSender{}, &fakePortalWorker{})

	p := &model.Proposal{ID: "p1", CaseID: "case-1", ActionType: model.ActionSubmitPortal}
	require.NoError(t, x.Execute(context.Background(), p))

	assert.Equal(t, model.ProposalPendingPortal, p.Status)
	assert.Equal(t, "portal-job-1", p.EmailJobID)
	assert.Equal(t, model.CasePortalInProgress, fs.cases["case-1"].Status)
}

func TestExecuteRecordOnlyCloseCase(t *testing.T) {
	fs := newFakeStore()
	fs.cases["case-1"] = &model.Case{ID: "case-1"}
	x := New(fs, &fakeEmailSender{}, &fakePortalWorker{})

	p := &model.Proposal{ID: "p1", CaseID: "case-1", ActionType: model.ActionCloseCase}
	require.NoError(t, x.Execute(context.Background(), p))

	assert.Equal(t, model.ProposalExecuted, p.Status)
	assert.Equal(t, model.CaseCompleted, fs.cases["case-1"].Status)
	assert.NotNil(t, fs.cases["case-1"].ClosedAt)
}

func TestExecuteRecordOnlyEscalate(t *testing.T) {
	fs := newFakeStore()
	fs.cases["case-1"] = &model.Case{ID: "case-1"}
	x := New(fs, &fakeEmailSender{}, &fakePortalWorker{})

	p := &model.Proposal{ID: "p1", CaseID: "case-1", ActionType: model.ActionEscalate}
	require.NoError(t, x.Execute(context.Background(), p))

	assert.Equal(t, model.CaseNeedsHumanReview, fs.cases["case-1"].Status)
	assert.True(t, fs.cases["case-1"].RequiresHuman)
}
