// Package executor performs the side effect a Proposal's ActionType
// requires, exactly once (spec.md §4.9). It claims a proposal's
// execution_key via a compare-and-swap store write before doing anything
// externally visible, so a crash between claim and side effect leaves a
// claimed proposal that is never sent again rather than a duplicate
// send. Such a proposal is not reconciled automatically.
package executor

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/c360studio/caseworker/internal/caseerr"
	"github.com/c360studio/caseworker/internal/email"
	"github.com/c360studio/caseworker/internal/model"
	"github.com/c360studio/caseworker/internal/portal"
)

// store is the subset of store.Store the Executor depends on.
type store interface {
	ClaimExecution(ctx context.Context, proposalID, executionKey string) (bool, error)
	CreateExecution(ctx context.Context, e *model.Execution) error
	UpdateExecution(ctx context.Context, id string, status model.ExecutionStatus, providerMessageID, errStr string) error
	GetCase(ctx context.Context, caseID string) (*model.Case, error)
	UpdateCase(ctx context.Context, c *model.Case) error
	UpdateProposal(ctx context.Context, p *model.Proposal) error
}

// Executor dispatches an approved Proposal's ActionType to the
// appropriate collaborator (email sender or portal worker) and records
// the outcome.
type Executor struct {
	store  store
	email  email.Sender
	portal portal.Worker
}

// New builds an Executor.
func New(store store, emailSender email.Sender, portalWorker portal.Worker) *Executor {
	return &Executor{store: store, email: emailSender, portal: portalWorker}
}

// Execute performs p's side effect exactly once. Callers must have
// already transitioned p to APPROVED; Execute itself only claims the
// execution slot and performs the action.
func (x *Executor) Execute(ctx context.Context, p *model.Proposal) error {
	executionKey := uuid.NewString()
	claimed, err := x.store.ClaimExecution(ctx, p.ID, executionKey)
	if err != nil {
		return err
	}
	if !claimed {
		// Another caller already claimed this proposal's execution. This is
		// not an error: the exactly-once guarantee means we simply have
		// nothing further to do.
		return nil
	}
	p.ExecutionKey = executionKey

	hasExternalSideEffect := p.ActionType.SendsEmail() || p.ActionType == model.ActionSubmitPortal
	if !hasExternalSideEffect {
		return x.recordOnly(ctx, p)
	}

	p.Status = model.ProposalExecuting
	if err := x.store.UpdateProposal(ctx, p); err != nil {
		return err
	}

	if p.ActionType == model.ActionSubmitPortal {
		return x.executePortal(ctx, p)
	}
	return x.executeEmail(ctx, p)
}

func (x *Executor) executeEmail(ctx context.Context, p *model.Proposal) error {
	c, err := x.store.GetCase(ctx, p.CaseID)
	if err != nil {
		return err
	}

	exec := &model.Execution{
		ID:         uuid.NewString(),
		ProposalID: p.ID,
		CaseID:     p.CaseID,
		Kind:       model.ExecutionSendEmail,
		Status:     model.ExecutionStarted,
		StartedAt:  time.Now().UTC(),
	}
	if err := x.store.CreateExecution(ctx, exec); err != nil {
		return err
	}

	providerMessageID, sendErr := x.email.Send(ctx, email.Message{
		To:             c.AgencyEmail,
		Subject:        p.DraftSubject,
		BodyText:       p.DraftBodyText,
		BodyHTML:       p.DraftBodyHTML,
		IdempotencyKey: exec.ID,
	})
	if sendErr != nil {
		_ = x.store.UpdateExecution(ctx, exec.ID, model.ExecutionFailed, "", sendErr.Error())
		return caseerr.Wrap(caseerr.Transient, "send email", sendErr)
	}
	if err := x.store.UpdateExecution(ctx, exec.ID, model.ExecutionSucceeded, providerMessageID, ""); err != nil {
		// The email was sent; failing to record that is a PartialSideEffect.
		// The proposal stays claimed, so it is not resent (spec.md §7).
		return caseerr.Wrap(caseerr.PartialSideEffect, "record sent email", err)
	}

	now := time.Now().UTC()
	p.Status = model.ProposalExecuted
	p.ExecutedAt = &now
	p.EmailJobID = providerMessageID
	if err := x.store.UpdateProposal(ctx, p); err != nil {
		return caseerr.Wrap(caseerr.PartialSideEffect, "mark proposal executed after send", err)
	}

	c.Status = model.CaseAwaitingResponse
	return x.store.UpdateCase(ctx, c)
}

func (x *Executor) executePortal(ctx context.Context, p *model.Proposal) error {
	c, err := x.store.GetCase(ctx, p.CaseID)
	if err != nil {
		return err
	}

	exec := &model.Execution{
		ID:         uuid.NewString(),
		ProposalID: p.ID,
		CaseID:     p.CaseID,
		Kind:       model.ExecutionSubmitPortal,
		Status:     model.ExecutionStarted,
		StartedAt:  time.Now().UTC(),
	}
	if err := x.store.CreateExecution(ctx, exec); err != nil {
		return err
	}

	jobID, submitErr := x.portal.Submit(ctx, portal.SubmitRequest{
		CaseID:    p.CaseID,
		PortalURL: c.PortalURL,
		ScopeText: p.DraftBodyText,
	})
	if submitErr != nil {
		_ = x.store.UpdateExecution(ctx, exec.ID, model.ExecutionFailed, "", submitErr.Error())
		return caseerr.Wrap(caseerr.Transient, "submit portal", submitErr)
	}
	if err := x.store.UpdateExecution(ctx, exec.ID, model.ExecutionSucceeded, jobID, ""); err != nil {
		return caseerr.Wrap(caseerr.PartialSideEffect, "record portal submission", err)
	}

	p.Status = model.ProposalPendingPortal
	p.EmailJobID = jobID
	if err := x.store.UpdateProposal(ctx, p); err != nil {
		return caseerr.Wrap(caseerr.PartialSideEffect, "mark proposal pending portal", err)
	}

	c.Status = model.CasePortalInProgress
	return x.store.UpdateCase(ctx, c)
}

// recordOnly handles actions with no external side effect (e.g.
// CLOSE_CASE, WITHDRAW, ESCALATE's case-state transition) by writing an
// Execution row of kind record_only and marking the proposal executed.
func (x *Executor) recordOnly(ctx context.Context, p *model.Proposal) error {
	exec := &model.Execution{
		ID:         uuid.NewString(),
		ProposalID: p.ID,
		CaseID:     p.CaseID,
		Kind:       model.ExecutionRecordOnly,
		Status:     model.ExecutionSucceeded,
		StartedAt:  time.Now().UTC(),
	}
	now := time.Now().UTC()
	exec.CompletedAt = &now
	if err := x.store.CreateExecution(ctx, exec); err != nil {
		return err
	}

	p.Status = model.ProposalExecuted
	p.ExecutedAt = &now
	if err := x.store.UpdateProposal(ctx, p); err != nil {
		return err
	}

	c, err := x.store.GetCase(ctx, p.CaseID)
	if err != nil {
		return err
	}
	switch p.ActionType {
	case model.ActionCloseCase:
		c.Status = model.CaseCompleted
		c.ClosedAt = &now
	case model.ActionWithdraw:
		c.Status = model.CaseCancelled
		c.ClosedAt = &now
	case model.ActionEscalate:
		c.Status = model.CaseNeedsHumanReview
		c.RequiresHuman = true
	}
	return x.store.UpdateCase(ctx, c)
}
