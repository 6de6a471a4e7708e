// Package inbound implements the InboundPipeline (spec.md §4.5): the
// sequence a dispatched task runs through to turn one or more queued
// inbound messages into a decided Proposal. attach -> classify -> fold ->
// plan -> decide, in that order. There is no dedupe stage: the pipeline
// does not look for an already active run for the case, and the
// process_inbound case lock is its only guard against concurrent runs.
package inbound

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/c360studio/caseworker/internal/caselock"
	"github.com/c360studio/caseworker/internal/classifier"
	"github.com/c360studio/caseworker/internal/decisioner"
	"github.com/c360studio/caseworker/internal/model"
	"github.com/c360studio/caseworker/internal/notify"
	"github.com/c360studio/caseworker/internal/planner"
)

// executor is the subset of executor.Executor the pipeline depends on, to
// run an auto-approved proposal's side effect in the same run that
// planned it (spec.md §4.7: AUTO/SUPERVISED auto-execution happens
// without waiting on a separate trigger).
type executor interface {
	Execute(ctx context.Context, p *model.Proposal) error
}

const lockOperation = "process_inbound"

// store is the subset of store.Store the pipeline depends on.
type store interface {
	GetCase(ctx context.Context, id string) (*model.Case, error)
	UpdateCase(ctx context.Context, c *model.Case) error
	GetLatestUnprocessedInbound(ctx context.Context, caseID string) (*model.Message, error)
	MarkProcessed(ctx context.Context, messageID, runID string) error
	CreateRun(ctx context.Context, r *model.AgentRun) error
	UpdateRunStatus(ctx context.Context, id string, status model.RunStatus, errStr string) error
	GetActiveRun(ctx context.Context, caseID string) (*model.AgentRun, error)
	GetProposalByKey(ctx context.Context, caseID, proposalKey string) (*model.Proposal, error)
	CreateProposal(ctx context.Context, p *model.Proposal) error
	AppendActivity(ctx context.Context, a *model.ActivityLog) error
}

// Pipeline processes one dispatched task end to end.
type Pipeline struct {
	store      store
	locks      *caselock.Manager
	planner    *planner.Planner
	decisioner *decisioner.Decisioner
	classifier classifier.Port
	notify     *notify.Bus
	executor   executor
	lockTTL    time.Duration
}

// New builds a Pipeline.
func New(store store, locks *caselock.Manager, pl *planner.Planner, dec *decisioner.Decisioner, clf classifier.Port, nb *notify.Bus, ex executor, lockTTL time.Duration) *Pipeline {
	return &Pipeline{store: store, locks: locks, planner: pl, decisioner: dec, classifier: clf, notify: nb, executor: ex, lockTTL: lockTTL}
}

// Process runs the pipeline for caseID in response to an inbound-message
// trigger. It acquires the case's process_inbound lock for the duration,
// so only one AgentRun ever processes a given case at a time (spec.md
// §4.2, §4.3, §5).
func (p *Pipeline) Process(ctx context.Context, caseID string, triggerType model.TriggerType) error {
	runID := uuid.NewString()

	lock, err := p.locks.Acquire(ctx, caseID, lockOperation, runID)
	if err != nil {
		// Another run already owns this case's inbound processing; the
		// shared worker consumer can deliver two tasks for the same case at
		// once, and this lock is what turns the second away (spec.md §5).
		return err
	}
	defer p.locks.Release(ctx, lock)

	// attach: find the most recent unprocessed inbound message for the case.
	msg, err := p.store.GetLatestUnprocessedInbound(ctx, caseID)
	if err != nil {
		return err
	}
	if msg == nil {
		// Nothing new to process (e.g. a debounced duplicate trigger that
		// lost the race to an earlier run). Nothing to do.
		return nil
	}

	c, err := p.store.GetCase(ctx, caseID)
	if err != nil {
		return err
	}

	run := &model.AgentRun{
		ID: runID, CaseID: caseID, TriggerType: triggerType,
		Status: model.RunRunning, MessageID: msg.ID,
	}
	now := time.Now().UTC()
	run.StartedAt = &now
	if err := p.store.CreateRun(ctx, run); err != nil {
		return err
	}

	if err := p.runBody(ctx, c, msg, run); err != nil {
		_ = p.store.UpdateRunStatus(ctx, run.ID, model.RunFailed, err.Error())
		return err
	}

	return p.store.UpdateRunStatus(ctx, run.ID, model.RunCompleted, "")
}

func (p *Pipeline) runBody(ctx context.Context, c *model.Case, msg *model.Message, run *model.AgentRun) error {
	// classify: structured analysis of the new inbound text (spec.md §4.5).
	analysis, err := p.classifier.Classify(ctx, msg.Subject, msg.BodyText)
	if err != nil {
		return err
	}
	msg.ResponseAnalysis = analysis

	// fold: merge the analysis's detected constraints and fee signal into
	// the case's running state before planning, so the Planner sees the
	// case's accumulated understanding, not just this one message.
	p.fold(c, analysis)
	if err := p.store.UpdateCase(ctx, c); err != nil {
		return err
	}

	// plan: pick an ActionType and assemble a draft.
	decision, err := p.planner.Plan(ctx, planner.Input{Case: c, Message: msg, Analysis: analysis, TriggerMsg: msg.ID})
	if err != nil {
		return err
	}

	draft, err := p.planner.Draft(ctx, decision.Action, classifier.DraftContext{
		CaseID:          c.ID,
		AgencyEmail:     c.AgencyEmail,
		LastInboundText: msg.BodyText,
		FeeAmount:       analysis.ExtractedFeeAmount,
	})
	if err != nil {
		return err
	}

	proposalKey := planner.ProposalKey(c.ID, msg.ID, decision.Action, draft)
	existing, err := p.store.GetProposalByKey(ctx, c.ID, proposalKey)
	if err != nil {
		return err
	}

	var proposal *model.Proposal
	if existing != nil {
		proposal = existing
	} else {
		proposal = &model.Proposal{
			ID:               uuid.NewString(),
			CaseID:           c.ID,
			TriggerMessageID: msg.ID,
			ActionType:       decision.Action,
			ProposalKey:      proposalKey,
			Status:           model.ProposalBlocked,
			Confidence:       decision.Confidence,
			Warnings:         decision.Warnings,
			GateOptions:      decision.Action.DefaultGateOptions(),
			DraftSubject:     draft.Subject,
			DraftBodyText:    draft.BodyText,
			DraftBodyHTML:    draft.BodyHTML,
			Reasoning:        decision.Reasoning,
			RunID:            run.ID,
			CreatedAt:        time.Now().UTC(),
			UpdatedAt:        time.Now().UTC(),
		}
		if err := p.store.CreateProposal(ctx, proposal); err != nil {
			return err
		}
	}

	// decide: route to auto-execution or a human gate (spec.md §4.7).
	if err := p.decisioner.Route(ctx, c, proposal); err != nil {
		return err
	}

	if proposal.Status == model.ProposalApproved {
		if err := p.executor.Execute(ctx, proposal); err != nil {
			return err
		}
	}

	if err := p.store.MarkProcessed(ctx, msg.ID, run.ID); err != nil {
		return err
	}

	p.notify.Publish(notify.Event{
		CaseID: c.ID, Type: "proposal_planned", Summary: string(proposal.ActionType), Timestamp: time.Now().UTC(),
	})

	return p.store.AppendActivity(ctx, &model.ActivityLog{
		ID: uuid.NewString(), CaseID: c.ID, EventType: "proposal_planned",
		Description: string(proposal.ActionType), CreatedAt: time.Now().UTC(),
	})
}

// fold merges a message's detected constraints and extracted fee into
// the case's running understanding (spec.md §4.5's fold step, §3's
// constraint/fee_quote fields). Constraint tags are stored as the
// analyzer gives them; synonyms are not normalized to canonical tags.
func (p *Pipeline) fold(c *model.Case, a *model.Analysis) {
	for _, tag := range a.ConstraintsDetected {
		c.AddConstraint(model.Constraint(tag))
	}
	if a.ExtractedFeeAmount != nil {
		c.FeeQuote = &model.FeeQuote{
			Amount:   *a.ExtractedFeeAmount,
			Currency: "USD",
			QuotedAt: time.Now().UTC(),
			Status:   model.FeeQuoted,
		}
	}
}
