// Package reaper implements the periodic sweep spec.md §4.10 describes:
// expire unclaimed waitpoints, release locks past their TTL, mark runs
// stuck beyond a threshold as failed, and flag portal submissions that
// have exceeded their soft/hard timeouts. Each responsibility is its own
// scheduler.Job so they can be added, removed, or given independent
// intervals without touching the others.
package reaper

import (
	"context"
	"log/slog"
	"time"

	"github.com/c360studio/caseworker/internal/model"
)

// store is the subset of store.Store the Reaper's jobs depend on.
type store interface {
	ListExpiredLocks(ctx context.Context) ([]*model.CaseOperationLock, error)
	ReleaseLock(ctx context.Context, caseID, operation, token string) (bool, error)
	ListExpiredWaitpoints(ctx context.Context) ([]*model.Waitpoint, error)
	CompleteWaitpoint(ctx context.Context, token string, payload map[string]any) (bool, error)
	GetProposal(ctx context.Context, id string) (*model.Proposal, error)
	UpdateProposal(ctx context.Context, p *model.Proposal) error
	ListActiveCases(ctx context.Context) ([]*model.Case, error)
	UpdateCase(ctx context.Context, c *model.Case) error
}

// ExpireLocksJob releases CaseOperationLocks past their TTL so a crashed
// holder doesn't permanently wedge a case's operation.
type ExpireLocksJob struct {
	store  store
	logger *slog.Logger
}

// NewExpireLocksJob builds an ExpireLocksJob.
func NewExpireLocksJob(s store, logger *slog.Logger) *ExpireLocksJob {
	return &ExpireLocksJob{store: s, logger: logger}
}

// Name implements scheduler.Job.
func (j *ExpireLocksJob) Name() string { return "expire_locks" }

// Run implements scheduler.Job.
func (j *ExpireLocksJob) Run(ctx context.Context) error {
	locks, err := j.store.ListExpiredLocks(ctx)
	if err != nil {
		return err
	}
	for _, l := range locks {
		if _, err := j.store.ReleaseLock(ctx, l.CaseID, l.Operation, l.Token); err != nil {
			j.logger.Error("failed to release expired lock", "case_id", l.CaseID, "operation", l.Operation, "error", err)
		}
	}
	return nil
}

// ExpireWaitpointsJob auto-dismisses proposals whose human gate timed
// out, so a case never waits forever on a decision nobody will make
// (spec.md §4.10).
type ExpireWaitpointsJob struct {
	store  store
	logger *slog.Logger
}

// NewExpireWaitpointsJob builds an ExpireWaitpointsJob.
func NewExpireWaitpointsJob(s store, logger *slog.Logger) *ExpireWaitpointsJob {
	return &ExpireWaitpointsJob{store: s, logger: logger}
}

// Name implements scheduler.Job.
func (j *ExpireWaitpointsJob) Name() string { return "expire_waitpoints" }

// Run implements scheduler.Job.
func (j *ExpireWaitpointsJob) Run(ctx context.Context) error {
	waitpoints, err := j.store.ListExpiredWaitpoints(ctx)
	if err != nil {
		return err
	}
	for _, w := range waitpoints {
		won, err := j.store.CompleteWaitpoint(ctx, w.Token, map[string]any{"action": "DISMISS", "reason": "waitpoint_expired"})
		if err != nil {
			j.logger.Error("failed to expire waitpoint", "token", w.Token, "error", err)
			continue
		}
		if !won {
			continue // a human resolved it in the race window
		}
		p, err := j.store.GetProposal(ctx, w.ProposalID)
		if err != nil {
			j.logger.Error("failed to load proposal for expired waitpoint", "proposal_id", w.ProposalID, "error", err)
			continue
		}
		p.Status = model.ProposalDismissed
		if err := j.store.UpdateProposal(ctx, p); err != nil {
			j.logger.Error("failed to dismiss proposal for expired waitpoint", "proposal_id", p.ID, "error", err)
		}
	}
	return nil
}

// StuckRunsJob flags cases whose autopilot mode should have produced
// forward motion but haven't in runStuckThreshold, surfacing them for
// human review rather than silently stalling (spec.md §4.10).
type StuckRunsJob struct {
	store             store
	runStuckThreshold time.Duration
	logger            *slog.Logger
}

// NewStuckRunsJob builds a StuckRunsJob.
func NewStuckRunsJob(s store, threshold time.Duration, logger *slog.Logger) *StuckRunsJob {
	return &StuckRunsJob{store: s, runStuckThreshold: threshold, logger: logger}
}

// Name implements scheduler.Job.
func (j *StuckRunsJob) Name() string { return "stuck_runs" }

// Run implements scheduler.Job.
func (j *StuckRunsJob) Run(ctx context.Context) error {
	cases, err := j.store.ListActiveCases(ctx)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, c := range cases {
		if c.RequiresHuman || c.Status.Terminal() {
			continue
		}
		if now.Sub(c.UpdatedAt) < j.runStuckThreshold {
			continue
		}
		c.RequiresHuman = true
		c.PauseReason = model.PauseManual
		c.Status = model.CaseNeedsHumanReview
		if err := j.store.UpdateCase(ctx, c); err != nil {
			j.logger.Error("failed to flag stuck case", "case_id", c.ID, "error", err)
		}
	}
	return nil
}

// PortalTimeoutJob escalates cases whose portal submission has exceeded
// its hard timeout, matching spec.md §4.10's portal-timeout sweep.
type PortalTimeoutJob struct {
	store       store
	softTimeout time.Duration
	hardTimeout time.Duration
	logger      *slog.Logger
}

// NewPortalTimeoutJob builds a PortalTimeoutJob.
func NewPortalTimeoutJob(s store, soft, hard time.Duration, logger *slog.Logger) *PortalTimeoutJob {
	return &PortalTimeoutJob{store: s, softTimeout: soft, hardTimeout: hard, logger: logger}
}

// Name implements scheduler.Job.
func (j *PortalTimeoutJob) Name() string { return "portal_timeout" }

// Run implements scheduler.Job.
func (j *PortalTimeoutJob) Run(ctx context.Context) error {
	cases, err := j.store.ListActiveCases(ctx)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, c := range cases {
		if c.Status != model.CasePortalInProgress {
			continue
		}
		age := now.Sub(c.UpdatedAt)
		switch {
		case age >= j.hardTimeout:
			c.RequiresHuman = true
			c.PauseReason = model.PauseManual
			c.Status = model.CaseNeedsHumanReview
			if err := j.store.UpdateCase(ctx, c); err != nil {
				j.logger.Error("failed to escalate hard-timed-out portal case", "case_id", c.ID, "error", err)
			}
		case age >= j.softTimeout:
			j.logger.Warn("portal submission exceeding soft timeout", "case_id", c.ID, "age", age)
		}
	}
	return nil
}
