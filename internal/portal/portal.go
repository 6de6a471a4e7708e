// Package portal defines the PortalWorker port the Executor calls to
// fulfill SUBMIT_PORTAL (spec.md §4.9): a best-effort, potentially slow or
// flaky browser-automation style submission against an agency's public
// records portal. Portal submission is asynchronous by nature — the
// caller gets a job id back immediately. Worker exposes only Submit; no
// component in this module receives a portal result or handles a
// PORTAL_RESULT trigger (spec.md §4.3).
package portal

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// SubmitRequest carries what the portal worker needs to attempt a
// submission.
type SubmitRequest struct {
	CaseID      string
	PortalURL   string
	ScopeText   string
	RequesterInfo map[string]string
}

// Worker is the capability boundary for portal submission.
type Worker interface {
	// Submit starts a portal submission and returns a job id, which the
	// Executor records on the proposal.
	Submit(ctx context.Context, req SubmitRequest) (jobID string, err error)
}

// StubWorker logs submission requests and synthesizes a job id, standing
// in for a real browser-automation backend in tests and local runs.
type StubWorker struct {
	logger *slog.Logger
}

// NewStubWorker builds a StubWorker.
func NewStubWorker(logger *slog.Logger) *StubWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &StubWorker{logger: logger}
}

// Submit implements Worker.
func (w *StubWorker) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	jobID := uuid.NewString()
	w.logger.Info("portal submit (stubbed)", "case_id", req.CaseID, "portal_url", req.PortalURL, "job_id", jobID)
	return jobID, nil
}
