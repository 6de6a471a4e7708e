package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/c360studio/caseworker/internal/caseerr"
	"github.com/c360studio/caseworker/internal/model"
)

// CreateProposal inserts a proposal. A duplicate proposal_key for the same
// case (the Planner's idempotency key, spec.md §4.6) returns
// caseerr.Conflict so callers can fetch-and-reuse the existing row instead
// of producing a second one for the same trigger/action/draft.
func (s *Store) CreateProposal(ctx context.Context, p *model.Proposal) error {
	riskFlags, _ := json.Marshal(p.RiskFlags)
	warnings, _ := json.Marshal(p.Warnings)
	gateOptions, _ := json.Marshal(p.GateOptions)
	reasoning, _ := json.Marshal(p.Reasoning)
	humanDecision, _ := json.Marshal(p.HumanDecision)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO proposals (
			id, case_id, trigger_message_id, action_type, proposal_key, status,
			confidence, risk_flags, warnings, gate_options, draft_subject,
			draft_body_text, draft_body_html, reasoning, waitpoint_token,
			execution_key, run_id, human_decision, executed_at, email_job_id,
			adjustment_count, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.CaseID, nullIfEmpty(p.TriggerMessageID), p.ActionType, p.ProposalKey, p.Status,
		p.Confidence, string(riskFlags), string(warnings), string(gateOptions), p.DraftSubject,
		p.DraftBodyText, p.DraftBodyHTML, string(reasoning), nullIfEmpty(p.WaitpointToken),
		nullIfEmpty(p.ExecutionKey), nullIfEmpty(p.RunID), string(humanDecision), p.ExecutedAt, p.EmailJobID,
		p.AdjustmentCount, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			if strings.Contains(err.Error(), "idx_proposals_key") {
				return caseerr.Wrap(caseerr.Conflict, "proposal_key already exists for case", err)
			}
			if strings.Contains(err.Error(), "idx_proposals_execution_key") {
				return caseerr.Wrap(caseerr.Conflict, "execution_key already claimed", err)
			}
			return caseerr.Wrap(caseerr.Conflict, "duplicate proposal", err)
		}
		return caseerr.Wrap(caseerr.Transient, "insert proposal", err)
	}
	return nil
}

// GetProposal fetches a proposal by ID.
func (s *Store) GetProposal(ctx context.Context, id string) (*model.Proposal, error) {
	row := s.db.QueryRowContext(ctx, proposalSelectSQL+" WHERE id = ?", id)
	return scanProposalGeneric(row)
}

// GetProposalByKey looks up an existing proposal for the idempotency key,
// so the inbound pipeline can reuse rather than duplicate (spec.md §4.6).
func (s *Store) GetProposalByKey(ctx context.Context, caseID, proposalKey string) (*model.Proposal, error) {
	row := s.db.QueryRowContext(ctx, proposalSelectSQL+" WHERE case_id = ? AND proposal_key = ?", caseID, proposalKey)
	p, err := scanProposalGeneric(row)
	if caseerr.Is(err, caseerr.NotFound) {
		return nil, nil
	}
	return p, err
}

// UpdateProposalStatus performs a compare-and-swap status transition:
// the update only applies if the current status matches expectedStatus.
// The Decisioner uses it to move a decided proposal on; waitpoint
// completion and the Executor claim use CompleteWaitpoint and
// ClaimExecution instead.
func (s *Store) UpdateProposalStatus(ctx context.Context, id string, expectedStatus, newStatus model.ProposalStatus) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE proposals SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		newStatus, time.Now().UTC(), id, expectedStatus)
	if err != nil {
		return false, caseerr.Wrap(caseerr.Transient, "cas update proposal status", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// ClaimExecution atomically assigns an execution_key to a proposal,
// implementing the Executor's exactly-once claim (spec.md §4.9): only the
// first caller to set a previously-NULL execution_key succeeds.
func (s *Store) ClaimExecution(ctx context.Context, proposalID, executionKey string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE proposals SET execution_key = ?, updated_at = ?
		WHERE id = ? AND execution_key IS NULL`,
		executionKey, time.Now().UTC(), proposalID)
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, caseerr.Wrap(caseerr.Transient, "claim execution", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// SetHumanDecision records the resolved gate decision and moves the
// proposal to DECISION_RECEIVED, failing with caseerr.Conflict if the
// proposal is no longer PENDING_APPROVAL or BLOCKED (e.g. another caller
// already decided it). It does not look at the waitpoint.
func (s *Store) SetHumanDecision(ctx context.Context, id string, decision *model.HumanDecision) error {
	payload, _ := json.Marshal(decision)
	res, err := s.db.ExecContext(ctx, `
		UPDATE proposals SET human_decision = ?, status = ?, updated_at = ?
		WHERE id = ? AND status IN ('PENDING_APPROVAL', 'BLOCKED')`,
		string(payload), model.ProposalDecisionReceived, time.Now().UTC(), id)
	if err != nil {
		return caseerr.Wrap(caseerr.Transient, "record human decision", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return caseerr.Wrap(caseerr.Conflict, "proposal already decided", nil)
	}
	return nil
}

// UpdateProposal replaces the full row (used after execution completes, to
// set status/executed_at/email_job_id together).
func (s *Store) UpdateProposal(ctx context.Context, p *model.Proposal) error {
	riskFlags, _ := json.Marshal(p.RiskFlags)
	warnings, _ := json.Marshal(p.Warnings)
	gateOptions, _ := json.Marshal(p.GateOptions)
	reasoning, _ := json.Marshal(p.Reasoning)
	humanDecision, _ := json.Marshal(p.HumanDecision)
	p.UpdatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		UPDATE proposals SET status=?, confidence=?, risk_flags=?, warnings=?,
			gate_options=?, draft_subject=?, draft_body_text=?, draft_body_html=?,
			reasoning=?, waitpoint_token=?, execution_key=?, run_id=?,
			human_decision=?, executed_at=?, email_job_id=?, adjustment_count=?,
			updated_at=?
		WHERE id=?`,
		p.Status, p.Confidence, string(riskFlags), string(warnings),
		string(gateOptions), p.DraftSubject, p.DraftBodyText, p.DraftBodyHTML,
		string(reasoning), nullIfEmpty(p.WaitpointToken), nullIfEmpty(p.ExecutionKey), nullIfEmpty(p.RunID),
		string(humanDecision), p.ExecutedAt, p.EmailJobID, p.AdjustmentCount,
		p.UpdatedAt, p.ID,
	)
	if err != nil {
		return caseerr.Wrap(caseerr.Transient, "update proposal", err)
	}
	return nil
}

const proposalSelectSQL = `
	SELECT id, case_id, trigger_message_id, action_type, proposal_key, status,
		confidence, risk_flags, warnings, gate_options, draft_subject,
		draft_body_text, draft_body_html, reasoning, waitpoint_token,
		execution_key, run_id, human_decision, executed_at, email_job_id,
		adjustment_count, created_at, updated_at
	FROM proposals`

func scanProposalGeneric(row rowScanner) (*model.Proposal, error) {
	var p model.Proposal
	var triggerMessageID, waitpointToken, executionKey, runID sql.NullString
	var riskFlags, warnings, gateOptions, reasoning, humanDecision sql.NullString
	var executedAt sql.NullTime

	err := row.Scan(
		&p.ID, &p.CaseID, &triggerMessageID, &p.ActionType, &p.ProposalKey, &p.Status,
		&p.Confidence, &riskFlags, &warnings, &gateOptions, &p.DraftSubject,
		&p.DraftBodyText, &p.DraftBodyHTML, &reasoning, &waitpointToken,
		&executionKey, &runID, &humanDecision, &executedAt, &p.EmailJobID,
		&p.AdjustmentCount, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, caseerr.Wrap(caseerr.NotFound, "proposal not found", err)
		}
		return nil, caseerr.Wrap(caseerr.Transient, "scan proposal", err)
	}

	p.TriggerMessageID = triggerMessageID.String
	p.WaitpointToken = waitpointToken.String
	p.ExecutionKey = executionKey.String
	p.RunID = runID.String
	if executedAt.Valid {
		p.ExecutedAt = &executedAt.Time
	}
	if riskFlags.Valid && riskFlags.String != "" {
		_ = json.Unmarshal([]byte(riskFlags.String), &p.RiskFlags)
	}
	if warnings.Valid && warnings.String != "" {
		_ = json.Unmarshal([]byte(warnings.String), &p.Warnings)
	}
	if gateOptions.Valid && gateOptions.String != "" {
		_ = json.Unmarshal([]byte(gateOptions.String), &p.GateOptions)
	}
	if reasoning.Valid && reasoning.String != "" {
		_ = json.Unmarshal([]byte(reasoning.String), &p.Reasoning)
	}
	if humanDecision.Valid && humanDecision.String != "" && humanDecision.String != "null" {
		p.HumanDecision = &model.HumanDecision{}
		_ = json.Unmarshal([]byte(humanDecision.String), p.HumanDecision)
	}
	return &p, nil
}
