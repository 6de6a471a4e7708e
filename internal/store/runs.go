package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/c360studio/caseworker/internal/caseerr"
	"github.com/c360studio/caseworker/internal/model"
)

// CreateRun inserts a new AgentRun.
func (s *Store) CreateRun(ctx context.Context, r *model.AgentRun) error {
	metadata, _ := json.Marshal(r.Metadata)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_runs (
			id, case_id, trigger_type, status, started_at, ended_at, error,
			thread_id, message_id, proposal_id, metadata, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.CaseID, r.TriggerType, r.Status, r.StartedAt, r.EndedAt, r.Error,
		r.LangGraphThreadID, nullIfEmpty(r.MessageID), nullIfEmpty(r.ProposalID), string(metadata), time.Now().UTC(),
	)
	if err != nil {
		return caseerr.Wrap(caseerr.Transient, "insert run", err)
	}
	return nil
}

// GetActiveRun returns the case's single active run (queued/running/waiting)
// if one exists, enforcing the "at most one active run per case" invariant
// at the read side (spec.md §3, §5).
func (s *Store) GetActiveRun(ctx context.Context, caseID string) (*model.AgentRun, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, case_id, trigger_type, status, started_at, ended_at, error,
			thread_id, message_id, proposal_id, metadata
		FROM agent_runs
		WHERE case_id = ? AND status IN ('queued', 'running', 'waiting')
		ORDER BY created_at DESC LIMIT 1`, caseID)
	r, err := scanRunGeneric(row)
	if caseerr.Is(err, caseerr.NotFound) {
		return nil, nil
	}
	return r, err
}

// UpdateRunStatus transitions a run's status and stamps timing fields.
func (s *Store) UpdateRunStatus(ctx context.Context, id string, status model.RunStatus, runErr string) error {
	var endedAt any
	if status == model.RunCompleted || status == model.RunFailed || status == model.RunCancelled {
		endedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE agent_runs SET status = ?, error = ?, ended_at = COALESCE(?, ended_at) WHERE id = ?`,
		status, runErr, endedAt, id)
	if err != nil {
		return caseerr.Wrap(caseerr.Transient, "update run status", err)
	}
	return nil
}

func scanRunGeneric(row rowScanner) (*model.AgentRun, error) {
	var r model.AgentRun
	var startedAt, endedAt sql.NullTime
	var errStr, threadID, messageID, proposalID sql.NullString
	var metadata sql.NullString

	err := row.Scan(&r.ID, &r.CaseID, &r.TriggerType, &r.Status, &startedAt, &endedAt, &errStr,
		&threadID, &messageID, &proposalID, &metadata)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, caseerr.Wrap(caseerr.NotFound, "run not found", err)
		}
		return nil, caseerr.Wrap(caseerr.Transient, "scan run", err)
	}
	r.Error = errStr.String
	r.LangGraphThreadID = threadID.String
	r.MessageID = messageID.String
	r.ProposalID = proposalID.String
	if startedAt.Valid {
		r.StartedAt = &startedAt.Time
	}
	if endedAt.Valid {
		r.EndedAt = &endedAt.Time
	}
	if metadata.Valid && metadata.String != "" {
		_ = json.Unmarshal([]byte(metadata.String), &r.Metadata)
	}
	return &r, nil
}

// AcquireLock attempts to insert or reclaim an expired
// CaseOperationLock row, returning (lock, true) on success or (nil,
// false) if another holder currently holds it (spec.md §4.2).
func (s *Store) AcquireLock(ctx context.Context, caseID, operation, token, holderRunID string, ttl time.Duration) (*model.CaseOperationLock, bool, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(ttl)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, caseerr.Wrap(caseerr.Transient, "begin lock tx", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT case_id, operation, token, holder_run_id, acquired_at, expires_at
		FROM case_operation_locks WHERE case_id = ? AND operation = ?`, caseID, operation)

	var existing model.CaseOperationLock
	var holder sql.NullString
	scanErr := row.Scan(&existing.CaseID, &existing.Operation, &existing.Token, &holder, &existing.AcquiredAt, &existing.ExpiresAt)

	switch {
	case scanErr == sql.ErrNoRows:
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO case_operation_locks (case_id, operation, token, holder_run_id, acquired_at, expires_at)
			VALUES (?, ?, ?, ?, ?, ?)`, caseID, operation, token, holderRunID, now, expiresAt); err != nil {
			return nil, false, caseerr.Wrap(caseerr.Transient, "insert lock", err)
		}
	case scanErr != nil:
		return nil, false, caseerr.Wrap(caseerr.Transient, "read lock", scanErr)
	case existing.Expired(now):
		if _, err := tx.ExecContext(ctx, `
			UPDATE case_operation_locks SET token = ?, holder_run_id = ?, acquired_at = ?, expires_at = ?
			WHERE case_id = ? AND operation = ?`, token, holderRunID, now, expiresAt, caseID, operation); err != nil {
			return nil, false, caseerr.Wrap(caseerr.Transient, "reclaim lock", err)
		}
	default:
		return nil, false, tx.Commit()
	}

	if err := tx.Commit(); err != nil {
		return nil, false, caseerr.Wrap(caseerr.Transient, "commit lock tx", err)
	}
	return &model.CaseOperationLock{
		CaseID: caseID, Operation: operation, Token: token,
		HolderRunID: holderRunID, AcquiredAt: now, ExpiresAt: expiresAt,
	}, true, nil
}

// ReleaseLock releases a lock iff the caller presents the token that
// currently holds it (fencing, spec.md §4.2).
func (s *Store) ReleaseLock(ctx context.Context, caseID, operation, token string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM case_operation_locks WHERE case_id = ? AND operation = ? AND token = ?`,
		caseID, operation, token)
	if err != nil {
		return false, caseerr.Wrap(caseerr.Transient, "release lock", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// RefreshLock extends a held lock's expiry, failing if the token no
// longer matches (another holder reclaimed it after expiry).
func (s *Store) RefreshLock(ctx context.Context, caseID, operation, token string, ttl time.Duration) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE case_operation_locks SET expires_at = ? WHERE case_id = ? AND operation = ? AND token = ?`,
		time.Now().UTC().Add(ttl), caseID, operation, token)
	if err != nil {
		return false, caseerr.Wrap(caseerr.Transient, "refresh lock", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// ListExpiredLocks returns locks whose expiry has passed, for the Reaper's
// sweep (spec.md §4.10).
func (s *Store) ListExpiredLocks(ctx context.Context) ([]*model.CaseOperationLock, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT case_id, operation, token, holder_run_id, acquired_at, expires_at
		FROM case_operation_locks WHERE expires_at < ?`, time.Now().UTC())
	if err != nil {
		return nil, caseerr.Wrap(caseerr.Transient, "query expired locks", err)
	}
	defer rows.Close()

	var out []*model.CaseOperationLock
	for rows.Next() {
		var l model.CaseOperationLock
		var holder sql.NullString
		if err := rows.Scan(&l.CaseID, &l.Operation, &l.Token, &holder, &l.AcquiredAt, &l.ExpiresAt); err != nil {
			return nil, caseerr.Wrap(caseerr.Transient, "scan lock", err)
		}
		l.HolderRunID = holder.String
		out = append(out, &l)
	}
	return out, rows.Err()
}

// CreateWaitpoint inserts a new waitpoint token.
func (s *Store) CreateWaitpoint(ctx context.Context, w *model.Waitpoint) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO waitpoints (token, proposal_id, created_at, expires_at, completed_at, completion_payload)
		VALUES (?, ?, ?, ?, ?, ?)`,
		w.Token, w.ProposalID, w.CreatedAt, w.ExpiresAt, w.CompletedAt, nil)
	if err != nil {
		return caseerr.Wrap(caseerr.Transient, "insert waitpoint", err)
	}
	return nil
}

// GetWaitpoint fetches a waitpoint by token.
func (s *Store) GetWaitpoint(ctx context.Context, token string) (*model.Waitpoint, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT token, proposal_id, created_at, expires_at, completed_at, completion_payload
		FROM waitpoints WHERE token = ?`, token)
	return scanWaitpoint(row)
}

// CompleteWaitpoint performs the single-use CAS completion: only the
// first caller to transition completed_at from NULL gets true, all others
// get false and the stored payload is left unchanged (spec.md §4.4).
func (s *Store) CompleteWaitpoint(ctx context.Context, token string, payload map[string]any) (bool, error) {
	data, _ := json.Marshal(payload)
	res, err := s.db.ExecContext(ctx, `
		UPDATE waitpoints SET completed_at = ?, completion_payload = ?
		WHERE token = ? AND completed_at IS NULL`,
		time.Now().UTC(), string(data), token)
	if err != nil {
		return false, caseerr.Wrap(caseerr.Transient, "complete waitpoint", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// ListExpiredWaitpoints returns unclaimed waitpoints past expiry, for the
// Reaper's sweep.
func (s *Store) ListExpiredWaitpoints(ctx context.Context) ([]*model.Waitpoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT token, proposal_id, created_at, expires_at, completed_at, completion_payload
		FROM waitpoints WHERE completed_at IS NULL AND expires_at < ?`, time.Now().UTC())
	if err != nil {
		return nil, caseerr.Wrap(caseerr.Transient, "query expired waitpoints", err)
	}
	defer rows.Close()

	var out []*model.Waitpoint
	for rows.Next() {
		w, err := scanWaitpointRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func scanWaitpoint(row *sql.Row) (*model.Waitpoint, error) {
	w, err := scanWaitpointGeneric(row)
	if err == sql.ErrNoRows {
		return nil, caseerr.Wrap(caseerr.NotFound, "waitpoint not found", err)
	}
	return w, err
}

func scanWaitpointRows(rows *sql.Rows) (*model.Waitpoint, error) {
	return scanWaitpointGeneric(rows)
}

func scanWaitpointGeneric(row rowScanner) (*model.Waitpoint, error) {
	var w model.Waitpoint
	var completedAt sql.NullTime
	var payload sql.NullString
	err := row.Scan(&w.Token, &w.ProposalID, &w.CreatedAt, &w.ExpiresAt, &completedAt, &payload)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, caseerr.Wrap(caseerr.Transient, "scan waitpoint", err)
	}
	if completedAt.Valid {
		w.CompletedAt = &completedAt.Time
	}
	if payload.Valid && payload.String != "" && payload.String != "null" {
		_ = json.Unmarshal([]byte(payload.String), &w.CompletionPayload)
	}
	return &w, nil
}

// CreateExecution inserts an append-only execution attempt record.
func (s *Store) CreateExecution(ctx context.Context, e *model.Execution) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO executions (id, proposal_id, case_id, kind, provider_message_id, status, started_at, completed_at, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ProposalID, e.CaseID, e.Kind, e.ProviderMessageID, e.Status, e.StartedAt, e.CompletedAt, e.Error)
	if err != nil {
		return caseerr.Wrap(caseerr.Transient, "insert execution", err)
	}
	return nil
}

// UpdateExecution finalizes an execution record's outcome.
func (s *Store) UpdateExecution(ctx context.Context, id string, status model.ExecutionStatus, providerMessageID, errStr string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE executions SET status = ?, provider_message_id = ?, completed_at = ?, error = ? WHERE id = ?`,
		status, providerMessageID, time.Now().UTC(), errStr, id)
	if err != nil {
		return caseerr.Wrap(caseerr.Transient, "update execution", err)
	}
	return nil
}

// ListExecutionsByProposal returns every execution attempt for a
// proposal, oldest first. Nothing in this module calls it.
func (s *Store) ListExecutionsByProposal(ctx context.Context, proposalID string) ([]*model.Execution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, proposal_id, case_id, kind, provider_message_id, status, started_at, completed_at, error
		FROM executions WHERE proposal_id = ? ORDER BY started_at`, proposalID)
	if err != nil {
		return nil, caseerr.Wrap(caseerr.Transient, "query executions", err)
	}
	defer rows.Close()

	var out []*model.Execution
	for rows.Next() {
		var e model.Execution
		var providerMessageID, errStr sql.NullString
		var completedAt sql.NullTime
		if err := rows.Scan(&e.ID, &e.ProposalID, &e.CaseID, &e.Kind, &providerMessageID, &e.Status, &e.StartedAt, &completedAt, &errStr); err != nil {
			return nil, caseerr.Wrap(caseerr.Transient, "scan execution", err)
		}
		e.ProviderMessageID = providerMessageID.String
		e.Error = errStr.String
		if completedAt.Valid {
			e.CompletedAt = &completedAt.Time
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// AppendActivity records an audit-log entry.
func (s *Store) AppendActivity(ctx context.Context, a *model.ActivityLog) error {
	metadata, _ := json.Marshal(a.Metadata)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO activity_log (id, case_id, event_type, description, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.CaseID, a.EventType, a.Description, string(metadata), a.CreatedAt)
	if err != nil {
		return caseerr.Wrap(caseerr.Transient, "append activity log", err)
	}
	return nil
}

// ListActivity returns the audit trail for a case, oldest first.
func (s *Store) ListActivity(ctx context.Context, caseID string) ([]*model.ActivityLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, case_id, event_type, description, metadata, created_at
		FROM activity_log WHERE case_id = ? ORDER BY created_at`, caseID)
	if err != nil {
		return nil, caseerr.Wrap(caseerr.Transient, "query activity log", err)
	}
	defer rows.Close()

	var out []*model.ActivityLog
	for rows.Next() {
		var a model.ActivityLog
		var metadata sql.NullString
		if err := rows.Scan(&a.ID, &a.CaseID, &a.EventType, &a.Description, &metadata, &a.CreatedAt); err != nil {
			return nil, caseerr.Wrap(caseerr.Transient, "scan activity log", err)
		}
		if metadata.Valid && metadata.String != "" {
			_ = json.Unmarshal([]byte(metadata.String), &a.Metadata)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}
