package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/c360studio/caseworker/internal/caseerr"
	"github.com/c360studio/caseworker/internal/model"
)

// Store is the sqlite-backed persistence layer for every domain table.
// Grounded on Factory's db.Store: one struct wrapping *DB, one method
// group per entity.
type Store struct {
	db *DB
}

// NewStore wraps an opened DB.
func NewStore(db *DB) *Store { return &Store{db: db} }

// CreateCase inserts a new case row.
func (s *Store) CreateCase(ctx context.Context, c *model.Case) error {
	feeQuote, _ := json.Marshal(c.FeeQuote)
	scopeItems, _ := json.Marshal(c.ScopeItems)
	constraints, _ := json.Marshal(c.Constraints)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cases (
			id, status, substatus, autopilot_mode, requires_human, pause_reason,
			agency_email, portal_url, deadline_date, fee_quote, scope_items,
			constraints, outcome_type, outcome_summary, last_portal_status,
			closed_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Status, c.Substatus, c.AutopilotMode, c.RequiresHuman, c.PauseReason,
		c.AgencyEmail, c.PortalURL, c.DeadlineDate, string(feeQuote), string(scopeItems),
		string(constraints), c.OutcomeType, c.OutcomeSummary, c.LastPortalStatus,
		c.ClosedAt, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return caseerr.Wrap(caseerr.Transient, "insert case", err)
	}
	return nil
}

// GetCase fetches a case by ID.
func (s *Store) GetCase(ctx context.Context, id string) (*model.Case, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, status, substatus, autopilot_mode, requires_human, pause_reason,
			agency_email, portal_url, deadline_date, fee_quote, scope_items,
			constraints, outcome_type, outcome_summary, last_portal_status,
			closed_at, created_at, updated_at
		FROM cases WHERE id = ?`, id)
	return scanCase(row)
}

// UpdateCase replaces a case row wholesale. There is no optimistic
// concurrency check: concurrent read-modify-write callers (the inbound
// pipeline, the Executor, the HTTP handlers, the Reaper) are not all
// serialized by a CaseLock, and the last write wins.
func (s *Store) UpdateCase(ctx context.Context, c *model.Case) error {
	feeQuote, _ := json.Marshal(c.FeeQuote)
	scopeItems, _ := json.Marshal(c.ScopeItems)
	constraints, _ := json.Marshal(c.Constraints)
	c.UpdatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `
		UPDATE cases SET status=?, substatus=?, autopilot_mode=?, requires_human=?,
			pause_reason=?, agency_email=?, portal_url=?, deadline_date=?, fee_quote=?,
			scope_items=?, constraints=?, outcome_type=?, outcome_summary=?,
			last_portal_status=?, closed_at=?, updated_at=?
		WHERE id=?`,
		c.Status, c.Substatus, c.AutopilotMode, c.RequiresHuman, c.PauseReason,
		c.AgencyEmail, c.PortalURL, c.DeadlineDate, string(feeQuote), string(scopeItems),
		string(constraints), c.OutcomeType, c.OutcomeSummary, c.LastPortalStatus,
		c.ClosedAt, c.UpdatedAt, c.ID,
	)
	if err != nil {
		return caseerr.Wrap(caseerr.Transient, "update case", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return caseerr.Wrap(caseerr.NotFound, fmt.Sprintf("case %s not found", c.ID), nil)
	}
	return nil
}

// ListActiveCases returns every case not in a terminal status, used by the
// Reaper's sweep.
func (s *Store) ListActiveCases(ctx context.Context) ([]*model.Case, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, status, substatus, autopilot_mode, requires_human, pause_reason,
			agency_email, portal_url, deadline_date, fee_quote, scope_items,
			constraints, outcome_type, outcome_summary, last_portal_status,
			closed_at, created_at, updated_at
		FROM cases WHERE status NOT IN ('completed', 'cancelled')`)
	if err != nil {
		return nil, caseerr.Wrap(caseerr.Transient, "query active cases", err)
	}
	defer rows.Close()

	var out []*model.Case
	for rows.Next() {
		c, err := scanCaseRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCase(row *sql.Row) (*model.Case, error) {
	c, err := scanCaseGeneric(row)
	if err == sql.ErrNoRows {
		return nil, caseerr.Wrap(caseerr.NotFound, "case not found", err)
	}
	return c, err
}

func scanCaseRows(rows *sql.Rows) (*model.Case, error) {
	return scanCaseGeneric(rows)
}

func scanCaseGeneric(row rowScanner) (*model.Case, error) {
	var c model.Case
	var feeQuote, scopeItems, constraints sql.NullString
	var substatus, pauseReason, agencyEmail, portalURL, outcomeType, outcomeSummary, lastPortalStatus sql.NullString
	var deadlineDate, closedAt sql.NullTime

	err := row.Scan(
		&c.ID, &c.Status, &substatus, &c.AutopilotMode, &c.RequiresHuman, &pauseReason,
		&agencyEmail, &portalURL, &deadlineDate, &feeQuote, &scopeItems,
		&constraints, &outcomeType, &outcomeSummary, &lastPortalStatus,
		&closedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, caseerr.Wrap(caseerr.Transient, "scan case", err)
	}

	c.Substatus = substatus.String
	c.PauseReason = model.PauseReason(pauseReason.String)
	c.AgencyEmail = agencyEmail.String
	c.PortalURL = portalURL.String
	c.OutcomeType = outcomeType.String
	c.OutcomeSummary = outcomeSummary.String
	c.LastPortalStatus = lastPortalStatus.String
	if deadlineDate.Valid {
		c.DeadlineDate = &deadlineDate.Time
	}
	if closedAt.Valid {
		c.ClosedAt = &closedAt.Time
	}
	if feeQuote.Valid && feeQuote.String != "" {
		_ = json.Unmarshal([]byte(feeQuote.String), &c.FeeQuote)
	}
	if scopeItems.Valid && scopeItems.String != "" {
		_ = json.Unmarshal([]byte(scopeItems.String), &c.ScopeItems)
	}
	if constraints.Valid && constraints.String != "" {
		_ = json.Unmarshal([]byte(constraints.String), &c.Constraints)
	}
	return &c, nil
}
