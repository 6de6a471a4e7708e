package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/c360studio/caseworker/internal/caseerr"
	"github.com/c360studio/caseworker/internal/model"
)

// CreateMessage inserts a message, returning caseerr.Conflict if dedupe_key
// already exists for this case (spec.md §4.5 dedupe step).
func (s *Store) CreateMessage(ctx context.Context, m *model.Message) error {
	attachments, _ := json.Marshal(m.Attachments)
	analysis, _ := json.Marshal(m.ResponseAnalysis)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (
			id, case_id, direction, channel, from_address, subject, body_text,
			body_html, attachments, received_at, created_at, processed_at,
			processed_run_id, analysis, dedupe_key
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.CaseID, m.Direction, m.Channel, m.From, m.Subject, m.BodyText,
		m.BodyHTML, string(attachments), m.ReceivedAt, m.CreatedAt, m.ProcessedAt,
		m.ProcessedRunID, string(analysis), nullIfEmpty(m.DedupeKey),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return caseerr.Wrap(caseerr.Conflict, "duplicate message for case", err)
		}
		return caseerr.Wrap(caseerr.Transient, "insert message", err)
	}
	return nil
}

// GetLatestUnprocessedInbound returns the most recent inbound message for
// a case that has not yet been folded into a run, ordered by
// COALESCE(received_at, created_at) per spec.md §5's ordering rule.
func (s *Store) GetLatestUnprocessedInbound(ctx context.Context, caseID string) (*model.Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, case_id, direction, channel, from_address, subject, body_text,
			body_html, attachments, received_at, created_at, processed_at,
			processed_run_id, analysis, dedupe_key
		FROM messages
		WHERE case_id = ? AND direction = 'inbound' AND processed_at IS NULL
		ORDER BY COALESCE(received_at, created_at) DESC
		LIMIT 1`, caseID)
	m, err := scanMessageGeneric(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return m, err
}

// MarkProcessed stamps a message as folded into runID.
func (s *Store) MarkProcessed(ctx context.Context, messageID, runID string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		UPDATE messages SET processed_at = ?, processed_run_id = ? WHERE id = ?`,
		now, runID, messageID)
	if err != nil {
		return caseerr.Wrap(caseerr.Transient, "mark message processed", err)
	}
	return nil
}

// ClearProcessed resets processed_at/processed_run_id, used by the
// reset-to-last-inbound operation (SPEC_FULL.md §12).
func (s *Store) ClearProcessed(ctx context.Context, messageID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE messages SET processed_at = NULL, processed_run_id = NULL WHERE id = ?`,
		messageID)
	if err != nil {
		return caseerr.Wrap(caseerr.Transient, "clear message processed state", err)
	}
	return nil
}

func scanMessageGeneric(row rowScanner) (*model.Message, error) {
	var m model.Message
	var attachments, analysis sql.NullString
	var channel, from, subject, bodyText, bodyHTML, processedRunID, dedupeKey sql.NullString
	var receivedAt, processedAt sql.NullTime

	err := row.Scan(
		&m.ID, &m.CaseID, &m.Direction, &channel, &from, &subject, &bodyText,
		&bodyHTML, &attachments, &receivedAt, &m.CreatedAt, &processedAt,
		&processedRunID, &analysis, &dedupeKey,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, caseerr.Wrap(caseerr.Transient, "scan message", err)
	}

	m.Channel = channel.String
	m.From = from.String
	m.Subject = subject.String
	m.BodyText = bodyText.String
	m.BodyHTML = bodyHTML.String
	m.ProcessedRunID = processedRunID.String
	m.DedupeKey = dedupeKey.String
	if receivedAt.Valid {
		m.ReceivedAt = &receivedAt.Time
	}
	if processedAt.Valid {
		m.ProcessedAt = &processedAt.Time
	}
	if attachments.Valid && attachments.String != "" {
		_ = json.Unmarshal([]byte(attachments.String), &m.Attachments)
	}
	if analysis.Valid && analysis.String != "" && analysis.String != "null" {
		m.ResponseAnalysis = &model.Analysis{}
		_ = json.Unmarshal([]byte(analysis.String), m.ResponseAnalysis)
	}
	return &m, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
