package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	audit "phigate/pkg/platform/audit"
	"phigate/pkg/platform/sentinel"

	"github.com/lib/pq"
)

// Schema creates the audit_events table. Seq is the insertion order and
// breaks timestamp ties.
const Schema = `
CREATE TABLE IF NOT EXISTS audit_events (
	seq            BIGSERIAL PRIMARY KEY,
	event_id       TEXT        NOT NULL UNIQUE,
	principal_id   TEXT        NOT NULL,
	principal_role TEXT        NOT NULL,
	timestamp      TIMESTAMPTZ NOT NULL,
	event_type     TEXT        NOT NULL,
	resource_id    TEXT        NOT NULL,
	source_ip      TEXT        NOT NULL,
	user_agent     TEXT        NOT NULL,
	outcome        TEXT        NOT NULL
);
CREATE INDEX IF NOT EXISTS audit_events_timestamp_seq_idx ON audit_events (timestamp, seq);
`

// Store implements audit.Store on PostgreSQL.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL audit store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate applies Schema.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("migrate audit schema: %w", classify(err))
	}
	return nil
}

// Append inserts an event. Duplicate event ids are ignored, which keeps
// retries and dead-letter replay idempotent.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	query := `
		INSERT INTO audit_events (
			event_id, principal_id, principal_role, timestamp, event_type,
			resource_id, source_ip, user_agent, outcome
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (event_id) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, query,
		event.EventID,
		event.PrincipalID,
		event.PrincipalRole,
		event.Timestamp.UTC(),
		string(event.EventType),
		event.ResourceID,
		event.SourceIP,
		event.UserAgent,
		string(event.Outcome),
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", classify(err))
	}
	return nil
}

// List returns matching events after the cursor in (timestamp, seq) order.
func (s *Store) List(ctx context.Context, filter audit.Filter, after audit.Cursor, limit int) ([]audit.Event, error) {
	conds := []string{"(timestamp, seq) > ($1, $2)"}
	args := []any{after.Timestamp.UTC(), after.Seq}
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if !filter.Start.IsZero() {
		add("timestamp >= $%d", filter.Start.UTC())
	}
	if !filter.End.IsZero() {
		add("timestamp <= $%d", filter.End.UTC())
	}
	if filter.PrincipalID != "" {
		add("principal_id = $%d", filter.PrincipalID)
	}
	if filter.ResourceID != "" {
		add("resource_id = $%d", filter.ResourceID)
	}
	if filter.EventType != "" {
		add("event_type = $%d", string(filter.EventType))
	}

	query := `
		SELECT seq, event_id, principal_id, principal_role, timestamp,
			   event_type, resource_id, source_ip, user_agent, outcome
		FROM audit_events
		WHERE ` + strings.Join(conds, " AND ") + `
		ORDER BY timestamp, seq`
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", classify(err))
	}
	defer rows.Close()

	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]audit.Event, error) {
	var events []audit.Event
	for rows.Next() {
		var (
			event     audit.Event
			eventType string
			outcome   string
			ts        time.Time
		)
		err := rows.Scan(
			&event.Seq,
			&event.EventID,
			&event.PrincipalID,
			&event.PrincipalRole,
			&ts,
			&eventType,
			&event.ResourceID,
			&event.SourceIP,
			&event.UserAgent,
			&outcome,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		event.Timestamp = ts.UTC()
		event.EventType = audit.EventType(eventType)
		event.Outcome = audit.Outcome(outcome)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}

// classify marks connection-level failures as sentinel.ErrUnavailable.
func classify(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if pqErr.Code.Class() == "08" || pqErr.Code.Class() == "57" {
			return fmt.Errorf("%w: %w", sentinel.ErrUnavailable, err)
		}
		return err
	}
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", sentinel.ErrUnavailable, err)
	}
	return err
}
