package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Run statuses.
const (
	RunCompleted   = "completed"
	RunInterrupted = "interrupted"
	RunFailed      = "failed"
)

// ErrRunNotFound is returned when no run has been recorded.
var ErrRunNotFound = errors.New("run not found")

// Run is the outcome of one pipeline run.
type Run struct {
	ID         uuid.UUID
	StartedAt  time.Time
	FinishedAt time.Time
	Status     string
	URLsAdded  int
	CertsAdded int
	Saved      int
	Ignored    int
	APICalls   int
}

// RecordRun stores r, replacing an earlier record with the same ID.
func (s *Store) RecordRun(ctx context.Context, r Run) error {
	query := `
		INSERT INTO psa_runs (
			run_id, started_at, finished_at, status,
			urls_added, certs_added, saved, ignored, api_calls
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id) DO UPDATE SET
			finished_at = excluded.finished_at,
			status = excluded.status,
			urls_added = excluded.urls_added,
			certs_added = excluded.certs_added,
			saved = excluded.saved,
			ignored = excluded.ignored,
			api_calls = excluded.api_calls
	`

	_, err := s.db.ExecContext(ctx, s.rebind(query),
		r.ID.String(),
		formatTime(r.StartedAt),
		formatTime(r.FinishedAt),
		r.Status,
		r.URLsAdded,
		r.CertsAdded,
		r.Saved,
		r.Ignored,
		r.APICalls,
	)
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

// LastRun returns the most recently started run.
func (s *Store) LastRun(ctx context.Context) (*Run, error) {
	query := `
		SELECT run_id, started_at, finished_at, status,
		       urls_added, certs_added, saved, ignored, api_calls
		FROM psa_runs
		ORDER BY started_at DESC
		LIMIT 1
	`

	var (
		r             Run
		id, startedAt string
		finishedAt    sql.NullString
	)
	err := s.db.QueryRowContext(ctx, query).Scan(
		&id, &startedAt, &finishedAt, &r.Status,
		&r.URLsAdded, &r.CertsAdded, &r.Saved, &r.Ignored, &r.APICalls,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}

	if r.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("invalid run id %q: %w", id, err)
	}
	if t, ok := parseTime(sql.NullString{String: startedAt, Valid: true}); ok {
		r.StartedAt = t
	}
	if t, ok := parseTime(finishedAt); ok {
		r.FinishedAt = t
	}

	return &r, nil
}
