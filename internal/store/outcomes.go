package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Outcome is one terminal dispatch result.
type Outcome struct {
	JobID      string     `json:"job_id"`
	Pool       string     `json:"pool"`
	Kind       string     `json:"kind"`
	Status     string     `json:"status"`
	Error      string     `json:"error,omitempty"`
	Attempts   int        `json:"attempts"`
	RecordID   string     `json:"record_id,omitempty"`
	RecordName string     `json:"record_name,omitempty"`
	Reason     string     `json:"reason,omitempty"`
	EnqueuedAt *time.Time `json:"enqueued_at,omitempty"`
	FinishedAt time.Time  `json:"finished_at"`
}

// RecordOutcome stores o unless an outcome for the same job already
// exists. Returns true when inserted.
func (s *Store) RecordOutcome(ctx context.Context, o Outcome) (bool, error) {
	var enqueued any
	if o.EnqueuedAt != nil && !o.EnqueuedAt.IsZero() {
		enqueued = o.EnqueuedAt.UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO dispatch_outcomes(job_id, pool, kind, status, error, attempts, record_id, record_name,
			reason, enqueued_at, finished_at, recorded_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(job_id) DO NOTHING`,
		o.JobID, o.Pool, o.Kind, o.Status, nullIfEmpty(o.Error), o.Attempts,
		nullIfEmpty(o.RecordID), nullIfEmpty(o.RecordName), nullIfEmpty(o.Reason),
		enqueued, o.FinishedAt.UTC(), s.now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("record outcome: %w", err)
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

// ListOutcomes returns the most recent outcomes, optionally for one pool.
func (s *Store) ListOutcomes(ctx context.Context, pool string, limit int) ([]Outcome, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	args := []any{}
	clauses := []string{"1 = 1"}
	if pool != "" {
		clauses = append(clauses, "pool = ?")
		args = append(args, pool)
	}
	query := fmt.Sprintf(`SELECT job_id, pool, kind, status, error, attempts, record_id, record_name,
			reason, enqueued_at, finished_at
		FROM dispatch_outcomes WHERE %s ORDER BY finished_at DESC, job_id DESC LIMIT ?`, strings.Join(clauses, " AND "))
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list outcomes: %w", err)
	}
	defer rows.Close()

	var out []Outcome
	for rows.Next() {
		var (
			o                          Outcome
			errText, recID, recName, r sql.NullString
			enqueued                   sql.NullTime
		)
		if err := rows.Scan(&o.JobID, &o.Pool, &o.Kind, &o.Status, &errText, &o.Attempts,
			&recID, &recName, &r, &enqueued, &o.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		o.Error, o.RecordID, o.RecordName, o.Reason = errText.String, recID.String, recName.String, r.String
		if enqueued.Valid {
			ts := enqueued.Time.UTC()
			o.EnqueuedAt = &ts
		}
		o.FinishedAt = o.FinishedAt.UTC()
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iter outcomes: %w", err)
	}
	return out, nil
}

func nullIfEmpty(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
