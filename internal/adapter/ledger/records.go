package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/couchcryptid/radar-grid-etl/internal/domain"
)

// Run is a stored run row.
type Run struct {
	domain.RunInfo
	domain.RunStats
	FinishedAt time.Time // zero while running
}

// AnomalyRecord is a stored anomaly row.
type AnomalyRecord struct {
	ID    int64
	RunID string
	domain.Anomaly
}

// Filter narrows Anomalies. Zero values match everything.
type Filter struct {
	RunID  string
	Kind   domain.AnomalyKind
	Source string // substring match
	Limit  int
}

// StartRun implements domain.AnomalyLedger.
func (s *Store) StartRun(ctx context.Context, run domain.RunInfo) error {
	_, err := s.exec(ctx,
		`INSERT INTO runs (id, source_root, dest_root, shard, started_at) VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.SourceRoot, run.DestRoot, run.Shard, formatTime(run.StartedAt),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// FinishRun implements domain.AnomalyLedger.
func (s *Store) FinishRun(ctx context.Context, runID string, stats domain.RunStats) error {
	status := stats.Status
	if status == "" {
		status = "completed"
	}
	res, err := s.exec(ctx,
		`UPDATE runs SET finished_at = ?, status = ?, processed = ?, skipped = ?, failed = ?, fallbacks = ?
         WHERE id = ?`,
		formatTime(domain.Now()), status, stats.Processed, stats.Skipped, stats.Failed, stats.Fallbacks, runID,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update run: no run %s", runID)
	}
	return nil
}

// RecordAnomaly implements domain.AnomalyLedger.
func (s *Store) RecordAnomaly(ctx context.Context, runID string, a domain.Anomaly) error {
	at := a.RecordedAt
	if at.IsZero() {
		at = domain.Now()
	}
	_, err := s.exec(ctx,
		`INSERT INTO anomalies (run_id, kind, source, sweep, message, recorded_at) VALUES (?, ?, ?, ?, ?, ?)`,
		runID, string(a.Kind), a.Source, a.Sweep, a.Message, formatTime(at),
	)
	if err != nil {
		return fmt.Errorf("insert anomaly: %w", err)
	}
	return nil
}

// Anomalies lists anomalies matching f, oldest first.
func (s *Store) Anomalies(ctx context.Context, f Filter) ([]AnomalyRecord, error) {
	var (
		where []string
		args  []any
	)
	if f.RunID != "" {
		where = append(where, "run_id = ?")
		args = append(args, f.RunID)
	}
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(f.Kind))
	}
	if f.Source != "" {
		where = append(where, "instr(source, ?) > 0")
		args = append(args, f.Source)
	}
	query := "SELECT id, run_id, kind, source, sweep, message, recorded_at FROM anomalies"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query anomalies: %w", err)
	}
	defer rows.Close()

	var out []AnomalyRecord
	for rows.Next() {
		var (
			r    AnomalyRecord
			kind string
			at   string
		)
		if err := rows.Scan(&r.ID, &r.RunID, &kind, &r.Source, &r.Sweep, &r.Message, &at); err != nil {
			return nil, fmt.Errorf("scan anomaly: %w", err)
		}
		r.Kind = domain.AnomalyKind(kind)
		r.RecordedAt = parseTime(at)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Runs lists the most recent runs first.
func (s *Store) Runs(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source_root, dest_root, shard, started_at, finished_at, status,
                processed, skipped, failed, fallbacks
         FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			r        Run
			started  string
			finished sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.SourceRoot, &r.DestRoot, &r.Shard, &started, &finished, &r.Status,
			&r.Processed, &r.Skipped, &r.Failed, &r.Fallbacks); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.StartedAt = parseTime(started)
		if finished.Valid {
			r.FinishedAt = parseTime(finished.String)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// LatestRunID returns the most recently started run, or "" for an empty ledger.
func (s *Store) LatestRunID(ctx context.Context) (string, error) {
	runs, err := s.Runs(ctx, 1)
	if err != nil || len(runs) == 0 {
		return "", err
	}
	return runs[0].ID, nil
}
