package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tomjrwilliams/xsm/internal/ir"
)

// RunInfo is a stored run row.
type RunInfo struct {
	ID            string
	Model         string
	ModelHash     string
	Strategy      string
	Workers       int
	Iters         int
	Status        string
	Ticks         int
	Submitted     int
	Completed     int
	Spawned       int
	Retired       int
	Dropped       int
	Digest        string
	Error         string
	EngineVersion string
	IRVersion     string
	StartedAt     string
	ElapsedMS     int64
}

// Record is one stored notification.
type Record struct {
	ID       string
	RunID    string
	Seq      int64
	Tick     int
	EntityID int64
	Variant  string
	Curr     ir.IRValue
	Prev     ir.IRValue
	Retired  bool
}

const runColumns = `id, model, model_hash, strategy, workers, iters, status, ticks, submitted,
	completed, spawned, retired, dropped, digest, error, engine_version, ir_version, started_at, elapsed_ms`

// ReadRun returns the run row for runID.
// Returns sql.ErrNoRows (wrapped) if the run does not exist.
func (s *Store) ReadRun(ctx context.Context, runID string) (RunInfo, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, runID)
	info, err := scanRun(row)
	if err != nil {
		return RunInfo{}, fmt.Errorf("read run %s: %w", runID, err)
	}
	return info, nil
}

// ListRuns returns up to limit runs, most recently started first.
// A limit <= 0 returns every run.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunInfo, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, id COLLATE BINARY DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []RunInfo{}
	for rows.Next() {
		info, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// ReadTimeline returns the notifications of a run in publication order.
// A non-empty variant restricts the result to that variant.
//
// Returns an empty slice (not nil) if nothing was recorded.
func (s *Store) ReadTimeline(ctx context.Context, runID, variant string) ([]Record, error) {
	query := `
		SELECT id, run_id, seq, tick, entity_id, variant, curr, prev, retired
		FROM notifications
		WHERE run_id = ?`
	args := []any{runID}
	if variant != "" {
		query += ` AND variant = ?`
		args = append(args, variant)
	}
	query += ` ORDER BY seq ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		var (
			r          Record
			curr, prev string
		)
		if err := rows.Scan(&r.ID, &r.RunID, &r.Seq, &r.Tick, &r.EntityID, &r.Variant, &curr, &prev, &r.Retired); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		if r.Curr, err = unmarshalValue(curr); err != nil {
			return nil, fmt.Errorf("notification %s curr: %w", r.ID, err)
		}
		if r.Prev, err = unmarshalValue(prev); err != nil {
			return nil, fmt.Errorf("notification %s prev: %w", r.ID, err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return records, nil
}

// ReadSnapshot returns the final registry stored for a run, in the same
// shape as the in-memory snapshot: [{"id":..,"variant":..,"curr":..,"prev":..}].
func (s *Store) ReadSnapshot(ctx context.Context, runID string) (ir.IRArray, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_id, variant, curr, prev
		FROM snapshots
		WHERE run_id = ?
		ORDER BY entity_id ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query snapshot: %w", err)
	}
	defer rows.Close()

	snap := ir.IRArray{}
	for rows.Next() {
		var (
			id                  int64
			variant, curr, prev string
		)
		if err := rows.Scan(&id, &variant, &curr, &prev); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		c, err := unmarshalValue(curr)
		if err != nil {
			return nil, fmt.Errorf("entity %d curr: %w", id, err)
		}
		p, err := unmarshalValue(prev)
		if err != nil {
			return nil, fmt.Errorf("entity %d prev: %w", id, err)
		}
		snap = append(snap, ir.IRObject{
			"id":      ir.IRInt(id),
			"variant": ir.IRString(variant),
			"curr":    c,
			"prev":    p,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshot: %w", err)
	}
	return snap, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (RunInfo, error) {
	var r RunInfo
	err := row.Scan(
		&r.ID, &r.Model, &r.ModelHash, &r.Strategy, &r.Workers, &r.Iters, &r.Status,
		&r.Ticks, &r.Submitted, &r.Completed, &r.Spawned, &r.Retired, &r.Dropped,
		&r.Digest, &r.Error, &r.EngineVersion, &r.IRVersion, &r.StartedAt, &r.ElapsedMS,
	)
	if err != nil {
		return RunInfo{}, err
	}
	return r, nil
}

var _ scanner = (*sql.Row)(nil)
