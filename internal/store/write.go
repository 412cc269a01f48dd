package store

import (
	"context"
	"fmt"
	"time"

	"github.com/tomjrwilliams/xsm/internal/engine"
	"github.com/tomjrwilliams/xsm/internal/ir"
)

// RunMeta describes how a run was configured.
type RunMeta struct {
	Model     string
	ModelHash string
	Strategy  string
	Workers   int
	Iters     int
	StartedAt time.Time
}

// BeginRun inserts the run row with status "running".
// Uses ON CONFLICT(id) DO NOTHING for idempotency.
func (s *Store) BeginRun(ctx context.Context, runID string, meta RunMeta) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs
		(id, model, model_hash, strategy, workers, iters, engine_version, ir_version, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		runID,
		meta.Model,
		meta.ModelHash,
		meta.Strategy,
		meta.Workers,
		meta.Iters,
		ir.EngineVersion,
		ir.IRVersion,
		formatTime(meta.StartedAt),
	)
	if err != nil {
		return fmt.Errorf("begin run: %w", err)
	}
	return nil
}

// FinishRun records a run's outcome: status, counters, digest and the
// final registry. runErr, if set, is stored as the run's error text.
// The run row is created if BeginRun was never called.
func (s *Store) FinishRun(ctx context.Context, meta RunMeta, out *engine.Outcome, runErr error) error {
	snap, err := out.Snapshot()
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	digest, err := ir.Digest(ir.DomainSnapshot, snap)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	errText := ""
	if runErr != nil {
		errText = runErr.Error()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("finish run: begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs
		(id, model, model_hash, strategy, workers, iters, status, ticks, submitted, completed,
		 spawned, retired, dropped, digest, error, engine_version, ir_version, started_at, elapsed_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			ticks = excluded.ticks,
			submitted = excluded.submitted,
			completed = excluded.completed,
			spawned = excluded.spawned,
			retired = excluded.retired,
			dropped = excluded.dropped,
			digest = excluded.digest,
			error = excluded.error,
			elapsed_ms = excluded.elapsed_ms
	`,
		out.RunID,
		meta.Model,
		meta.ModelHash,
		meta.Strategy,
		meta.Workers,
		meta.Iters,
		string(out.Status),
		out.Ticks,
		out.Submitted,
		out.Completed,
		out.Spawned,
		out.Retired,
		out.Dropped,
		digest,
		errText,
		ir.EngineVersion,
		ir.IRVersion,
		formatTime(meta.StartedAt),
		out.Elapsed.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}

	for _, e := range out.Entities {
		curr, err := marshalValue(e.State.Curr())
		if err != nil {
			return fmt.Errorf("finish run: entity %d: %w", e.ID, err)
		}
		prev, err := marshalValue(e.State.Prev())
		if err != nil {
			return fmt.Errorf("finish run: entity %d: %w", e.ID, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO snapshots (run_id, entity_id, variant, curr, prev)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(run_id, entity_id) DO UPDATE SET
				variant = excluded.variant,
				curr = excluded.curr,
				prev = excluded.prev
		`, out.RunID, int64(e.ID), string(e.State.Variant()), curr, prev)
		if err != nil {
			return fmt.Errorf("finish run: snapshot: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("finish run: commit: %w", err)
	}
	return nil
}

// Matches accepts every notification; Store records whole runs.
func (s *Store) Matches(engine.Notification) bool { return true }

// Receive records one notification, creating a placeholder run row if the
// run has not been begun. Duplicate deliveries are ignored.
func (s *Store) Receive(ctx context.Context, n engine.Notification) error {
	curr, err := marshalValue(n.Curr)
	if err != nil {
		return fmt.Errorf("write notification: %w", err)
	}
	prev, err := marshalValue(n.Prev)
	if err != nil {
		return fmt.Errorf("write notification: %w", err)
	}
	currIR, err := ir.FromAny(n.Curr)
	if err != nil {
		return fmt.Errorf("write notification: %w", err)
	}
	id, err := ir.NotificationID(n.RunID, n.Seq, string(n.Variant), currIR)
	if err != nil {
		return fmt.Errorf("write notification: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, engine_version, ir_version)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, n.RunID, ir.EngineVersion, ir.IRVersion); err != nil {
		return fmt.Errorf("write notification: run: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO notifications
		(id, run_id, seq, tick, entity_id, variant, curr, prev, retired)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		id,
		n.RunID,
		n.Seq,
		n.Tick,
		int64(n.EntityID),
		string(n.Variant),
		curr,
		prev,
		n.Retired,
	)
	if err != nil {
		return fmt.Errorf("write notification: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
