package store

import (
	"context"
	"fmt"

	"github.com/tomjrwilliams/xsm/internal/ir"
)

// Verification compares a run's recorded digest with one recomputed from
// its stored snapshot.
type Verification struct {
	RunID    string
	Recorded string
	Computed string
	Entities int
}

// OK reports whether the digests agree.
func (v Verification) OK() bool {
	return v.Recorded != "" && v.Recorded == v.Computed
}

// VerifyRun recomputes the digest of a finished run from the snapshot rows.
// A mismatch means the stored registry no longer matches what the engine
// reported when the run finished.
func (s *Store) VerifyRun(ctx context.Context, runID string) (Verification, error) {
	info, err := s.ReadRun(ctx, runID)
	if err != nil {
		return Verification{}, err
	}
	snap, err := s.ReadSnapshot(ctx, runID)
	if err != nil {
		return Verification{}, err
	}
	computed, err := ir.Digest(ir.DomainSnapshot, snap)
	if err != nil {
		return Verification{}, fmt.Errorf("verify run %s: %w", runID, err)
	}
	return Verification{
		RunID:    runID,
		Recorded: info.Digest,
		Computed: computed,
		Entities: len(snap),
	}, nil
}
