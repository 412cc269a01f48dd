package store

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/tomjrwilliams/xsm/internal/broker"
	"github.com/tomjrwilliams/xsm/internal/engine"
	"github.com/tomjrwilliams/xsm/internal/ir"
	"github.com/tomjrwilliams/xsm/internal/rules"
)

func TestVerifyRun(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.FinishRun(ctx, testMeta(), testOutcome("run-1"), nil); err != nil {
		t.Fatalf("FinishRun() failed: %v", err)
	}

	v, err := s.VerifyRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("VerifyRun() failed: %v", err)
	}
	if !v.OK() {
		t.Errorf("digest mismatch: recorded %s, computed %s", v.Recorded, v.Computed)
	}
	if v.Entities != 2 {
		t.Errorf("Entities = %d, want 2", v.Entities)
	}
}

func TestVerifyRun_DetectsTampering(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.FinishRun(ctx, testMeta(), testOutcome("run-1"), nil); err != nil {
		t.Fatalf("FinishRun() failed: %v", err)
	}
	if _, err := s.db.Exec("UPDATE snapshots SET curr = '0.5' WHERE run_id = 'run-1' AND entity_id = 0"); err != nil {
		t.Fatalf("tamper: %v", err)
	}

	v, err := s.VerifyRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("VerifyRun() failed: %v", err)
	}
	if v.OK() {
		t.Error("VerifyRun() reported OK after the snapshot changed")
	}
}

func TestVerifyRun_Unfinished(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.BeginRun(ctx, "run-1", testMeta()); err != nil {
		t.Fatalf("BeginRun() failed: %v", err)
	}
	v, err := s.VerifyRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("VerifyRun() failed: %v", err)
	}
	if v.OK() {
		t.Error("a run without a recorded digest must not verify")
	}
}

// TestRecordedRun drives a counter model through the engine with the store
// subscribed via the broker, then checks the trace end to end.
func TestRecordedRun(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	limit := 1.0
	model := &ir.ModelSpec{
		Name: "counter",
		Variants: []ir.VariantSpec{{
			Name:      "counter",
			Kind:      ir.KindEntity,
			DependsOn: []string{"counter"},
			Match:     &ir.MatchSpec{SelfBelowLimit: true},
			Action:    &ir.ActionSpec{Kind: ir.ActionIncrement, Step: 0.1, Limit: &limit},
		}},
		Seeds: []ir.SeedSpec{{Variant: "counter", Value: ir.IRFloat(0)}},
	}
	cat, err := rules.NewCatalog(model)
	if err != nil {
		t.Fatalf("NewCatalog() failed: %v", err)
	}
	seeds, err := cat.Seeds(model)
	if err != nil {
		t.Fatalf("Seeds() failed: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	b := broker.New([]broker.Observer{s}, broker.WithLogger(logger))
	eng, err := engine.New(
		engine.WithStrategy(engine.StrategyCooperative),
		engine.WithPublisher(b),
		engine.WithLogger(logger),
		engine.WithRunIDGenerator(engine.NewFixedGenerator("run-rec")),
	)
	if err != nil {
		t.Fatalf("engine.New() failed: %v", err)
	}

	meta := testMeta()
	if err := s.BeginRun(ctx, "run-rec", meta); err != nil {
		t.Fatalf("BeginRun() failed: %v", err)
	}
	out, err := eng.Run(ctx, seeds)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if _, err := b.Flush(ctx); err != nil {
		t.Fatalf("Flush() failed: %v", err)
	}
	if err := s.FinishRun(ctx, meta, out, nil); err != nil {
		t.Fatalf("FinishRun() failed: %v", err)
	}

	records, err := s.ReadTimeline(ctx, "run-rec", "counter")
	if err != nil {
		t.Fatalf("ReadTimeline() failed: %v", err)
	}
	// The seed plus ten increments.
	if len(records) != 11 {
		t.Fatalf("got %d records, want 11", len(records))
	}
	last := records[len(records)-1]
	if last.Curr != ir.IRInt(1) {
		t.Errorf("final curr = %#v, want 1", last.Curr)
	}

	v, err := s.VerifyRun(ctx, "run-rec")
	if err != nil {
		t.Fatalf("VerifyRun() failed: %v", err)
	}
	if !v.OK() {
		t.Errorf("digest mismatch: recorded %s, computed %s", v.Recorded, v.Computed)
	}
	digest, err := out.Digest()
	if err != nil {
		t.Fatalf("Digest() failed: %v", err)
	}
	if v.Recorded != digest {
		t.Errorf("recorded %s, want %s", v.Recorded, digest)
	}
}
