package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/tomjrwilliams/xsm/internal/engine"
	"github.com/tomjrwilliams/xsm/internal/ir"
)

type fakeState struct {
	variant engine.Variant
	curr    any
	prev    any
}

func (s fakeState) Variant() engine.Variant             { return s.variant }
func (s fakeState) Curr() any                           { return s.curr }
func (s fakeState) Prev() any                           { return s.prev }
func (s fakeState) Persists() bool                      { return true }
func (s fakeState) Dependencies() []engine.Variant      { return nil }
func (s fakeState) Matches(engine.Event) bool           { return false }
func (s fakeState) Handler(engine.Event) engine.Handler { return nil }

func testMeta() RunMeta {
	return RunMeta{
		Model:     "counter",
		ModelHash: "abc123",
		Strategy:  "cooperative",
		Workers:   1,
		Iters:     100,
		StartedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func testOutcome(runID string) *engine.Outcome {
	return &engine.Outcome{
		RunID:  runID,
		Status: engine.StatusQuiesced,
		Entities: []engine.Entry{
			{ID: 0, State: fakeState{variant: "counter", curr: 1.0, prev: 0.9}},
			{ID: 2, State: fakeState{variant: "gauge", curr: "high", prev: nil}},
		},
		Ticks:     11,
		Submitted: 10,
		Completed: 10,
		Dropped:   1,
		Elapsed:   25 * time.Millisecond,
	}
}

func TestBeginRun(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.BeginRun(ctx, "run-1", testMeta()); err != nil {
		t.Fatalf("BeginRun() failed: %v", err)
	}
	// Idempotent.
	if err := s.BeginRun(ctx, "run-1", testMeta()); err != nil {
		t.Fatalf("second BeginRun() failed: %v", err)
	}

	info, err := s.ReadRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("ReadRun() failed: %v", err)
	}
	if info.Status != "running" {
		t.Errorf("Status = %q, want running", info.Status)
	}
	if info.Model != "counter" || info.Strategy != "cooperative" || info.Iters != 100 {
		t.Errorf("unexpected run row: %+v", info)
	}
	if info.StartedAt != "2026-01-02T03:04:05Z" {
		t.Errorf("StartedAt = %q", info.StartedAt)
	}
	if info.EngineVersion != ir.EngineVersion || info.IRVersion != ir.IRVersion {
		t.Errorf("versions = %q/%q", info.EngineVersion, info.IRVersion)
	}
}

func TestFinishRun(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	out := testOutcome("run-1")

	if err := s.BeginRun(ctx, "run-1", testMeta()); err != nil {
		t.Fatalf("BeginRun() failed: %v", err)
	}
	if err := s.FinishRun(ctx, testMeta(), out, nil); err != nil {
		t.Fatalf("FinishRun() failed: %v", err)
	}

	info, err := s.ReadRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("ReadRun() failed: %v", err)
	}
	want, err := out.Digest()
	if err != nil {
		t.Fatalf("Digest() failed: %v", err)
	}
	if info.Status != "quiesced" {
		t.Errorf("Status = %q, want quiesced", info.Status)
	}
	if info.Digest != want {
		t.Errorf("Digest = %q, want %q", info.Digest, want)
	}
	if info.Ticks != 11 || info.Submitted != 10 || info.Dropped != 1 || info.ElapsedMS != 25 {
		t.Errorf("unexpected counters: %+v", info)
	}
	if info.Error != "" {
		t.Errorf("Error = %q, want empty", info.Error)
	}
}

func TestFinishRun_RecordsError(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	out := testOutcome("run-1")
	out.Status = engine.StatusFailed

	if err := s.FinishRun(ctx, testMeta(), out, errors.New("handler failed")); err != nil {
		t.Fatalf("FinishRun() failed: %v", err)
	}

	info, err := s.ReadRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("ReadRun() failed: %v", err)
	}
	if info.Status != "failed" || info.Error != "handler failed" {
		t.Errorf("Status/Error = %q/%q", info.Status, info.Error)
	}
	// Without BeginRun the row still carries the metadata.
	if info.Model != "counter" {
		t.Errorf("Model = %q, want counter", info.Model)
	}
}

func TestFinishRun_Twice(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.FinishRun(ctx, testMeta(), testOutcome("run-1"), nil); err != nil {
		t.Fatalf("first FinishRun() failed: %v", err)
	}
	if err := s.FinishRun(ctx, testMeta(), testOutcome("run-1"), nil); err != nil {
		t.Fatalf("second FinishRun() failed: %v", err)
	}

	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM snapshots WHERE run_id = ?", "run-1").Scan(&count); err != nil {
		t.Fatalf("count snapshots: %v", err)
	}
	if count != 2 {
		t.Errorf("snapshot rows = %d, want 2", count)
	}
}

func TestReceive(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	n := engine.Notification{
		RunID:    "run-1",
		Seq:      1,
		Tick:     0,
		EntityID: 0,
		Variant:  "counter",
		Curr:     0.0,
	}
	if !s.Matches(n) {
		t.Fatal("Matches() = false, want true")
	}
	if err := s.Receive(ctx, n); err != nil {
		t.Fatalf("Receive() failed: %v", err)
	}
	// Redelivery is ignored.
	if err := s.Receive(ctx, n); err != nil {
		t.Fatalf("second Receive() failed: %v", err)
	}

	records, err := s.ReadTimeline(ctx, "run-1", "")
	if err != nil {
		t.Fatalf("ReadTimeline() failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	if _, ok := records[0].Prev.(ir.IRNull); !ok {
		t.Errorf("Prev = %#v, want IRNull", records[0].Prev)
	}

	// A placeholder run row exists.
	info, err := s.ReadRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("ReadRun() failed: %v", err)
	}
	if info.Status != "running" {
		t.Errorf("Status = %q, want running", info.Status)
	}
}

func TestReceive_NotificationID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	n := engine.Notification{RunID: "run-1", Seq: 4, Variant: "price", EntityID: engine.NoID, Curr: 101.5}
	if err := s.Receive(ctx, n); err != nil {
		t.Fatalf("Receive() failed: %v", err)
	}

	want, err := ir.NotificationID("run-1", 4, "price", ir.IRFloat(101.5))
	if err != nil {
		t.Fatalf("NotificationID() failed: %v", err)
	}
	var got string
	if err := s.db.QueryRow("SELECT id FROM notifications WHERE run_id = ?", "run-1").Scan(&got); err != nil {
		t.Fatalf("query id: %v", err)
	}
	if got != want {
		t.Errorf("id = %s, want %s", got, want)
	}
}

func TestReceive_RejectsUnsupportedPayload(t *testing.T) {
	s := openTestStore(t)

	n := engine.Notification{RunID: "run-1", Seq: 1, Variant: "x", Curr: struct{}{}}
	if err := s.Receive(context.Background(), n); err == nil {
		t.Fatal("Receive() succeeded, want error")
	}
}

func TestReadRun_Missing(t *testing.T) {
	s := openTestStore(t)

	_, err := s.ReadRun(context.Background(), "nope")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("ReadRun() error = %v, want sql.ErrNoRows", err)
	}
}
