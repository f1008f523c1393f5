package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/dkeye/Callbridge/internal/core"
)

func openTemp(t *testing.T) *CallLog {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "calls.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCallLogLifecycle(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	start := time.UnixMilli(1_700_000_000_000)

	err := s.CallStarted(ctx, core.CallRecord{SessionID: "A#B", Caller: "A", Answerer: "B", StartedAt: start})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.CallEnded(ctx, "A#B", start.Add(time.Minute), "hangup"); err != nil {
		t.Fatal(err)
	}

	recs, err := s.Recent(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 {
		t.Fatalf("records = %+v", recs)
	}
	r := recs[0]
	if r.SessionID != "A#B" || r.Caller != "A" || r.Answerer != "B" || !r.StartedAt.Equal(start) {
		t.Fatalf("record = %+v", r)
	}
	if r.EndedAt == nil || !r.EndedAt.Equal(start.Add(time.Minute)) || r.EndReason != "hangup" {
		t.Fatalf("end = %v %q", r.EndedAt, r.EndReason)
	}
}

func TestCallLogClosesLatestOpenRow(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	t0 := time.UnixMilli(1_700_000_000_000)

	_ = s.CallStarted(ctx, core.CallRecord{SessionID: "A#B", Caller: "A", Answerer: "B", StartedAt: t0})
	_ = s.CallEnded(ctx, "A#B", t0.Add(time.Second), "hangup")
	_ = s.CallStarted(ctx, core.CallRecord{SessionID: "A#B", Caller: "B", Answerer: "A", StartedAt: t0.Add(time.Hour)})
	_ = s.CallEnded(ctx, "A#B", t0.Add(2*time.Hour), "disconnect")

	recs, err := s.Recent(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("records = %+v", recs)
	}
	if recs[0].Caller != "B" || recs[0].EndReason != "disconnect" {
		t.Fatalf("newest = %+v", recs[0])
	}
	if recs[1].EndReason != "hangup" || !recs[1].EndedAt.Equal(t0.Add(time.Second)) {
		t.Fatalf("older row overwritten: %+v", recs[1])
	}
}

func TestCallLogEndWithoutStart(t *testing.T) {
	s := openTemp(t)
	if err := s.CallEnded(context.Background(), "X#Y", time.Now(), "forced"); err != nil {
		t.Fatalf("ending an unknown session should not fail: %v", err)
	}
}

func TestCallLogRecentLimit(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_ = s.CallStarted(ctx, core.CallRecord{SessionID: "A#B", Caller: "A", Answerer: "B", StartedAt: time.Now()})
	}
	recs, err := s.Recent(ctx, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 3 {
		t.Fatalf("len = %d", len(recs))
	}
	if recs[0].ID < recs[1].ID {
		t.Fatal("records not newest first")
	}
}
