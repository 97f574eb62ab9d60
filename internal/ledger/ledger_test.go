package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/predictbot/gopredict/internal/timeline"
)

func openTestLedger(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecordAndListAnchors(t *testing.T) {
	s := openTestLedger(t)
	ctx := context.Background()

	a := timeline.Anchor{
		BestMatch:      &timeline.PredictionPacket{ID: "pkt-1"},
		TimelineID:     "tl-1",
		ErrorMagnitude: 0.042,
		Timestamp:      time.Now(),
	}
	if err := s.RecordAnchor(ctx, a, 3); err != nil {
		t.Fatalf("RecordAnchor: %v", err)
	}

	records, err := s.RecentAnchors(ctx, 10)
	if err != nil {
		t.Fatalf("RecentAnchors: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("len = %d, want 1", len(records))
	}
	r := records[0]
	if r.TimelineID != "tl-1" || r.PacketID != "pkt-1" || r.Pruned != 3 {
		t.Errorf("record = %+v", r)
	}
	if r.ErrorMagnitude != 0.042 {
		t.Errorf("ErrorMagnitude = %v, want 0.042", r.ErrorMagnitude)
	}
}

func TestRecentAnchorsOrder(t *testing.T) {
	s := openTestLedger(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		a := timeline.Anchor{
			BestMatch:  &timeline.PredictionPacket{ID: "pkt"},
			TimelineID: string(rune('a' + i)),
			Timestamp:  time.Now(),
		}
		if err := s.RecordAnchor(ctx, a, 0); err != nil {
			t.Fatalf("RecordAnchor: %v", err)
		}
	}

	records, err := s.RecentAnchors(ctx, 2)
	if err != nil {
		t.Fatalf("RecentAnchors: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("len = %d, want 2", len(records))
	}
	// 倒序：最新的在前
	if records[0].TimelineID != "c" || records[1].TimelineID != "b" {
		t.Errorf("order = %s, %s; want c, b", records[0].TimelineID, records[1].TimelineID)
	}
}

func TestRecordAndListFrames(t *testing.T) {
	s := openTestLedger(t)
	ctx := context.Background()

	if err := s.RecordFrame(ctx, 10*time.Millisecond, 50*time.Millisecond, 3); err != nil {
		t.Fatalf("RecordFrame: %v", err)
	}
	if err := s.RecordFrame(ctx, 80*time.Millisecond, 50*time.Millisecond, 1); err != nil {
		t.Fatalf("RecordFrame: %v", err)
	}

	records, err := s.RecentFrames(ctx, 10)
	if err != nil {
		t.Fatalf("RecentFrames: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("len = %d, want 2", len(records))
	}
	// 倒序：超预算的那条在前
	if !records[0].OverBudget {
		t.Error("最近一帧应该标记为超预算")
	}
	if records[1].OverBudget {
		t.Error("第一帧不应该标记为超预算")
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Count != 2 || stats.OverBudget != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(""); err == nil {
		t.Fatal("空路径应该返回错误")
	}
}
