package accuracy

import (
	"context"
	"sync"
	"testing"
)

func TestRateEmptyDepartmentIsZero(t *testing.T) {
	tracker := NewTracker(nil)
	if got := tracker.Rate("billing"); got != 0 {
		t.Fatalf("expected 0 for unseen department, got %v", got)
	}
}

func TestRecordAndRate(t *testing.T) {
	tracker := NewTracker(nil)
	tracker.Record("billing", true)
	tracker.Record("billing", true)
	tracker.Record("billing", false)

	if got := tracker.Rate("billing"); got < 0.66 || got > 0.67 {
		t.Fatalf("expected 2/3, got %v", got)
	}
}

func TestSnapshotInvariants(t *testing.T) {
	tracker := NewTracker(nil)
	tracker.Record("billing", false)
	tracker.Record("technical_support_l2", true)
	tracker.Record("billing", true)

	var lastTotal int64
	for i := 0; i < 50; i++ {
		tracker.Record("billing", i%2 == 0)
		snap := tracker.Snapshot()
		for _, rec := range snap {
			if rec.AccuracyRate < 0 || rec.AccuracyRate > 1 {
				t.Fatalf("accuracy rate out of range: %+v", rec)
			}
			if rec.Department == "billing" {
				if rec.TotalPredictions < lastTotal {
					t.Fatalf("total predictions decreased: %d -> %d", lastTotal, rec.TotalPredictions)
				}
				lastTotal = rec.TotalPredictions
			}
		}
	}
}

func TestConcurrentRecordNoLostUpdates(t *testing.T) {
	tracker := NewTracker(nil)
	const writers = 8
	const perWriter = 200

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				tracker.Record("billing", true)
			}
		}()
	}
	wg.Wait()

	snap := tracker.Snapshot()
	if len(snap) != 1 || snap[0].TotalPredictions != writers*perWriter {
		t.Fatalf("lost updates: %+v", snap)
	}
}

func TestConsumeDrainsChannel(t *testing.T) {
	tracker := NewTracker(nil)
	outcomes := make(chan ResolvedOutcome, 4)
	outcomes <- ResolvedOutcome{Department: "billing", Correct: true}
	outcomes <- ResolvedOutcome{Department: "billing", Correct: false}
	close(outcomes)

	tracker.Consume(context.Background(), outcomes)
	if got := tracker.Rate("billing"); got != 0.5 {
		t.Fatalf("expected 0.5 after consuming, got %v", got)
	}
}
