package utils

import (
	"testing"
	"time"
)

func TestLatencyTrackerPercentile(t *testing.T) {
	tracker := NewLatencyTracker(10)
	if got := tracker.Percentile(95); got != 0 {
		t.Fatalf("expected zero percentile without samples, got %v", got)
	}

	for i := 1; i <= 10; i++ {
		tracker.Observe(time.Duration(i) * time.Millisecond)
	}

	if got := tracker.Percentile(0); got != time.Millisecond {
		t.Fatalf("expected min 1ms, got %v", got)
	}
	if got := tracker.Percentile(100); got != 10*time.Millisecond {
		t.Fatalf("expected max 10ms, got %v", got)
	}
	if got := tracker.Percentile(50); got != 5*time.Millisecond && got != 6*time.Millisecond {
		t.Fatalf("unexpected median %v", got)
	}
}

func TestLatencyTrackerWindowEviction(t *testing.T) {
	tracker := NewLatencyTracker(3)
	for i := 1; i <= 5; i++ {
		tracker.Observe(time.Duration(i) * time.Second)
	}
	if got := tracker.Count(); got != 3 {
		t.Fatalf("expected window of 3 samples, got %d", got)
	}
	if got := tracker.Percentile(0); got != 3*time.Second {
		t.Fatalf("expected oldest retained sample 3s, got %v", got)
	}
}
