package audit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/triagestack/ticket-router/internal/models"
)

func newTestLogger(t *testing.T, buffer int) *Logger {
	t.Helper()
	l, err := NewLogger(":memory:", Options{
		BufferSize: buffer,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func sampleDecision(ticketID string) models.RoutingDecision {
	return models.RoutingDecision{
		DecisionID: "d-" + ticketID,
		TicketID:   ticketID,
		Department: "credit_management",
		Confidence: 0.98,
		Method:     models.MethodRule,
		SLAHours:   4,
		Evidence:   models.Evidence{RuleID: "R001", RuleKeyword: "dispute"},
		StageLatencies: map[models.Stage]time.Duration{
			models.StageRules: 120 * time.Microsecond,
		},
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
}

func waitForEntry(t *testing.T, l *Logger, ticketID string) models.RoutingDecision {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		d, err := l.LatestForTicket(context.Background(), ticketID)
		if err == nil {
			return d
		}
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("LatestForTicket: %v", err)
		}
		if time.Now().After(deadline) {
			t.Fatalf("entry for %s never persisted", ticketID)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestLogRoundTrip(t *testing.T) {
	l := newTestLogger(t, 8)
	want := sampleDecision("T-2001")
	l.Log(want)

	got := waitForEntry(t, l, "T-2001")
	if got.DecisionID != want.DecisionID || got.TicketID != want.TicketID {
		t.Fatalf("identifiers lost: got %+v", got)
	}
	if got.Department != want.Department || got.Confidence != want.Confidence || got.Method != want.Method {
		t.Fatalf("decision fields lost: got %+v", got)
	}
	if got.Evidence.RuleID != "R001" || got.Evidence.RuleKeyword != "dispute" {
		t.Fatalf("evidence lost: got %+v", got.Evidence)
	}
	if got.StageLatencies[models.StageRules] != want.StageLatencies[models.StageRules] {
		t.Fatalf("stage latencies lost: got %+v", got.StageLatencies)
	}
	if !got.CreatedAt.Equal(want.CreatedAt) {
		t.Fatalf("created_at drifted: got %v want %v", got.CreatedAt, want.CreatedAt)
	}
}

func TestLatestForTicketReturnsMostRecent(t *testing.T) {
	l := newTestLogger(t, 8)
	first := sampleDecision("T-2002")
	second := sampleDecision("T-2002")
	second.DecisionID = "d-T-2002-redo"
	second.Department = "billing_support"
	second.Method = models.MethodLLM
	l.Log(first)
	l.Log(second)

	deadline := time.Now().Add(2 * time.Second)
	for {
		got := waitForEntry(t, l, "T-2002")
		if got.DecisionID == "d-T-2002-redo" {
			if got.Department != "billing_support" || got.Method != models.MethodLLM {
				t.Fatalf("wrong latest entry: %+v", got)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("second entry never became latest: %+v", got)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestLatestForTicketMissing(t *testing.T) {
	l := newTestLogger(t, 8)
	_, err := l.LatestForTicket(context.Background(), "no-such-ticket")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCloseDrainsBuffer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	l, err := NewLogger(path, Options{
		BufferSize: 64,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	for i := 0; i < 20; i++ {
		l.Log(sampleDecision(fmt.Sprintf("T-%04d", i)))
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if l.Dropped() != 0 {
		t.Fatalf("unexpected drops: %d", l.Dropped())
	}
	// Second close is a no-op.
	if err := l.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	// Everything buffered before Close must have reached disk.
	reopened, err := NewLogger(path, Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("T-%04d", i)
		if _, err := reopened.LatestForTicket(context.Background(), id); err != nil {
			t.Fatalf("entry %s lost across Close: %v", id, err)
		}
	}
}

func TestLogNeverBlocksWhenFull(t *testing.T) {
	l := newTestLogger(t, 1)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 500; i++ {
			l.Log(sampleDecision(fmt.Sprintf("T-%04d", i)))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Log blocked on a full buffer")
	}
}
