package accuracy

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/triagestack/ticket-router/internal/models"
)

// ResolvedOutcome is one ground-truth routing result after the original
// prediction has been resolved against it.
type ResolvedOutcome struct {
	Department string
	Correct    bool
}

type counters struct {
	total   int64
	correct int64
}

// Tracker maintains per-department prediction accuracy. It is written only
// by outcome ingestion and read by the similarity cache gate, so writes go
// through a single mutex while reads share it.
type Tracker struct {
	mu      sync.RWMutex
	records map[string]*counters
	logger  *slog.Logger
}

// NewTracker constructs an empty tracker.
func NewTracker(logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{records: make(map[string]*counters), logger: logger}
}

// Record registers one resolved prediction for a department.
func (t *Tracker) Record(department string, correct bool) {
	if department == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.records[department]
	if !ok {
		c = &counters{}
		t.records[department] = c
	}
	c.total++
	if correct {
		c.correct++
	}
}

// Rate returns correct/total for the department, or 0 when no predictions
// have been recorded. The result is always within [0,1].
func (t *Tracker) Rate(department string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	c, ok := t.records[department]
	if !ok || c.total == 0 {
		return 0
	}
	return float64(c.correct) / float64(c.total)
}

// Snapshot exports the current accuracy records for reporting consumers,
// sorted by department for stable output.
func (t *Tracker) Snapshot() []models.AccuracyRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]models.AccuracyRecord, 0, len(t.records))
	for dept, c := range t.records {
		rate := 0.0
		if c.total > 0 {
			rate = float64(c.correct) / float64(c.total)
		}
		out = append(out, models.AccuracyRecord{
			Department:         dept,
			TotalPredictions:   c.total,
			CorrectPredictions: c.correct,
			AccuracyRate:       rate,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Department < out[j].Department })
	return out
}

// Consume drains resolved outcomes from the feedback channel until the
// context is cancelled or the channel closes. Run it as the single
// aggregating writer so concurrent outcome ingestion never loses updates.
func (t *Tracker) Consume(ctx context.Context, outcomes <-chan ResolvedOutcome) {
	for {
		select {
		case <-ctx.Done():
			return
		case outcome, ok := <-outcomes:
			if !ok {
				return
			}
			t.Record(outcome.Department, outcome.Correct)
			t.logger.Debug("outcome recorded",
				slog.String("department", outcome.Department),
				slog.Bool("correct", outcome.Correct))
		}
	}
}
