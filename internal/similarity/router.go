package similarity

import (
	"context"
	"log/slog"

	"github.com/triagestack/ticket-router/internal/config"
	"github.com/triagestack/ticket-router/internal/models"
)

// Compiled-in gate defaults, used until config-driven thresholds load.
const (
	DefaultSimilarityThreshold = 0.88
	DefaultAccuracyThreshold   = 0.82
	DefaultCandidates          = 5
)

// Index describes the similarity index operations required by the router.
type Index interface {
	SimilarTickets(ctx context.Context, text string, limit int) ([]models.SimilarTicket, error)
}

// AccuracySource exposes per-department prediction accuracy. An unseen or
// zero-total department reports 0, forcing a cache miss.
type AccuracySource interface {
	Rate(department string) float64
}

// Verdict is the outcome of a cache evaluation. Candidates are returned on
// miss as well, so the RAG stage can reuse them without a second query.
type Verdict struct {
	Hit          bool
	Record       models.HistoricalTicketRecord
	Similarity   float64
	AccuracyRate float64
	Candidates   []models.SimilarTicket
}

// Router gates reuse of historical outcomes: a candidate only becomes the
// decision when both its similarity and its department's tracked accuracy
// clear their thresholds.
type Router struct {
	index     Index
	accuracy  AccuracySource
	snapshots config.Source
	logger    *slog.Logger
	onGate    func(hit bool)
}

// NewRouter constructs a similarity router.
func NewRouter(index Index, accuracy AccuracySource, snapshots config.Source, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{index: index, accuracy: accuracy, snapshots: snapshots, logger: logger}
}

// SetGateObserver registers a callback invoked once per gate evaluation.
func (r *Router) SetGateObserver(fn func(hit bool)) {
	r.onGate = fn
}

func (r *Router) observeGate(hit bool) {
	if r.onGate != nil {
		r.onGate(hit)
	}
}

// Evaluate queries the index and applies the cache-hit gate.
func (r *Router) Evaluate(ctx context.Context, ticket models.Ticket) (Verdict, error) {
	simThreshold, accThreshold, limit := r.thresholds()

	candidates, err := r.index.SimilarTickets(ctx, ticket.Text, limit)
	if err != nil {
		return Verdict{}, err
	}
	if len(candidates) == 0 {
		r.observeGate(false)
		return Verdict{Candidates: candidates}, nil
	}

	best := pickBest(candidates, r.accuracy)
	rate := r.accuracy.Rate(best.Record.ActualDepartment)

	verdict := Verdict{
		Record:       best.Record,
		Similarity:   best.Similarity,
		AccuracyRate: rate,
		Candidates:   candidates,
	}
	if best.Similarity >= simThreshold && rate >= accThreshold {
		verdict.Hit = true
		r.observeGate(true)
		return verdict, nil
	}

	r.observeGate(false)
	r.logger.Debug("cache gate miss",
		slog.String("ticket_id", ticket.ID),
		slog.Float64("similarity", best.Similarity),
		slog.Float64("accuracy_rate", rate))
	return verdict, nil
}

func (r *Router) thresholds() (sim, acc float64, limit int) {
	sim, acc, limit = DefaultSimilarityThreshold, DefaultAccuracyThreshold, DefaultCandidates
	if r.snapshots == nil {
		return sim, acc, limit
	}
	snap := r.snapshots.Current()
	if snap == nil || !snap.FeatureFlags.UseConfigDrivenThresholds {
		return sim, acc, limit
	}
	if snap.Routing.SimilarityThreshold > 0 {
		sim = snap.Routing.SimilarityThreshold
	}
	if snap.Routing.AccuracyThreshold > 0 {
		acc = snap.Routing.AccuracyThreshold
	}
	if snap.Routing.RAGExamples > 0 {
		limit = snap.Routing.RAGExamples
	}
	return sim, acc, limit
}

// pickBest selects the top candidate: highest similarity, ties broken by
// higher department accuracy, then by the most recent record.
func pickBest(candidates []models.SimilarTicket, accuracy AccuracySource) models.SimilarTicket {
	best := candidates[0]
	for _, candidate := range candidates[1:] {
		if candidate.Similarity > best.Similarity {
			best = candidate
			continue
		}
		if candidate.Similarity < best.Similarity {
			continue
		}
		candidateRate := accuracy.Rate(candidate.Record.ActualDepartment)
		bestRate := accuracy.Rate(best.Record.ActualDepartment)
		if candidateRate > bestRate {
			best = candidate
			continue
		}
		if candidateRate == bestRate && candidate.Record.CreatedAt.After(best.Record.CreatedAt) {
			best = candidate
		}
	}
	return best
}
