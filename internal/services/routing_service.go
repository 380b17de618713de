package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/triagestack/ticket-router/internal/accuracy"
	"github.com/triagestack/ticket-router/internal/metrics"
	"github.com/triagestack/ticket-router/internal/models"
	"github.com/triagestack/ticket-router/internal/utils"
)

// Decider produces one routing decision per ticket.
type Decider interface {
	Decide(ctx context.Context, ticket models.Ticket) (models.RoutingDecision, error)
}

// AuditJournal records decisions and resolves past predictions.
type AuditJournal interface {
	Log(decision models.RoutingDecision)
	LatestForTicket(ctx context.Context, ticketID string) (models.RoutingDecision, error)
}

// HistoryStore persists resolved tickets into the similarity index.
type HistoryStore interface {
	StoreRecord(ctx context.Context, record models.HistoricalTicketRecord) error
}

// AccuracyReader exposes the tracked per-department accuracy.
type AccuracyReader interface {
	Snapshot() []models.AccuracyRecord
}

// RoutingService is the decision engine facade: it validates tickets,
// runs the orchestrator, journals and measures the decision, and feeds
// resolved outcomes back into the accuracy tracker and similarity index.
type RoutingService struct {
	logger    *slog.Logger
	decider   Decider
	journal   AuditJournal
	history   HistoryStore
	tracker   AccuracyReader
	outcomes  chan<- accuracy.ResolvedOutcome
	latencies *utils.LatencyTracker
}

// NewRoutingService constructs the facade. The outcomes channel feeds the
// accuracy tracker's consumer; it may be nil in tests that do not exercise
// the feedback loop.
func NewRoutingService(logger *slog.Logger, decider Decider, journal AuditJournal, history HistoryStore, tracker AccuracyReader, outcomes chan<- accuracy.ResolvedOutcome) *RoutingService {
	if logger == nil {
		logger = slog.Default()
	}
	return &RoutingService{
		logger:    logger,
		decider:   decider,
		journal:   journal,
		history:   history,
		tracker:   tracker,
		outcomes:  outcomes,
		latencies: utils.NewLatencyTracker(1024),
	}
}

// Route decides where one ticket goes.
func (s *RoutingService) Route(ctx context.Context, ticket models.Ticket) (models.RoutingDecision, error) {
	if s.decider == nil {
		return models.RoutingDecision{}, fmt.Errorf("routing: decider not configured")
	}
	if ticket.ID == "" {
		ticket.ID = uuid.NewString()
	}

	start := time.Now()
	decision, err := s.decider.Decide(ctx, ticket)
	duration := time.Since(start)
	if err != nil {
		s.logger.Error("routing decision failed",
			slog.String("ticket_id", ticket.ID),
			slog.Any("error", err))
		return models.RoutingDecision{}, err
	}

	metrics.ObserveDecision(decision, duration)
	if s.journal != nil {
		s.journal.Log(decision)
	}

	s.latencies.Observe(duration)
	if count := s.latencies.Count(); count >= 20 && count%20 == 0 {
		p95 := s.latencies.Percentile(95)
		s.logger.Info("routing latency", slog.Duration("p95", p95), slog.Int("samples", count))
	}

	s.logger.Debug("ticket routed",
		slog.String("ticket_id", decision.TicketID),
		slog.String("decision_id", decision.DecisionID),
		slog.String("department", decision.Department),
		slog.String("method", string(decision.Method)),
		slog.Float64("confidence", decision.Confidence))
	return decision, nil
}

// SubmitOutcome closes the feedback loop for one resolved ticket: it looks
// up the prediction, records whether it was correct, and stores the
// resolved ticket in the similarity index when its text is supplied.
func (s *RoutingService) SubmitOutcome(ctx context.Context, event models.OutcomeEvent, ticketText string) error {
	if event.TicketID == "" {
		return &models.ValidationError{Field: "ticket_id", Reason: "is required"}
	}
	if event.ActualDepartment == "" {
		return &models.ValidationError{Field: "actual_department", Reason: "is required"}
	}
	if s.journal == nil {
		return fmt.Errorf("routing: audit journal not configured")
	}

	decision, err := s.journal.LatestForTicket(ctx, event.TicketID)
	if err != nil {
		return fmt.Errorf("routing: resolve prediction for %s: %w", event.TicketID, err)
	}
	correct := decision.Department == event.ActualDepartment

	if s.outcomes != nil {
		select {
		case s.outcomes <- accuracy.ResolvedOutcome{Department: decision.Department, Correct: correct}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if s.history != nil && ticketText != "" {
		record := models.HistoricalTicketRecord{
			ID:                     uuid.NewString(),
			Text:                   ticketText,
			ActualDepartment:       event.ActualDepartment,
			ResolutionTime:         event.ResolutionTime,
			Satisfaction:           event.Satisfaction,
			PriorPredictionCorrect: correct,
			CreatedAt:              time.Now().UTC(),
		}
		if err := s.history.StoreRecord(ctx, record); err != nil {
			// The accuracy update already landed; index growth is best effort.
			s.logger.Warn("storing resolved ticket failed",
				slog.String("ticket_id", event.TicketID),
				slog.Any("error", err))
		}
	}

	s.logger.Info("outcome recorded",
		slog.String("ticket_id", event.TicketID),
		slog.String("predicted", decision.Department),
		slog.String("actual", event.ActualDepartment),
		slog.Bool("correct", correct))
	return nil
}

// AccuracySnapshot reports tracked per-department accuracy.
func (s *RoutingService) AccuracySnapshot() []models.AccuracyRecord {
	if s.tracker == nil {
		return nil
	}
	return s.tracker.Snapshot()
}
