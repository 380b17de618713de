package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/triagestack/ticket-router/internal/config"
	"github.com/triagestack/ticket-router/internal/models"
	"github.com/triagestack/ticket-router/internal/rag"
	"github.com/triagestack/ticket-router/internal/rules"
	"github.com/triagestack/ticket-router/internal/similarity"
)

// Compiled-in fallbacks, used when config-driven thresholds are disabled
// or no snapshot has loaded.
const (
	DefaultDepartment         = "customer_service"
	DefaultFallbackConfidence = 0.30
)

// RuleMatcher is the deterministic first stage.
type RuleMatcher interface {
	Evaluate(text string) (rules.Match, bool)
}

// CacheEvaluator is the similarity-gated second stage.
type CacheEvaluator interface {
	Evaluate(ctx context.Context, ticket models.Ticket) (similarity.Verdict, error)
}

// LLMRouter is the retrieval-augmented final stage.
type LLMRouter interface {
	Route(ctx context.Context, ticket models.Ticket, examples []models.SimilarTicket) (rag.Result, error)
}

// Orchestrator sequences the routing stages into exactly one decision per
// ticket. It holds no per-ticket state, so one instance serves concurrent
// workers.
type Orchestrator struct {
	matcher   RuleMatcher
	cache     CacheEvaluator
	llm       LLMRouter
	snapshots config.Source
	logger    *slog.Logger
}

// NewOrchestrator wires the three stages together.
func NewOrchestrator(matcher RuleMatcher, cache CacheEvaluator, llm LLMRouter, snapshots config.Source, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		matcher:   matcher,
		cache:     cache,
		llm:       llm,
		snapshots: snapshots,
		logger:    logger,
	}
}

// Decide runs the pipeline for one ticket. Stage failures degrade to the
// next stage and finally to a fallback decision; the only non-decision
// returns are input validation and caller cancellation.
func (o *Orchestrator) Decide(ctx context.Context, ticket models.Ticket) (models.RoutingDecision, error) {
	if err := ticket.Validate(); err != nil {
		return models.RoutingDecision{}, err
	}

	latencies := make(map[models.Stage]time.Duration, 3)

	// RULES_EVAL: first match short-circuits the pipeline.
	rulesStart := time.Now()
	match, matched := o.matcher.Evaluate(ticket.Text)
	latencies[models.StageRules] = time.Since(rulesStart)
	if matched {
		return o.finish(ticket, models.RoutingDecision{
			Department: match.Rule.Department,
			Confidence: match.Confidence,
			Method:     models.MethodRule,
			SLAHours:   match.SLAHours,
			Evidence: models.Evidence{
				RuleID:      match.Rule.ID,
				RuleKeyword: match.Keyword,
			},
		}, latencies), nil
	}

	if err := ctx.Err(); err != nil {
		return models.RoutingDecision{}, err
	}

	// CACHE_EVAL: gated reuse of a historical outcome. An index failure is
	// logged and treated as a miss so the pipeline keeps moving.
	var candidates []models.SimilarTicket
	cacheStart := time.Now()
	verdict, err := o.cache.Evaluate(ctx, ticket)
	latencies[models.StageCache] = time.Since(cacheStart)
	if err != nil {
		if ctx.Err() != nil {
			return models.RoutingDecision{}, ctx.Err()
		}
		o.logger.Warn("similarity stage failed, continuing to llm",
			slog.String("ticket_id", ticket.ID),
			slog.Any("error", err))
	} else {
		candidates = verdict.Candidates
		if verdict.Hit {
			return o.finish(ticket, models.RoutingDecision{
				Department: verdict.Record.ActualDepartment,
				Confidence: verdict.Similarity,
				Method:     models.MethodCache,
				Evidence: models.Evidence{
					CacheRecordID: verdict.Record.ID,
					Similarity:    verdict.Similarity,
					AccuracyRate:  verdict.AccuracyRate,
				},
			}, latencies), nil
		}
	}

	// LLM_EVAL: retrieval-augmented final stage; retries happen inside the
	// adapter, never here.
	llmStart := time.Now()
	result, err := o.llm.Route(ctx, ticket, candidates)
	latencies[models.StageLLM] = time.Since(llmStart)
	if err == nil {
		return o.finish(ticket, models.RoutingDecision{
			Department: result.Department,
			Confidence: result.Confidence,
			Method:     models.MethodLLM,
			Evidence: models.Evidence{
				PromptID:  result.PromptID,
				Rationale: result.Rationale,
			},
		}, latencies), nil
	}
	if ctx.Err() != nil {
		return models.RoutingDecision{}, ctx.Err()
	}

	o.logger.Warn("llm stage exhausted, issuing fallback decision",
		slog.String("ticket_id", ticket.ID),
		slog.Any("error", err))

	department, confidence := o.fallback()
	return o.finish(ticket, models.RoutingDecision{
		Department:       department,
		Confidence:       confidence,
		Method:           models.MethodFallback,
		NeedsHumanReview: true,
		Evidence:         models.Evidence{Rationale: err.Error()},
	}, latencies), nil
}

func (o *Orchestrator) finish(ticket models.Ticket, decision models.RoutingDecision, latencies map[models.Stage]time.Duration) models.RoutingDecision {
	decision.DecisionID = uuid.NewString()
	decision.TicketID = ticket.ID
	decision.StageLatencies = latencies
	decision.CreatedAt = time.Now().UTC()
	return decision
}

func (o *Orchestrator) fallback() (department string, confidence float64) {
	department, confidence = DefaultDepartment, DefaultFallbackConfidence
	if o.snapshots == nil {
		return department, confidence
	}
	snap := o.snapshots.Current()
	if snap == nil || !snap.FeatureFlags.UseConfigDrivenThresholds {
		return department, confidence
	}
	if snap.Routing.DefaultDepartment != "" {
		department = snap.Routing.DefaultDepartment
	}
	confidence = snap.Routing.FallbackConfidence
	return department, confidence
}
