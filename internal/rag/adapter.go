package rag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/triagestack/ticket-router/internal/models"
)

var (
	// ErrProviderUnavailable covers transport and provider-side failures.
	ErrProviderUnavailable = errors.New("llm provider unavailable")
	// ErrInferenceTimeout marks a call that exceeded its per-attempt budget.
	ErrInferenceTimeout = errors.New("llm inference timeout")
	// ErrInvalidResponse marks a response that could not be parsed into a
	// routing decision. It is handled exactly like a provider failure.
	ErrInvalidResponse = errors.New("llm returned invalid response")
)

// Completer is the language-model call the adapter depends on.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Result is a parsed LLM routing decision.
type Result struct {
	Department string
	Confidence float64
	Rationale  string
	PromptID   string
}

// AdapterConfig bounds the adapter's calls.
type AdapterConfig struct {
	Timeout       time.Duration
	MaxRetries    int
	RetryBackoff  time.Duration
	MaxConcurrent int

	// OnRetry is invoked once per retried attempt. Optional.
	OnRetry func()
}

// Adapter drives the retrieval-augmented LLM stage: it builds the prompt,
// calls the provider under a bounded timeout and concurrency cap, retries
// once with backoff, and parses the structured response.
type Adapter struct {
	completer Completer
	builder   *PromptBuilder
	cfg       AdapterConfig
	sem       chan struct{}
	logger    *slog.Logger
}

// NewAdapter constructs the adapter. A nil completer is allowed and makes
// every call fail with ErrProviderUnavailable, which the orchestrator turns
// into a fallback decision.
func NewAdapter(completer Completer, builder *PromptBuilder, cfg AdapterConfig, logger *slog.Logger) *Adapter {
	if builder == nil {
		builder = NewPromptBuilder(0)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 8
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		completer: completer,
		builder:   builder,
		cfg:       cfg,
		sem:       make(chan struct{}, cfg.MaxConcurrent),
		logger:    logger,
	}
}

// Route asks the LLM for a department, retrying failed attempts with
// exponential backoff. Parse failures count as provider failures.
func (a *Adapter) Route(ctx context.Context, ticket models.Ticket, examples []models.SimilarTicket) (Result, error) {
	if a.completer == nil {
		return Result{}, ErrProviderUnavailable
	}

	select {
	case a.sem <- struct{}{}:
		defer func() { <-a.sem }()
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}

	prompt := a.builder.Build(ticket, examples)

	attempts := a.cfg.MaxRetries + 1
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if a.cfg.OnRetry != nil {
				a.cfg.OnRetry()
			}
			backoff := a.cfg.RetryBackoff << (attempt - 1)
			a.logger.Warn("llm attempt failed, retrying",
				slog.String("ticket_id", ticket.ID),
				slog.Int("attempt", attempt),
				slog.Duration("backoff", backoff),
				slog.Any("error", lastErr))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return Result{}, ctx.Err()
			}
		}

		result, err := a.attempt(ctx, ticket, prompt)
		if err == nil {
			result.PromptID = prompt.ID
			return result, nil
		}
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		lastErr = err
	}
	return Result{}, lastErr
}

func (a *Adapter) attempt(ctx context.Context, ticket models.Ticket, prompt Prompt) (Result, error) {
	callCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	raw, err := a.completer.Complete(callCtx, prompt.System, prompt.User)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return Result{}, fmt.Errorf("%w: %v", ErrInferenceTimeout, err)
		}
		return Result{}, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	result, err := parseResponse(raw)
	if err != nil {
		a.logger.Warn("llm response rejected",
			slog.String("ticket_id", ticket.ID),
			slog.Any("error", err))
		return Result{}, err
	}
	return result, nil
}

func parseResponse(raw string) (Result, error) {
	cleaned := stripCodeFence(strings.TrimSpace(raw))

	var payload struct {
		Department string  `json:"department"`
		Confidence float64 `json:"confidence"`
		Rationale  string  `json:"rationale"`
	}
	if err := json.Unmarshal([]byte(cleaned), &payload); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if strings.TrimSpace(payload.Department) == "" {
		return Result{}, fmt.Errorf("%w: missing department", ErrInvalidResponse)
	}

	confidence := payload.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	return Result{
		Department: payload.Department,
		Confidence: confidence,
		Rationale:  payload.Rationale,
	}, nil
}

// stripCodeFence removes a surrounding markdown fence some models wrap
// around JSON output.
func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
