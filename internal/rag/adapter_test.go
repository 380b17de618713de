package rag

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/triagestack/ticket-router/internal/models"
)

type scriptedCompleter struct {
	calls     int
	responses []string
	errs      []error
}

func (s *scriptedCompleter) Complete(_ context.Context, _, _ string) (string, error) {
	idx := s.calls
	s.calls++
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	}
	return s.responses[idx], s.errs[idx]
}

func fastConfig() AdapterConfig {
	return AdapterConfig{
		Timeout:      time.Second,
		MaxRetries:   1,
		RetryBackoff: time.Millisecond,
	}
}

func TestRouteSuccess(t *testing.T) {
	completer := &scriptedCompleter{
		responses: []string{`{"department": "billing", "confidence": 0.82, "rationale": "refund request"}`},
		errs:      []error{nil},
	}
	adapter := NewAdapter(completer, NewPromptBuilder(5), fastConfig(), nil)

	result, err := adapter.Route(context.Background(), models.Ticket{ID: "T-1", Text: "refund"}, nil)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if result.Department != "billing" || result.Confidence != 0.82 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.PromptID == "" {
		t.Fatalf("result must carry the prompt id for audit evidence")
	}
}

func TestRouteRetriesOnceThenSucceeds(t *testing.T) {
	completer := &scriptedCompleter{
		responses: []string{"", `{"department": "billing", "confidence": 0.7}`},
		errs:      []error{errors.New("boom"), nil},
	}
	adapter := NewAdapter(completer, nil, fastConfig(), nil)

	result, err := adapter.Route(context.Background(), models.Ticket{ID: "T-1", Text: "x"}, nil)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if completer.calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", completer.calls)
	}
	if result.Department != "billing" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestRouteExhaustsRetries(t *testing.T) {
	completer := &scriptedCompleter{
		responses: []string{"", ""},
		errs:      []error{errors.New("down"), errors.New("still down")},
	}
	adapter := NewAdapter(completer, nil, fastConfig(), nil)

	_, err := adapter.Route(context.Background(), models.Ticket{ID: "T-1", Text: "x"}, nil)
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected provider error, got %v", err)
	}
	if completer.calls != 2 {
		t.Fatalf("expected exactly 2 attempts, got %d", completer.calls)
	}
}

func TestRouteParseFailureTreatedAsProviderFailure(t *testing.T) {
	completer := &scriptedCompleter{
		responses: []string{"not json at all", "still not json"},
		errs:      []error{nil, nil},
	}
	adapter := NewAdapter(completer, nil, fastConfig(), nil)

	_, err := adapter.Route(context.Background(), models.Ticket{ID: "T-1", Text: "x"}, nil)
	if !errors.Is(err, ErrInvalidResponse) {
		t.Fatalf("expected invalid response error, got %v", err)
	}
	if completer.calls != 2 {
		t.Fatalf("parse failures must consume retries, got %d calls", completer.calls)
	}
}

func TestRouteMissingDepartmentRejected(t *testing.T) {
	completer := &scriptedCompleter{
		responses: []string{`{"confidence": 0.9}`, `{"confidence": 0.9}`},
		errs:      []error{nil, nil},
	}
	adapter := NewAdapter(completer, nil, fastConfig(), nil)
	if _, err := adapter.Route(context.Background(), models.Ticket{ID: "T-1", Text: "x"}, nil); !errors.Is(err, ErrInvalidResponse) {
		t.Fatalf("expected invalid response, got %v", err)
	}
}

func TestRouteNilCompleter(t *testing.T) {
	adapter := NewAdapter(nil, nil, fastConfig(), nil)
	if _, err := adapter.Route(context.Background(), models.Ticket{ID: "T-1", Text: "x"}, nil); !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected provider unavailable, got %v", err)
	}
}

func TestParseResponseCodeFence(t *testing.T) {
	raw := "```json\n{\"department\": \"billing\", \"confidence\": 1.4}\n```"
	result, err := parseResponse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if result.Department != "billing" {
		t.Fatalf("unexpected department %q", result.Department)
	}
	if result.Confidence != 1 {
		t.Fatalf("confidence must be clamped to [0,1], got %v", result.Confidence)
	}
}

func TestPromptBuilderOrdersBySimilarity(t *testing.T) {
	builder := NewPromptBuilder(2)
	examples := []models.SimilarTicket{
		{Record: models.HistoricalTicketRecord{Text: "low", ActualDepartment: "a"}, Similarity: 0.5},
		{Record: models.HistoricalTicketRecord{Text: "high", ActualDepartment: "b"}, Similarity: 0.9},
		{Record: models.HistoricalTicketRecord{Text: "mid", ActualDepartment: "c"}, Similarity: 0.7},
	}

	prompt := builder.Build(models.Ticket{ID: "T-1", Text: "new ticket"}, examples)
	if prompt.ID == "" {
		t.Fatalf("prompt must have an id")
	}
	highIdx := strings.Index(prompt.User, "high")
	midIdx := strings.Index(prompt.User, "mid")
	if highIdx < 0 || midIdx < 0 || highIdx > midIdx {
		t.Fatalf("examples not ordered by similarity:\n%s", prompt.User)
	}
	if strings.Contains(prompt.User, "low") {
		t.Fatalf("example cap not applied:\n%s", prompt.User)
	}
	if !strings.Contains(prompt.User, "Resolved by: b") {
		t.Fatalf("examples must carry actual outcomes:\n%s", prompt.User)
	}
}
