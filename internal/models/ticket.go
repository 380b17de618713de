package models

import (
	"fmt"
	"strings"
	"time"
)

// MaxTicketTextBytes bounds ticket text accepted into the pipeline.
const MaxTicketTextBytes = 32 * 1024

// Ticket is the routing input received from the ticketing integration.
type Ticket struct {
	ID       string            `json:"id"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ValidationError describes malformed ticket input. Tickets failing
// validation are rejected before entering the decision pipeline.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid ticket: %s %s", e.Field, e.Reason)
}

// Validate checks the ticket before processing.
func (t Ticket) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return &ValidationError{Field: "id", Reason: "is required"}
	}
	if strings.TrimSpace(t.Text) == "" {
		return &ValidationError{Field: "text", Reason: "is required"}
	}
	if len(t.Text) > MaxTicketTextBytes {
		return &ValidationError{Field: "text", Reason: fmt.Sprintf("exceeds %d bytes", MaxTicketTextBytes)}
	}
	return nil
}

// HistoricalTicketRecord is a resolved ticket kept in the similarity index.
// Its actual outcome feeds both cache reuse and RAG few-shot evidence.
type HistoricalTicketRecord struct {
	ID                     string        `json:"id"`
	Text                   string        `json:"text"`
	ActualDepartment       string        `json:"actual_department"`
	ResolutionTime         time.Duration `json:"resolution_time"`
	Satisfaction           float64       `json:"satisfaction"`
	PriorPredictionCorrect bool          `json:"prior_prediction_correct"`
	CreatedAt              time.Time     `json:"created_at"`
}

// SimilarTicket pairs a historical record with its similarity to the
// ticket under evaluation.
type SimilarTicket struct {
	Record     HistoricalTicketRecord `json:"record"`
	Similarity float64                `json:"similarity"`
}

// OutcomeEvent is a ground-truth routing outcome delivered by the external
// feedback channel once a ticket has been resolved.
type OutcomeEvent struct {
	TicketID         string        `json:"ticket_id"`
	ActualDepartment string        `json:"actual_department"`
	ResolutionTime   time.Duration `json:"resolution_time"`
	Satisfaction     float64       `json:"satisfaction"`
}

// AccuracyRecord summarises prediction accuracy for one department.
type AccuracyRecord struct {
	Department         string  `json:"department"`
	TotalPredictions   int64   `json:"total_predictions"`
	CorrectPredictions int64   `json:"correct_predictions"`
	AccuracyRate       float64 `json:"accuracy_rate"`
}
