package rag

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/triagestack/ticket-router/internal/models"
)

const systemPrompt = `You are a support ticket routing assistant. You assign each ticket to
exactly one department. You are given resolved historical tickets similar to
the new one, annotated with what actually happened, not with past guesses.
Weigh examples by similarity and by whether the prior automated prediction
was correct. Respond with a single JSON object and nothing else:
{"department": "<department>", "confidence": <0.0-1.0>, "rationale": "<one sentence>"}`

// PromptBuilder assembles few-shot routing prompts from historical
// ticket outcomes.
type PromptBuilder struct {
	maxExamples int
}

// NewPromptBuilder constructs a builder keeping at most maxExamples
// few-shot entries.
func NewPromptBuilder(maxExamples int) *PromptBuilder {
	if maxExamples <= 0 {
		maxExamples = 5
	}
	return &PromptBuilder{maxExamples: maxExamples}
}

// Prompt is an assembled request for the language model. The ID ties the
// prompt to the decision's audit evidence.
type Prompt struct {
	ID     string
	System string
	User   string
}

// Build produces the prompt for a ticket. Examples are ordered by
// similarity descending and annotated with their actual outcome.
func (b *PromptBuilder) Build(ticket models.Ticket, examples []models.SimilarTicket) Prompt {
	sorted := append([]models.SimilarTicket(nil), examples...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Similarity > sorted[j].Similarity
	})
	if len(sorted) > b.maxExamples {
		sorted = sorted[:b.maxExamples]
	}

	var sb strings.Builder
	if len(sorted) > 0 {
		sb.WriteString("Similar resolved tickets, most similar first:\n\n")
		for i, example := range sorted {
			rec := example.Record
			fmt.Fprintf(&sb, "Example %d (similarity %.2f):\n", i+1, example.Similarity)
			fmt.Fprintf(&sb, "  Ticket: %s\n", truncate(rec.Text, 400))
			fmt.Fprintf(&sb, "  Resolved by: %s\n", rec.ActualDepartment)
			fmt.Fprintf(&sb, "  Resolution time: %s\n", formatResolution(rec.ResolutionTime))
			fmt.Fprintf(&sb, "  Customer satisfaction: %.1f\n", rec.Satisfaction)
			fmt.Fprintf(&sb, "  Prior automated prediction correct: %t\n\n", rec.PriorPredictionCorrect)
		}
	} else {
		sb.WriteString("No similar historical tickets are available.\n\n")
	}

	sb.WriteString("New ticket to route:\n")
	fmt.Fprintf(&sb, "  ID: %s\n", ticket.ID)
	fmt.Fprintf(&sb, "  Text: %s\n", truncate(ticket.Text, 2000))

	return Prompt{
		ID:     uuid.NewString(),
		System: systemPrompt,
		User:   sb.String(),
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func formatResolution(d time.Duration) string {
	if d <= 0 {
		return "unknown"
	}
	if d < time.Hour {
		return fmt.Sprintf("%.0f minutes", d.Minutes())
	}
	return fmt.Sprintf("%.1f hours", d.Hours())
}
