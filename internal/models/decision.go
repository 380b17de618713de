package models

import "time"

// Method identifies which pipeline stage produced a decision.
type Method string

const (
	MethodRule     Method = "rule"
	MethodCache    Method = "cache"
	MethodLLM      Method = "llm"
	MethodFallback Method = "fallback"
)

// Stage names used for per-stage latency accounting.
type Stage string

const (
	StageRules Stage = "rules"
	StageCache Stage = "cache"
	StageLLM   Stage = "llm"
)

// Evidence carries the provenance of a decision: which rule fired, which
// historical record was reused, or which prompt/response pair the LLM saw.
type Evidence struct {
	RuleID        string  `json:"rule_id,omitempty"`
	RuleKeyword   string  `json:"rule_keyword,omitempty"`
	CacheRecordID string  `json:"cache_record_id,omitempty"`
	Similarity    float64 `json:"similarity,omitempty"`
	AccuracyRate  float64 `json:"accuracy_rate,omitempty"`
	PromptID      string  `json:"prompt_id,omitempty"`
	Rationale     string  `json:"rationale,omitempty"`
}

// RoutingDecision is the single terminal output of the pipeline for one
// ticket. Decisions are append-only and never mutated after creation.
type RoutingDecision struct {
	DecisionID       string                   `json:"decision_id"`
	TicketID         string                   `json:"ticket_id"`
	Department       string                   `json:"department"`
	Confidence       float64                  `json:"confidence"`
	Method           Method                   `json:"method"`
	SLAHours         int                      `json:"sla_hours,omitempty"`
	NeedsHumanReview bool                     `json:"needs_human_review"`
	Evidence         Evidence                 `json:"evidence"`
	StageLatencies   map[Stage]time.Duration  `json:"stage_latencies"`
	CreatedAt        time.Time                `json:"created_at"`
}
