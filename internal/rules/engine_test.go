package rules

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/triagestack/ticket-router/internal/config"
)

const testPack = `rules:
  - id: R001
    priority: 10
    keywords: ["dispute", "chargeback"]
    confidence: 0.98
    department: credit_management
    sla_hours: 4
    description: Billing disputes
  - id: R002
    priority: 20
    keywords: ["refund"]
    confidence: 0.95
    department: billing
    sla_hours: 24
  - id: R003
    priority: 30
    pattern: "(?i)error\\s+code\\s+\\d+"
    confidence: 0.90
    department: technical_support_l1
    sla_hours: 8
`

func loadTestEngine(t *testing.T, snapshots config.Source) *Engine {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte(testPack), 0o644); err != nil {
		t.Fatalf("write pack: %v", err)
	}
	engine, err := NewEngine(path, snapshots, nil)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return engine
}

func TestEvaluateKeywordMatch(t *testing.T) {
	engine := loadTestEngine(t, nil)

	match, ok := engine.Evaluate("I dispute this charge")
	if !ok {
		t.Fatalf("expected a match")
	}
	if match.Rule.ID != "R001" || match.Rule.Department != "credit_management" {
		t.Fatalf("wrong rule matched: %+v", match.Rule)
	}
	if match.Confidence != 0.98 {
		t.Fatalf("expected compiled-in confidence 0.98, got %v", match.Confidence)
	}
	if match.Keyword != "dispute" {
		t.Fatalf("expected keyword evidence, got %q", match.Keyword)
	}
}

func TestEvaluateCaseInsensitive(t *testing.T) {
	engine := loadTestEngine(t, nil)
	if _, ok := engine.Evaluate("CHARGEBACK request"); !ok {
		t.Fatalf("keyword match must be case-insensitive")
	}
}

func TestEvaluateRegexMatch(t *testing.T) {
	engine := loadTestEngine(t, nil)
	match, ok := engine.Evaluate("The app shows Error Code 500 at login")
	if !ok || match.Rule.ID != "R003" {
		t.Fatalf("expected regex rule, got %+v ok=%v", match, ok)
	}
	if match.Keyword != "pattern" {
		t.Fatalf("expected pattern evidence, got %q", match.Keyword)
	}
}

func TestEvaluatePriorityShortCircuit(t *testing.T) {
	// Text matching both R001 and R002: the lower priority value must win
	// and evaluation stops there.
	engine := loadTestEngine(t, nil)
	match, ok := engine.Evaluate("refund for a dispute")
	if !ok || match.Rule.ID != "R001" {
		t.Fatalf("expected R001 to short-circuit, got %+v", match.Rule)
	}
}

func TestEvaluateNoMatch(t *testing.T) {
	engine := loadTestEngine(t, nil)
	if _, ok := engine.Evaluate("where is my parcel"); ok {
		t.Fatalf("expected no decision")
	}
}

type staticSource struct{ snap *config.Snapshot }

func (s staticSource) Current() *config.Snapshot { return s.snap }

func TestEvaluateConfigDrivenConfidence(t *testing.T) {
	conf := 0.91
	sla := 2
	snap := &config.Snapshot{
		FeatureFlags:  config.FeatureFlags{UseConfigDrivenThresholds: true},
		RuleOverrides: map[string]config.RuleOverride{"R001": {Confidence: &conf, SLAHours: &sla}},
	}
	engine := loadTestEngine(t, staticSource{snap: snap})

	match, ok := engine.Evaluate("chargeback please")
	if !ok {
		t.Fatalf("expected match")
	}
	if match.Confidence != 0.91 || match.SLAHours != 2 {
		t.Fatalf("override not applied: %+v", match)
	}
}

func TestEvaluateFlagOffUsesCompiledDefaults(t *testing.T) {
	conf := 0.91
	snap := &config.Snapshot{
		RuleOverrides: map[string]config.RuleOverride{"R001": {Confidence: &conf}},
	}
	engine := loadTestEngine(t, staticSource{snap: snap})

	match, _ := engine.Evaluate("chargeback please")
	if match.Confidence != 0.98 {
		t.Fatalf("flag off must keep compiled-in confidence, got %v", match.Confidence)
	}
}

func TestNewEngineRejectsDuplicatePriority(t *testing.T) {
	dup := strings.Replace(testPack, "priority: 20", "priority: 10", 1)
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte(dup), 0o644); err != nil {
		t.Fatalf("write pack: %v", err)
	}
	if _, err := NewEngine(path, nil, nil); err == nil {
		t.Fatalf("duplicate priorities must be rejected")
	}
}

func TestNewEngineRejectsConditionlessRule(t *testing.T) {
	pack := "rules:\n  - id: R009\n    priority: 5\n    confidence: 0.9\n    department: billing\n"
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte(pack), 0o644); err != nil {
		t.Fatalf("write pack: %v", err)
	}
	if _, err := NewEngine(path, nil, nil); err == nil {
		t.Fatalf("rule without conditions must be rejected")
	}
}
