package rules

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/triagestack/ticket-router/internal/config"
)

// Rule is one deterministic routing rule. Rules are immutable after load.
type Rule struct {
	ID          string   `yaml:"id"`
	Priority    int      `yaml:"priority"`
	Keywords    []string `yaml:"keywords"`
	Pattern     string   `yaml:"pattern"`
	Confidence  float64  `yaml:"confidence"`
	Department  string   `yaml:"department"`
	SLAHours    int      `yaml:"sla_hours"`
	Description string   `yaml:"description"`
}

// ruleConfigFile is the YAML root structure of a rule pack.
type ruleConfigFile struct {
	Rules []Rule `yaml:"rules"`
}

// compiledRule carries the load-time artefacts for fast evaluation.
type compiledRule struct {
	Rule
	keywords []string // lowercased
	pattern  *regexp.Regexp
}

// Match is the outcome of a successful rule evaluation.
type Match struct {
	Rule       Rule
	Confidence float64
	SLAHours   int
	Keyword    string // matched keyword, or "pattern" for a regex hit
}

// Engine evaluates routing rules in ascending priority order and
// short-circuits on the first match. Evaluation is side-effect-free and
// safe for unsynchronized concurrent use once loaded.
type Engine struct {
	rules     []compiledRule
	snapshots config.Source
	logger    *slog.Logger
}

// NewEngine loads a rule pack from the provided path. The snapshot source
// supplies per-rule confidence and SLA overrides when the
// use_config_driven_thresholds flag is enabled; it may be nil.
func NewEngine(path string, snapshots config.Source, logger *slog.Logger) (*Engine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule pack: %w", err)
	}
	var file ruleConfigFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse rule pack: %w", err)
	}
	return newEngineFromRules(file.Rules, snapshots, logger)
}

func newEngineFromRules(loaded []Rule, snapshots config.Source, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}

	seenIDs := make(map[string]struct{}, len(loaded))
	seenPriorities := make(map[int]string, len(loaded))
	compiled := make([]compiledRule, 0, len(loaded))
	for _, rule := range loaded {
		if rule.ID == "" {
			return nil, fmt.Errorf("rule without id")
		}
		if _, dup := seenIDs[rule.ID]; dup {
			return nil, fmt.Errorf("duplicate rule id %q", rule.ID)
		}
		seenIDs[rule.ID] = struct{}{}
		if other, dup := seenPriorities[rule.Priority]; dup {
			return nil, fmt.Errorf("rules %q and %q share priority %d", other, rule.ID, rule.Priority)
		}
		seenPriorities[rule.Priority] = rule.ID
		if rule.Department == "" {
			return nil, fmt.Errorf("rule %q has no department", rule.ID)
		}
		if len(rule.Keywords) == 0 && rule.Pattern == "" {
			return nil, fmt.Errorf("rule %q has no keywords or pattern", rule.ID)
		}
		if rule.Confidence < 0 || rule.Confidence > 1 {
			return nil, fmt.Errorf("rule %q confidence %.3f outside [0,1]", rule.ID, rule.Confidence)
		}

		cr := compiledRule{Rule: rule}
		for _, kw := range rule.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw != "" {
				cr.keywords = append(cr.keywords, kw)
			}
		}
		if rule.Pattern != "" {
			re, err := regexp.Compile(rule.Pattern)
			if err != nil {
				return nil, fmt.Errorf("rule %q pattern: %w", rule.ID, err)
			}
			cr.pattern = re
		}
		compiled = append(compiled, cr)
	}

	// Priority is a strict total order: lowest value evaluates first.
	sort.Slice(compiled, func(i, j int) bool {
		return compiled[i].Priority < compiled[j].Priority
	})

	return &Engine{rules: compiled, snapshots: snapshots, logger: logger}, nil
}

// Len returns the number of loaded rules.
func (e *Engine) Len() int { return len(e.rules) }

// Evaluate runs the rules against the ticket text. The first matching rule
// wins; later rules are never inspected. The boolean is false when no rule
// matched, signalling the caller to continue down the pipeline.
func (e *Engine) Evaluate(text string) (Match, bool) {
	lowered := strings.ToLower(text)
	for _, rule := range e.rules {
		keyword, ok := rule.matches(lowered, text)
		if !ok {
			continue
		}
		match := Match{
			Rule:       rule.Rule,
			Confidence: rule.Confidence,
			SLAHours:   rule.SLAHours,
			Keyword:    keyword,
		}
		if snap := e.currentSnapshot(); snap != nil {
			if conf, ok := snap.RuleConfidence(rule.ID); ok {
				match.Confidence = conf
			}
			if sla, ok := snap.RuleSLAHours(rule.ID); ok {
				match.SLAHours = sla
			}
		}
		return match, true
	}
	return Match{}, false
}

func (e *Engine) currentSnapshot() *config.Snapshot {
	if e.snapshots == nil {
		return nil
	}
	return e.snapshots.Current()
}

func (r *compiledRule) matches(lowered, original string) (string, bool) {
	for _, kw := range r.keywords {
		if strings.Contains(lowered, kw) {
			return kw, true
		}
	}
	if r.pattern != nil && r.pattern.MatchString(original) {
		return "pattern", true
	}
	return "", false
}
