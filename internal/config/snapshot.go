package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigError reports an invalid or out-of-bounds routing configuration.
// A reload that produces a ConfigError leaves the previous snapshot active.
type ConfigError struct {
	Key    string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Key, e.Reason)
}

// Bound declares the permitted range for a numeric threshold.
type Bound struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// Contains reports whether v is inside the bound.
func (b Bound) Contains(v float64) bool {
	return v >= b.Min && v <= b.Max
}

// RoutingSettings holds the pipeline thresholds under configuration control.
type RoutingSettings struct {
	DefaultDepartment   string  `yaml:"default_department"`
	FallbackConfidence  float64 `yaml:"fallback_confidence"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	AccuracyThreshold   float64 `yaml:"accuracy_threshold"`
	RAGExamples         int     `yaml:"rag_examples"`
}

// RuleOverride adjusts a single routing rule without redeploying the pack.
type RuleOverride struct {
	Confidence *float64 `yaml:"confidence"`
	SLAHours   *int     `yaml:"sla_hours"`
}

// FeatureFlags gates behaviour between config-driven and compiled-in
// defaults, enabling rollback without a code change.
type FeatureFlags struct {
	UseConfigDrivenThresholds bool `yaml:"use_config_driven_thresholds"`
}

// Snapshot is an immutable view of the layered routing configuration.
// Readers may share one snapshot freely; a reload swaps in a new one.
type Snapshot struct {
	Environment   string
	Region        string
	Routing       RoutingSettings         `yaml:"routing"`
	RuleOverrides map[string]RuleOverride `yaml:"rule_overrides"`
	FeatureFlags  FeatureFlags            `yaml:"feature_flags"`
	Bounds        map[string]Bound        `yaml:"validation_bounds"`
	LoadedAt      time.Time
}

// RuleConfidence returns the configured confidence override for a rule.
func (s *Snapshot) RuleConfidence(ruleID string) (float64, bool) {
	if s == nil || !s.FeatureFlags.UseConfigDrivenThresholds {
		return 0, false
	}
	ov, ok := s.RuleOverrides[ruleID]
	if !ok || ov.Confidence == nil {
		return 0, false
	}
	return *ov.Confidence, true
}

// RuleSLAHours returns the configured SLA override for a rule.
func (s *Snapshot) RuleSLAHours(ruleID string) (int, bool) {
	if s == nil || !s.FeatureFlags.UseConfigDrivenThresholds {
		return 0, false
	}
	ov, ok := s.RuleOverrides[ruleID]
	if !ok || ov.SLAHours == nil {
		return 0, false
	}
	return *ov.SLAHours, true
}

// Source exposes read access to the active snapshot. Components hold a
// Source rather than a Snapshot so reloads take effect without rewiring.
type Source interface {
	Current() *Snapshot
}

// Manager owns the layered routing configuration: a base document with
// environment and region overlays, validated against declared bounds and
// swapped atomically. Failed loads keep the previous snapshot active.
type Manager struct {
	docs   RoutingDocs
	logger *slog.Logger

	mu      sync.Mutex
	current atomic.Pointer[Snapshot]
}

// NewManager constructs a Manager; call Load before serving traffic.
func NewManager(docs RoutingDocs, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{docs: docs, logger: logger}
}

// Current returns the active snapshot, or nil before the first Load.
func (m *Manager) Current() *Snapshot {
	return m.current.Load()
}

// Load builds and activates the first snapshot. Unlike Reload, a Load
// failure is fatal to the caller since there is no prior snapshot.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap, err := m.build()
	if err != nil {
		return err
	}
	m.current.Store(snap)
	m.logger.Info("routing configuration loaded",
		slog.String("environment", snap.Environment),
		slog.String("region", snap.Region),
		slog.Bool("config_driven", snap.FeatureFlags.UseConfigDrivenThresholds))
	return nil
}

// Reload rebuilds the snapshot from disk. On any error the previous
// snapshot stays active and the event is logged.
func (m *Manager) Reload() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap, err := m.build()
	if err != nil {
		m.logger.Error("routing configuration reload rejected, keeping previous snapshot",
			slog.Any("error", err))
		return err
	}
	m.current.Store(snap)
	m.logger.Info("routing configuration reloaded",
		slog.String("environment", snap.Environment),
		slog.String("region", snap.Region))
	return nil
}

func (m *Manager) build() (*Snapshot, error) {
	base, err := loadDocument(m.docs.BasePath)
	if err != nil {
		return nil, err
	}

	for _, overlay := range m.overlayPaths() {
		doc, err := loadDocument(overlay)
		if err != nil {
			return nil, err
		}
		if err := mergeOverlay(base, doc, nil); err != nil {
			return nil, fmt.Errorf("overlay %s: %w", filepath.Base(overlay), err)
		}
	}

	merged, err := yaml.Marshal(base)
	if err != nil {
		return nil, fmt.Errorf("flatten merged configuration: %w", err)
	}

	snap := &Snapshot{
		Environment: m.docs.Environment,
		Region:      m.docs.Region,
		LoadedAt:    time.Now().UTC(),
	}
	if err := yaml.Unmarshal(merged, snap); err != nil {
		return nil, fmt.Errorf("parse merged configuration: %w", err)
	}

	if err := validateSnapshot(snap); err != nil {
		return nil, err
	}
	return snap, nil
}

func (m *Manager) overlayPaths() []string {
	var paths []string
	if m.docs.Environment != "" {
		paths = append(paths, filepath.Join(m.docs.OverlayDir, "environment", m.docs.Environment+".yaml"))
	}
	if m.docs.Region != "" {
		paths = append(paths, filepath.Join(m.docs.OverlayDir, "region", m.docs.Region+".yaml"))
	}
	return paths
}

func loadDocument(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Key: path, Reason: fmt.Sprintf("read document: %v", err)}
	}
	doc := make(map[string]any)
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &ConfigError{Key: path, Reason: fmt.Sprintf("parse document: %v", err)}
	}
	return doc, nil
}

// mergeOverlay applies overlay onto base in place. Overlay keys must exist
// in the base schema; rule_overrides is the one open section where new rule
// ids may be introduced. The merge is idempotent: applying the same overlay
// again produces the same result.
func mergeOverlay(base, overlay map[string]any, path []string) error {
	for key, value := range overlay {
		current, exists := base[key]
		if !exists && !openSection(path) {
			return &ConfigError{
				Key:    joinPath(append(path, key)),
				Reason: "overlay key not present in base schema",
			}
		}

		overlayMap, overlayIsMap := asStringMap(value)
		baseMap, baseIsMap := asStringMap(current)
		if exists && overlayIsMap && baseIsMap {
			if err := mergeOverlay(baseMap, overlayMap, append(path, key)); err != nil {
				return err
			}
			base[key] = baseMap
			continue
		}
		if overlayIsMap {
			base[key] = overlayMap
			continue
		}
		base[key] = value
	}
	return nil
}

// openSection reports whether new keys may be introduced at this path.
func openSection(path []string) bool {
	return len(path) == 1 && path[0] == "rule_overrides"
}

func asStringMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[fmt.Sprintf("%v", k)] = val
		}
		return out, true
	default:
		return nil, false
	}
}

func joinPath(path []string) string {
	out := ""
	for i, p := range path {
		if i > 0 {
			out += "."
		}
		out += p
	}
	return out
}

func validateSnapshot(snap *Snapshot) error {
	if snap.Routing.DefaultDepartment == "" {
		return &ConfigError{Key: "routing.default_department", Reason: "is required"}
	}
	if snap.Routing.RAGExamples <= 0 {
		return &ConfigError{Key: "routing.rag_examples", Reason: "must be positive"}
	}

	for key, bound := range snap.Bounds {
		if bound.Min > bound.Max {
			return &ConfigError{Key: "validation_bounds." + key, Reason: "min exceeds max"}
		}
	}

	checks := []struct {
		key   string
		value float64
	}{
		{"similarity_threshold", snap.Routing.SimilarityThreshold},
		{"accuracy_threshold", snap.Routing.AccuracyThreshold},
		{"fallback_confidence", snap.Routing.FallbackConfidence},
	}
	for _, check := range checks {
		if bound, ok := snap.Bounds[check.key]; ok && !bound.Contains(check.value) {
			return &ConfigError{
				Key:    "routing." + check.key,
				Reason: fmt.Sprintf("%.3f outside bounds [%.3f, %.3f]", check.value, bound.Min, bound.Max),
			}
		}
	}

	confidenceBound, hasConfidenceBound := snap.Bounds["confidence"]
	slaBound, hasSLABound := snap.Bounds["sla_hours"]
	for _, ruleID := range sortedOverrideIDs(snap.RuleOverrides) {
		ov := snap.RuleOverrides[ruleID]
		if ov.Confidence != nil && hasConfidenceBound && !confidenceBound.Contains(*ov.Confidence) {
			return &ConfigError{
				Key:    "rule_overrides." + ruleID + ".confidence",
				Reason: fmt.Sprintf("%.3f outside bounds [%.3f, %.3f]", *ov.Confidence, confidenceBound.Min, confidenceBound.Max),
			}
		}
		if ov.SLAHours != nil && hasSLABound && !slaBound.Contains(float64(*ov.SLAHours)) {
			return &ConfigError{
				Key:    "rule_overrides." + ruleID + ".sla_hours",
				Reason: fmt.Sprintf("%d outside bounds [%.0f, %.0f]", *ov.SLAHours, slaBound.Min, slaBound.Max),
			}
		}
	}
	return nil
}

// sortedOverrideIDs keeps validation error ordering deterministic.
func sortedOverrideIDs(overrides map[string]RuleOverride) []string {
	ids := make([]string, 0, len(overrides))
	for id := range overrides {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
