package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the routing service. Routing
// thresholds and feature flags live in the layered Snapshot documents, not
// here; this struct only wires processes and external collaborators.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`
	History HistoryConfig `yaml:"history"`
	LLM     LLMConfig     `yaml:"llm"`
	Cache   CacheConfig   `yaml:"cache"`
	Rules   RulesConfig   `yaml:"rules"`
	Routing RoutingDocs   `yaml:"routing"`
	Audit   AuditConfig   `yaml:"audit"`
}

// ServerConfig controls HTTP listener behaviour.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// HistoryConfig configures the similarity index holding historical tickets.
type HistoryConfig struct {
	Endpoint string        `yaml:"endpoint"`
	APIKey   string        `yaml:"apiKey"`
	Timeout  time.Duration `yaml:"timeout"`
}

// LLMConfig configures the language-model provider used as the final
// routing stage.
type LLMConfig struct {
	APIKey        string        `yaml:"apiKey"`
	Model         string        `yaml:"model"`
	MaxTokens     int64         `yaml:"maxTokens"`
	Timeout       time.Duration `yaml:"timeout"`
	MaxRetries    int           `yaml:"maxRetries"`
	RetryBackoff  time.Duration `yaml:"retryBackoff"`
	MaxConcurrent int           `yaml:"maxConcurrent"`
}

// CacheConfig controls Redis-backed caching of similarity lookups.
type CacheConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Addr             string        `yaml:"addr"`
	Username         string        `yaml:"username"`
	Password         string        `yaml:"password"`
	DB               int           `yaml:"db"`
	DialTimeout      time.Duration `yaml:"dialTimeout"`
	ReadTimeout      time.Duration `yaml:"readTimeout"`
	WriteTimeout     time.Duration `yaml:"writeTimeout"`
	MaxRetries       int           `yaml:"maxRetries"`
	TLS              bool          `yaml:"tls"`
	SimilarTicketTTL time.Duration `yaml:"similarTicketTTL"`
}

// RulesConfig controls rule-pack loading for the deterministic matcher.
type RulesConfig struct {
	Path string `yaml:"path"`
}

// RoutingDocs points at the layered threshold documents. Environment and
// region select which overlays are applied on top of the base document.
type RoutingDocs struct {
	BasePath    string `yaml:"basePath"`
	OverlayDir  string `yaml:"overlayDir"`
	Environment string `yaml:"environment"`
	Region      string `yaml:"region"`
}

// AuditConfig controls the local decision audit buffer.
type AuditConfig struct {
	Path   string `yaml:"path"`
	Buffer int    `yaml:"buffer"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("TICKET_ROUTER_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8080",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		History: HistoryConfig{Timeout: 5 * time.Second},
		LLM: LLMConfig{
			Model:         "claude-sonnet-4-5-20250929",
			MaxTokens:     1024,
			Timeout:       20 * time.Second,
			MaxRetries:    1,
			RetryBackoff:  500 * time.Millisecond,
			MaxConcurrent: 8,
		},
		Cache: CacheConfig{
			Enabled:          false,
			DialTimeout:      2 * time.Second,
			ReadTimeout:      500 * time.Millisecond,
			WriteTimeout:     500 * time.Millisecond,
			MaxRetries:       2,
			SimilarTicketTTL: 2 * time.Minute,
		},
		Rules: RulesConfig{Path: "configs/rules/default.yaml"},
		Routing: RoutingDocs{
			BasePath:   "configs/routing/base.yaml",
			OverlayDir: "configs/routing/overlays",
		},
		Audit: AuditConfig{Path: "decisions.db", Buffer: 256},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TICKET_ROUTER_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("TICKET_ROUTER_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("TICKET_ROUTER_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("TICKET_ROUTER_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("TICKET_ROUTER_HISTORY_URL"); v != "" {
		cfg.History.Endpoint = v
	}
	if v := os.Getenv("TICKET_ROUTER_HISTORY_API_KEY"); v != "" {
		cfg.History.APIKey = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("TICKET_ROUTER_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("TICKET_ROUTER_LLM_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.LLM.Timeout = d
		}
	}
	if v := os.Getenv("TICKET_ROUTER_RULES_PATH"); v != "" {
		cfg.Rules.Path = v
	}
	if v := os.Getenv("TICKET_ROUTER_ROUTING_BASE"); v != "" {
		cfg.Routing.BasePath = v
	}
	if v := os.Getenv("TICKET_ROUTER_ENVIRONMENT"); v != "" {
		cfg.Routing.Environment = v
	}
	if v := os.Getenv("TICKET_ROUTER_REGION"); v != "" {
		cfg.Routing.Region = v
	}
	if v := os.Getenv("TICKET_ROUTER_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("TICKET_ROUTER_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = strings.EqualFold(v, "true") || strings.EqualFold(v, "1")
	}
	if v := os.Getenv("TICKET_ROUTER_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("TICKET_ROUTER_CACHE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = db
		}
	}
	if v := os.Getenv("TICKET_ROUTER_CACHE_TLS"); strings.EqualFold(v, "true") || strings.EqualFold(v, "1") {
		cfg.Cache.TLS = true
	}
	if v := os.Getenv("TICKET_ROUTER_AUDIT_PATH"); v != "" {
		cfg.Audit.Path = v
	}
}
