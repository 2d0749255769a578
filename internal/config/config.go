// Package config loads chartrec configuration from a YAML file with
// environment overrides for secrets. Every field has a working default so a
// missing config file is not an error.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"chartrec/internal/logging"
)

// EnvAPIKey overrides the oracle API key from the environment so the key
// never has to live in the config file.
const EnvAPIKey = "CHARTREC_API_KEY"

// OracleConfig selects and tunes the reasoning tier's oracle backend.
type OracleConfig struct {
	Provider    string `yaml:"provider"` // "genai", "http", or "none"
	Model       string `yaml:"model"`
	BaseURL     string `yaml:"base_url"` // http provider only
	APIKey      string `yaml:"api_key"`
	CallTimeout string `yaml:"call_timeout"` // Go duration string, e.g. "2m"
	MaxAttempts int    `yaml:"max_attempts"` // Per-document retry ceiling
}

// Timeout parses the call timeout, defaulting to two minutes.
func (o OracleConfig) Timeout() time.Duration {
	d, err := time.ParseDuration(o.CallTimeout)
	if err != nil || d <= 0 {
		return 2 * time.Minute
	}
	return d
}

// SourceConfig locates the read-only evidence sources.
type SourceConfig struct {
	StructuredDB   string   `yaml:"structured_db"`   // SQLite file of structured observations
	DocumentsRoot  string   `yaml:"documents_root"`  // Per-subject document tree
	Categories     []string `yaml:"categories"`      // Document categories to search first
	LookbackDays   int      `yaml:"lookback_days"`   // Initial temporal window
	CacheDB        string   `yaml:"cache_db"`        // Classification cache; empty disables
	QueryLimit     int      `yaml:"query_limit"`     // Max candidates per adapter query
	EncounterFirst bool     `yaml:"encounter_first"` // Start at encounter linkage
}

// CascadeConfig tunes the tier escalation and investigation engine.
type CascadeConfig struct {
	SufficiencyThreshold string `yaml:"sufficiency_threshold"` // Confidence needed to skip costlier tiers
	ReviewPriority       string `yaml:"review_priority"`       // Gap priority that escalates to manual review
	MaxStrategies        int    `yaml:"max_strategies"`        // Investigation attempts per gap
}

// FactConfig declares one target fact the pipeline must establish.
type FactConfig struct {
	FactID        string   `yaml:"fact_id"`
	AllowedValues []string `yaml:"allowed_values,omitempty"`
	Priority      string   `yaml:"priority"` // low, routine, high, critical
	Fields        []string `yaml:"fields,omitempty"`
}

// Config holds all chartrec configuration.
type Config struct {
	Workspace string          `yaml:"workspace"`
	Oracle    OracleConfig    `yaml:"oracle"`
	Source    SourceConfig    `yaml:"source"`
	Cascade   CascadeConfig   `yaml:"cascade"`
	Facts     []FactConfig    `yaml:"facts"`
	Logging   logging.Options `yaml:"logging"`
}

// DefaultConfig returns a configuration that works against a local workspace
// with the oracle disabled.
func DefaultConfig() *Config {
	return &Config{
		Workspace: ".",
		Oracle: OracleConfig{
			Provider:    "none",
			Model:       "gemini-2.0-flash",
			CallTimeout: "2m",
			MaxAttempts: 3,
		},
		Source: SourceConfig{
			StructuredDB:   "sources.db",
			DocumentsRoot:  "documents",
			Categories:     []string{"pathology", "oncology_note"},
			LookbackDays:   365,
			QueryLimit:     200,
			EncounterFirst: true,
		},
		Cascade: CascadeConfig{
			SufficiencyThreshold: "medium",
			ReviewPriority:       "high",
			MaxStrategies:        3,
		},
		Facts: []FactConfig{
			{FactID: "histology", Priority: "critical", Fields: []string{"morphology_code", "diagnosis_text"}},
			{FactID: "primary_site", Priority: "critical", Fields: []string{"site_text"}},
			{FactID: "laterality", Priority: "routine", Fields: []string{"laterality"},
				AllowedValues: []string{"left", "right", "bilateral", "not applicable"}},
			{FactID: "er_status", Priority: "high", Fields: []string{"receptor_panel"},
				AllowedValues: []string{"positive", "negative", "not reported"}},
			{FactID: "her2_status", Priority: "high", Fields: []string{"receptor_panel"},
				AllowedValues: []string{"positive", "negative", "equivocal", "not reported"}},
			{FactID: "metastatic_status", Priority: "high", Fields: []string{"stage_group"},
				AllowedValues: []string{"metastatic", "non-metastatic"}},
		},
		Logging: logging.Options{Level: "info"},
	}
}

// Load reads configuration from path, fills defaults for anything unset, and
// applies environment overrides. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if key := os.Getenv(EnvAPIKey); key != "" {
		cfg.Oracle.APIKey = key
	}
	if cfg.Source.LookbackDays <= 0 {
		cfg.Source.LookbackDays = 365
	}

	return cfg, cfg.Validate()
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	switch c.Oracle.Provider {
	case "genai", "http", "none", "":
	default:
		return fmt.Errorf("unknown oracle provider %q", c.Oracle.Provider)
	}
	if c.Oracle.CallTimeout != "" {
		if _, err := time.ParseDuration(c.Oracle.CallTimeout); err != nil {
			return fmt.Errorf("invalid oracle call_timeout %q: %w", c.Oracle.CallTimeout, err)
		}
	}
	if c.Oracle.Provider == "http" && c.Oracle.BaseURL == "" {
		return fmt.Errorf("oracle provider %q requires base_url", c.Oracle.Provider)
	}
	if len(c.Facts) == 0 {
		return fmt.Errorf("at least one target fact required")
	}
	seen := make(map[string]bool, len(c.Facts))
	for _, f := range c.Facts {
		if f.FactID == "" {
			return fmt.Errorf("fact with empty fact_id")
		}
		if seen[f.FactID] {
			return fmt.Errorf("duplicate fact_id %q", f.FactID)
		}
		seen[f.FactID] = true
	}
	return nil
}

// CheckpointDir is where the pipeline persists per-subject checkpoints.
func (c *Config) CheckpointDir() string {
	return filepath.Join(c.Workspace, ".chartrec", "checkpoints")
}

// Save writes the configuration to path as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}
