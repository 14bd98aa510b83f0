package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// #region types
// Config is the full companion kernel configuration.
type Config struct {
	Data          DataConfig          `mapstructure:"data"`
	Codec         CodecConfig         `mapstructure:"codec"`
	Pipeline      PipelineConfig      `mapstructure:"pipeline"`
	Consolidation ConsolidationConfig `mapstructure:"consolidation"`
	Affect        AffectConfig        `mapstructure:"affect"`
	Log           LogConfig           `mapstructure:"log"`
}

// DataConfig locates the persisted records.
type DataConfig struct {
	Dir          string `mapstructure:"dir"`
	DBFile       string `mapstructure:"db_file"`
	AffectFile   string `mapstructure:"affect_file"`
	IdentityFile string `mapstructure:"identity_file"`
	DraftsDir    string `mapstructure:"drafts_dir"`
}

// CodecConfig points at the collaborator service.
type CodecConfig struct {
	Address string        `mapstructure:"address"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// PipelineConfig tunes a single turn.
type PipelineConfig struct {
	TopK           int  `mapstructure:"top_k"`
	Diversify      bool `mapstructure:"diversify"`
	MaxSnippetLen  int  `mapstructure:"max_snippet_len"`
	StrategyWindow int  `mapstructure:"strategy_window"`
}

// ConsolidationConfig tunes the maintenance cycle.
type ConsolidationConfig struct {
	LogWindow         time.Duration `mapstructure:"log_window"`
	PendingCap        int           `mapstructure:"pending_cap"`
	SeverityThreshold float64       `mapstructure:"severity_threshold"`
	ConflictOverlap   float64       `mapstructure:"conflict_overlap"`
	SettleFraction    float64       `mapstructure:"settle_fraction"`
}

// AffectConfig holds the onboarding window length.
type AffectConfig struct {
	ElasticWindow time.Duration `mapstructure:"elastic_window"`
}

// LogConfig selects the zap level and encoder.
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// #endregion types

// #region load
// Load unmarshals v (the global viper when nil), fills defaults and validates.
func Load(v *viper.Viper) (*Config, error) {
	if v == nil {
		v = viper.GetViper()
	}
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults sets default values for unset fields
func applyDefaults(cfg *Config) {
	if cfg.Data.Dir == "" {
		cfg.Data.Dir = "data"
	}
	if cfg.Data.DBFile == "" {
		cfg.Data.DBFile = "companion.db"
	}
	if cfg.Data.AffectFile == "" {
		cfg.Data.AffectFile = "affect.json"
	}
	if cfg.Data.IdentityFile == "" {
		cfg.Data.IdentityFile = "identity.json"
	}
	if cfg.Data.DraftsDir == "" {
		cfg.Data.DraftsDir = "drafts"
	}

	if cfg.Codec.Address == "" {
		cfg.Codec.Address = "localhost:50051"
	}
	if cfg.Codec.Timeout == 0 {
		cfg.Codec.Timeout = 60 * time.Second
	}

	if cfg.Pipeline.TopK == 0 {
		cfg.Pipeline.TopK = 5
	}
	if cfg.Pipeline.MaxSnippetLen == 0 {
		cfg.Pipeline.MaxSnippetLen = 2000
	}
	if cfg.Pipeline.StrategyWindow == 0 {
		cfg.Pipeline.StrategyWindow = 20
	}

	if cfg.Consolidation.LogWindow == 0 {
		cfg.Consolidation.LogWindow = 24 * time.Hour
	}
	if cfg.Consolidation.PendingCap == 0 {
		cfg.Consolidation.PendingCap = 5
	}
	if cfg.Consolidation.SeverityThreshold == 0 {
		cfg.Consolidation.SeverityThreshold = 0.7
	}
	if cfg.Consolidation.ConflictOverlap == 0 {
		cfg.Consolidation.ConflictOverlap = 0.3
	}
	if cfg.Consolidation.SettleFraction == 0 {
		cfg.Consolidation.SettleFraction = 0.2
	}

	if cfg.Affect.ElasticWindow == 0 {
		cfg.Affect.ElasticWindow = 72 * time.Hour
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

// #endregion load

// #region validate
// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Codec.Timeout < 30*time.Second || c.Codec.Timeout > 300*time.Second {
		return fmt.Errorf("invalid codec timeout: %s (must be between 30s and 300s)", c.Codec.Timeout)
	}
	if c.Pipeline.TopK < 1 {
		return fmt.Errorf("invalid top_k: %d (must be at least 1)", c.Pipeline.TopK)
	}
	if c.Consolidation.PendingCap < 1 {
		return fmt.Errorf("invalid pending_cap: %d (must be at least 1)", c.Consolidation.PendingCap)
	}
	if c.Consolidation.SeverityThreshold < 0 || c.Consolidation.SeverityThreshold > 1 {
		return fmt.Errorf("invalid severity_threshold: %v (must be in [0,1])", c.Consolidation.SeverityThreshold)
	}
	if c.Consolidation.SettleFraction < 0 || c.Consolidation.SettleFraction > 1 {
		return fmt.Errorf("invalid settle_fraction: %v (must be in [0,1])", c.Consolidation.SettleFraction)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn or error)", c.Log.Level)
	}
	return nil
}

// #endregion validate

// #region paths
// DBPath returns the sqlite file path.
func (c *Config) DBPath() string { return filepath.Join(c.Data.Dir, c.Data.DBFile) }

// AffectPath returns the affective record path.
func (c *Config) AffectPath() string { return filepath.Join(c.Data.Dir, c.Data.AffectFile) }

// IdentityPath returns the identity record path.
func (c *Config) IdentityPath() string { return filepath.Join(c.Data.Dir, c.Data.IdentityFile) }

// DraftsPath returns the review directory for draft-only delegation artifacts.
func (c *Config) DraftsPath() string { return filepath.Join(c.Data.Dir, c.Data.DraftsDir) }

// #endregion paths
