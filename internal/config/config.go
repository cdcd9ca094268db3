// Package config provides configuration management for driftwatch.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Default tuning values for the maintenance pipeline.
const (
	DefaultAssignmentThreshold = 0.65
	DefaultPageSize            = 1000
	DefaultMinBacklog          = 1000
	DefaultWriteConcurrency    = 16

	DefaultDriftIntervalDays   = 7
	DefaultCentroidShiftLimit  = 0.15
	DefaultLowConfidenceCutoff = 0.7
	DefaultLowConfidenceLimit  = 0.3
	DefaultSizeChangeLimit     = 2.0
	DefaultOutlierRatioLimit   = 0.25
	DefaultTemporalDriftLimit  = 0.15
	DefaultRecentWindowDays    = 30
	DefaultTemporalMinGroup    = 10

	DefaultMinClusterSize         = 30
	DefaultMinSamples             = 5
	DefaultMaxReclustersPerRun    = 5
	DefaultNeighborhoodSimilarity = 0.8
	DefaultNeighborLimit          = 1000
	DefaultStabilityThreshold     = 0.8
	DefaultReclusterConfidence    = 0.8
	DefaultClusterTimeoutSeconds  = 300

	DefaultHistoryWindowDays = 30
	DefaultReportTopN        = 5
)

// DatabaseConfig selects and tunes the storage backend.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"`   // "sqlite" (default) or "postgres"
	Path     string `yaml:"path"`     // sqlite file path
	DSN      string `yaml:"dsn"`      // postgres connection string
	MaxConns int    `yaml:"max_conns"`
}

// AssignmentConfig tunes the centroid assignment engine.
type AssignmentConfig struct {
	Threshold        float64 `yaml:"threshold"`
	PageSize         int     `yaml:"page_size"`
	MinBacklog       int     `yaml:"min_backlog"`
	WriteConcurrency int     `yaml:"write_concurrency"`
}

// DriftConfig tunes the drift detector.
type DriftConfig struct {
	IntervalDays        int     `yaml:"interval_days"`
	CentroidShiftLimit  float64 `yaml:"centroid_shift_limit"`
	LowConfidenceCutoff float64 `yaml:"low_confidence_cutoff"`
	LowConfidenceLimit  float64 `yaml:"low_confidence_limit"`
	SizeChangeLimit     float64 `yaml:"size_change_limit"`
	OutlierRatioLimit   float64 `yaml:"outlier_ratio_limit"`
	TemporalDriftLimit  float64 `yaml:"temporal_drift_limit"`
	RecentWindowDays    int     `yaml:"recent_window_days"`
	TemporalMinGroup    int     `yaml:"temporal_min_group"`
	MinClusterSize      int     `yaml:"min_cluster_size"`
}

// ReclusterConfig tunes partial re-clustering and the external
// density-clustering subprocess.
type ReclusterConfig struct {
	MaxPerRun              int      `yaml:"max_per_run"`
	NeighborhoodSimilarity float64  `yaml:"neighborhood_similarity"`
	NeighborLimit          int      `yaml:"neighbor_limit"`
	MinClusterSize         int      `yaml:"min_cluster_size"`
	MinSamples             int      `yaml:"min_samples"`
	StabilityThreshold     float64  `yaml:"stability_threshold"`
	DefaultConfidence      float64  `yaml:"default_confidence"`
	Command                []string `yaml:"command"`
	TimeoutSeconds         int      `yaml:"timeout_seconds"`
}

// EvolutionConfig tunes the evolution tracker.
type EvolutionConfig struct {
	HistoryWindowDays int `yaml:"history_window_days"`
	ReportTopN        int `yaml:"report_top_n"`
}

// Config is the full driftwatch configuration.
type Config struct {
	Database     DatabaseConfig   `yaml:"database"`
	Assignment   AssignmentConfig `yaml:"assignment"`
	Drift        DriftConfig      `yaml:"drift"`
	Recluster    ReclusterConfig  `yaml:"recluster"`
	Evolution    EvolutionConfig  `yaml:"evolution"`
	ArtifactsDir string           `yaml:"artifacts_dir"`
}

// Default returns the configuration with all default values.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver:   "sqlite",
			Path:     DBPath(),
			MaxConns: 4,
		},
		Assignment: AssignmentConfig{
			Threshold:        DefaultAssignmentThreshold,
			PageSize:         DefaultPageSize,
			MinBacklog:       DefaultMinBacklog,
			WriteConcurrency: DefaultWriteConcurrency,
		},
		Drift: DriftConfig{
			IntervalDays:        DefaultDriftIntervalDays,
			CentroidShiftLimit:  DefaultCentroidShiftLimit,
			LowConfidenceCutoff: DefaultLowConfidenceCutoff,
			LowConfidenceLimit:  DefaultLowConfidenceLimit,
			SizeChangeLimit:     DefaultSizeChangeLimit,
			OutlierRatioLimit:   DefaultOutlierRatioLimit,
			TemporalDriftLimit:  DefaultTemporalDriftLimit,
			RecentWindowDays:    DefaultRecentWindowDays,
			TemporalMinGroup:    DefaultTemporalMinGroup,
			MinClusterSize:      DefaultMinClusterSize,
		},
		Recluster: ReclusterConfig{
			MaxPerRun:              DefaultMaxReclustersPerRun,
			NeighborhoodSimilarity: DefaultNeighborhoodSimilarity,
			NeighborLimit:          DefaultNeighborLimit,
			MinClusterSize:         DefaultMinClusterSize,
			MinSamples:             DefaultMinSamples,
			StabilityThreshold:     DefaultStabilityThreshold,
			DefaultConfidence:      DefaultReclusterConfidence,
			TimeoutSeconds:         DefaultClusterTimeoutSeconds,
		},
		Evolution: EvolutionConfig{
			HistoryWindowDays: DefaultHistoryWindowDays,
			ReportTopN:        DefaultReportTopN,
		},
		ArtifactsDir: filepath.Join(DataDir(), "artifacts"),
	}
}

// DataDir returns the driftwatch data directory.
// Honors DRIFTWATCH_DATA_DIR, otherwise ~/.driftwatch.
func DataDir() string {
	if dir := os.Getenv("DRIFTWATCH_DATA_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".driftwatch"
	}
	return filepath.Join(home, ".driftwatch")
}

// DBPath returns the default SQLite database path.
func DBPath() string {
	return filepath.Join(DataDir(), "driftwatch.db")
}

// ConfigPath returns the YAML config file path.
func ConfigPath() string {
	return filepath.Join(DataDir(), "config.yaml")
}

// EnsureDataDir creates the data directory if it does not exist.
func EnsureDataDir() error {
	return os.MkdirAll(DataDir(), 0o755)
}

// Load reads the YAML config file, applying defaults for anything unset.
// A missing file is not an error; defaults are returned.
func Load() (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(ConfigPath())
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}
