// Package gorm provides GORM-based database operations for driftwatch.
package gorm

import (
	"database/sql"
	"time"

	"gorm.io/gorm"

	"github.com/thebtf/driftwatch/pkg/models"
)

// GORM Models
//
// JSON column types (Vector, IntMap, TopItemList, StatsMap) come from
// pkg/models and implement sql.Scanner and driver.Valuer.

// Item represents an ingested content item with a precomputed embedding.
type Item struct {
	ID                int64           `gorm:"primaryKey;autoIncrement"`
	Title             string          `gorm:"type:text;not null"`
	Embedding         models.Vector   `gorm:"type:text"`
	ClusterID         sql.NullInt64   `gorm:"index:idx_items_cluster"`
	Topic             sql.NullString
	ParentTopic       sql.NullString
	GrandparentTopic  sql.NullString
	Confidence        sql.NullFloat64 `gorm:"type:real"`
	ViewCount         int64           `gorm:"default:0"`
	PublishedAt       string          `gorm:"not null"`
	PublishedAtEpoch  int64           `gorm:"index:idx_items_published,sort:desc;not null"`
	ClassifiedAt      sql.NullString
	ClassifiedAtEpoch sql.NullInt64
}

func (Item) TableName() string { return "items" }

// BeforeCreate hook to ensure timestamps are set.
func (i *Item) BeforeCreate(tx *gorm.DB) error {
	if i.PublishedAtEpoch == 0 {
		i.PublishedAtEpoch = time.Now().UnixMilli()
	}
	if i.PublishedAt == "" {
		i.PublishedAt = time.Now().Format(time.RFC3339)
	}
	return nil
}

// Cluster represents a topic cluster. Ids are assigned externally:
// low ids by the initial clustering, high ids minted by re-clustering.
type Cluster struct {
	ID               int64         `gorm:"primaryKey;autoIncrement:false"`
	Topic            string        `gorm:"type:text;not null"`
	ParentTopic      string        `gorm:"type:text"`
	GrandparentTopic string        `gorm:"type:text"`
	Centroid         models.Vector `gorm:"type:text"`
	ItemCount        int           `gorm:"default:0"`
	CreatedAt        string        `gorm:"not null"`
	CreatedAtEpoch   int64         `gorm:"not null"`
}

func (Cluster) TableName() string { return "clusters" }

// BeforeCreate hook to ensure timestamps are set.
func (c *Cluster) BeforeCreate(tx *gorm.DB) error {
	if c.CreatedAtEpoch == 0 {
		c.CreatedAtEpoch = time.Now().UnixMilli()
	}
	if c.CreatedAt == "" {
		c.CreatedAt = time.Now().Format(time.RFC3339)
	}
	return nil
}

// ClusterSnapshot is one cluster's state on one calendar day.
type ClusterSnapshot struct {
	ID                  int64              `gorm:"primaryKey;autoIncrement"`
	ClusterID           int64              `gorm:"uniqueIndex:idx_snapshots_cluster_date,priority:1;not null"`
	SnapshotDate        string             `gorm:"uniqueIndex:idx_snapshots_cluster_date,priority:2;not null"`
	ItemCount           int                `gorm:"default:0"`
	Centroid            models.Vector      `gorm:"type:text"`
	AvgPopularity       float64            `gorm:"type:real;default:0"`
	AvgAgeDays          float64            `gorm:"type:real;default:0"`
	ConfidenceHistogram models.IntMap      `gorm:"type:text"`
	TopItems            models.TopItemList `gorm:"type:text"`
	CreatedAtEpoch      int64              `gorm:"not null"`
}

func (ClusterSnapshot) TableName() string { return "cluster_snapshots" }

// BeforeCreate hook to ensure the timestamp is set.
func (s *ClusterSnapshot) BeforeCreate(tx *gorm.DB) error {
	if s.CreatedAtEpoch == 0 {
		s.CreatedAtEpoch = time.Now().UnixMilli()
	}
	return nil
}

// ClusterTransition is an append-only record of an item changing cluster.
type ClusterTransition struct {
	ID             int64         `gorm:"primaryKey;autoIncrement"`
	ItemID         int64         `gorm:"index:idx_transitions_item;not null"`
	FromClusterID  sql.NullInt64 `gorm:"index:idx_transitions_from"`
	ToClusterID    int64         `gorm:"index:idx_transitions_to;not null"`
	TransitionDate string        `gorm:"index:idx_transitions_date;not null"`
	Confidence     float64       `gorm:"type:real;default:0"`
	Reason         string        `gorm:"type:text;check:reason IN ('new_assignment', 'reassignment');not null"`
	CreatedAtEpoch int64         `gorm:"not null"`
}

func (ClusterTransition) TableName() string { return "cluster_transitions" }

// BeforeCreate hook to ensure the timestamp is set.
func (t *ClusterTransition) BeforeCreate(tx *gorm.DB) error {
	if t.CreatedAtEpoch == 0 {
		t.CreatedAtEpoch = time.Now().UnixMilli()
	}
	return nil
}

// ClusterEvolutionMetric is one cluster's derived longitudinal metrics
// for one day.
type ClusterEvolutionMetric struct {
	ID               int64   `gorm:"primaryKey;autoIncrement"`
	ClusterID        int64   `gorm:"uniqueIndex:idx_metrics_cluster_date,priority:1;not null"`
	MetricDate       string  `gorm:"uniqueIndex:idx_metrics_cluster_date,priority:2;not null"`
	GrowthRate       float64 `gorm:"type:real;default:0"`
	ChurnRate        float64 `gorm:"type:real;default:0"`
	StabilityScore   float64 `gorm:"type:real;default:0"`
	CentroidDrift    float64 `gorm:"type:real;default:0"`
	AvgConfidence    float64 `gorm:"type:real;default:0"`
	PerformanceTrend float64 `gorm:"type:real;default:0"`
	CreatedAtEpoch   int64   `gorm:"not null"`
}

func (ClusterEvolutionMetric) TableName() string { return "cluster_evolution_metrics" }

// BeforeCreate hook to ensure the timestamp is set.
func (m *ClusterEvolutionMetric) BeforeCreate(tx *gorm.DB) error {
	if m.CreatedAtEpoch == 0 {
		m.CreatedAtEpoch = time.Now().UnixMilli()
	}
	return nil
}

// StageRun is an append-only operational log entry for one stage run.
type StageRun struct {
	ID             int64           `gorm:"primaryKey;autoIncrement"`
	Stage          string          `gorm:"index:idx_stage_runs_stage;not null"`
	Status         string          `gorm:"type:text;check:status IN ('completed', 'failed', 'skipped');not null"`
	Stats          models.StatsMap `gorm:"type:text"`
	CreatedAt      string          `gorm:"not null"`
	CreatedAtEpoch int64           `gorm:"index:idx_stage_runs_created,sort:desc;not null"`
}

func (StageRun) TableName() string { return "stage_runs" }

// BeforeCreate hook to ensure timestamps are set.
func (r *StageRun) BeforeCreate(tx *gorm.DB) error {
	if r.CreatedAtEpoch == 0 {
		r.CreatedAtEpoch = time.Now().UnixMilli()
	}
	if r.CreatedAt == "" {
		r.CreatedAt = time.Now().Format(time.RFC3339)
	}
	return nil
}
