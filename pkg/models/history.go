// Package models contains domain models for driftwatch.
package models

import "database/sql"

// TransitionReason tags why an item moved between clusters.
type TransitionReason string

const (
	ReasonNewAssignment TransitionReason = "new_assignment"
	ReasonReassignment  TransitionReason = "reassignment"
)

// ClusterTransition is an append-only log record of one item moving from
// one cluster (nullable, meaning "unassigned") to another.
type ClusterTransition struct {
	ID             int64            `db:"id" json:"id"`
	ItemID         int64            `db:"item_id" json:"item_id"`
	FromClusterID  sql.NullInt64    `db:"from_cluster_id" json:"from_cluster_id,omitempty"`
	ToClusterID    int64            `db:"to_cluster_id" json:"to_cluster_id"`
	TransitionDate string           `db:"transition_date" json:"transition_date"`
	Confidence     float64          `db:"confidence" json:"confidence"`
	Reason         TransitionReason `db:"reason" json:"reason"`
	CreatedAtEpoch int64            `db:"created_at_epoch" json:"created_at_epoch"`
}

// ClusterEvolutionMetrics is one row per cluster per day, derived from
// consecutive snapshots plus same-day transitions. Requires at least two
// snapshots; absent before that.
type ClusterEvolutionMetrics struct {
	ID               int64   `db:"id" json:"id"`
	ClusterID        int64   `db:"cluster_id" json:"cluster_id"`
	MetricDate       string  `db:"metric_date" json:"metric_date"`
	GrowthRate       float64 `db:"growth_rate" json:"growth_rate"`
	ChurnRate        float64 `db:"churn_rate" json:"churn_rate"`
	StabilityScore   float64 `db:"stability_score" json:"stability_score"`
	CentroidDrift    float64 `db:"centroid_drift" json:"centroid_drift"`
	AvgConfidence    float64 `db:"avg_confidence" json:"avg_confidence"`
	PerformanceTrend float64 `db:"performance_trend" json:"performance_trend"`
	CreatedAtEpoch   int64   `db:"created_at_epoch" json:"created_at_epoch"`
}
