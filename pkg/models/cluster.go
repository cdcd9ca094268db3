// Package models contains domain models for driftwatch.
package models

import "time"

// NewClusterIDWatermark is the floor for cluster ids minted by partial
// re-clustering. Ids below it belong to the initial out-of-band clustering.
const NewClusterIDWatermark = 10000

// Cluster is a topic cluster with a three-level name hierarchy and a
// stored centroid. The centroid changes only by explicit recomputation;
// drift is detected against it, never silently absorbed into it.
type Cluster struct {
	ID               int64  `db:"id" json:"id"`
	Topic            string `db:"topic" json:"topic"`
	ParentTopic      string `db:"parent_topic" json:"parent_topic"`
	GrandparentTopic string `db:"grandparent_topic" json:"grandparent_topic"`
	Centroid         Vector `db:"centroid" json:"centroid,omitempty"`
	ItemCount        int    `db:"item_count" json:"item_count"`
	CreatedAt        string `db:"created_at" json:"created_at"`
	CreatedAtEpoch   int64  `db:"created_at_epoch" json:"created_at_epoch"`
}

// NewCluster creates a cluster record minted by partial re-clustering.
func NewCluster(id int64, topic, parent, grandparent string, centroid []float64, itemCount int) *Cluster {
	now := time.Now()
	return &Cluster{
		ID:               id,
		Topic:            topic,
		ParentTopic:      parent,
		GrandparentTopic: grandparent,
		Centroid:         Vector(centroid),
		ItemCount:        itemCount,
		CreatedAt:        now.Format(time.RFC3339),
		CreatedAtEpoch:   now.UnixMilli(),
	}
}

// ClusterSnapshot is a dated, immutable record of a cluster's state.
// One snapshot per cluster per calendar day; re-running the same day
// overwrites via upsert.
type ClusterSnapshot struct {
	ID                  int64       `db:"id" json:"id"`
	ClusterID           int64       `db:"cluster_id" json:"cluster_id"`
	SnapshotDate        string      `db:"snapshot_date" json:"snapshot_date"`
	ItemCount           int         `db:"item_count" json:"item_count"`
	Centroid            Vector      `db:"centroid" json:"centroid,omitempty"`
	AvgPopularity       float64     `db:"avg_popularity" json:"avg_popularity"`
	AvgAgeDays          float64     `db:"avg_age_days" json:"avg_age_days"`
	ConfidenceHistogram IntMap      `db:"confidence_histogram" json:"confidence_histogram,omitempty"`
	TopItems            TopItemList `db:"top_items" json:"top_items,omitempty"`
	CreatedAtEpoch      int64       `db:"created_at_epoch" json:"created_at_epoch"`
}
