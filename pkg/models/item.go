// Package models contains domain models for driftwatch.
package models

import "database/sql"

// Item is a piece of ingested content with a precomputed embedding.
// The ingestion pipeline creates items; the assignment engine and the
// partial re-clusterer are the only writers of the cluster fields.
type Item struct {
	ID                int64           `db:"id" json:"id"`
	Title             string          `db:"title" json:"title"`
	Embedding         Vector          `db:"embedding" json:"embedding,omitempty"`
	ClusterID         sql.NullInt64   `db:"cluster_id" json:"cluster_id,omitempty"`
	Topic             sql.NullString  `db:"topic" json:"topic,omitempty"`
	ParentTopic       sql.NullString  `db:"parent_topic" json:"parent_topic,omitempty"`
	GrandparentTopic  sql.NullString  `db:"grandparent_topic" json:"grandparent_topic,omitempty"`
	Confidence        sql.NullFloat64 `db:"confidence" json:"confidence,omitempty"`
	ViewCount         int64           `db:"view_count" json:"view_count"`
	PublishedAt       string          `db:"published_at" json:"published_at"`
	PublishedAtEpoch  int64           `db:"published_at_epoch" json:"published_at_epoch"`
	ClassifiedAt      sql.NullString  `db:"classified_at" json:"classified_at,omitempty"`
	ClassifiedAtEpoch sql.NullInt64   `db:"classified_at_epoch" json:"classified_at_epoch,omitempty"`
}

// Assigned reports whether the item currently belongs to a cluster.
func (i *Item) Assigned() bool {
	return i.ClusterID.Valid
}
