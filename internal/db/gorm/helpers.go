// Package gorm provides GORM-based database operations for driftwatch.
package gorm

import (
	"database/sql"

	"github.com/thebtf/driftwatch/pkg/models"
)

// toModelItem converts a GORM Item to pkg/models.Item.
func toModelItem(i *Item) *models.Item {
	return &models.Item{
		ID:                i.ID,
		Title:             i.Title,
		Embedding:         i.Embedding,
		ClusterID:         i.ClusterID,
		Topic:             i.Topic,
		ParentTopic:       i.ParentTopic,
		GrandparentTopic:  i.GrandparentTopic,
		Confidence:        i.Confidence,
		ViewCount:         i.ViewCount,
		PublishedAt:       i.PublishedAt,
		PublishedAtEpoch:  i.PublishedAtEpoch,
		ClassifiedAt:      i.ClassifiedAt,
		ClassifiedAtEpoch: i.ClassifiedAtEpoch,
	}
}

// toModelItems converts a slice of GORM Item to pkg/models.Item.
func toModelItems(items []Item) []*models.Item {
	result := make([]*models.Item, len(items))
	for i := range items {
		result[i] = toModelItem(&items[i])
	}
	return result
}

// toModelCluster converts a GORM Cluster to pkg/models.Cluster.
func toModelCluster(c *Cluster) *models.Cluster {
	return &models.Cluster{
		ID:               c.ID,
		Topic:            c.Topic,
		ParentTopic:      c.ParentTopic,
		GrandparentTopic: c.GrandparentTopic,
		Centroid:         c.Centroid,
		ItemCount:        c.ItemCount,
		CreatedAt:        c.CreatedAt,
		CreatedAtEpoch:   c.CreatedAtEpoch,
	}
}

// sqlNullString creates a sql.NullString from a string.
func sqlNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
