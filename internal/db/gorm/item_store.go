// Package gorm provides GORM-based database operations for driftwatch.
package gorm

import (
	"context"
	"database/sql"
	"sort"
	"time"

	"gorm.io/gorm"

	"github.com/thebtf/driftwatch/pkg/models"
	"github.com/thebtf/driftwatch/pkg/similarity"
)

// neighborScanBatch is the row batch size for the brute-force
// similarity scan in FindNeighbors.
const neighborScanBatch = 2000

// ItemStore provides item-related database operations using GORM.
type ItemStore struct {
	db *gorm.DB
}

// NewItemStore creates a new item store.
func NewItemStore(store *Store) *ItemStore {
	return &ItemStore{db: store.DB}
}

// UnassignedPage returns a page of items lacking a cluster assignment but
// possessing an embedding, ordered newest-first. The offset lets callers
// advance past items a previous page deliberately left unassigned.
func (s *ItemStore) UnassignedPage(ctx context.Context, limit, offset int) ([]*models.Item, error) {
	var dbItems []Item
	err := s.db.WithContext(ctx).
		Where("cluster_id IS NULL AND embedding IS NOT NULL").
		Order("published_at_epoch DESC").
		Limit(limit).
		Offset(offset).
		Find(&dbItems).Error
	if err != nil {
		return nil, err
	}
	return toModelItems(dbItems), nil
}

// UnassignedCount returns the size of the unassigned backlog.
func (s *ItemStore) UnassignedCount(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&Item{}).
		Where("cluster_id IS NULL AND embedding IS NOT NULL").
		Count(&count).Error
	return count, err
}

// AssignCluster sets an item's cluster id, copies the cluster's topic
// labels, and stamps confidence and classification time.
func (s *ItemStore) AssignCluster(ctx context.Context, itemID int64, cluster *models.Cluster, confidence float64, at time.Time) error {
	return s.db.WithContext(ctx).
		Model(&Item{}).
		Where("id = ?", itemID).
		Updates(map[string]interface{}{
			"cluster_id":          cluster.ID,
			"topic":               sqlNullString(cluster.Topic),
			"parent_topic":        sqlNullString(cluster.ParentTopic),
			"grandparent_topic":   sqlNullString(cluster.GrandparentTopic),
			"confidence":          confidence,
			"classified_at":       at.Format(time.RFC3339),
			"classified_at_epoch": at.UnixMilli(),
		}).Error
}

// ClearCluster resets an item to unassigned (noise handling).
func (s *ItemStore) ClearCluster(ctx context.Context, itemID int64) error {
	return s.db.WithContext(ctx).
		Model(&Item{}).
		Where("id = ?", itemID).
		Updates(map[string]interface{}{
			"cluster_id":        sql.NullInt64{},
			"topic":             sql.NullString{},
			"parent_topic":      sql.NullString{},
			"grandparent_topic": sql.NullString{},
			"confidence":        sql.NullFloat64{},
		}).Error
}

// MembersOf returns all items currently assigned to a cluster.
func (s *ItemStore) MembersOf(ctx context.Context, clusterID int64) ([]*models.Item, error) {
	var dbItems []Item
	err := s.db.WithContext(ctx).
		Where("cluster_id = ?", clusterID).
		Find(&dbItems).Error
	if err != nil {
		return nil, err
	}
	return toModelItems(dbItems), nil
}

// FindNeighbors returns items whose embedding has cosine similarity of at
// least minSim to the query embedding, best matches first, capped at limit.
// This is a brute-force scan over stored embeddings, batched to bound
// memory; at low-hundreds of clusters and ~100k items it is seconds-scale.
func (s *ItemStore) FindNeighbors(ctx context.Context, embedding []float64, minSim float64, limit int) ([]*models.Item, error) {
	type scored struct {
		item *models.Item
		sim  float64
	}
	var matches []scored

	var batch []Item
	err := s.db.WithContext(ctx).
		Where("embedding IS NOT NULL").
		FindInBatches(&batch, neighborScanBatch, func(tx *gorm.DB, _ int) error {
			for i := range batch {
				item := &batch[i]
				sim := similarity.CosineSimilarity(embedding, item.Embedding)
				if sim >= minSim {
					matches = append(matches, scored{item: toModelItem(item), sim: sim})
				}
			}
			return nil
		}).Error
	if err != nil {
		return nil, err
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].sim > matches[j].sim })
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}

	result := make([]*models.Item, len(matches))
	for i, m := range matches {
		result[i] = m.item
	}
	return result, nil
}
