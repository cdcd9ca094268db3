// Package gorm provides GORM-based database operations for driftwatch.
package gorm

import (
	"context"

	"gorm.io/gorm"

	"github.com/thebtf/driftwatch/pkg/models"
)

// ClusterStore provides cluster-related database operations using GORM.
type ClusterStore struct {
	db *gorm.DB
}

// NewClusterStore creates a new cluster store.
func NewClusterStore(store *Store) *ClusterStore {
	return &ClusterStore{db: store.DB}
}

// All returns every cluster with its labels, centroid, and stored count.
func (s *ClusterStore) All(ctx context.Context) ([]*models.Cluster, error) {
	var dbClusters []Cluster
	err := s.db.WithContext(ctx).
		Order("id").
		Find(&dbClusters).Error
	if err != nil {
		return nil, err
	}

	result := make([]*models.Cluster, len(dbClusters))
	for i := range dbClusters {
		result[i] = toModelCluster(&dbClusters[i])
	}
	return result, nil
}

// Get returns one cluster by id, or nil if it does not exist.
func (s *ClusterStore) Get(ctx context.Context, id int64) (*models.Cluster, error) {
	var dbCluster Cluster
	err := s.db.WithContext(ctx).First(&dbCluster, id).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return toModelCluster(&dbCluster), nil
}

// MaxID returns the highest existing cluster id (0 when no clusters exist).
func (s *ClusterStore) MaxID(ctx context.Context) (int64, error) {
	var maxID int64
	err := s.db.WithContext(ctx).
		Model(&Cluster{}).
		Select("COALESCE(MAX(id), 0)").
		Scan(&maxID).Error
	return maxID, err
}

// Create inserts a new cluster record.
func (s *ClusterStore) Create(ctx context.Context, cluster *models.Cluster) error {
	dbCluster := &Cluster{
		ID:               cluster.ID,
		Topic:            cluster.Topic,
		ParentTopic:      cluster.ParentTopic,
		GrandparentTopic: cluster.GrandparentTopic,
		Centroid:         cluster.Centroid,
		ItemCount:        cluster.ItemCount,
		CreatedAt:        cluster.CreatedAt,
		CreatedAtEpoch:   cluster.CreatedAtEpoch,
	}
	return s.db.WithContext(ctx).Create(dbCluster).Error
}

// UpdateCentroid replaces a cluster's centroid and member count. Only
// re-clustering calls this; drift detection always compares against the
// stored centroid.
func (s *ClusterStore) UpdateCentroid(ctx context.Context, id int64, centroid []float64, count int) error {
	return s.db.WithContext(ctx).
		Model(&Cluster{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"centroid":   models.Vector(centroid),
			"item_count": count,
		}).Error
}
