// Package gorm provides GORM-based database operations for driftwatch.
package gorm

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/thebtf/driftwatch/pkg/models"
)

// HistoryStore provides snapshot, transition, and evolution-metric
// operations using GORM. Snapshots and metrics are upserted by
// (cluster, date); transitions are append-only.
type HistoryStore struct {
	db *gorm.DB
}

// NewHistoryStore creates a new history store.
func NewHistoryStore(store *Store) *HistoryStore {
	return &HistoryStore{db: store.DB}
}

// UpsertSnapshot inserts or overwrites the snapshot for (cluster, date).
func (s *HistoryStore) UpsertSnapshot(ctx context.Context, snap *models.ClusterSnapshot) error {
	dbSnap := &ClusterSnapshot{
		ClusterID:           snap.ClusterID,
		SnapshotDate:        snap.SnapshotDate,
		ItemCount:           snap.ItemCount,
		Centroid:            snap.Centroid,
		AvgPopularity:       snap.AvgPopularity,
		AvgAgeDays:          snap.AvgAgeDays,
		ConfidenceHistogram: snap.ConfidenceHistogram,
		TopItems:            snap.TopItems,
		CreatedAtEpoch:      snap.CreatedAtEpoch,
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "cluster_id"}, {Name: "snapshot_date"}},
			UpdateAll: true,
		}).
		Create(dbSnap).Error
}

// SnapshotsSince returns a cluster's snapshots from the last windowDays,
// oldest first.
func (s *HistoryStore) SnapshotsSince(ctx context.Context, clusterID int64, windowDays int) ([]*models.ClusterSnapshot, error) {
	cutoff := time.Now().AddDate(0, 0, -windowDays).Format("2006-01-02")

	var dbSnaps []ClusterSnapshot
	err := s.db.WithContext(ctx).
		Where("cluster_id = ? AND snapshot_date >= ?", clusterID, cutoff).
		Order("snapshot_date ASC").
		Find(&dbSnaps).Error
	if err != nil {
		return nil, err
	}

	result := make([]*models.ClusterSnapshot, len(dbSnaps))
	for i := range dbSnaps {
		snap := dbSnaps[i]
		result[i] = &models.ClusterSnapshot{
			ID:                  snap.ID,
			ClusterID:           snap.ClusterID,
			SnapshotDate:        snap.SnapshotDate,
			ItemCount:           snap.ItemCount,
			Centroid:            snap.Centroid,
			AvgPopularity:       snap.AvgPopularity,
			AvgAgeDays:          snap.AvgAgeDays,
			ConfidenceHistogram: snap.ConfidenceHistogram,
			TopItems:            snap.TopItems,
			CreatedAtEpoch:      snap.CreatedAtEpoch,
		}
	}
	return result, nil
}

// AppendTransition appends one immutable transition record.
func (s *HistoryStore) AppendTransition(ctx context.Context, t *models.ClusterTransition) error {
	dbTransition := &ClusterTransition{
		ItemID:         t.ItemID,
		FromClusterID:  t.FromClusterID,
		ToClusterID:    t.ToClusterID,
		TransitionDate: t.TransitionDate,
		Confidence:     t.Confidence,
		Reason:         string(t.Reason),
		CreatedAtEpoch: t.CreatedAtEpoch,
	}
	return s.db.WithContext(ctx).Create(dbTransition).Error
}

// LatestTransitionPerItem returns each item's most recent transition
// destination. Readers must take the latest record per item, so the join
// keys on MAX(id) within the append-only log.
func (s *HistoryStore) LatestTransitionPerItem(ctx context.Context) (map[int64]int64, error) {
	rows, err := s.db.WithContext(ctx).Raw(`
		SELECT t.item_id, t.to_cluster_id
		FROM cluster_transitions t
		JOIN (
			SELECT item_id, MAX(id) AS max_id
			FROM cluster_transitions
			GROUP BY item_id
		) latest ON t.id = latest.max_id
	`).Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[int64]int64)
	for rows.Next() {
		var itemID, toCluster int64
		if err := rows.Scan(&itemID, &toCluster); err != nil {
			return nil, err
		}
		result[itemID] = toCluster
	}
	return result, rows.Err()
}

// TransitionsOn returns all transitions recorded on a given date.
func (s *HistoryStore) TransitionsOn(ctx context.Context, date string) ([]*models.ClusterTransition, error) {
	var dbTransitions []ClusterTransition
	err := s.db.WithContext(ctx).
		Where("transition_date = ?", date).
		Order("id").
		Find(&dbTransitions).Error
	if err != nil {
		return nil, err
	}

	result := make([]*models.ClusterTransition, len(dbTransitions))
	for i := range dbTransitions {
		t := dbTransitions[i]
		result[i] = &models.ClusterTransition{
			ID:             t.ID,
			ItemID:         t.ItemID,
			FromClusterID:  t.FromClusterID,
			ToClusterID:    t.ToClusterID,
			TransitionDate: t.TransitionDate,
			Confidence:     t.Confidence,
			Reason:         models.TransitionReason(t.Reason),
			CreatedAtEpoch: t.CreatedAtEpoch,
		}
	}
	return result, nil
}

// UpsertMetrics inserts or overwrites the metrics row for (cluster, date).
func (s *HistoryStore) UpsertMetrics(ctx context.Context, m *models.ClusterEvolutionMetrics) error {
	dbMetric := &ClusterEvolutionMetric{
		ClusterID:        m.ClusterID,
		MetricDate:       m.MetricDate,
		GrowthRate:       m.GrowthRate,
		ChurnRate:        m.ChurnRate,
		StabilityScore:   m.StabilityScore,
		CentroidDrift:    m.CentroidDrift,
		AvgConfidence:    m.AvgConfidence,
		PerformanceTrend: m.PerformanceTrend,
		CreatedAtEpoch:   m.CreatedAtEpoch,
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "cluster_id"}, {Name: "metric_date"}},
			UpdateAll: true,
		}).
		Create(dbMetric).Error
}

// MetricsOn returns the metrics row for (cluster, date), or nil.
func (s *HistoryStore) MetricsOn(ctx context.Context, clusterID int64, date string) (*models.ClusterEvolutionMetrics, error) {
	var dbMetric ClusterEvolutionMetric
	err := s.db.WithContext(ctx).
		Where("cluster_id = ? AND metric_date = ?", clusterID, date).
		First(&dbMetric).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &models.ClusterEvolutionMetrics{
		ID:               dbMetric.ID,
		ClusterID:        dbMetric.ClusterID,
		MetricDate:       dbMetric.MetricDate,
		GrowthRate:       dbMetric.GrowthRate,
		ChurnRate:        dbMetric.ChurnRate,
		StabilityScore:   dbMetric.StabilityScore,
		CentroidDrift:    dbMetric.CentroidDrift,
		AvgConfidence:    dbMetric.AvgConfidence,
		PerformanceTrend: dbMetric.PerformanceTrend,
		CreatedAtEpoch:   dbMetric.CreatedAtEpoch,
	}, nil
}
