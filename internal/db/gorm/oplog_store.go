// Package gorm provides GORM-based database operations for driftwatch.
package gorm

import (
	"context"

	"gorm.io/gorm"

	"github.com/thebtf/driftwatch/pkg/models"
)

// OpLogStore provides operational-log operations using GORM.
// The log is append-only; the scheduler reads the most recent entry per
// stage to decide whether time-gated stages should run.
type OpLogStore struct {
	db *gorm.DB
}

// NewOpLogStore creates a new operational log store.
func NewOpLogStore(store *Store) *OpLogStore {
	return &OpLogStore{db: store.DB}
}

// Append records one stage run with its status and statistics.
func (s *OpLogStore) Append(ctx context.Context, stage string, status models.StageStatus, stats models.StatsMap) error {
	run := &StageRun{
		Stage:  stage,
		Status: string(status),
		Stats:  stats,
	}
	return s.db.WithContext(ctx).Create(run).Error
}

// LastRun returns the most recent log entry for a stage, or nil if the
// stage has never run.
func (s *OpLogStore) LastRun(ctx context.Context, stage string) (*models.StageRun, error) {
	return s.lastWhere(ctx, "stage = ?", stage)
}

// LastCompleted returns the most recent completed entry for a stage, or
// nil if the stage has never completed.
func (s *OpLogStore) LastCompleted(ctx context.Context, stage string) (*models.StageRun, error) {
	return s.lastWhere(ctx, "stage = ? AND status = ?", stage, string(models.StatusCompleted))
}

func (s *OpLogStore) lastWhere(ctx context.Context, query string, args ...interface{}) (*models.StageRun, error) {
	var dbRun StageRun
	err := s.db.WithContext(ctx).
		Where(query, args...).
		Order("created_at_epoch DESC, id DESC").
		First(&dbRun).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &models.StageRun{
		ID:             dbRun.ID,
		Stage:          dbRun.Stage,
		Status:         models.StageStatus(dbRun.Status),
		Stats:          dbRun.Stats,
		CreatedAt:      dbRun.CreatedAt,
		CreatedAtEpoch: dbRun.CreatedAtEpoch,
	}, nil
}
