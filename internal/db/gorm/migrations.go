// Package gorm provides GORM-based database operations for driftwatch.
package gorm

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// runMigrations runs all database migrations using gormigrate.
func runMigrations(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		// Migration 001: items and clusters (mutable shared state)
		{
			ID: "001_items_clusters",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&Item{}); err != nil {
					return err
				}
				return tx.AutoMigrate(&Cluster{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("items", "clusters")
			},
		},

		// Migration 002: snapshot, transition, and metrics history
		{
			ID: "002_history",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&ClusterSnapshot{}); err != nil {
					return err
				}
				if err := tx.AutoMigrate(&ClusterTransition{}); err != nil {
					return err
				}
				return tx.AutoMigrate(&ClusterEvolutionMetric{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(
					"cluster_snapshots",
					"cluster_transitions",
					"cluster_evolution_metrics",
				)
			},
		},

		// Migration 003: operational log
		{
			ID: "003_stage_runs",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&StageRun{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("stage_runs")
			},
		},
	})

	return m.Migrate()
}
