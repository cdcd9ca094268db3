package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/driftwatch/internal/artifacts"
	"github.com/thebtf/driftwatch/internal/assignment"
	"github.com/thebtf/driftwatch/internal/config"
	gormdb "github.com/thebtf/driftwatch/internal/db/gorm"
	"github.com/thebtf/driftwatch/internal/drift"
	"github.com/thebtf/driftwatch/internal/evolution"
	"github.com/thebtf/driftwatch/internal/pipeline"
	"github.com/thebtf/driftwatch/internal/recluster"
)

// app bundles the opened store, its typed stores, and the configured
// stage constructors shared by all subcommands.
type app struct {
	cfg      *config.Config
	store    *gormdb.Store
	items    *gormdb.ItemStore
	clusters *gormdb.ClusterStore
	history  *gormdb.HistoryStore
	oplog    *gormdb.OpLogStore
	writer   *artifacts.Writer
}

// openApp loads configuration and opens the database. Migrations run as
// part of opening the store.
func openApp() (*app, error) {
	if err := config.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("ensure data dir: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load config, using defaults")
		cfg = config.Default()
	}

	store, err := gormdb.NewStore(gormdb.Config{
		Driver:   cfg.Database.Driver,
		Path:     cfg.Database.Path,
		DSN:      cfg.Database.DSN,
		MaxConns: cfg.Database.MaxConns,
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	return &app{
		cfg:      cfg,
		store:    store,
		items:    gormdb.NewItemStore(store),
		clusters: gormdb.NewClusterStore(store),
		history:  gormdb.NewHistoryStore(store),
		oplog:    gormdb.NewOpLogStore(store),
		writer:   artifacts.NewWriter(cfg.ArtifactsDir),
	}, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close store")
	}
}

func (a *app) assigner() *assignment.Engine {
	return assignment.NewEngine(a.items, a.clusters, a.oplog, a.writer, assignment.Config{
		Threshold:        a.cfg.Assignment.Threshold,
		PageSize:         a.cfg.Assignment.PageSize,
		WriteConcurrency: a.cfg.Assignment.WriteConcurrency,
	})
}

func (a *app) detector() *drift.Detector {
	return drift.NewDetector(a.clusters, a.items, a.oplog, a.writer, drift.Config{
		CentroidShiftLimit:  a.cfg.Drift.CentroidShiftLimit,
		LowConfidenceCutoff: a.cfg.Drift.LowConfidenceCutoff,
		LowConfidenceLimit:  a.cfg.Drift.LowConfidenceLimit,
		SizeChangeLimit:     a.cfg.Drift.SizeChangeLimit,
		OutlierRatioLimit:   a.cfg.Drift.OutlierRatioLimit,
		TemporalDriftLimit:  a.cfg.Drift.TemporalDriftLimit,
		RecentWindowDays:    a.cfg.Drift.RecentWindowDays,
		TemporalMinGroup:    a.cfg.Drift.TemporalMinGroup,
		MinClusterSize:      a.cfg.Drift.MinClusterSize,
	})
}

// unavailableAlgorithm stands in when no clustering command is
// configured; every batch fails with a clear message instead of the
// whole pipeline refusing to start.
type unavailableAlgorithm struct{}

func (unavailableAlgorithm) Fit(context.Context, []recluster.Point, recluster.Params) ([]recluster.Label, error) {
	return nil, fmt.Errorf("recluster.command is not configured")
}

func (a *app) reclusterer() *recluster.Reclusterer {
	var algorithm recluster.Algorithm = unavailableAlgorithm{}
	if command := a.cfg.Recluster.Command; len(command) > 0 {
		algorithm = &recluster.SubprocessAlgorithm{
			Binary:  command[0],
			Args:    command[1:],
			Timeout: time.Duration(a.cfg.Recluster.TimeoutSeconds) * time.Second,
		}
	}
	return recluster.NewReclusterer(a.items, a.clusters, a.items, algorithm, a.oplog, a.writer, recluster.Config{
		NeighborMinSim:     a.cfg.Recluster.NeighborhoodSimilarity,
		NeighborLimit:      a.cfg.Recluster.NeighborLimit,
		MinClusterSize:     a.cfg.Recluster.MinClusterSize,
		MinSamples:         a.cfg.Recluster.MinSamples,
		StabilityThreshold: a.cfg.Recluster.StabilityThreshold,
		DefaultConfidence:  a.cfg.Recluster.DefaultConfidence,
	})
}

func (a *app) tracker() *evolution.Tracker {
	return evolution.NewTracker(a.clusters, a.items, a.history, a.oplog, a.writer, evolution.Config{
		SnapshotWindowDays: a.cfg.Evolution.HistoryWindowDays,
		TopItemCount:       a.cfg.Evolution.ReportTopN,
		FastGrowthRate:     0.1,
		ShrinkRate:         -0.1,
		HighChurnRate:      0.2,
		DriftingThreshold:  0.1,
		UnstableThreshold:  0.7,
	})
}

func (a *app) orchestrator() *pipeline.Orchestrator {
	scheduler := pipeline.NewScheduler(a.oplog)
	return pipeline.NewOrchestrator(a.assigner(), a.detector(), a.reclusterer(), a.tracker(), a.items, scheduler, a.oplog, a.writer, pipeline.Config{
		MinBacklog:    a.cfg.Assignment.MinBacklog,
		DriftInterval: time.Duration(a.cfg.Drift.IntervalDays) * 24 * time.Hour,
		MaxReclusters: a.cfg.Recluster.MaxPerRun,
	})
}
