// Package assignment implements the centroid assignment engine: it drains
// the backlog of unassigned items and assigns each to the nearest cluster
// centroid when the match clears the assignment threshold.
package assignment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/thebtf/driftwatch/internal/artifacts"
	"github.com/thebtf/driftwatch/pkg/models"
	"github.com/thebtf/driftwatch/pkg/similarity"
)

// ItemSource is the item storage boundary used by the engine.
type ItemSource interface {
	UnassignedPage(ctx context.Context, limit, offset int) ([]*models.Item, error)
	AssignCluster(ctx context.Context, itemID int64, cluster *models.Cluster, confidence float64, at time.Time) error
}

// ClusterSource supplies the current cluster centroids.
type ClusterSource interface {
	All(ctx context.Context) ([]*models.Cluster, error)
}

// OpLog records stage runs in the operational log.
type OpLog interface {
	Append(ctx context.Context, stage string, status models.StageStatus, stats models.StatsMap) error
}

// Config tunes one engine run.
type Config struct {
	Threshold        float64
	PageSize         int
	WriteConcurrency int
}

// Stats aggregates one engine run.
type Stats struct {
	Processed      int     `json:"processed"`
	Assigned       int     `json:"assigned"`
	Unassigned     int     `json:"unassigned"`
	Failed         int     `json:"failed"`
	ClustersUsed   int     `json:"clusters_used"`
	MeanConfidence float64 `json:"mean_confidence"`
}

// UnassignedEntry is one side-log row for an item no centroid claimed.
type UnassignedEntry struct {
	ItemID         int64   `json:"item_id"`
	Title          string  `json:"title"`
	BestClusterID  int64   `json:"best_cluster_id"`
	BestSimilarity float64 `json:"best_similarity"`
}

// Engine assigns unclustered items to the best-matching existing cluster.
type Engine struct {
	items     ItemSource
	clusters  ClusterSource
	oplog     OpLog
	artifacts *artifacts.Writer
	cfg       Config
	now       func() time.Time
}

// NewEngine creates an assignment engine.
func NewEngine(items ItemSource, clusters ClusterSource, oplog OpLog, writer *artifacts.Writer, cfg Config) *Engine {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 1000
	}
	if cfg.WriteConcurrency <= 0 {
		cfg.WriteConcurrency = 1
	}
	return &Engine{
		items:     items,
		clusters:  clusters,
		oplog:     oplog,
		artifacts: writer,
		cfg:       cfg,
		now:       time.Now,
	}
}

// decision is one item's independent nearest-centroid outcome.
type decision struct {
	item    *models.Item
	cluster *models.Cluster
	sim     float64
}

// Run drains the unassigned backlog page by page until a short page.
// Items the engine leaves unassigned (or fails to persist) are skipped via
// the paging offset so they are not refetched within the same run.
func (e *Engine) Run(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	clustersUsed := make(map[int64]bool)
	var unassignedLog []any
	var confidenceSum float64
	offset := 0

	for {
		// The centroid list is an immutable snapshot per page, refreshed
		// here so a long drain sees clusters minted mid-run.
		clusters, err := e.clusters.All(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetch clusters: %w", err)
		}
		if len(clusters) == 0 {
			return nil, fmt.Errorf("no clusters available for assignment")
		}

		page, err := e.items.UnassignedPage(ctx, e.cfg.PageSize, offset)
		if err != nil {
			return nil, fmt.Errorf("fetch unassigned page: %w", err)
		}
		if len(page) == 0 {
			break
		}

		var toAssign []decision
		for _, item := range page {
			stats.Processed++
			best, sim := nearest(item.Embedding, clusters)

			if best == nil || sim < e.cfg.Threshold {
				stats.Unassigned++
				entry := UnassignedEntry{ItemID: item.ID, Title: item.Title, BestSimilarity: sim}
				if best != nil {
					entry.BestClusterID = best.ID
				}
				unassignedLog = append(unassignedLog, entry)
				continue
			}
			toAssign = append(toAssign, decision{item: item, cluster: best, sim: sim})
		}

		assigned, failed, confSum := e.applyPage(ctx, toAssign, clustersUsed)
		stats.Assigned += assigned
		stats.Failed += failed
		confidenceSum += confSum

		// Items left unassigned or failed stay in the backlog query;
		// advance past them so the next page fetch makes progress.
		offset += len(page) - assigned

		if len(page) < e.cfg.PageSize {
			break
		}
	}

	stats.ClustersUsed = len(clustersUsed)
	if stats.Assigned > 0 {
		stats.MeanConfidence = confidenceSum / float64(stats.Assigned)
	}

	if err := e.writeArtifacts(stats, unassignedLog); err != nil {
		log.Warn().Err(err).Msg("Failed to write assignment artifacts")
	}

	statsMap := models.StatsMap{
		"processed":       stats.Processed,
		"assigned":        stats.Assigned,
		"unassigned":      stats.Unassigned,
		"failed":          stats.Failed,
		"clusters_used":   stats.ClustersUsed,
		"mean_confidence": stats.MeanConfidence,
	}
	if err := e.oplog.Append(ctx, models.StageAssignment, models.StatusCompleted, statsMap); err != nil {
		return nil, fmt.Errorf("record assignment run: %w", err)
	}

	log.Info().
		Int("processed", stats.Processed).
		Int("assigned", stats.Assigned).
		Int("unassigned", stats.Unassigned).
		Int("failed", stats.Failed).
		Msg("Assignment run complete")

	return stats, nil
}

// applyPage persists one page of decisions with a bounded worker pool.
// A single item's failure is logged and counted, never fatal.
func (e *Engine) applyPage(ctx context.Context, decisions []decision, clustersUsed map[int64]bool) (assigned, failed int, confidenceSum float64) {
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.WriteConcurrency)

	at := e.now()
	for _, d := range decisions {
		d := d
		g.Go(func() error {
			err := e.items.AssignCluster(gctx, d.item.ID, d.cluster, d.sim, at)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				log.Warn().
					Err(err).
					Int64("itemId", d.item.ID).
					Int64("clusterId", d.cluster.ID).
					Msg("Failed to persist item assignment")
				return nil
			}
			assigned++
			confidenceSum += d.sim
			clustersUsed[d.cluster.ID] = true
			return nil
		})
	}
	_ = g.Wait()
	return assigned, failed, confidenceSum
}

func (e *Engine) writeArtifacts(stats *Stats, unassignedLog []any) error {
	date := e.now()
	if len(unassignedLog) > 0 {
		if _, err := e.artifacts.WriteJSONL(models.StageAssignment, "unassigned", date, unassignedLog); err != nil {
			return err
		}
	}
	_, err := e.artifacts.WriteJSON(models.StageAssignment, "run_stats", date, stats)
	return err
}

// nearest returns the best-matching cluster and its similarity, or nil
// when the list is empty.
func nearest(embedding []float64, clusters []*models.Cluster) (*models.Cluster, float64) {
	var best *models.Cluster
	bestSim := 0.0
	for _, c := range clusters {
		sim := similarity.CosineSimilarity(embedding, c.Centroid)
		if best == nil || sim > bestSim {
			best = c
			bestSim = sim
		}
	}
	return best, bestSim
}
