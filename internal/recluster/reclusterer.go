// Package recluster implements partial re-clustering: it recomputes the
// structure of a bounded set of drifted clusters, reconciles the new
// sub-clusters back onto existing cluster identities, and mints fresh
// cluster records for genuinely novel groups.
package recluster

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/driftwatch/internal/artifacts"
	"github.com/thebtf/driftwatch/pkg/models"
	"github.com/thebtf/driftwatch/pkg/similarity"
)

// ItemSource is the item storage boundary used by re-clustering.
type ItemSource interface {
	MembersOf(ctx context.Context, clusterID int64) ([]*models.Item, error)
	AssignCluster(ctx context.Context, itemID int64, cluster *models.Cluster, confidence float64, at time.Time) error
	ClearCluster(ctx context.Context, itemID int64) error
}

// NeighborSearcher finds items similar to a query embedding, used to pull
// boundary items from other clusters into the working set.
type NeighborSearcher interface {
	FindNeighbors(ctx context.Context, embedding []float64, minSim float64, limit int) ([]*models.Item, error)
}

// ClusterSource is the cluster storage boundary used by re-clustering.
type ClusterSource interface {
	Get(ctx context.Context, id int64) (*models.Cluster, error)
	MaxID(ctx context.Context) (int64, error)
	Create(ctx context.Context, cluster *models.Cluster) error
	UpdateCentroid(ctx context.Context, id int64, centroid []float64, count int) error
}

// OpLog records stage runs in the operational log.
type OpLog interface {
	Append(ctx context.Context, stage string, status models.StageStatus, stats models.StatsMap) error
}

// Config tunes one re-clustering run.
type Config struct {
	NeighborMinSim     float64
	NeighborLimit      int
	MinClusterSize     int
	MinSamples         int
	StabilityThreshold float64
	DefaultConfidence  float64
}

// Stats aggregates one re-clustering run across all requested batches.
type Stats struct {
	BatchesRequested int `json:"batches_requested"`
	BatchesFailed    int `json:"batches_failed"`
	ItemsProcessed   int `json:"items_processed"`
	NewClusters      int `json:"new_clusters"`
	Noise            int `json:"noise"`
	Reassigned       int `json:"reassigned"`
	Unchanged        int `json:"unchanged"`
	Failed           int `json:"failed"`
}

// BatchSummary records the outcome of one target cluster's batch.
// Mapping goes from sub-cluster label to the resolved cluster id.
type BatchSummary struct {
	TargetCluster int64         `json:"target_cluster"`
	Items         int           `json:"items"`
	NewClusters   []int64       `json:"new_clusters,omitempty"`
	Noise         int           `json:"noise"`
	Reassigned    int           `json:"reassigned"`
	Unchanged     int           `json:"unchanged"`
	Failed        int           `json:"failed"`
	Mapping       map[int]int64 `json:"mapping,omitempty"`
	Error         string        `json:"error,omitempty"`
}

// runSummary is the dated artifact for one run.
type runSummary struct {
	GeneratedAt string          `json:"generated_at"`
	Batches     []*BatchSummary `json:"batches"`
}

// Reclusterer recomputes cluster structure for requested clusters, one
// isolated batch per target cluster.
type Reclusterer struct {
	items     ItemSource
	clusters  ClusterSource
	search    NeighborSearcher
	algorithm Algorithm
	oplog     OpLog
	artifacts *artifacts.Writer
	cfg       Config
	now       func() time.Time
}

// NewReclusterer creates a partial re-clusterer.
func NewReclusterer(items ItemSource, clusters ClusterSource, search NeighborSearcher, algorithm Algorithm, oplog OpLog, writer *artifacts.Writer, cfg Config) *Reclusterer {
	if cfg.DefaultConfidence <= 0 {
		cfg.DefaultConfidence = 0.8
	}
	return &Reclusterer{
		items:     items,
		clusters:  clusters,
		search:    search,
		algorithm: algorithm,
		oplog:     oplog,
		artifacts: writer,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Run re-clusters each requested cluster in its own batch. A failing
// batch is reported and skipped; it never blocks the other batches, and
// a batch's writes happen only after its computation fully succeeds.
func (r *Reclusterer) Run(ctx context.Context, clusterIDs []int64) (*Stats, error) {
	stats := &Stats{BatchesRequested: len(clusterIDs)}
	summary := &runSummary{GeneratedAt: r.now().Format(time.RFC3339)}

	for _, id := range clusterIDs {
		batch, err := r.processCluster(ctx, id)
		if err != nil {
			log.Warn().Err(err).Int64("clusterId", id).Msg("Re-clustering batch failed")
			stats.BatchesFailed++
			summary.Batches = append(summary.Batches, &BatchSummary{TargetCluster: id, Error: err.Error()})
			continue
		}

		stats.ItemsProcessed += batch.Items
		stats.NewClusters += len(batch.NewClusters)
		stats.Noise += batch.Noise
		stats.Reassigned += batch.Reassigned
		stats.Unchanged += batch.Unchanged
		stats.Failed += batch.Failed
		summary.Batches = append(summary.Batches, batch)
	}

	if _, err := r.artifacts.WriteJSON(models.StageReclustering, "run_summary", r.now(), summary); err != nil {
		log.Warn().Err(err).Msg("Failed to write re-clustering artifact")
	}

	statsMap := models.StatsMap{
		"batches_requested": stats.BatchesRequested,
		"batches_failed":    stats.BatchesFailed,
		"items_processed":   stats.ItemsProcessed,
		"new_clusters":      stats.NewClusters,
		"noise":             stats.Noise,
		"reassigned":        stats.Reassigned,
	}
	if err := r.oplog.Append(ctx, models.StageReclustering, models.StatusCompleted, statsMap); err != nil {
		return nil, fmt.Errorf("record re-clustering run: %w", err)
	}

	log.Info().
		Int("batches", stats.BatchesRequested).
		Int("failed", stats.BatchesFailed).
		Int("items", stats.ItemsProcessed).
		Int("newClusters", stats.NewClusters).
		Msg("Re-clustering run complete")

	return stats, nil
}

// processCluster runs one target cluster's batch end to end: gather,
// fit, reconcile, then apply.
func (r *Reclusterer) processCluster(ctx context.Context, clusterID int64) (*BatchSummary, error) {
	cluster, err := r.clusters.Get(ctx, clusterID)
	if err != nil {
		return nil, fmt.Errorf("fetch cluster %d: %w", clusterID, err)
	}
	if cluster == nil {
		return nil, fmt.Errorf("cluster %d not found", clusterID)
	}

	points, err := r.gather(ctx, cluster)
	if err != nil {
		return nil, err
	}
	batch := &BatchSummary{TargetCluster: clusterID, Items: len(points)}
	if len(points) == 0 {
		return batch, nil
	}

	labels, err := r.algorithm.Fit(ctx, points, Params{
		MinClusterSize: r.cfg.MinClusterSize,
		MinSamples:     r.cfg.MinSamples,
	})
	if err != nil {
		return nil, fmt.Errorf("fit cluster %d: %w", clusterID, err)
	}

	res := Reconcile(points, labels, r.cfg.StabilityThreshold)
	if err := r.apply(ctx, points, res, batch); err != nil {
		return nil, err
	}
	return batch, nil
}

// gather builds the working set: the target cluster's members plus
// nearby items from other clusters, deduplicated.
func (r *Reclusterer) gather(ctx context.Context, cluster *models.Cluster) ([]Point, error) {
	members, err := r.items.MembersOf(ctx, cluster.ID)
	if err != nil {
		return nil, fmt.Errorf("fetch members of cluster %d: %w", cluster.ID, err)
	}

	var points []Point
	seen := make(map[int64]bool)
	for _, m := range members {
		if len(m.Embedding) == 0 {
			continue
		}
		points = append(points, Point{ID: m.ID, Embedding: m.Embedding, OriginalCluster: cluster.ID})
		seen[m.ID] = true
	}

	neighbors, err := r.search.FindNeighbors(ctx, cluster.Centroid, r.cfg.NeighborMinSim, r.cfg.NeighborLimit)
	if err != nil {
		return nil, fmt.Errorf("neighborhood search for cluster %d: %w", cluster.ID, err)
	}
	for _, n := range neighbors {
		if seen[n.ID] || len(n.Embedding) == 0 {
			continue
		}
		var origin int64
		if n.ClusterID.Valid {
			origin = n.ClusterID.Int64
		}
		points = append(points, Point{ID: n.ID, Embedding: n.Embedding, OriginalCluster: origin})
		seen[n.ID] = true
	}

	return points, nil
}

// apply persists one batch's reconciled outcome: mint novel clusters,
// refresh continued centroids, then move items. Individual item write
// failures are logged and skipped.
func (r *Reclusterer) apply(ctx context.Context, points []Point, res *Resolution, batch *BatchSummary) error {
	embeddings := make(map[int64][]float64, len(points))
	origin := make(map[int64]int64, len(points))
	for _, p := range points {
		embeddings[p.ID] = p.Embedding
		origin[p.ID] = p.OriginalCluster
	}

	nextID, err := r.nextClusterID(ctx)
	if err != nil {
		return err
	}

	batch.Mapping = make(map[int]int64, len(res.Groups))
	at := r.now()
	for _, group := range res.Groups {
		centroid := groupCentroid(group.ItemIDs, embeddings)

		var target *models.Cluster
		if group.Novel {
			nextID++
			target = models.NewCluster(nextID, fmt.Sprintf("cluster_%d", nextID), "", "", centroid, len(group.ItemIDs))
			if err := r.clusters.Create(ctx, target); err != nil {
				return fmt.Errorf("create cluster %d: %w", nextID, err)
			}
			batch.NewClusters = append(batch.NewClusters, nextID)
		} else {
			target, err = r.clusters.Get(ctx, group.Continues)
			if err != nil {
				return fmt.Errorf("fetch cluster %d: %w", group.Continues, err)
			}
			if target == nil {
				return fmt.Errorf("cluster %d vanished during re-clustering", group.Continues)
			}
			if err := r.clusters.UpdateCentroid(ctx, target.ID, centroid, len(group.ItemIDs)); err != nil {
				return fmt.Errorf("update centroid of cluster %d: %w", target.ID, err)
			}
			target.Centroid = centroid
		}
		batch.Mapping[group.Label] = target.ID

		for _, itemID := range group.ItemIDs {
			if origin[itemID] == target.ID {
				batch.Unchanged++
				continue
			}
			confidence := r.cfg.DefaultConfidence
			if c, ok := res.Confidence[itemID]; ok {
				confidence = c
			}
			if err := r.items.AssignCluster(ctx, itemID, target, confidence, at); err != nil {
				log.Warn().Err(err).Int64("itemId", itemID).Int64("clusterId", target.ID).Msg("Failed to move item")
				batch.Failed++
				continue
			}
			batch.Reassigned++
		}
	}

	for _, itemID := range res.Noise {
		batch.Noise++
		if origin[itemID] == 0 {
			continue
		}
		if err := r.items.ClearCluster(ctx, itemID); err != nil {
			log.Warn().Err(err).Int64("itemId", itemID).Msg("Failed to clear noise item")
			batch.Failed++
		}
	}

	return nil
}

// nextClusterID returns the floor for minting: past both the highest
// existing id and the new-cluster watermark.
func (r *Reclusterer) nextClusterID(ctx context.Context) (int64, error) {
	maxID, err := r.clusters.MaxID(ctx)
	if err != nil {
		return 0, fmt.Errorf("read max cluster id: %w", err)
	}
	if maxID < models.NewClusterIDWatermark {
		return models.NewClusterIDWatermark, nil
	}
	return maxID, nil
}

func groupCentroid(ids []int64, embeddings map[int64][]float64) []float64 {
	vectors := make([][]float64, 0, len(ids))
	for _, id := range ids {
		vectors = append(vectors, embeddings[id])
	}
	return similarity.Centroid(vectors)
}
