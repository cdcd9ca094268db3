// Package drift implements multi-metric stability analysis per cluster:
// it decides which clusters have diverged enough from their recorded
// state to warrant intervention, and recommends what to do about it.
package drift

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/driftwatch/internal/artifacts"
	"github.com/thebtf/driftwatch/pkg/models"
	"github.com/thebtf/driftwatch/pkg/similarity"
)

// ClusterSource supplies cluster metadata and stored centroids.
type ClusterSource interface {
	All(ctx context.Context) ([]*models.Cluster, error)
}

// MemberSource supplies a cluster's current members.
type MemberSource interface {
	MembersOf(ctx context.Context, clusterID int64) ([]*models.Item, error)
}

// OpLog records stage runs in the operational log.
type OpLog interface {
	Append(ctx context.Context, stage string, status models.StageStatus, stats models.StatsMap) error
}

// Config holds the drift thresholds.
type Config struct {
	CentroidShiftLimit  float64
	LowConfidenceCutoff float64
	LowConfidenceLimit  float64
	SizeChangeLimit     float64
	OutlierRatioLimit   float64
	TemporalDriftLimit  float64
	RecentWindowDays    int
	TemporalMinGroup    int
	MinClusterSize      int
}

// Recommendation priorities and actions.
const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"

	ActionCentroidUpdate    = "centroid_update"
	ActionSplitOrMerge      = "split_or_merge"
	ActionReclassification  = "reclassification"
	ActionOutlierReview     = "outlier_review"
	ActionEvolutionTracking = "evolution_tracking"
	ActionMergeCandidate    = "merge_candidate"
)

// Recommendation is one suggested intervention for a cluster.
type Recommendation struct {
	Action   string `json:"action"`
	Priority string `json:"priority"`
	Reason   string `json:"reason"`
}

// ClusterReport holds one cluster's drift metrics and recommendations.
type ClusterReport struct {
	ClusterID          int64            `json:"cluster_id"`
	Topic              string           `json:"topic"`
	Empty              bool             `json:"empty"`
	CurrentSize        int              `json:"current_size"`
	StoredSize         int              `json:"stored_size"`
	CentroidShift      float64          `json:"centroid_shift"`
	LowConfidenceRatio float64          `json:"low_confidence_ratio"`
	SizeChangeRatio    float64          `json:"size_change_ratio"`
	OutlierRatio       float64          `json:"outlier_ratio"`
	TemporalDrift      float64          `json:"temporal_drift"`
	Drifted            bool             `json:"drifted"`
	Recommendations    []Recommendation `json:"recommendations,omitempty"`
}

// Report is the full output of one drift analysis run.
type Report struct {
	GeneratedAt string           `json:"generated_at"`
	Analyzed    int              `json:"analyzed"`
	EmptyCount  int              `json:"empty_count"`
	Clusters    []*ClusterReport `json:"clusters"`
	Drifted     []*ClusterReport `json:"drifted"`
}

// Detector flags clusters whose member distribution has drifted from
// their recorded state.
type Detector struct {
	clusters  ClusterSource
	members   MemberSource
	oplog     OpLog
	artifacts *artifacts.Writer
	cfg       Config
	now       func() time.Time
}

// NewDetector creates a drift detector.
func NewDetector(clusters ClusterSource, members MemberSource, oplog OpLog, writer *artifacts.Writer, cfg Config) *Detector {
	return &Detector{
		clusters:  clusters,
		members:   members,
		oplog:     oplog,
		artifacts: writer,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Analyze computes drift metrics for every cluster, writes the dated
// analysis artifacts, and records the run.
func (d *Detector) Analyze(ctx context.Context) (*Report, error) {
	clusters, err := d.clusters.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch clusters: %w", err)
	}

	now := d.now()
	report := &Report{GeneratedAt: now.Format(time.RFC3339)}

	for _, cluster := range clusters {
		members, err := d.members.MembersOf(ctx, cluster.ID)
		if err != nil {
			return nil, fmt.Errorf("fetch members of cluster %d: %w", cluster.ID, err)
		}

		cr := d.analyzeCluster(cluster, members, now)
		report.Clusters = append(report.Clusters, cr)
		report.Analyzed++
		if cr.Empty {
			report.EmptyCount++
		}
		if cr.Drifted {
			report.Drifted = append(report.Drifted, cr)
		}
	}

	if err := d.writeArtifacts(report, now); err != nil {
		log.Warn().Err(err).Msg("Failed to write drift artifacts")
	}

	stats := models.StatsMap{
		"analyzed": report.Analyzed,
		"drifted":  len(report.Drifted),
		"empty":    report.EmptyCount,
	}
	if err := d.oplog.Append(ctx, models.StageDriftDetection, models.StatusCompleted, stats); err != nil {
		return nil, fmt.Errorf("record drift run: %w", err)
	}

	log.Info().
		Int("analyzed", report.Analyzed).
		Int("drifted", len(report.Drifted)).
		Int("empty", report.EmptyCount).
		Msg("Drift analysis complete")

	return report, nil
}

// analyzeCluster computes the five drift metrics for one cluster.
func (d *Detector) analyzeCluster(cluster *models.Cluster, members []*models.Item, now time.Time) *ClusterReport {
	cr := &ClusterReport{
		ClusterID:   cluster.ID,
		Topic:       cluster.Topic,
		CurrentSize: len(members),
		StoredSize:  cluster.ItemCount,
	}

	// Empty clusters are reported specially, never flagged as drifted.
	if len(members) == 0 {
		cr.Empty = true
		return cr
	}

	embeddings := make([][]float64, len(members))
	for i, m := range members {
		embeddings[i] = m.Embedding
	}
	current := similarity.Centroid(embeddings)

	cr.CentroidShift = 1 - similarity.CosineSimilarity(cluster.Centroid, current)

	lowConf := 0
	for _, m := range members {
		if !m.Confidence.Valid || m.Confidence.Float64 < d.cfg.LowConfidenceCutoff {
			lowConf++
		}
	}
	cr.LowConfidenceRatio = float64(lowConf) / float64(len(members))

	if cluster.ItemCount > 0 {
		diff := float64(len(members) - cluster.ItemCount)
		if diff < 0 {
			diff = -diff
		}
		cr.SizeChangeRatio = diff / float64(cluster.ItemCount)
	}

	cr.OutlierRatio = outlierRatio(embeddings, current)
	cr.TemporalDrift = d.temporalDrift(members, now)

	cr.Drifted = cr.CentroidShift > d.cfg.CentroidShiftLimit ||
		cr.LowConfidenceRatio > d.cfg.LowConfidenceLimit ||
		cr.SizeChangeRatio > d.cfg.SizeChangeLimit ||
		cr.OutlierRatio > d.cfg.OutlierRatioLimit ||
		cr.TemporalDrift > d.cfg.TemporalDriftLimit

	cr.Recommendations = d.recommend(cr)
	return cr
}

// outlierRatio is the fraction of members whose distance to the current
// centroid exceeds mean + 2 standard deviations.
func outlierRatio(embeddings [][]float64, centroid []float64) float64 {
	distances := make([]float64, len(embeddings))
	var mean float64
	for i, emb := range embeddings {
		distances[i] = similarity.CosineDistance(emb, centroid)
		mean += distances[i]
	}
	mean /= float64(len(distances))

	threshold := mean + 2*similarity.StdDev(distances)
	outliers := 0
	for _, dist := range distances {
		if dist > threshold {
			outliers++
		}
	}
	return float64(outliers) / float64(len(distances))
}

// temporalDrift compares the centroid of recently classified members
// against older members. Both groups must exceed the minimum group size.
func (d *Detector) temporalDrift(members []*models.Item, now time.Time) float64 {
	cutoff := now.AddDate(0, 0, -d.cfg.RecentWindowDays).UnixMilli()

	var recent, old [][]float64
	for _, m := range members {
		if m.ClassifiedAtEpoch.Valid && m.ClassifiedAtEpoch.Int64 >= cutoff {
			recent = append(recent, m.Embedding)
		} else {
			old = append(old, m.Embedding)
		}
	}

	if len(recent) <= d.cfg.TemporalMinGroup || len(old) <= d.cfg.TemporalMinGroup {
		return 0
	}
	return 1 - similarity.CosineSimilarity(similarity.Centroid(recent), similarity.Centroid(old))
}

// recommend builds the structured recommendation list for one cluster.
func (d *Detector) recommend(cr *ClusterReport) []Recommendation {
	var recs []Recommendation

	if cr.CentroidShift > d.cfg.CentroidShiftLimit {
		recs = append(recs, Recommendation{
			Action:   ActionCentroidUpdate,
			Priority: PriorityHigh,
			Reason:   fmt.Sprintf("centroid shifted %.3f against stored centroid", cr.CentroidShift),
		})
	}
	if cr.SizeChangeRatio > d.cfg.SizeChangeLimit {
		recs = append(recs, Recommendation{
			Action:   ActionSplitOrMerge,
			Priority: PriorityHigh,
			Reason:   fmt.Sprintf("size changed %.0f%% against stored count", cr.SizeChangeRatio*100),
		})
	}
	if cr.LowConfidenceRatio > d.cfg.LowConfidenceLimit {
		recs = append(recs, Recommendation{
			Action:   ActionReclassification,
			Priority: PriorityMedium,
			Reason:   fmt.Sprintf("%.0f%% of members below confidence %.2f", cr.LowConfidenceRatio*100, d.cfg.LowConfidenceCutoff),
		})
	}
	if cr.OutlierRatio > d.cfg.OutlierRatioLimit {
		recs = append(recs, Recommendation{
			Action:   ActionOutlierReview,
			Priority: PriorityMedium,
			Reason:   fmt.Sprintf("%.0f%% of members beyond the outlier threshold", cr.OutlierRatio*100),
		})
	}
	if cr.TemporalDrift > d.cfg.TemporalDriftLimit {
		recs = append(recs, Recommendation{
			Action:   ActionEvolutionTracking,
			Priority: PriorityLow,
			Reason:   fmt.Sprintf("recent members drifted %.3f from older members", cr.TemporalDrift),
		})
	}
	if cr.CurrentSize < d.cfg.MinClusterSize {
		recs = append(recs, Recommendation{
			Action:   ActionMergeCandidate,
			Priority: PriorityMedium,
			Reason:   fmt.Sprintf("only %d members, below minimum cluster size %d", cr.CurrentSize, d.cfg.MinClusterSize),
		})
	}

	return recs
}

// HighPriority returns drifted clusters carrying at least one
// high-priority recommendation, most severe first.
func (r *Report) HighPriority() []int64 {
	type candidate struct {
		id       int64
		severity float64
	}
	var candidates []candidate

	for _, cr := range r.Drifted {
		high := false
		for _, rec := range cr.Recommendations {
			if rec.Priority == PriorityHigh {
				high = true
				break
			}
		}
		if high {
			candidates = append(candidates, candidate{
				id:       cr.ClusterID,
				severity: cr.CentroidShift + cr.SizeChangeRatio + cr.OutlierRatio + cr.LowConfidenceRatio + cr.TemporalDrift,
			})
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].severity != candidates[j].severity {
			return candidates[i].severity > candidates[j].severity
		}
		return candidates[i].id < candidates[j].id
	})

	ids := make([]int64, len(candidates))
	for i, c := range candidates {
		ids[i] = c.id
	}
	return ids
}

func (d *Detector) writeArtifacts(report *Report, now time.Time) error {
	if _, err := d.artifacts.WriteJSON(models.StageDriftDetection, "full_analysis", now, report); err != nil {
		return err
	}
	driftedOnly := &Report{
		GeneratedAt: report.GeneratedAt,
		Analyzed:    report.Analyzed,
		EmptyCount:  report.EmptyCount,
		Clusters:    report.Drifted,
		Drifted:     report.Drifted,
	}
	if _, err := d.artifacts.WriteJSON(models.StageDriftDetection, "drifted_summary", now, driftedOnly); err != nil {
		return err
	}
	_, err := d.artifacts.WriteMarkdown(models.StageDriftDetection, "priority_report", now, report.Markdown())
	return err
}
