// Package evolution maintains the historical record behind drift and
// priority decisions: daily snapshots, the item transition log, derived
// per-cluster metrics, and a daily aggregate report.
package evolution

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/driftwatch/internal/artifacts"
	"github.com/thebtf/driftwatch/pkg/models"
	"github.com/thebtf/driftwatch/pkg/similarity"
)

// ClusterSource supplies cluster metadata.
type ClusterSource interface {
	All(ctx context.Context) ([]*models.Cluster, error)
}

// MemberSource supplies a cluster's current members.
type MemberSource interface {
	MembersOf(ctx context.Context, clusterID int64) ([]*models.Item, error)
}

// HistorySource is the snapshot, transition, and metrics storage boundary.
type HistorySource interface {
	UpsertSnapshot(ctx context.Context, snap *models.ClusterSnapshot) error
	SnapshotsSince(ctx context.Context, clusterID int64, windowDays int) ([]*models.ClusterSnapshot, error)
	AppendTransition(ctx context.Context, t *models.ClusterTransition) error
	LatestTransitionPerItem(ctx context.Context) (map[int64]int64, error)
	TransitionsOn(ctx context.Context, date string) ([]*models.ClusterTransition, error)
	UpsertMetrics(ctx context.Context, m *models.ClusterEvolutionMetrics) error
}

// OpLog records stage runs in the operational log.
type OpLog interface {
	Append(ctx context.Context, stage string, status models.StageStatus, stats models.StatsMap) error
}

// Config tunes the tracker.
type Config struct {
	SnapshotWindowDays int
	TopItemCount       int
	FastGrowthRate     float64
	ShrinkRate         float64
	HighChurnRate      float64
	DriftingThreshold  float64
	UnstableThreshold  float64
}

// Stats aggregates one tracker run.
type Stats struct {
	Clusters    int `json:"clusters"`
	Snapshots   int `json:"snapshots"`
	Transitions int `json:"transitions"`
	MetricsRows int `json:"metrics_rows"`
}

// CategoryEntry names one cluster in a report category.
type CategoryEntry struct {
	ClusterID int64   `json:"cluster_id"`
	Topic     string  `json:"topic"`
	Value     float64 `json:"value"`
}

// Category is one report bucket: total count plus the top clusters.
type Category struct {
	Count int             `json:"count"`
	Top   []CategoryEntry `json:"top,omitempty"`
}

// Report is the daily evolution report artifact.
type Report struct {
	Date        string   `json:"date"`
	FastGrowing Category `json:"fast_growing"`
	Shrinking   Category `json:"shrinking"`
	HighChurn   Category `json:"high_churn"`
	Drifting    Category `json:"drifting"`
	Unstable    Category `json:"unstable"`
}

// Tracker produces the daily snapshot, transition, and metrics record.
type Tracker struct {
	clusters  ClusterSource
	members   MemberSource
	history   HistorySource
	oplog     OpLog
	artifacts *artifacts.Writer
	cfg       Config
	now       func() time.Time
}

// NewTracker creates an evolution tracker.
func NewTracker(clusters ClusterSource, members MemberSource, history HistorySource, oplog OpLog, writer *artifacts.Writer, cfg Config) *Tracker {
	if cfg.SnapshotWindowDays <= 0 {
		cfg.SnapshotWindowDays = 30
	}
	if cfg.TopItemCount <= 0 {
		cfg.TopItemCount = 5
	}
	return &Tracker{
		clusters:  clusters,
		members:   members,
		history:   history,
		oplog:     oplog,
		artifacts: writer,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Run performs the daily pass: snapshot every cluster, record item
// transitions, derive metrics where history allows, and write the daily
// report. Re-running the same day overwrites snapshots and metrics.
func (t *Tracker) Run(ctx context.Context) (*Stats, error) {
	clusters, err := t.clusters.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch clusters: %w", err)
	}

	now := t.now()
	today := now.Format("2006-01-02")
	stats := &Stats{Clusters: len(clusters)}

	latest, err := t.history.LatestTransitionPerItem(ctx)
	if err != nil {
		return nil, fmt.Errorf("read transition log: %w", err)
	}

	for _, cluster := range clusters {
		members, err := t.members.MembersOf(ctx, cluster.ID)
		if err != nil {
			return nil, fmt.Errorf("fetch members of cluster %d: %w", cluster.ID, err)
		}

		snap := t.buildSnapshot(cluster, members, now, today)
		if err := t.history.UpsertSnapshot(ctx, snap); err != nil {
			return nil, fmt.Errorf("upsert snapshot for cluster %d: %w", cluster.ID, err)
		}
		stats.Snapshots++

		appended, err := t.recordTransitions(ctx, cluster, members, latest, today)
		if err != nil {
			return nil, err
		}
		stats.Transitions += appended
	}

	// Transitions for today are complete only after every cluster has
	// been diffed, so churn is computed in a second pass.
	transitions, err := t.history.TransitionsOn(ctx, today)
	if err != nil {
		return nil, fmt.Errorf("read transitions for %s: %w", today, err)
	}
	churnOut := make(map[int64]int)
	for _, tr := range transitions {
		if tr.FromClusterID.Valid {
			churnOut[tr.FromClusterID.Int64]++
		}
	}

	report := &Report{Date: today}
	for _, cluster := range clusters {
		m, err := t.deriveMetrics(ctx, cluster, churnOut[cluster.ID], today)
		if err != nil {
			return nil, err
		}
		if m == nil {
			continue
		}
		if err := t.history.UpsertMetrics(ctx, m); err != nil {
			return nil, fmt.Errorf("upsert metrics for cluster %d: %w", cluster.ID, err)
		}
		stats.MetricsRows++
		t.categorize(report, cluster, m)
	}
	trimReport(report, t.cfg.TopItemCount)

	if _, err := t.artifacts.WriteJSON(models.StageEvolution, "daily_report", now, report); err != nil {
		log.Warn().Err(err).Msg("Failed to write evolution report")
	}

	statsMap := models.StatsMap{
		"clusters":     stats.Clusters,
		"snapshots":    stats.Snapshots,
		"transitions":  stats.Transitions,
		"metrics_rows": stats.MetricsRows,
	}
	if err := t.oplog.Append(ctx, models.StageEvolution, models.StatusCompleted, statsMap); err != nil {
		return nil, fmt.Errorf("record evolution run: %w", err)
	}

	log.Info().
		Int("clusters", stats.Clusters).
		Int("transitions", stats.Transitions).
		Int("metricsRows", stats.MetricsRows).
		Msg("Evolution tracking complete")

	return stats, nil
}

// buildSnapshot recomputes a cluster's daily state from current members.
func (t *Tracker) buildSnapshot(cluster *models.Cluster, members []*models.Item, now time.Time, today string) *models.ClusterSnapshot {
	snap := &models.ClusterSnapshot{
		ClusterID:      cluster.ID,
		SnapshotDate:   today,
		ItemCount:      len(members),
		CreatedAtEpoch: now.UnixMilli(),
	}
	if len(members) == 0 {
		return snap
	}

	embeddings := make([][]float64, 0, len(members))
	histogram := make(models.IntMap)
	var popularity, ageDays float64
	for _, m := range members {
		if len(m.Embedding) > 0 {
			embeddings = append(embeddings, m.Embedding)
		}
		popularity += float64(m.ViewCount)
		ageDays += now.Sub(time.UnixMilli(m.PublishedAtEpoch)).Hours() / 24
		if m.Confidence.Valid {
			histogram[confidenceBucket(m.Confidence.Float64)]++
		}
	}

	snap.Centroid = similarity.Centroid(embeddings)
	snap.AvgPopularity = popularity / float64(len(members))
	snap.AvgAgeDays = ageDays / float64(len(members))
	snap.ConfidenceHistogram = histogram
	snap.TopItems = topItems(members, t.cfg.TopItemCount)
	return snap
}

// recordTransitions appends one record per member whose cluster differs
// from its most recent transition destination.
func (t *Tracker) recordTransitions(ctx context.Context, cluster *models.Cluster, members []*models.Item, latest map[int64]int64, today string) (int, error) {
	appended := 0
	for _, m := range members {
		prev, seen := latest[m.ID]
		if seen && prev == cluster.ID {
			continue
		}

		tr := &models.ClusterTransition{
			ItemID:         m.ID,
			ToClusterID:    cluster.ID,
			TransitionDate: today,
			Reason:         models.ReasonNewAssignment,
			CreatedAtEpoch: t.now().UnixMilli(),
		}
		if seen {
			tr.FromClusterID.Int64 = prev
			tr.FromClusterID.Valid = true
			tr.Reason = models.ReasonReassignment
		}
		if m.Confidence.Valid {
			tr.Confidence = m.Confidence.Float64
		}

		if err := t.history.AppendTransition(ctx, tr); err != nil {
			return appended, fmt.Errorf("append transition for item %d: %w", m.ID, err)
		}
		latest[m.ID] = cluster.ID
		appended++
	}
	return appended, nil
}

// deriveMetrics computes the per-cluster daily metrics row. Returns nil
// when the cluster has fewer than two snapshots in the window.
func (t *Tracker) deriveMetrics(ctx context.Context, cluster *models.Cluster, outCount int, today string) (*models.ClusterEvolutionMetrics, error) {
	snaps, err := t.history.SnapshotsSince(ctx, cluster.ID, t.cfg.SnapshotWindowDays)
	if err != nil {
		return nil, fmt.Errorf("read snapshots for cluster %d: %w", cluster.ID, err)
	}
	if len(snaps) < 2 {
		return nil, nil
	}

	current := snaps[len(snaps)-1]
	previous := snaps[len(snaps)-2]
	earliest := snaps[0]

	m := &models.ClusterEvolutionMetrics{
		ClusterID:      cluster.ID,
		MetricDate:     today,
		CentroidDrift:  1 - similarity.CosineSimilarity(current.Centroid, previous.Centroid),
		AvgConfidence:  histogramMean(current.ConfidenceHistogram),
		StabilityScore: stabilityScore(snaps),
		CreatedAtEpoch: t.now().UnixMilli(),
	}
	if previous.ItemCount > 0 {
		m.GrowthRate = float64(current.ItemCount-previous.ItemCount) / float64(previous.ItemCount)
	}
	if current.ItemCount > 0 {
		m.ChurnRate = float64(outCount) / float64(current.ItemCount)
	}
	if earliest.AvgPopularity > 0 {
		m.PerformanceTrend = (current.AvgPopularity - earliest.AvgPopularity) / earliest.AvgPopularity
	}
	return m, nil
}

func (t *Tracker) categorize(report *Report, cluster *models.Cluster, m *models.ClusterEvolutionMetrics) {
	entry := func(value float64) CategoryEntry {
		return CategoryEntry{ClusterID: cluster.ID, Topic: cluster.Topic, Value: value}
	}
	if m.GrowthRate > t.cfg.FastGrowthRate {
		report.FastGrowing.Count++
		report.FastGrowing.Top = append(report.FastGrowing.Top, entry(m.GrowthRate))
	}
	if m.GrowthRate < t.cfg.ShrinkRate {
		report.Shrinking.Count++
		report.Shrinking.Top = append(report.Shrinking.Top, entry(m.GrowthRate))
	}
	if m.ChurnRate > t.cfg.HighChurnRate {
		report.HighChurn.Count++
		report.HighChurn.Top = append(report.HighChurn.Top, entry(m.ChurnRate))
	}
	if m.CentroidDrift > t.cfg.DriftingThreshold {
		report.Drifting.Count++
		report.Drifting.Top = append(report.Drifting.Top, entry(m.CentroidDrift))
	}
	if m.StabilityScore < t.cfg.UnstableThreshold {
		report.Unstable.Count++
		report.Unstable.Top = append(report.Unstable.Top, entry(m.StabilityScore))
	}
}

// trimReport sorts each category by magnitude and keeps the top n.
func trimReport(report *Report, n int) {
	trim := func(c *Category, ascending bool) {
		sort.Slice(c.Top, func(i, j int) bool {
			if ascending {
				return c.Top[i].Value < c.Top[j].Value
			}
			return math.Abs(c.Top[i].Value) > math.Abs(c.Top[j].Value)
		})
		if len(c.Top) > n {
			c.Top = c.Top[:n]
		}
	}
	trim(&report.FastGrowing, false)
	trim(&report.Shrinking, false)
	trim(&report.HighChurn, false)
	trim(&report.Drifting, false)
	trim(&report.Unstable, true)
}

// confidenceBucket floors a confidence value to 0.1 resolution.
func confidenceBucket(c float64) string {
	return strconv.FormatFloat(math.Floor(c*10)/10, 'f', 1, 64)
}

// histogramMean is the bucket-weighted average confidence.
func histogramMean(histogram models.IntMap) float64 {
	var weighted float64
	total := 0
	for bucket, count := range histogram {
		v, err := strconv.ParseFloat(bucket, 64)
		if err != nil {
			continue
		}
		weighted += v * float64(count)
		total += count
	}
	if total == 0 {
		return 0
	}
	return weighted / float64(total)
}

// stabilityScore is 1 minus the mean day-over-day absolute relative size
// change across the snapshot window, clamped to [0, 1].
func stabilityScore(snaps []*models.ClusterSnapshot) float64 {
	var sum float64
	pairs := 0
	for i := 1; i < len(snaps); i++ {
		prev := snaps[i-1].ItemCount
		if prev == 0 {
			continue
		}
		sum += math.Abs(float64(snaps[i].ItemCount-prev)) / float64(prev)
		pairs++
	}
	if pairs == 0 {
		return 1
	}
	return 1 - math.Min(1, sum/float64(pairs))
}

// topItems returns the most popular members, view count descending.
func topItems(members []*models.Item, n int) models.TopItemList {
	sorted := make([]*models.Item, len(members))
	copy(sorted, members)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ViewCount > sorted[j].ViewCount })
	if len(sorted) > n {
		sorted = sorted[:n]
	}

	top := make(models.TopItemList, len(sorted))
	for i, m := range sorted {
		top[i] = models.TopItem{ItemID: m.ID, Title: m.Title, ViewCount: m.ViewCount}
	}
	return top
}
