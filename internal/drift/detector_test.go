package drift

import (
	"context"
	"database/sql"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/driftwatch/internal/artifacts"
	"github.com/thebtf/driftwatch/pkg/models"
)

type fakeClusters struct {
	clusters []*models.Cluster
}

func (f *fakeClusters) All(context.Context) ([]*models.Cluster, error) {
	return f.clusters, nil
}

type fakeMembers struct {
	byCluster map[int64][]*models.Item
}

func (f *fakeMembers) MembersOf(_ context.Context, clusterID int64) ([]*models.Item, error) {
	return f.byCluster[clusterID], nil
}

type fakeOpLog struct {
	mu      sync.Mutex
	entries []models.StageRun
}

func (f *fakeOpLog) Append(_ context.Context, stage string, status models.StageStatus, stats models.StatsMap) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, models.StageRun{Stage: stage, Status: status, Stats: stats})
	return nil
}

func defaultConfig() Config {
	return Config{
		CentroidShiftLimit:  0.15,
		LowConfidenceCutoff: 0.7,
		LowConfidenceLimit:  0.3,
		SizeChangeLimit:     2.0,
		OutlierRatioLimit:   0.25,
		TemporalDriftLimit:  0.15,
		RecentWindowDays:    30,
		TemporalMinGroup:    10,
		MinClusterSize:      30,
	}
}

var testNow = time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

func newDetector(t *testing.T, clusters *fakeClusters, members *fakeMembers) (*Detector, *fakeOpLog) {
	t.Helper()
	oplog := &fakeOpLog{}
	d := NewDetector(clusters, members, oplog, artifacts.NewWriter(t.TempDir()), defaultConfig())
	d.now = func() time.Time { return testNow }
	return d, oplog
}

func member(id int64, embedding models.Vector, confidence float64, classifiedAt time.Time) *models.Item {
	return &models.Item{
		ID:                id,
		Embedding:         embedding,
		Confidence:        sql.NullFloat64{Float64: confidence, Valid: true},
		ClassifiedAtEpoch: sql.NullInt64{Int64: classifiedAt.UnixMilli(), Valid: true},
	}
}

// TestStableClusterNotFlagged verifies a cluster matching its recorded
// state on every metric is never reported as drifted.
func TestStableClusterNotFlagged(t *testing.T) {
	var members []*models.Item
	for i := int64(1); i <= 40; i++ {
		members = append(members, member(i, models.Vector{1, 0}, 0.95, testNow.AddDate(0, 0, -1)))
	}

	clusters := &fakeClusters{clusters: []*models.Cluster{
		{ID: 1, Topic: "go", Centroid: models.Vector{1, 0}, ItemCount: 40},
	}}
	d, oplog := newDetector(t, clusters, &fakeMembers{byCluster: map[int64][]*models.Item{1: members}})

	report, err := d.Analyze(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Analyzed)
	assert.Empty(t, report.Drifted)

	cr := report.Clusters[0]
	assert.False(t, cr.Drifted)
	assert.InDelta(t, 0, cr.CentroidShift, 1e-9)
	assert.InDelta(t, 0, cr.LowConfidenceRatio, 1e-9)
	assert.InDelta(t, 0, cr.SizeChangeRatio, 1e-9)
	assert.InDelta(t, 0, cr.OutlierRatio, 1e-9)
	assert.InDelta(t, 0, cr.TemporalDrift, 1e-9)
	assert.Empty(t, cr.Recommendations)

	require.Len(t, oplog.entries, 1)
	assert.Equal(t, models.StageDriftDetection, oplog.entries[0].Stage)
	assert.Equal(t, models.StatusCompleted, oplog.entries[0].Status)
}

// TestSizeExplosionFlagged verifies a cluster whose membership has more
// than tripled against its stored count is always flagged.
func TestSizeExplosionFlagged(t *testing.T) {
	var members []*models.Item
	for i := int64(1); i <= 31; i++ {
		members = append(members, member(i, models.Vector{1, 0}, 0.95, testNow.AddDate(0, 0, -1)))
	}

	clusters := &fakeClusters{clusters: []*models.Cluster{
		{ID: 1, Topic: "go", Centroid: models.Vector{1, 0}, ItemCount: 10},
	}}
	d, _ := newDetector(t, clusters, &fakeMembers{byCluster: map[int64][]*models.Item{1: members}})

	report, err := d.Analyze(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Drifted, 1)

	cr := report.Drifted[0]
	assert.True(t, cr.Drifted)
	assert.InDelta(t, 2.1, cr.SizeChangeRatio, 1e-9)

	var actions []string
	for _, rec := range cr.Recommendations {
		actions = append(actions, rec.Action)
	}
	assert.Contains(t, actions, ActionSplitOrMerge)
	assert.Equal(t, []int64{1}, report.HighPriority())
}

// TestCentroidShiftFlagged verifies a member population that moved away
// from the stored centroid trips the shift gate with a high-priority
// centroid update recommendation.
func TestCentroidShiftFlagged(t *testing.T) {
	var members []*models.Item
	for i := int64(1); i <= 31; i++ {
		members = append(members, member(i, models.Vector{1, 1}, 0.9, testNow.AddDate(0, 0, -1)))
	}

	clusters := &fakeClusters{clusters: []*models.Cluster{
		{ID: 4, Topic: "go", Centroid: models.Vector{1, 0}, ItemCount: 31},
	}}
	d, _ := newDetector(t, clusters, &fakeMembers{byCluster: map[int64][]*models.Item{4: members}})

	report, err := d.Analyze(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Drifted, 1)

	cr := report.Drifted[0]
	assert.True(t, cr.Drifted)
	assert.InDelta(t, 1-1/math.Sqrt2, cr.CentroidShift, 1e-9)

	// Every other gate stays quiet, so the shift is the only finding.
	require.Len(t, cr.Recommendations, 1)
	assert.Equal(t, ActionCentroidUpdate, cr.Recommendations[0].Action)
	assert.Equal(t, PriorityHigh, cr.Recommendations[0].Priority)
	assert.Equal(t, []int64{4}, report.HighPriority())
}

// TestOutlierRatioFlagged verifies members far from the current centroid
// trip the outlier gate. The mean + 2 standard deviations cutoff bounds
// the flaggable fraction at a fifth of the members, so the gate is tuned
// below that here.
func TestOutlierRatioFlagged(t *testing.T) {
	cfg := defaultConfig()
	cfg.OutlierRatioLimit = 0.1

	var members []*models.Item
	for i := int64(1); i <= 12; i++ {
		members = append(members, member(i, models.Vector{1, 0}, 0.9, testNow.AddDate(0, 0, -1)))
	}
	for i := int64(13); i <= 14; i++ {
		members = append(members, member(i, models.Vector{0, 1}, 0.9, testNow.AddDate(0, 0, -1)))
	}

	// The stored centroid matches the current member mean, so the shift
	// gate stays quiet and only the two far members register.
	clusters := &fakeClusters{clusters: []*models.Cluster{
		{ID: 6, Topic: "go", Centroid: models.Vector{6, 1}, ItemCount: 14},
	}}
	oplog := &fakeOpLog{}
	d := NewDetector(clusters, &fakeMembers{byCluster: map[int64][]*models.Item{6: members}}, oplog, artifacts.NewWriter(t.TempDir()), cfg)
	d.now = func() time.Time { return testNow }

	report, err := d.Analyze(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Drifted, 1)

	cr := report.Drifted[0]
	assert.True(t, cr.Drifted)
	assert.InDelta(t, 0, cr.CentroidShift, 1e-9)
	assert.InDelta(t, 2.0/14, cr.OutlierRatio, 1e-9)

	var actions []string
	for _, rec := range cr.Recommendations {
		actions = append(actions, rec.Action)
	}
	assert.Contains(t, actions, ActionOutlierReview)
	// Medium-priority findings never reach the high-priority list.
	assert.Empty(t, report.HighPriority())
}

// TestLowConfidenceFlagged verifies the low-confidence gate and its
// medium-priority recommendation.
func TestLowConfidenceFlagged(t *testing.T) {
	var members []*models.Item
	for i := int64(1); i <= 6; i++ {
		members = append(members, member(i, models.Vector{1, 0}, 0.9, testNow.AddDate(0, 0, -1)))
	}
	for i := int64(7); i <= 10; i++ {
		members = append(members, member(i, models.Vector{1, 0}, 0.5, testNow.AddDate(0, 0, -1)))
	}

	clusters := &fakeClusters{clusters: []*models.Cluster{
		{ID: 1, Topic: "go", Centroid: models.Vector{1, 0}, ItemCount: 10},
	}}
	d, _ := newDetector(t, clusters, &fakeMembers{byCluster: map[int64][]*models.Item{1: members}})

	report, err := d.Analyze(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Drifted, 1)

	cr := report.Drifted[0]
	assert.InDelta(t, 0.4, cr.LowConfidenceRatio, 1e-9)

	found := false
	for _, rec := range cr.Recommendations {
		if rec.Action == ActionReclassification {
			found = true
			assert.Equal(t, PriorityMedium, rec.Priority)
		}
	}
	assert.True(t, found)

	// Below minimum size, the small cluster is also a merge candidate,
	// but medium-priority findings never reach the high-priority list.
	assert.Empty(t, report.HighPriority())
}

// TestEmptyClusterReportedNotDrifted verifies clusters with no members
// are surfaced separately instead of tripping drift gates.
func TestEmptyClusterReportedNotDrifted(t *testing.T) {
	clusters := &fakeClusters{clusters: []*models.Cluster{
		{ID: 9, Topic: "abandoned", Centroid: models.Vector{1, 0}, ItemCount: 5},
	}}
	d, _ := newDetector(t, clusters, &fakeMembers{byCluster: map[int64][]*models.Item{}})

	report, err := d.Analyze(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.EmptyCount)
	assert.Empty(t, report.Drifted)
	assert.True(t, report.Clusters[0].Empty)
	assert.Contains(t, report.Markdown(), "Empty clusters")
	assert.Contains(t, report.Markdown(), "Cluster 9")
}

// TestTemporalDriftNeedsBothGroups verifies the recency split only fires
// when both the recent and older groups exceed the minimum size.
func TestTemporalDriftNeedsBothGroups(t *testing.T) {
	var members []*models.Item
	// Eleven older members on one axis, eleven recent on another.
	for i := int64(1); i <= 11; i++ {
		members = append(members, member(i, models.Vector{1, 0}, 0.9, testNow.AddDate(0, 0, -60)))
	}
	for i := int64(12); i <= 22; i++ {
		members = append(members, member(i, models.Vector{0, 1}, 0.9, testNow.AddDate(0, 0, -2)))
	}

	clusters := &fakeClusters{clusters: []*models.Cluster{
		{ID: 1, Topic: "split", Centroid: models.Vector{1, 1}, ItemCount: 22},
	}}
	d, _ := newDetector(t, clusters, &fakeMembers{byCluster: map[int64][]*models.Item{1: members}})

	report, err := d.Analyze(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 1.0, report.Clusters[0].TemporalDrift, 1e-9)

	// Shrink the recent group to the minimum: the metric must go silent.
	d2, _ := newDetector(t, clusters, &fakeMembers{byCluster: map[int64][]*models.Item{
		1: append(append([]*models.Item{}, members[:11]...), members[11:21]...),
	}})
	report, err = d2.Analyze(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 0, report.Clusters[0].TemporalDrift, 1e-9)
}

// TestHighPriorityOrdering verifies candidates come out most severe
// first and medium-only clusters are excluded.
func TestHighPriorityOrdering(t *testing.T) {
	report := &Report{
		Drifted: []*ClusterReport{
			{
				ClusterID:     1,
				CentroidShift: 0.2,
				Recommendations: []Recommendation{
					{Action: ActionCentroidUpdate, Priority: PriorityHigh},
				},
			},
			{
				ClusterID:       2,
				CentroidShift:   0.3,
				SizeChangeRatio: 2.5,
				Recommendations: []Recommendation{
					{Action: ActionCentroidUpdate, Priority: PriorityHigh},
					{Action: ActionSplitOrMerge, Priority: PriorityHigh},
				},
			},
			{
				ClusterID:          3,
				LowConfidenceRatio: 0.9,
				Recommendations: []Recommendation{
					{Action: ActionReclassification, Priority: PriorityMedium},
				},
			},
		},
	}

	assert.Equal(t, []int64{2, 1}, report.HighPriority())
}
