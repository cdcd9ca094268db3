// Package assignment implements the centroid assignment engine.
package assignment

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/driftwatch/internal/artifacts"
	"github.com/thebtf/driftwatch/pkg/models"
)

// fakeItems is an in-memory ItemSource.
type fakeItems struct {
	mu        sync.Mutex
	items     []*models.Item
	failIDs   map[int64]bool
	pageCalls int
}

func (f *fakeItems) UnassignedPage(_ context.Context, limit, offset int) ([]*models.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pageCalls++

	var backlog []*models.Item
	for _, item := range f.items {
		if !item.ClusterID.Valid && len(item.Embedding) > 0 {
			backlog = append(backlog, item)
		}
	}
	sort.Slice(backlog, func(i, j int) bool {
		return backlog[i].PublishedAtEpoch > backlog[j].PublishedAtEpoch
	})

	if offset >= len(backlog) {
		return nil, nil
	}
	backlog = backlog[offset:]
	if len(backlog) > limit {
		backlog = backlog[:limit]
	}
	return backlog, nil
}

func (f *fakeItems) AssignCluster(_ context.Context, itemID int64, cluster *models.Cluster, confidence float64, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failIDs[itemID] {
		return fmt.Errorf("write failed for item %d", itemID)
	}
	for _, item := range f.items {
		if item.ID == itemID {
			item.ClusterID = sql.NullInt64{Int64: cluster.ID, Valid: true}
			item.Topic = sql.NullString{String: cluster.Topic, Valid: true}
			item.Confidence = sql.NullFloat64{Float64: confidence, Valid: true}
			item.ClassifiedAtEpoch = sql.NullInt64{Int64: at.UnixMilli(), Valid: true}
			return nil
		}
	}
	return fmt.Errorf("item %d not found", itemID)
}

// fakeClusters is an in-memory ClusterSource.
type fakeClusters struct {
	clusters []*models.Cluster
	err      error
}

func (f *fakeClusters) All(context.Context) ([]*models.Cluster, error) {
	return f.clusters, f.err
}

// fakeOpLog records appended stage runs.
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

func newItem(id int64, title string, embedding models.Vector) *models.Item {
	return &models.Item{
		ID:               id,
		Title:            title,
		Embedding:        embedding,
		PublishedAtEpoch: id * 1000,
		PublishedAt:      time.UnixMilli(id * 1000).Format(time.RFC3339),
	}
}

func newEngine(t *testing.T, items *fakeItems, clusters *fakeClusters, cfg Config) (*Engine, *fakeOpLog, string) {
	t.Helper()
	dir := t.TempDir()
	oplog := &fakeOpLog{}
	if cfg.Threshold == 0 {
		cfg.Threshold = 0.65
	}
	if cfg.PageSize == 0 {
		cfg.PageSize = 1000
	}
	return NewEngine(items, clusters, oplog, artifacts.NewWriter(dir), cfg), oplog, dir
}

// TestThresholdBoundary verifies assignment occurs iff similarity >= 0.65.
func TestThresholdBoundary(t *testing.T) {
	// [13, sqrt(231)] against [1, 0] yields exactly 0.65 in float64.
	atBoundary := newItem(1, "at boundary", models.Vector{13, math.Sqrt(231)})
	below := newItem(2, "below boundary", models.Vector{0.649999, math.Sqrt(1 - 0.649999*0.649999)})

	items := &fakeItems{items: []*models.Item{atBoundary, below}}
	clusters := &fakeClusters{clusters: []*models.Cluster{
		{ID: 1, Topic: "go", Centroid: models.Vector{1, 0}},
	}}

	engine, _, _ := newEngine(t, items, clusters, Config{})
	stats, err := engine.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Assigned)
	assert.Equal(t, 1, stats.Unassigned)
	assert.True(t, atBoundary.ClusterID.Valid)
	assert.InDelta(t, 0.65, atBoundary.Confidence.Float64, 1e-12)
	assert.False(t, below.ClusterID.Valid)
}

// TestEndToEndScenario runs the three-cluster, ten-item scenario: six
// items clear the threshold against exactly one centroid, four fall short
// everywhere and land in the unassigned side-log.
func TestEndToEndScenario(t *testing.T) {
	clusters := &fakeClusters{clusters: []*models.Cluster{
		{ID: 1, Topic: "go", ParentTopic: "programming", GrandparentTopic: "tech", Centroid: models.Vector{1, 0, 0}},
		{ID: 2, Topic: "cooking", ParentTopic: "food", GrandparentTopic: "lifestyle", Centroid: models.Vector{0, 1, 0}},
		{ID: 3, Topic: "travel", ParentTopic: "leisure", GrandparentTopic: "lifestyle", Centroid: models.Vector{0, 0, 1}},
	}}

	var all []*models.Item
	// Six assignable items, two per cluster, well above threshold.
	axes := []models.Vector{{1, 0.2, 0}, {1, 0, 0.3}, {0.2, 1, 0}, {0, 1, 0.3}, {0.1, 0, 1}, {0, 0.2, 1}}
	for i, emb := range axes {
		all = append(all, newItem(int64(i+1), fmt.Sprintf("assignable %d", i+1), emb))
	}
	// Four items near the diagonal: max similarity ~0.577 < 0.65.
	for i := 0; i < 4; i++ {
		all = append(all, newItem(int64(i+7), fmt.Sprintf("diagonal %d", i+1), models.Vector{1, 1, 1}))
	}

	items := &fakeItems{items: all}
	engine, oplog, dir := newEngine(t, items, clusters, Config{WriteConcurrency: 4})

	stats, err := engine.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 10, stats.Processed)
	assert.Equal(t, 6, stats.Assigned)
	assert.Equal(t, 4, stats.Unassigned)
	assert.Equal(t, 3, stats.ClustersUsed)
	assert.Greater(t, stats.MeanConfidence, 0.65)

	// Labels are copied from the matched cluster.
	assert.Equal(t, "go", all[0].Topic.String)

	// The unassigned side-log names the four diagonal items.
	date := time.Now().Format("2006-01-02")
	data, err := os.ReadFile(filepath.Join(dir, "assignment", "unassigned_"+date+".jsonl"))
	require.NoError(t, err)
	for i := 7; i <= 10; i++ {
		assert.Contains(t, string(data), fmt.Sprintf(`"item_id":%d`, i))
	}

	// The run is recorded in the operational log.
	require.Len(t, oplog.entries, 1)
	assert.Equal(t, models.StageAssignment, oplog.entries[0].Stage)
	assert.Equal(t, models.StatusCompleted, oplog.entries[0].Status)
}

// TestIdempotence verifies a second run over an unchanged backlog assigns
// nothing.
func TestIdempotence(t *testing.T) {
	items := &fakeItems{items: []*models.Item{
		newItem(1, "a", models.Vector{1, 0}),
		newItem(2, "b", models.Vector{0.9, 0.1}),
	}}
	clusters := &fakeClusters{clusters: []*models.Cluster{
		{ID: 1, Topic: "go", Centroid: models.Vector{1, 0}},
	}}

	engine, _, _ := newEngine(t, items, clusters, Config{})
	stats, err := engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Assigned)

	stats, err = engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Processed)
	assert.Equal(t, 0, stats.Assigned)
}

// TestPerItemFailureContinues verifies one item's write failure does not
// abort the batch.
func TestPerItemFailureContinues(t *testing.T) {
	items := &fakeItems{
		items: []*models.Item{
			newItem(1, "a", models.Vector{1, 0}),
			newItem(2, "b", models.Vector{1, 0.1}),
			newItem(3, "c", models.Vector{1, 0.2}),
		},
		failIDs: map[int64]bool{2: true},
	}
	clusters := &fakeClusters{clusters: []*models.Cluster{
		{ID: 1, Topic: "go", Centroid: models.Vector{1, 0}},
	}}

	engine, _, _ := newEngine(t, items, clusters, Config{WriteConcurrency: 2})
	stats, err := engine.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Assigned)
	assert.Equal(t, 1, stats.Failed)
}

// TestClusterFetchFailureIsFatal verifies centroid fetch errors abort the
// run.
func TestClusterFetchFailureIsFatal(t *testing.T) {
	items := &fakeItems{items: []*models.Item{newItem(1, "a", models.Vector{1, 0})}}
	clusters := &fakeClusters{err: fmt.Errorf("connection refused")}

	engine, oplog, _ := newEngine(t, items, clusters, Config{})
	_, err := engine.Run(context.Background())
	require.Error(t, err)
	assert.Empty(t, oplog.entries)
}

// TestPagingDrainsBacklog verifies multiple pages are processed until a
// short page, even when some items stay unassigned.
func TestPagingDrainsBacklog(t *testing.T) {
	var all []*models.Item
	for i := int64(1); i <= 5; i++ {
		all = append(all, newItem(i, fmt.Sprintf("good %d", i), models.Vector{1, 0}))
	}
	// Two stragglers below the threshold stay in the backlog.
	all = append(all, newItem(6, "far 1", models.Vector{0, 1}))
	all = append(all, newItem(7, "far 2", models.Vector{0, 1}))

	items := &fakeItems{items: all}
	clusters := &fakeClusters{clusters: []*models.Cluster{
		{ID: 1, Topic: "go", Centroid: models.Vector{1, 0}},
	}}

	engine, _, _ := newEngine(t, items, clusters, Config{PageSize: 2})
	stats, err := engine.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 7, stats.Processed)
	assert.Equal(t, 5, stats.Assigned)
	assert.Equal(t, 2, stats.Unassigned)
	assert.GreaterOrEqual(t, items.pageCalls, 4)
}
