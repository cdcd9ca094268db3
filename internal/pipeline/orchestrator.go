// Package pipeline sequences the maintenance stages: assignment, drift
// detection, conditional re-clustering, and evolution tracking. A stage
// failure is absorbed and reported; the sequence always runs to the end.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/thebtf/driftwatch/internal/artifacts"
	"github.com/thebtf/driftwatch/internal/assignment"
	"github.com/thebtf/driftwatch/internal/drift"
	"github.com/thebtf/driftwatch/internal/evolution"
	"github.com/thebtf/driftwatch/internal/recluster"
	"github.com/thebtf/driftwatch/pkg/models"
)

// Assigner drains the unassigned backlog.
type Assigner interface {
	Run(ctx context.Context) (*assignment.Stats, error)
}

// DriftAnalyzer produces the drift report.
type DriftAnalyzer interface {
	Analyze(ctx context.Context) (*drift.Report, error)
}

// Reclusterer recomputes the requested clusters.
type Reclusterer interface {
	Run(ctx context.Context, clusterIDs []int64) (*recluster.Stats, error)
}

// EvolutionTracker performs the daily history pass.
type EvolutionTracker interface {
	Run(ctx context.Context) (*evolution.Stats, error)
}

// BacklogCounter reports the unassigned backlog size.
type BacklogCounter interface {
	UnassignedCount(ctx context.Context) (int64, error)
}

// OpLog records stage runs. Stages record their own completions; the
// orchestrator records skips and failures on their behalf, plus the
// final workflow entry.
type OpLog interface {
	Append(ctx context.Context, stage string, status models.StageStatus, stats models.StatsMap) error
}

// Config tunes one orchestrator run.
type Config struct {
	MinBacklog    int
	DriftInterval time.Duration
	MaxReclusters int
}

// StageResult is one stage's outcome within a workflow run.
type StageResult struct {
	Stage    string             `json:"stage"`
	Status   models.StageStatus `json:"status"`
	Error    string             `json:"error,omitempty"`
	Stats    any                `json:"stats,omitempty"`
	Duration string             `json:"duration"`
}

// Summary aggregates one workflow run.
type Summary struct {
	RunID      string        `json:"run_id"`
	StartedAt  string        `json:"started_at"`
	DurationMS int64         `json:"duration_ms"`
	Stages     []StageResult `json:"stages"`
}

// Failed reports whether any stage failed during the run.
func (s *Summary) Failed() bool {
	for _, r := range s.Stages {
		if r.Status == models.StatusFailed {
			return true
		}
	}
	return false
}

// Orchestrator runs the maintenance workflow once per invocation.
type Orchestrator struct {
	assigner  Assigner
	detector  DriftAnalyzer
	recluster Reclusterer
	tracker   EvolutionTracker
	backlog   BacklogCounter
	scheduler *Scheduler
	oplog     OpLog
	artifacts *artifacts.Writer
	cfg       Config
	now       func() time.Time

	stageRuns     metric.Int64Counter
	stageDuration metric.Float64Histogram
}

// NewOrchestrator wires the four stages into a workflow.
func NewOrchestrator(assigner Assigner, detector DriftAnalyzer, rec Reclusterer, tracker EvolutionTracker, backlog BacklogCounter, scheduler *Scheduler, oplog OpLog, writer *artifacts.Writer, cfg Config) *Orchestrator {
	meter := otel.Meter("driftwatch/pipeline")
	stageRuns, _ := meter.Int64Counter("driftwatch.stage.runs",
		metric.WithDescription("Pipeline stage runs by stage and status"))
	stageDuration, _ := meter.Float64Histogram("driftwatch.stage.duration",
		metric.WithDescription("Pipeline stage duration"),
		metric.WithUnit("s"))

	return &Orchestrator{
		assigner:      assigner,
		detector:      detector,
		recluster:     rec,
		tracker:       tracker,
		backlog:       backlog,
		scheduler:     scheduler,
		oplog:         oplog,
		artifacts:     writer,
		cfg:           cfg,
		now:           time.Now,
		stageRuns:     stageRuns,
		stageDuration: stageDuration,
	}
}

// Run executes the full stage sequence. Stage failures are absorbed into
// the summary; the returned error covers only workflow-level problems.
func (o *Orchestrator) Run(ctx context.Context) (*Summary, error) {
	started := o.now()
	summary := &Summary{
		RunID:     uuid.NewString(),
		StartedAt: started.Format(time.RFC3339),
	}
	logger := log.With().Str("runId", summary.RunID).Logger()
	logger.Info().Msg("Maintenance workflow starting")

	o.runAssignment(ctx, summary)
	candidates := o.runDriftCheck(ctx, summary)
	o.runReclustering(ctx, summary, candidates)
	o.runEvolution(ctx, summary)

	summary.DurationMS = o.now().Sub(started).Milliseconds()

	if _, err := o.artifacts.WriteJSON(models.StageWorkflow, "summary", started, summary); err != nil {
		logger.Warn().Err(err).Msg("Failed to write workflow summary")
	}

	workflowStats := models.StatsMap{"duration_ms": summary.DurationMS}
	for _, r := range summary.Stages {
		workflowStats[r.Stage] = string(r.Status)
	}
	status := models.StatusCompleted
	if summary.Failed() {
		status = models.StatusFailed
	}
	if err := o.oplog.Append(ctx, models.StageWorkflow, status, workflowStats); err != nil {
		return nil, fmt.Errorf("record workflow run: %w", err)
	}

	logger.Info().
		Int64("durationMs", summary.DurationMS).
		Bool("failed", summary.Failed()).
		Msg("Maintenance workflow finished")
	return summary, nil
}

func (o *Orchestrator) runAssignment(ctx context.Context, summary *Summary) {
	stageStart := o.now()
	count, err := o.backlog.UnassignedCount(ctx)
	if err != nil {
		o.recordFailure(ctx, summary, models.StageAssignment, stageStart, err)
		return
	}
	if count < int64(o.cfg.MinBacklog) {
		log.Info().Int64("backlog", count).Int("minBacklog", o.cfg.MinBacklog).Msg("Assignment skipped, backlog below minimum")
		o.recordSkip(ctx, summary, models.StageAssignment, stageStart, models.StatsMap{
			"backlog":     count,
			"min_backlog": o.cfg.MinBacklog,
		})
		return
	}

	stats, err := o.assigner.Run(ctx)
	if err != nil {
		o.recordFailure(ctx, summary, models.StageAssignment, stageStart, err)
		return
	}
	o.recordCompletion(ctx, summary, models.StageAssignment, stageStart, stats)
}

// runDriftCheck returns the capped high-priority candidate list for
// re-clustering; empty when drift detection was skipped or failed.
func (o *Orchestrator) runDriftCheck(ctx context.Context, summary *Summary) []int64 {
	stageStart := o.now()
	due, err := o.scheduler.ShouldRun(ctx, models.StageDriftDetection, o.cfg.DriftInterval)
	if err != nil {
		o.recordFailure(ctx, summary, models.StageDriftDetection, stageStart, err)
		return nil
	}
	if !due {
		log.Info().Dur("interval", o.cfg.DriftInterval).Msg("Drift check skipped, interval not elapsed")
		o.recordSkip(ctx, summary, models.StageDriftDetection, stageStart, models.StatsMap{
			"interval_days": int(o.cfg.DriftInterval.Hours() / 24),
		})
		return nil
	}

	report, err := o.detector.Analyze(ctx)
	if err != nil {
		o.recordFailure(ctx, summary, models.StageDriftDetection, stageStart, err)
		return nil
	}
	o.recordCompletion(ctx, summary, models.StageDriftDetection, stageStart, models.StatsMap{
		"analyzed": report.Analyzed,
		"drifted":  len(report.Drifted),
	})

	candidates := report.HighPriority()
	if len(candidates) > o.cfg.MaxReclusters {
		candidates = candidates[:o.cfg.MaxReclusters]
	}
	return candidates
}

func (o *Orchestrator) runReclustering(ctx context.Context, summary *Summary, candidates []int64) {
	stageStart := o.now()
	if len(candidates) == 0 {
		o.recordSkip(ctx, summary, models.StageReclustering, stageStart, models.StatsMap{
			"candidates": 0,
		})
		return
	}

	stats, err := o.recluster.Run(ctx, candidates)
	if err != nil {
		o.recordFailure(ctx, summary, models.StageReclustering, stageStart, err)
		return
	}
	o.recordCompletion(ctx, summary, models.StageReclustering, stageStart, stats)
}

func (o *Orchestrator) runEvolution(ctx context.Context, summary *Summary) {
	stageStart := o.now()
	stats, err := o.tracker.Run(ctx)
	if err != nil {
		o.recordFailure(ctx, summary, models.StageEvolution, stageStart, err)
		return
	}
	o.recordCompletion(ctx, summary, models.StageEvolution, stageStart, stats)
}

// recordCompletion notes a completed stage in the summary only; the
// stage already appended its own operational log entry.
func (o *Orchestrator) recordCompletion(ctx context.Context, summary *Summary, stage string, start time.Time, stats any) {
	o.observe(ctx, stage, models.StatusCompleted, start)
	summary.Stages = append(summary.Stages, StageResult{
		Stage:    stage,
		Status:   models.StatusCompleted,
		Stats:    stats,
		Duration: o.now().Sub(start).String(),
	})
}

func (o *Orchestrator) recordSkip(ctx context.Context, summary *Summary, stage string, start time.Time, stats models.StatsMap) {
	o.observe(ctx, stage, models.StatusSkipped, start)
	if err := o.oplog.Append(ctx, stage, models.StatusSkipped, stats); err != nil {
		log.Warn().Err(err).Str("stage", stage).Msg("Failed to record stage skip")
	}
	summary.Stages = append(summary.Stages, StageResult{
		Stage:    stage,
		Status:   models.StatusSkipped,
		Stats:    stats,
		Duration: o.now().Sub(start).String(),
	})
}

func (o *Orchestrator) recordFailure(ctx context.Context, summary *Summary, stage string, start time.Time, stageErr error) {
	log.Error().Err(stageErr).Str("stage", stage).Msg("Pipeline stage failed")
	o.observe(ctx, stage, models.StatusFailed, start)
	if err := o.oplog.Append(ctx, stage, models.StatusFailed, models.StatsMap{"error": stageErr.Error()}); err != nil {
		log.Warn().Err(err).Str("stage", stage).Msg("Failed to record stage failure")
	}
	summary.Stages = append(summary.Stages, StageResult{
		Stage:    stage,
		Status:   models.StatusFailed,
		Error:    stageErr.Error(),
		Duration: o.now().Sub(start).String(),
	})
}

func (o *Orchestrator) observe(ctx context.Context, stage string, status models.StageStatus, start time.Time) {
	attrs := metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("status", string(status)),
	)
	o.stageRuns.Add(ctx, 1, attrs)
	o.stageDuration.Record(ctx, o.now().Sub(start).Seconds(), attrs)
}
