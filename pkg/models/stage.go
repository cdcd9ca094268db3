// Package models contains domain models for driftwatch.
package models

// Pipeline stage names as recorded in the operational log.
const (
	StageAssignment     = "assignment"
	StageDriftDetection = "drift_detection"
	StageReclustering   = "reclustering"
	StageEvolution      = "evolution_tracking"
	StageWorkflow       = "workflow"
)

// StageStatus is the outcome of one pipeline stage run.
type StageStatus string

const (
	StatusCompleted StageStatus = "completed"
	StatusFailed    StageStatus = "failed"
	StatusSkipped   StageStatus = "skipped"
)

// StageRun is an append-only operational log entry for one stage run.
// The scheduler reads the most recent entry per stage to time-gate
// expensive stages; artifacts are never read back.
type StageRun struct {
	ID             int64       `db:"id" json:"id"`
	Stage          string      `db:"stage" json:"stage"`
	Status         StageStatus `db:"status" json:"status"`
	Stats          StatsMap    `db:"stats" json:"stats,omitempty"`
	CreatedAt      string      `db:"created_at" json:"created_at"`
	CreatedAtEpoch int64       `db:"created_at_epoch" json:"created_at_epoch"`
}
