package core

import (
	"time"
)

// CheckpointKind distinguishes the two workflow variants sharing the
// checkpoint table.
type CheckpointKind string

const (
	// KindAnalysis checkpoints a streamed resume analysis.
	KindAnalysis CheckpointKind = "analysis"
	// KindImprovement checkpoints a streamed resume improvement session.
	KindImprovement CheckpointKind = "improvement"
)

// Valid reports whether k is a known checkpoint kind.
func (k CheckpointKind) Valid() bool {
	return k == KindAnalysis || k == KindImprovement
}

// CheckpointStatus represents the current state of a checkpointed workflow.
type CheckpointStatus string

const (
	StatusInProgress CheckpointStatus = "in_progress"
	StatusPaused     CheckpointStatus = "paused"
	StatusCompleted  CheckpointStatus = "completed"
	StatusCancelled  CheckpointStatus = "cancelled"
	StatusError      CheckpointStatus = "error"
)

// Terminal reports whether the status admits no further transitions.
// Terminal rows are eligible for the cleanup sweep.
func (s CheckpointStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusError:
		return true
	}
	return false
}

// CanTransition reports whether a checkpoint may move from s to next.
// The machine is IN_PROGRESS <-> PAUSED, with both able to reach any
// terminal status. Nothing leaves a terminal status.
func (s CheckpointStatus) CanTransition(next CheckpointStatus) bool {
	if s.Terminal() {
		return false
	}
	switch next {
	case StatusInProgress, StatusPaused, StatusCompleted, StatusCancelled, StatusError:
		return true
	}
	return false
}

// CheckpointRecord is the durable record of one workflow's progress for one
// owner/target pair. A second save with the same (kind, target, owner)
// updates the row in place; no history is retained.
type CheckpointRecord struct {
	ID       string           `gorm:"primaryKey;size:36"`
	Kind     CheckpointKind   `gorm:"uniqueIndex:idx_checkpoints_identity;size:20;not null"`
	TargetID string           `gorm:"uniqueIndex:idx_checkpoints_identity;size:36;not null"`
	OwnerID  string           `gorm:"uniqueIndex:idx_checkpoints_identity;index;size:36;not null"`
	Status   CheckpointStatus `gorm:"index;size:20;default:'in_progress'"`

	// Progress is a fraction in [0,1]. The store clamps it so it never
	// decreases across saves.
	Progress float64 `gorm:"default:0"`

	// Payload is the opaque partial result (provider-specific JSON),
	// replaced wholesale on every save.
	Payload []byte `gorm:"type:bytes"`

	// Improvement-only fields, set on first save and carried forward.
	TargetRole         string `gorm:"size:255"`
	TargetIndustry     string `gorm:"size:255"`
	CustomInstructions string `gorm:"type:text"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"index;autoUpdateTime"`
}

// TargetInfo carries the minimal identifying metadata about the target
// resource needed to resume a UI session.
type TargetInfo struct {
	TargetID  string
	Name      string
	CreatedAt time.Time
}

// RecoveredState is the result of a point lookup for session resumption.
type RecoveredState struct {
	Checkpoint *CheckpointRecord
	Target     *TargetInfo
}

// CleanupResult reports how many expired rows the sweep removed, per kind.
type CleanupResult struct {
	Analyses     int64
	Improvements int64
}

// Total returns the combined number of deleted rows.
func (r CleanupResult) Total() int64 {
	return r.Analyses + r.Improvements
}

// CheckpointStats holds group-by-status counts for both kinds.
type CheckpointStats struct {
	Analyses     map[CheckpointStatus]int64
	Improvements map[CheckpointStatus]int64
}
