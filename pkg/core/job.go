package core

import (
	"time"
)

// JobType identifies what a queued job does when drained.
type JobType string

const (
	// JobSaveAnalysisProgress persists an analysis checkpoint.
	JobSaveAnalysisProgress JobType = "save-analysis-progress"
	// JobSaveImprovementProgress persists an improvement checkpoint.
	JobSaveImprovementProgress JobType = "save-improvement-progress"
	// JobMarkCompleted transitions a checkpoint to COMPLETED. Enqueueing
	// one also requests an out-of-band drain.
	JobMarkCompleted JobType = "mark-completed"
	// JobCleanupExpired sweeps terminal checkpoints past retention.
	JobCleanupExpired JobType = "cleanup-expired"
)

// QueueJob is a unit of deferred work held in the debounced queue. Jobs are
// never persisted and are exclusively owned by the queue until processed or
// dropped.
type QueueJob struct {
	// Key is the debounce key. A newly enqueued job with the same key
	// silently supersedes the pending one.
	Key        string
	Type       JobType
	Payload    any
	EnqueuedAt time.Time
	Attempts   int
	MaxRetries int
}

// SaveProgressPayload is the payload for the two save job types.
type SaveProgressPayload struct {
	Kind     CheckpointKind
	OwnerID  string
	TargetID string
	Progress float64
	Payload  []byte
	Status   CheckpointStatus

	// Improvement-only metadata, ignored for analysis saves.
	TargetRole         string
	TargetIndustry     string
	CustomInstructions string
}

// MarkCompletedPayload is the payload for JobMarkCompleted.
type MarkCompletedPayload struct {
	Kind         CheckpointKind
	OwnerID      string
	TargetID     string
	FinalPayload []byte
}

// QueueStatus is a snapshot of the queue for health checks and tests.
type QueueStatus struct {
	Total      int
	ByType     map[JobType]int
	Processing bool
	OldestAt   *time.Time
}
