package core

import (
	"context"
	"time"
)

// SaveRequest carries one checkpoint upsert.
type SaveRequest struct {
	Kind     CheckpointKind
	OwnerID  string
	TargetID string
	Progress float64
	Payload  []byte
	Status   CheckpointStatus

	// Improvement-only metadata.
	TargetRole         string
	TargetIndustry     string
	CustomInstructions string
}

// CheckpointStorage defines the persistence layer for workflow checkpoints.
type CheckpointStorage interface {
	// Migrate creates the necessary database tables.
	Migrate(ctx context.Context) error

	// Upsert creates or updates the checkpoint for (kind, target, owner).
	// Progress never decreases and terminal rows reject further writes.
	Upsert(ctx context.Context, req SaveRequest) (*CheckpointRecord, error)

	// Get returns the checkpoint, or ErrCheckpointNotFound.
	Get(ctx context.Context, kind CheckpointKind, ownerID, targetID string) (*CheckpointRecord, error)

	// ListRecoverable returns non-terminal checkpoints of both kinds
	// updated within the window, newest first.
	ListRecoverable(ctx context.Context, ownerID string, window time.Duration) ([]*CheckpointRecord, error)

	// SetStatus applies a status transition to the checkpoint with the
	// given row id, enforcing the state machine.
	SetStatus(ctx context.Context, id, ownerID string, status CheckpointStatus) error

	// MarkCompleted is the terminal completion write: progress 1.0,
	// status COMPLETED, payload replaced with the final result. A missing
	// row is created already completed.
	MarkCompleted(ctx context.Context, kind CheckpointKind, ownerID, targetID string, finalPayload []byte) (*CheckpointRecord, error)

	// CleanupExpired deletes terminal rows past their retention windows.
	CleanupExpired(ctx context.Context, terminalRetention, errorRetention time.Duration) (CleanupResult, error)

	// Stats returns group-by-status counts for both kinds.
	Stats(ctx context.Context) (*CheckpointStats, error)
}

// TargetResolver looks up identifying metadata about a workflow target so a
// recovered session can be rendered. Implementations return nil when the
// target no longer exists; recovery proceeds without it.
type TargetResolver interface {
	ResolveTarget(ctx context.Context, kind CheckpointKind, targetID string) (*TargetInfo, error)
}

// CreditService answers owner and credit questions for pipeline validation.
type CreditService interface {
	// Credits returns the owner's remaining balance, or ErrOwnerNotFound.
	Credits(ctx context.Context, ownerID string) (int, error)
}

// FileStore uploads resume files. Implementations may fail; the pipeline
// degrades to an inline reference rather than aborting.
type FileStore interface {
	Upload(ctx context.Context, data []byte, name string) (*UploadResult, error)
}

// ResumeStore creates and reconciles resume records during the pipeline.
type ResumeStore interface {
	CreateResume(ctx context.Context, rec *ResumeRecord) error
	UpdateResumeStorage(ctx context.Context, resumeID, storageURL, fileKey string) error
}

// BillingRequest carries the completion write for one analysis.
type BillingRequest struct {
	ResumeID     string
	OwnerID      string
	FileName     string
	Payload      []byte
	ProcessingMs int64
}

// BillingStore performs the billing-sensitive completion write. The analysis
// record, credit transaction, and balance decrement are one atomic unit.
type BillingStore interface {
	RecordAnalysis(ctx context.Context, req BillingRequest) (*AnalysisRecord, error)
}

// CacheInvalidator drops downstream caches after billing writes. Failures
// are logged only; a stale cache is the documented worst case.
type CacheInvalidator interface {
	InvalidateOwner(ctx context.Context, ownerID string) error
}
