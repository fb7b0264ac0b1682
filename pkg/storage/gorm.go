package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/resumelab/resume-orchestrator/pkg/core"
	"github.com/resumelab/resume-orchestrator/pkg/security"
)

// GormStorage implements CheckpointStorage using GORM.
type GormStorage struct {
	db *gorm.DB
}

// NewGormStorage creates a new GORM-backed checkpoint storage.
func NewGormStorage(db *gorm.DB) *GormStorage {
	return &GormStorage{db: db}
}

// Migrate creates the necessary tables.
func (s *GormStorage) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&core.CheckpointRecord{})
}

// Upsert creates or updates the checkpoint for (kind, target, owner).
// Progress is clamped so it never decreases across saves, and writes against
// a terminal row are rejected with ErrTerminalCheckpoint.
func (s *GormStorage) Upsert(ctx context.Context, req core.SaveRequest) (*core.CheckpointRecord, error) {
	if !req.Kind.Valid() {
		return nil, core.ErrInvalidKind
	}
	if err := security.ValidateOwnerID(req.OwnerID); err != nil {
		return nil, err
	}
	if err := security.ValidateTargetID(req.TargetID); err != nil {
		return nil, err
	}
	if err := security.ValidatePayloadSize(req.Payload); err != nil {
		return nil, err
	}

	status := req.Status
	if status == "" {
		status = core.StatusInProgress
	}
	progress := security.ClampProgress(req.Progress)

	var rec core.CheckpointRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.
			Where("kind = ? AND target_id = ? AND owner_id = ?", req.Kind, req.TargetID, req.OwnerID).
			First(&rec)

		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			rec = core.CheckpointRecord{
				ID:                 uuid.New().String(),
				Kind:               req.Kind,
				TargetID:           req.TargetID,
				OwnerID:            req.OwnerID,
				Status:             status,
				Progress:           progress,
				Payload:            req.Payload,
				TargetRole:         req.TargetRole,
				TargetIndustry:     req.TargetIndustry,
				CustomInstructions: req.CustomInstructions,
			}
			return tx.Create(&rec).Error
		}
		if result.Error != nil {
			return result.Error
		}

		if rec.Status.Terminal() {
			return core.ErrTerminalCheckpoint
		}
		if !rec.Status.CanTransition(status) {
			return &core.TransitionError{From: rec.Status, To: status}
		}

		// Monotonic progress: a save carrying a lower value keeps the
		// stored one; payload and status still update.
		if progress < rec.Progress {
			progress = rec.Progress
		}

		rec.Status = status
		rec.Progress = progress
		rec.Payload = req.Payload
		if req.TargetRole != "" {
			rec.TargetRole = req.TargetRole
		}
		if req.TargetIndustry != "" {
			rec.TargetIndustry = req.TargetIndustry
		}
		if req.CustomInstructions != "" {
			rec.CustomInstructions = req.CustomInstructions
		}
		return tx.Save(&rec).Error
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Get returns the checkpoint for (kind, target, owner).
func (s *GormStorage) Get(ctx context.Context, kind core.CheckpointKind, ownerID, targetID string) (*core.CheckpointRecord, error) {
	var rec core.CheckpointRecord
	err := s.db.WithContext(ctx).
		Where("kind = ? AND target_id = ? AND owner_id = ?", kind, targetID, ownerID).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, core.ErrCheckpointNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListRecoverable returns non-terminal checkpoints of both kinds updated
// within the window, newest first.
func (s *GormStorage) ListRecoverable(ctx context.Context, ownerID string, window time.Duration) ([]*core.CheckpointRecord, error) {
	if err := security.ValidateOwnerID(ownerID); err != nil {
		return nil, err
	}

	cutoff := time.Now().Add(-window)
	var recs []*core.CheckpointRecord
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Where("status IN ?", []core.CheckpointStatus{core.StatusInProgress, core.StatusPaused}).
		Where("updated_at >= ?", cutoff).
		Order("updated_at DESC").
		Find(&recs).Error
	return recs, err
}

// SetStatus applies a status transition to the checkpoint with the given
// row id, enforcing the state machine.
func (s *GormStorage) SetStatus(ctx context.Context, id, ownerID string, status core.CheckpointStatus) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec core.CheckpointRecord
		err := tx.Where("id = ? AND owner_id = ?", id, ownerID).First(&rec).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return core.ErrCheckpointNotFound
		}
		if err != nil {
			return err
		}

		if !rec.Status.CanTransition(status) {
			return &core.TransitionError{From: rec.Status, To: status}
		}

		return tx.Model(&rec).Update("status", status).Error
	})
}

// MarkCompleted is the terminal completion write. A missing row is created
// already completed: completion may drain before the workflow's first
// progress save, and the final payload must survive either way.
func (s *GormStorage) MarkCompleted(ctx context.Context, kind core.CheckpointKind, ownerID, targetID string, finalPayload []byte) (*core.CheckpointRecord, error) {
	if !kind.Valid() {
		return nil, core.ErrInvalidKind
	}
	if err := security.ValidateOwnerID(ownerID); err != nil {
		return nil, err
	}
	if err := security.ValidateTargetID(targetID); err != nil {
		return nil, err
	}
	if err := security.ValidatePayloadSize(finalPayload); err != nil {
		return nil, err
	}

	var rec core.CheckpointRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.
			Where("kind = ? AND target_id = ? AND owner_id = ?", kind, targetID, ownerID).
			First(&rec).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			rec = core.CheckpointRecord{
				ID:       uuid.New().String(),
				Kind:     kind,
				TargetID: targetID,
				OwnerID:  ownerID,
				Status:   core.StatusCompleted,
				Progress: 1.0,
				Payload:  finalPayload,
			}
			return tx.Create(&rec).Error
		}
		if err != nil {
			return err
		}

		if !rec.Status.CanTransition(core.StatusCompleted) {
			return &core.TransitionError{From: rec.Status, To: core.StatusCompleted}
		}

		rec.Status = core.StatusCompleted
		rec.Progress = 1.0
		rec.Payload = finalPayload
		return tx.Save(&rec).Error
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// CleanupExpired deletes terminal rows past their retention windows:
// completed/cancelled rows older than terminalRetention and error rows
// older than errorRetention. Returns deletion counts per kind.
func (s *GormStorage) CleanupExpired(ctx context.Context, terminalRetention, errorRetention time.Duration) (core.CleanupResult, error) {
	now := time.Now()
	var res core.CleanupResult

	for _, kind := range []core.CheckpointKind{core.KindAnalysis, core.KindImprovement} {
		result := s.db.WithContext(ctx).
			Where("kind = ?", kind).
			Where(
				s.db.Where("status IN ? AND updated_at < ?",
					[]core.CheckpointStatus{core.StatusCompleted, core.StatusCancelled},
					now.Add(-terminalRetention)).
					Or("status = ? AND updated_at < ?", core.StatusError, now.Add(-errorRetention)),
			).
			Delete(&core.CheckpointRecord{})
		if result.Error != nil {
			return res, result.Error
		}
		switch kind {
		case core.KindAnalysis:
			res.Analyses = result.RowsAffected
		case core.KindImprovement:
			res.Improvements = result.RowsAffected
		}
	}
	return res, nil
}

// Stats returns group-by-status counts for both kinds.
func (s *GormStorage) Stats(ctx context.Context) (*core.CheckpointStats, error) {
	type row struct {
		Kind   core.CheckpointKind
		Status core.CheckpointStatus
		Count  int64
	}

	var rows []row
	err := s.db.WithContext(ctx).
		Model(&core.CheckpointRecord{}).
		Select("kind, status, count(*) as count").
		Group("kind").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	stats := &core.CheckpointStats{
		Analyses:     make(map[core.CheckpointStatus]int64),
		Improvements: make(map[core.CheckpointStatus]int64),
	}
	for _, r := range rows {
		switch r.Kind {
		case core.KindAnalysis:
			stats.Analyses[r.Status] = r.Count
		case core.KindImprovement:
			stats.Improvements[r.Status] = r.Count
		}
	}
	return stats, nil
}
