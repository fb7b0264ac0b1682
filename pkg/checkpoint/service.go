package checkpoint

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/resumelab/resume-orchestrator/pkg/core"
)

// Default retention windows.
const (
	// DefaultRecoveryWindow bounds how long an abandoned in-progress
	// session remains resumable.
	DefaultRecoveryWindow = 24 * time.Hour

	// DefaultTerminalRetention is how long completed/cancelled rows are
	// kept for support tooling before the sweep removes them.
	DefaultTerminalRetention = 24 * time.Hour

	// DefaultErrorRetention is how long stuck error rows are kept. They
	// are noise sooner than completed rows.
	DefaultErrorRetention = 2 * time.Hour
)

// Service wraps a CheckpointStorage with the recovery protocol and the
// fail-soft save contract: its own persistence failures are logged and
// absorbed, never propagated to interrupt the caller's workflow.
type Service struct {
	store   core.CheckpointStorage
	targets core.TargetResolver
	logger  *slog.Logger
	emit    func(core.Event)

	recoveryWindow    time.Duration
	terminalRetention time.Duration
	errorRetention    time.Duration
}

// ServiceOption configures a Service.
type ServiceOption interface {
	applyService(*Service)
}

type serviceOptionFunc func(*Service)

func (f serviceOptionFunc) applyService(s *Service) { f(s) }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ServiceOption {
	return serviceOptionFunc(func(s *Service) {
		s.logger = l
	})
}

// WithTargetResolver sets the resolver used to attach target metadata to
// recovered sessions.
func WithTargetResolver(r core.TargetResolver) ServiceOption {
	return serviceOptionFunc(func(s *Service) {
		s.targets = r
	})
}

// WithRecoveryWindow overrides the recovery window.
func WithRecoveryWindow(d time.Duration) ServiceOption {
	return serviceOptionFunc(func(s *Service) {
		s.recoveryWindow = d
	})
}

// WithRetention overrides the cleanup retention windows.
func WithRetention(terminal, errorWindow time.Duration) ServiceOption {
	return serviceOptionFunc(func(s *Service) {
		s.terminalRetention = terminal
		s.errorRetention = errorWindow
	})
}

// WithEventSink sets the function events are published through.
func WithEventSink(emit func(core.Event)) ServiceOption {
	return serviceOptionFunc(func(s *Service) {
		s.emit = emit
	})
}

// NewService creates a checkpoint service over the given storage.
func NewService(store core.CheckpointStorage, opts ...ServiceOption) *Service {
	s := &Service{
		store:             store,
		logger:            slog.Default(),
		recoveryWindow:    DefaultRecoveryWindow,
		terminalRetention: DefaultTerminalRetention,
		errorRetention:    DefaultErrorRetention,
	}
	for _, opt := range opts {
		opt.applyService(s)
	}
	return s
}

func (s *Service) publish(e core.Event) {
	if s.emit != nil {
		s.emit(e)
	}
}

// ApplySave upserts a checkpoint and reports failure to the caller. The
// queue drains through this path so a transient store failure keeps the job
// queued for the next drain.
func (s *Service) ApplySave(ctx context.Context, req core.SaveRequest) error {
	rec, err := s.store.Upsert(ctx, req)
	if err != nil {
		return err
	}
	s.publish(&core.CheckpointSaved{
		Kind:      rec.Kind,
		OwnerID:   rec.OwnerID,
		TargetID:  rec.TargetID,
		Progress:  rec.Progress,
		Timestamp: time.Now(),
	})
	return nil
}

// SaveProgress upserts a checkpoint. Failures are logged and swallowed:
// auto-save must never interrupt the user's primary workflow, so the only
// contract is "your save request was accepted", not "committed".
func (s *Service) SaveProgress(ctx context.Context, req core.SaveRequest) {
	if err := s.ApplySave(ctx, req); err != nil {
		s.logger.Warn("checkpoint save failed",
			"kind", req.Kind,
			"owner_id", req.OwnerID,
			"target_id", req.TargetID,
			"error", err)
	}
}

// RecoverState returns the checkpoint for (kind, target, owner) along with
// target metadata for resuming a UI session. Returns (nil, nil) when no
// checkpoint exists; absence is not an error.
func (s *Service) RecoverState(ctx context.Context, kind core.CheckpointKind, ownerID, targetID string) (*core.RecoveredState, error) {
	rec, err := s.store.Get(ctx, kind, ownerID, targetID)
	if errors.Is(err, core.ErrCheckpointNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	state := &core.RecoveredState{Checkpoint: rec}
	if s.targets != nil {
		info, err := s.targets.ResolveTarget(ctx, kind, targetID)
		if err != nil {
			// Recovery still works without target metadata.
			s.logger.Warn("target lookup failed during recovery",
				"target_id", targetID, "error", err)
		} else {
			state.Target = info
		}
	}
	return state, nil
}

// ListRecoverable returns the owner's resumable checkpoints of both kinds,
// newest first, limited to the recovery window.
func (s *Service) ListRecoverable(ctx context.Context, ownerID string) ([]*core.CheckpointRecord, error) {
	return s.store.ListRecoverable(ctx, ownerID, s.recoveryWindow)
}

// MarkCompleted transitions a checkpoint to COMPLETED with progress 1.0 and
// the final payload.
func (s *Service) MarkCompleted(ctx context.Context, kind core.CheckpointKind, ownerID, targetID string, finalPayload []byte) error {
	rec, err := s.store.MarkCompleted(ctx, kind, ownerID, targetID, finalPayload)
	if err != nil {
		return err
	}
	s.publish(&core.CheckpointCompleted{
		Kind:      rec.Kind,
		OwnerID:   rec.OwnerID,
		TargetID:  rec.TargetID,
		Timestamp: time.Now(),
	})
	return nil
}

// Cancel transitions the checkpoint with the given row id to CANCELLED.
func (s *Service) Cancel(ctx context.Context, id, ownerID string) error {
	return s.store.SetStatus(ctx, id, ownerID, core.StatusCancelled)
}

// Pause suspends an in-progress checkpoint. A paused checkpoint stays
// within the recovery window and can be resumed by the owner.
func (s *Service) Pause(ctx context.Context, kind core.CheckpointKind, ownerID, targetID string) error {
	rec, err := s.store.Get(ctx, kind, ownerID, targetID)
	if err != nil {
		return err
	}
	if rec.Status == core.StatusPaused {
		return nil
	}
	return s.store.SetStatus(ctx, rec.ID, ownerID, core.StatusPaused)
}

// Resume returns a paused checkpoint to IN_PROGRESS.
func (s *Service) Resume(ctx context.Context, kind core.CheckpointKind, ownerID, targetID string) error {
	rec, err := s.store.Get(ctx, kind, ownerID, targetID)
	if err != nil {
		return err
	}
	if rec.Status == core.StatusInProgress {
		return nil
	}
	return s.store.SetStatus(ctx, rec.ID, ownerID, core.StatusInProgress)
}

// MarkError transitions a checkpoint to the terminal ERROR status. Failures
// are logged and swallowed like SaveProgress; the error path is itself part
// of the auto-save flow.
func (s *Service) MarkError(ctx context.Context, kind core.CheckpointKind, ownerID, targetID string) {
	rec, err := s.store.Get(ctx, kind, ownerID, targetID)
	if err != nil {
		s.logger.Warn("checkpoint error transition failed",
			"target_id", targetID, "error", err)
		return
	}
	if err := s.store.SetStatus(ctx, rec.ID, ownerID, core.StatusError); err != nil {
		s.logger.Warn("checkpoint error transition failed",
			"target_id", targetID, "error", err)
	}
}

// CleanupExpired deletes terminal rows past retention and returns per-kind
// counts for observability.
func (s *Service) CleanupExpired(ctx context.Context) (core.CleanupResult, error) {
	res, err := s.store.CleanupExpired(ctx, s.terminalRetention, s.errorRetention)
	if err != nil {
		return res, err
	}
	if res.Total() > 0 {
		s.logger.Info("cleanup sweep removed expired checkpoints",
			"analyses", res.Analyses,
			"improvements", res.Improvements)
	}
	return res, nil
}

// Stats returns group-by-status counts for dashboards and tests.
func (s *Service) Stats(ctx context.Context) (*core.CheckpointStats, error) {
	return s.store.Stats(ctx)
}
