// Package orchestrator provides resumable workflow orchestration for
// long-running, streamed AI operations: a debounced job queue that keeps
// checkpoint writes off the request path, a durable checkpoint and recovery
// store, and an ephemeral registry for storage/record side-effect pipelines.
//
// This is the main package users should import. It re-exports the public
// types from the pkg/ packages for a clean API surface.
//
// Basic usage:
//
//	db, _ := gorm.Open(sqlite.Open("orchestrator.db"), &gorm.Config{})
//	orch, _ := orchestrator.New(db, fileStore)
//	defer orch.Close()
//
//	// Streamed request handler: persist progress off the request path.
//	orch.SaveAnalysisProgress(ownerID, resumeID, 0.4, partial)
//
//	// Kick off side effects in parallel with the stream.
//	opID, _ := orch.StartOperation(ctx, ownerID, fileBytes, "resume.pdf")
//
//	// Reconcile when the stream finishes.
//	orch.MarkAnalysisCompleted(ownerID, resumeID, final)
//	orch.SaveOperationResult(ctx, opID, final, "resume.pdf", elapsedMs)
package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/resumelab/resume-orchestrator/pkg/checkpoint"
	"github.com/resumelab/resume-orchestrator/pkg/core"
	"github.com/resumelab/resume-orchestrator/pkg/queue"
	"github.com/resumelab/resume-orchestrator/pkg/registry"
	"github.com/resumelab/resume-orchestrator/pkg/schedule"
	"github.com/resumelab/resume-orchestrator/pkg/storage"
)

// Type aliases re-exported from pkg/ packages.
type (
	// CheckpointRecord is the durable record of one workflow's progress.
	CheckpointRecord = core.CheckpointRecord

	// CheckpointKind distinguishes analysis and improvement checkpoints.
	CheckpointKind = core.CheckpointKind

	// CheckpointStatus represents the current state of a workflow.
	CheckpointStatus = core.CheckpointStatus

	// CheckpointStats holds group-by-status counts for both kinds.
	CheckpointStats = core.CheckpointStats

	// CleanupResult reports per-kind deletion counts from the sweep.
	CleanupResult = core.CleanupResult

	// RecoveredState is the result of a session-recovery lookup.
	RecoveredState = core.RecoveredState

	// SaveRequest carries one checkpoint upsert.
	SaveRequest = core.SaveRequest

	// QueueJob is a unit of deferred work in the debounced queue.
	QueueJob = core.QueueJob

	// QueueStatus is a queue snapshot for health checks and tests.
	QueueStatus = core.QueueStatus

	// JobType identifies what a queued job does when drained.
	JobType = core.JobType

	// OperationResult is the structured outcome of a pipeline.
	OperationResult = core.OperationResult

	// OperationState is the coarse lifecycle state of an operation.
	OperationState = core.OperationState

	// OperationInfo describes a live registry entry.
	OperationInfo = core.OperationInfo

	// AnalysisRecord is the durable record of a completed analysis.
	AnalysisRecord = core.AnalysisRecord

	// Account holds an owner's credit balance.
	Account = core.Account

	// Event is the interface for all orchestrator events.
	Event = core.Event

	// EventBus fans orchestrator events out to subscribers.
	EventBus = core.EventBus

	// FileStore uploads resume files.
	FileStore = core.FileStore

	// CacheInvalidator drops downstream caches after billing writes.
	CacheInvalidator = core.CacheInvalidator

	// Queue is the debounced job queue.
	Queue = queue.Queue

	// Service is the checkpoint and recovery service.
	Service = checkpoint.Service

	// Registry is the ephemeral operation registry.
	Registry = registry.Registry

	// GormStorage implements checkpoint persistence using GORM.
	GormStorage = storage.GormStorage

	// GormBillingStore implements account, resume, and billing persistence.
	GormBillingStore = storage.GormBillingStore

	// Schedule defines when a recurring maintenance job runs next.
	Schedule = schedule.Schedule
)

// Checkpoint kind constants.
const (
	KindAnalysis    = core.KindAnalysis
	KindImprovement = core.KindImprovement
)

// Checkpoint status constants.
const (
	StatusInProgress = core.StatusInProgress
	StatusPaused     = core.StatusPaused
	StatusCompleted  = core.StatusCompleted
	StatusCancelled  = core.StatusCancelled
	StatusError      = core.StatusError
)

// Job type constants.
const (
	JobSaveAnalysisProgress    = core.JobSaveAnalysisProgress
	JobSaveImprovementProgress = core.JobSaveImprovementProgress
	JobMarkCompleted           = core.JobMarkCompleted
	JobCleanupExpired          = core.JobCleanupExpired
)

// Error variables.
var (
	ErrCheckpointNotFound  = core.ErrCheckpointNotFound
	ErrTerminalCheckpoint  = core.ErrTerminalCheckpoint
	ErrOperationNotFound   = core.ErrOperationNotFound
	ErrOwnerNotFound       = core.ErrOwnerNotFound
	ErrInsufficientCredits = core.ErrInsufficientCredits
)

// Schedule functions.

// Every creates a schedule that runs at fixed intervals.
func Every(d time.Duration) Schedule {
	return schedule.Every(d)
}

// Daily creates a schedule that runs at a specific time each day.
func Daily(hour, minute int) Schedule {
	return schedule.Daily(hour, minute)
}

// Weekly creates a schedule that runs at a specific day and time each week.
func Weekly(day time.Weekday, hour, minute int) Schedule {
	return schedule.Weekly(day, hour, minute)
}

// Cron creates a schedule from a cron expression.
func Cron(expr string) Schedule {
	return schedule.Cron(expr)
}

// Option configures an Orchestrator.
type Option interface {
	applyOrchestrator(*config)
}

type config struct {
	logger         *slog.Logger
	cache          core.CacheInvalidator
	drainInterval  time.Duration
	operationTTL   time.Duration
	recoveryWindow time.Duration
	maxRetries     int
}

type orchOptionFunc func(*config)

func (f orchOptionFunc) applyOrchestrator(c *config) { f(c) }

// WithLogger sets the logger for all components.
func WithLogger(l *slog.Logger) Option {
	return orchOptionFunc(func(c *config) { c.logger = l })
}

// WithCache sets the downstream cache invalidation hook.
func WithCache(ci core.CacheInvalidator) Option {
	return orchOptionFunc(func(c *config) { c.cache = ci })
}

// WithDrainInterval overrides the queue's drain interval.
func WithDrainInterval(d time.Duration) Option {
	return orchOptionFunc(func(c *config) { c.drainInterval = d })
}

// WithOperationTTL overrides the registry's eviction window.
func WithOperationTTL(d time.Duration) Option {
	return orchOptionFunc(func(c *config) { c.operationTTL = d })
}

// WithRecoveryWindow overrides the checkpoint recovery window.
func WithRecoveryWindow(d time.Duration) Option {
	return orchOptionFunc(func(c *config) { c.recoveryWindow = d })
}

// WithMaxRetries overrides the queue's default retry budget.
func WithMaxRetries(n int) Option {
	return orchOptionFunc(func(c *config) { c.maxRetries = n })
}

// Orchestrator wires the three components around one event bus. It is an
// explicit, constructible service: tests instantiate isolated instances
// instead of sharing global state.
type Orchestrator struct {
	Checkpoints *checkpoint.Service
	Queue       *queue.Queue
	Operations  *registry.Registry
	Billing     *storage.GormBillingStore

	bus *core.EventBus
}

// New builds an orchestrator over a GORM database and a file store,
// migrates the schema, registers the queue handlers, and starts the drain
// timer.
func New(db *gorm.DB, files core.FileStore, opts ...Option) (*Orchestrator, error) {
	cfg := config{
		logger:         slog.Default(),
		drainInterval:  queue.DefaultDrainInterval,
		operationTTL:   registry.DefaultTTL,
		recoveryWindow: checkpoint.DefaultRecoveryWindow,
		maxRetries:     queue.DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt.applyOrchestrator(&cfg)
	}

	ctx := context.Background()

	store := storage.NewGormStorage(db)
	if err := store.Migrate(ctx); err != nil {
		return nil, err
	}
	billing := storage.NewGormBillingStore(db)
	if err := billing.Migrate(ctx); err != nil {
		return nil, err
	}

	bus := core.NewEventBus()

	svc := checkpoint.NewService(store,
		checkpoint.WithLogger(cfg.logger),
		checkpoint.WithTargetResolver(billing),
		checkpoint.WithRecoveryWindow(cfg.recoveryWindow),
		checkpoint.WithEventSink(bus.Publish),
	)

	regOpts := []registry.Option{
		registry.TTL(cfg.operationTTL),
		registry.Logger(cfg.logger),
		registry.Bus(bus),
	}
	if cfg.cache != nil {
		regOpts = append(regOpts, registry.CacheInvalidator(cfg.cache))
	}
	reg := registry.New(billing, files, billing, billing, regOpts...)

	q := queue.New(
		queue.DrainInterval(cfg.drainInterval),
		queue.MaxRetries(cfg.maxRetries),
		queue.Logger(cfg.logger),
		queue.Bus(bus),
	)

	o := &Orchestrator{
		Checkpoints: svc,
		Queue:       q,
		Operations:  reg,
		Billing:     billing,
		bus:         bus,
	}
	o.registerHandlers()
	return o, nil
}

func (o *Orchestrator) registerHandlers() {
	saveHandler := func(ctx context.Context, job *core.QueueJob) error {
		p, ok := job.Payload.(*core.SaveProgressPayload)
		if !ok {
			return core.ErrInvalidJobType
		}
		return o.Checkpoints.ApplySave(ctx, core.SaveRequest{
			Kind:               p.Kind,
			OwnerID:            p.OwnerID,
			TargetID:           p.TargetID,
			Progress:           p.Progress,
			Payload:            p.Payload,
			Status:             p.Status,
			TargetRole:         p.TargetRole,
			TargetIndustry:     p.TargetIndustry,
			CustomInstructions: p.CustomInstructions,
		})
	}
	o.Queue.Register(core.JobSaveAnalysisProgress, saveHandler)
	o.Queue.Register(core.JobSaveImprovementProgress, saveHandler)

	o.Queue.Register(core.JobMarkCompleted, func(ctx context.Context, job *core.QueueJob) error {
		p, ok := job.Payload.(*core.MarkCompletedPayload)
		if !ok {
			return core.ErrInvalidJobType
		}
		return o.Checkpoints.MarkCompleted(ctx, p.Kind, p.OwnerID, p.TargetID, p.FinalPayload)
	})

	o.Queue.Register(core.JobCleanupExpired, func(ctx context.Context, job *core.QueueJob) error {
		_, err := o.Checkpoints.CleanupExpired(ctx)
		return err
	})
}

// debounceKey coalesces successive saves for one workflow into the most
// recent pending job.
func debounceKey(kind core.CheckpointKind, ownerID, targetID string) string {
	return string(kind) + ":" + targetID + ":" + ownerID
}

// SaveAnalysisProgress enqueues a debounced analysis checkpoint save.
// Non-blocking; no failure mode is visible to the caller.
func (o *Orchestrator) SaveAnalysisProgress(ownerID, targetID string, progress float64, payload []byte) {
	o.Queue.Enqueue(core.JobSaveAnalysisProgress, &core.SaveProgressPayload{
		Kind:     core.KindAnalysis,
		OwnerID:  ownerID,
		TargetID: targetID,
		Progress: progress,
		Payload:  payload,
		Status:   core.StatusInProgress,
	}, queue.WithKey(debounceKey(core.KindAnalysis, ownerID, targetID)))
}

// SaveImprovementProgress enqueues a debounced improvement checkpoint save.
func (o *Orchestrator) SaveImprovementProgress(ownerID, targetID string, progress float64, payload []byte, role, industry, instructions string) {
	o.Queue.Enqueue(core.JobSaveImprovementProgress, &core.SaveProgressPayload{
		Kind:               core.KindImprovement,
		OwnerID:            ownerID,
		TargetID:           targetID,
		Progress:           progress,
		Payload:            payload,
		Status:             core.StatusInProgress,
		TargetRole:         role,
		TargetIndustry:     industry,
		CustomInstructions: instructions,
	}, queue.WithKey(debounceKey(core.KindImprovement, ownerID, targetID)))
}

// MarkAnalysisCompleted enqueues the terminal completion write for an
// analysis and requests an out-of-band drain.
func (o *Orchestrator) MarkAnalysisCompleted(ownerID, targetID string, finalPayload []byte) {
	o.markCompleted(core.KindAnalysis, ownerID, targetID, finalPayload)
}

// MarkImprovementCompleted enqueues the terminal completion write for an
// improvement session.
func (o *Orchestrator) MarkImprovementCompleted(ownerID, targetID string, finalPayload []byte) {
	o.markCompleted(core.KindImprovement, ownerID, targetID, finalPayload)
}

func (o *Orchestrator) markCompleted(kind core.CheckpointKind, ownerID, targetID string, finalPayload []byte) {
	o.Queue.Enqueue(core.JobMarkCompleted, &core.MarkCompletedPayload{
		Kind:         kind,
		OwnerID:      ownerID,
		TargetID:     targetID,
		FinalPayload: finalPayload,
	}, queue.WithKey(debounceKey(kind, ownerID, targetID)))
}

// RecoverState returns the checkpoint and target metadata for resuming a
// session, or (nil, nil) when none exists.
func (o *Orchestrator) RecoverState(ctx context.Context, kind core.CheckpointKind, ownerID, targetID string) (*core.RecoveredState, error) {
	return o.Checkpoints.RecoverState(ctx, kind, ownerID, targetID)
}

// ListRecoverable returns the owner's resumable checkpoints, newest first.
func (o *Orchestrator) ListRecoverable(ctx context.Context, ownerID string) ([]*core.CheckpointRecord, error) {
	return o.Checkpoints.ListRecoverable(ctx, ownerID)
}

// StartOperation launches a side-effect pipeline and returns its id.
func (o *Orchestrator) StartOperation(ctx context.Context, ownerID string, fileBytes []byte, fileName string) (string, error) {
	return o.Operations.Start(ctx, ownerID, fileBytes, fileName)
}

// GetOperationResult awaits a pipeline's structured outcome.
func (o *Orchestrator) GetOperationResult(ctx context.Context, operationID string) (*core.OperationResult, error) {
	return o.Operations.GetResult(ctx, operationID)
}

// SaveOperationResult runs the billing-sensitive completion path.
func (o *Orchestrator) SaveOperationResult(ctx context.Context, operationID string, analysisPayload []byte, fileName string, processingMs int64) (*core.AnalysisRecord, error) {
	return o.Operations.SaveResult(ctx, operationID, analysisPayload, fileName, processingMs)
}

// ScheduleCleanup registers a recurring cleanup sweep on the queue.
func (o *Orchestrator) ScheduleCleanup(sched schedule.Schedule) {
	o.Queue.Schedule(core.JobCleanupExpired, nil, sched)
}

// Events returns a channel of orchestrator events. Callers must call
// Unsubscribe when done.
func (o *Orchestrator) Events() <-chan core.Event {
	return o.bus.Subscribe()
}

// Unsubscribe removes a subscriber created by Events.
func (o *Orchestrator) Unsubscribe(ch <-chan core.Event) {
	o.bus.Unsubscribe(ch)
}

// Close stops the queue's drain timer after a final flush.
func (o *Orchestrator) Close() {
	o.Queue.Close()
}

// NewGormStorage creates a GORM-backed checkpoint storage.
func NewGormStorage(db *gorm.DB) *GormStorage {
	return storage.NewGormStorage(db)
}

// NewGormBillingStore creates a GORM-backed billing store.
func NewGormBillingStore(db *gorm.DB) *GormBillingStore {
	return storage.NewGormBillingStore(db)
}

// NewEventBus creates an event bus.
func NewEventBus() *EventBus {
	return core.NewEventBus()
}
