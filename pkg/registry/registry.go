package registry

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/resumelab/resume-orchestrator/pkg/core"
	"github.com/resumelab/resume-orchestrator/pkg/security"
)

// DefaultTTL is how long a registry entry stays retrievable. Eviction fires
// regardless of the pipeline's outcome; result retrieval is a best-effort
// convenience, not a durable log.
const DefaultTTL = 5 * time.Minute

// operation is one live registry entry. Its result fields are written once,
// before done is closed.
type operation struct {
	id        string
	ownerID   string
	fileName  string
	startedAt time.Time

	done   chan struct{}
	result core.OperationResult

	evict *time.Timer

	// billMu serializes the billing write; analysis is set once the first
	// SaveResult commits so repeats return it instead of billing again.
	billMu   sync.Mutex
	analysis *core.AnalysisRecord
}

func (o *operation) state() core.OperationState {
	select {
	case <-o.done:
		if o.result.Success {
			return core.OperationCompleted
		}
		return core.OperationFailed
	default:
		return core.OperationPending
	}
}

// Registry is the ephemeral operation registry. Entries live in a
// process-local map and do not survive a restart.
type Registry struct {
	mu  sync.Mutex
	ops map[string]*operation

	credits core.CreditService
	files   core.FileStore
	resumes core.ResumeStore
	billing core.BillingStore
	cache   core.CacheInvalidator

	ttl    time.Duration
	logger *slog.Logger
	bus    *core.EventBus
}

// Option configures a Registry.
type Option interface {
	applyRegistry(*Registry)
}

type optionFunc func(*Registry)

func (f optionFunc) applyRegistry(r *Registry) { f(r) }

// TTL overrides the eviction window.
func TTL(d time.Duration) Option {
	return optionFunc(func(r *Registry) {
		if d > 0 {
			r.ttl = d
		}
	})
}

// Logger sets the registry's logger.
func Logger(l *slog.Logger) Option {
	return optionFunc(func(r *Registry) {
		r.logger = l
	})
}

// Bus sets the event bus registry events are published to.
func Bus(b *core.EventBus) Option {
	return optionFunc(func(r *Registry) {
		r.bus = b
	})
}

// CacheInvalidator sets the downstream cache invalidation hook called after
// billing writes.
func CacheInvalidator(c core.CacheInvalidator) Option {
	return optionFunc(func(r *Registry) {
		r.cache = c
	})
}

// New creates an operation registry over the given collaborators.
func New(credits core.CreditService, files core.FileStore, resumes core.ResumeStore, billing core.BillingStore, opts ...Option) *Registry {
	r := &Registry{
		ops:     make(map[string]*operation),
		credits: credits,
		files:   files,
		resumes: resumes,
		billing: billing,
		ttl:     DefaultTTL,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt.applyRegistry(r)
	}
	return r
}

// newOperationID generates an opaque, time-seeded operation identifier.
func newOperationID() string {
	return "op-" + strconv.FormatInt(time.Now().UnixMilli(), 36) + "-" + uuid.New().String()[:8]
}

// Start validates the owner synchronously, then launches the side-effect
// pipeline and returns its identifier immediately. Validation failures are
// surfaced to the caller and the pipeline is never launched; everything
// after that is fire-and-forget.
func (r *Registry) Start(ctx context.Context, ownerID string, fileBytes []byte, fileName string) (string, error) {
	if err := security.ValidateOwnerID(ownerID); err != nil {
		return "", err
	}

	balance, err := r.credits.Credits(ctx, ownerID)
	if err != nil {
		return "", err
	}
	if balance < core.AnalysisCreditCost {
		return "", core.ErrInsufficientCredits
	}

	op := &operation{
		id:        newOperationID(),
		ownerID:   ownerID,
		fileName:  security.SanitizeFileName(fileName),
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}

	r.mu.Lock()
	r.ops[op.id] = op
	op.evict = time.AfterFunc(r.ttl, func() { r.evictExpired(op.id) })
	r.mu.Unlock()

	if r.bus != nil {
		r.bus.Publish(&core.OperationStarted{OperationID: op.id, OwnerID: ownerID, Timestamp: op.startedAt})
	}

	go r.runPipeline(op, fileBytes)

	return op.id, nil
}

// GetResult awaits the operation's outcome. Concurrent callers share the
// one in-flight pipeline. Returns ErrOperationNotFound once the TTL has
// evicted the entry, even if the pipeline ultimately succeeded.
func (r *Registry) GetResult(ctx context.Context, operationID string) (*core.OperationResult, error) {
	r.mu.Lock()
	op, ok := r.ops[operationID]
	r.mu.Unlock()
	if !ok {
		return nil, core.ErrOperationNotFound
	}

	select {
	case <-op.done:
		res := op.result
		return &res, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// GetStatus reports the operation's coarse state without blocking.
func (r *Registry) GetStatus(operationID string) (core.OperationState, bool) {
	r.mu.Lock()
	op, ok := r.ops[operationID]
	r.mu.Unlock()
	if !ok {
		return "", false
	}
	return op.state(), true
}

// Cancel removes the registry entry. The underlying pipeline keeps running
// to completion in the background and simply becomes unobservable; this is
// bookkeeping cancellation, not a true one.
func (r *Registry) Cancel(operationID string) bool {
	r.mu.Lock()
	op, ok := r.ops[operationID]
	if ok {
		op.evict.Stop()
		delete(r.ops, operationID)
	}
	r.mu.Unlock()
	return ok
}

// SaveResult is the billing-sensitive completion path: it awaits the
// operation, then records the analysis, the credit transaction, and the
// balance decrement as one atomic unit, and invalidates downstream caches
// after commit. If the operation is unknown or its pipeline failed, it
// returns (nil, nil) without side effects. Repeated calls for the same
// operation bill once; later calls return the first recorded analysis.
func (r *Registry) SaveResult(ctx context.Context, operationID string, analysisPayload []byte, fileName string, processingMs int64) (*core.AnalysisRecord, error) {
	r.mu.Lock()
	op, ok := r.ops[operationID]
	r.mu.Unlock()
	if !ok {
		return nil, nil
	}

	select {
	case <-op.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if !op.result.Success {
		return nil, nil
	}

	op.billMu.Lock()
	defer op.billMu.Unlock()
	if op.analysis != nil {
		return op.analysis, nil
	}

	analysis, err := r.billing.RecordAnalysis(ctx, core.BillingRequest{
		ResumeID:     op.result.ResumeID,
		OwnerID:      op.ownerID,
		FileName:     security.SanitizeFileName(fileName),
		Payload:      analysisPayload,
		ProcessingMs: processingMs,
	})
	if err != nil {
		return nil, fmt.Errorf("record analysis for operation %s: %w", operationID, err)
	}
	op.analysis = analysis

	if r.cache != nil {
		if err := r.cache.InvalidateOwner(ctx, op.ownerID); err != nil {
			// A stale cache is the documented worst case here.
			r.logger.Warn("cache invalidation failed",
				"owner_id", op.ownerID, "error", err)
		}
	}

	return analysis, nil
}

// ListActive describes the live registry entries.
func (r *Registry) ListActive() []core.OperationInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	infos := make([]core.OperationInfo, 0, len(r.ops))
	for _, op := range r.ops {
		infos = append(infos, core.OperationInfo{
			OperationID: op.id,
			OwnerID:     op.ownerID,
			FileName:    op.fileName,
			State:       op.state(),
			StartedAt:   op.startedAt,
		})
	}
	return infos
}

// Cleanup removes all settled entries regardless of TTL and returns how
// many were removed. Pending entries are left alone.
func (r *Registry) Cleanup() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, op := range r.ops {
		if op.state() != core.OperationPending {
			op.evict.Stop()
			delete(r.ops, id)
			removed++
		}
	}
	return removed
}

// evictExpired is the TTL callback. It fires whether or not the pipeline
// finished; after it runs, lookups report not-found.
func (r *Registry) evictExpired(operationID string) {
	r.mu.Lock()
	_, ok := r.ops[operationID]
	if ok {
		delete(r.ops, operationID)
	}
	r.mu.Unlock()

	if ok {
		r.logger.Debug("operation evicted", "operation_id", operationID)
		if r.bus != nil {
			r.bus.Publish(&core.OperationEvicted{OperationID: operationID, Timestamp: time.Now()})
		}
	}
}
