package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resumelab/resume-orchestrator/pkg/core"
	"github.com/resumelab/resume-orchestrator/pkg/schedule"
)

// recorder collects processed payloads for assertions.
type recorder struct {
	mu       sync.Mutex
	payloads []any
}

func (r *recorder) handler(ctx context.Context, job *core.QueueJob) error {
	r.mu.Lock()
	r.payloads = append(r.payloads, job.Payload)
	r.mu.Unlock()
	return nil
}

func (r *recorder) processed() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]any, len(r.payloads))
	copy(out, r.payloads)
	return out
}

// newIdleQueue returns a queue whose timer effectively never fires, so
// tests drive drains explicitly via ForceDrain.
func newIdleQueue(t *testing.T, opts ...Option) *Queue {
	t.Helper()
	q := New(append([]Option{DrainInterval(time.Hour)}, opts...)...)
	t.Cleanup(q.Close)
	return q
}

func TestDebounceCoalescing(t *testing.T) {
	q := newIdleQueue(t)
	rec := &recorder{}
	q.Register(core.JobSaveAnalysisProgress, rec.handler)

	q.Enqueue(core.JobSaveAnalysisProgress, "A", WithKey("resume-1"))
	q.Enqueue(core.JobSaveAnalysisProgress, "B", WithKey("resume-1"))
	q.Enqueue(core.JobSaveAnalysisProgress, "C", WithKey("resume-1"))

	assert.Equal(t, 1, q.Status().Total)

	processed := q.ForceDrain(context.Background())
	assert.Equal(t, 1, processed)
	assert.Equal(t, []any{"C"}, rec.processed(), "only the most recent payload survives")
	assert.Zero(t, q.Status().Total)
}

func TestUnkeyedJobsDoNotCoalesce(t *testing.T) {
	q := newIdleQueue(t)
	rec := &recorder{}
	q.Register(core.JobCleanupExpired, rec.handler)

	q.Enqueue(core.JobCleanupExpired, 1)
	q.Enqueue(core.JobCleanupExpired, 2)
	assert.Equal(t, 2, q.Status().Total)

	q.ForceDrain(context.Background())
	assert.Len(t, rec.processed(), 2)
}

func TestRetryBound(t *testing.T) {
	q := newIdleQueue(t)

	attempts := 0
	q.Register(core.JobSaveAnalysisProgress, func(ctx context.Context, job *core.QueueJob) error {
		attempts++
		return errors.New("boom")
	})

	q.Enqueue(core.JobSaveAnalysisProgress, "x", WithKey("k"), WithMaxRetries(3))

	for i := 0; i < 5; i++ {
		q.ForceDrain(context.Background())
	}

	assert.Equal(t, 3, attempts, "attempted exactly maxRetries times total")
	assert.Zero(t, q.Status().ByType[core.JobSaveAnalysisProgress])
}

func TestFailedJobKeepsLatestPayloadAcrossDrains(t *testing.T) {
	q := newIdleQueue(t)

	fail := true
	var got []any
	q.Register(core.JobSaveAnalysisProgress, func(ctx context.Context, job *core.QueueJob) error {
		got = append(got, job.Payload)
		if fail {
			return errors.New("transient")
		}
		return nil
	})

	q.Enqueue(core.JobSaveAnalysisProgress, "old", WithKey("k"), WithMaxRetries(5))
	q.ForceDrain(context.Background())

	// A newer save supersedes the failed one before the next drain.
	q.Enqueue(core.JobSaveAnalysisProgress, "new", WithKey("k"), WithMaxRetries(5))
	fail = false
	q.ForceDrain(context.Background())

	assert.Equal(t, []any{"old", "new"}, got)
	assert.Zero(t, q.Status().Total)
}

func TestHandlerPanicIsContained(t *testing.T) {
	q := newIdleQueue(t)
	q.Register(core.JobMarkCompleted, func(ctx context.Context, job *core.QueueJob) error {
		panic("handler bug")
	})

	q.Enqueue(core.JobMarkCompleted, "x", WithKey("k"), WithMaxRetries(1))
	assert.NotPanics(t, func() { q.ForceDrain(context.Background()) })
	assert.Zero(t, q.Status().Total)
}

func TestMissingHandlerExhaustsRetries(t *testing.T) {
	q := newIdleQueue(t)

	q.Enqueue(core.JobCleanupExpired, nil, WithMaxRetries(2))
	q.ForceDrain(context.Background())
	assert.Equal(t, 1, q.Status().Total)
	q.ForceDrain(context.Background())
	assert.Zero(t, q.Status().Total)
}

func TestStatusSnapshot(t *testing.T) {
	q := newIdleQueue(t)
	q.Register(core.JobSaveAnalysisProgress, func(ctx context.Context, job *core.QueueJob) error { return nil })

	st := q.Status()
	assert.Zero(t, st.Total)
	assert.Nil(t, st.OldestAt)
	assert.False(t, st.Processing)

	q.Enqueue(core.JobSaveAnalysisProgress, "a", WithKey("k1"))
	q.Enqueue(core.JobSaveImprovementProgress, "b", WithKey("k2"))

	st = q.Status()
	assert.Equal(t, 2, st.Total)
	assert.Equal(t, 1, st.ByType[core.JobSaveAnalysisProgress])
	assert.Equal(t, 1, st.ByType[core.JobSaveImprovementProgress])
	require.NotNil(t, st.OldestAt)
	assert.False(t, st.OldestAt.After(time.Now()))
}

func TestClear(t *testing.T) {
	q := newIdleQueue(t)
	q.Enqueue(core.JobSaveAnalysisProgress, "a", WithKey("k1"))
	q.Enqueue(core.JobSaveAnalysisProgress, "b", WithKey("k2"))

	q.Clear()
	assert.Zero(t, q.Status().Total)
}

func TestSingleFlightDrainGuard(t *testing.T) {
	q := newIdleQueue(t)

	entered := make(chan struct{})
	release := make(chan struct{})
	q.Register(core.JobSaveAnalysisProgress, func(ctx context.Context, job *core.QueueJob) error {
		close(entered)
		<-release
		return nil
	})
	q.Enqueue(core.JobSaveAnalysisProgress, "a", WithKey("k"))

	done := make(chan int)
	go func() { done <- q.ForceDrain(context.Background()) }()
	<-entered

	// Overlapping drain is refused while the first is in flight.
	assert.Zero(t, q.ForceDrain(context.Background()))
	assert.True(t, q.Status().Processing)

	close(release)
	assert.Equal(t, 1, <-done)
	assert.False(t, q.Status().Processing)
}

func TestPeriodicDrain(t *testing.T) {
	q := New(DrainInterval(20 * time.Millisecond))
	t.Cleanup(q.Close)
	rec := &recorder{}
	q.Register(core.JobSaveAnalysisProgress, rec.handler)

	q.Enqueue(core.JobSaveAnalysisProgress, "a", WithKey("k"))

	assert.Eventually(t, func() bool {
		return len(rec.processed()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestMarkCompletedTriggersImmediateDrain(t *testing.T) {
	q := New(DrainInterval(time.Hour))
	t.Cleanup(q.Close)
	rec := &recorder{}
	q.Register(core.JobMarkCompleted, rec.handler)

	q.Enqueue(core.JobMarkCompleted, "final", WithKey("k"))

	// Drained well before the hour-long periodic interval.
	assert.Eventually(t, func() bool {
		return len(rec.processed()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestScheduledJobEnqueuedOnTick(t *testing.T) {
	q := New(DrainInterval(20 * time.Millisecond))
	t.Cleanup(q.Close)
	rec := &recorder{}
	q.Register(core.JobCleanupExpired, rec.handler)

	q.Schedule(core.JobCleanupExpired, nil, schedule.Every(30*time.Millisecond))

	assert.Eventually(t, func() bool {
		return len(rec.processed()) >= 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCloseFlushesPendingJobs(t *testing.T) {
	q := New(DrainInterval(time.Hour))
	rec := &recorder{}
	q.Register(core.JobSaveAnalysisProgress, rec.handler)

	q.Enqueue(core.JobSaveAnalysisProgress, "a", WithKey("k"))
	q.Close()

	assert.Equal(t, []any{"a"}, rec.processed())
}

func TestEnqueueAfterCloseIsDropped(t *testing.T) {
	q := New(DrainInterval(time.Hour))
	q.Close()

	q.Enqueue(core.JobSaveAnalysisProgress, "a", WithKey("k"))
	assert.Zero(t, q.Status().Total)
}

func TestDroppedJobEventPublished(t *testing.T) {
	bus := core.NewEventBus()
	q := newIdleQueue(t, Bus(bus))
	ch := bus.Subscribe()
	defer bus.Unsubscribe(ch)

	q.Register(core.JobSaveAnalysisProgress, func(ctx context.Context, job *core.QueueJob) error {
		return errors.New("always fails")
	})
	q.Enqueue(core.JobSaveAnalysisProgress, "x", WithKey("k"), WithMaxRetries(1))
	q.ForceDrain(context.Background())

	var dropped bool
	for !dropped {
		select {
		case e := <-ch:
			if _, ok := e.(*core.JobDropped); ok {
				dropped = true
			}
		case <-time.After(time.Second):
			t.Fatal("no JobDropped event")
		}
	}
}
