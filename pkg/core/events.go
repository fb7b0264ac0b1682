package core

import "time"

// Event is the interface for all orchestrator events.
type Event interface {
	eventMarker()
}

// CheckpointSaved is emitted after a progress save reaches the store.
type CheckpointSaved struct {
	Kind      CheckpointKind
	OwnerID   string
	TargetID  string
	Progress  float64
	Timestamp time.Time
}

func (*CheckpointSaved) eventMarker() {}

// CheckpointCompleted is emitted when a checkpoint reaches COMPLETED.
type CheckpointCompleted struct {
	Kind      CheckpointKind
	OwnerID   string
	TargetID  string
	Timestamp time.Time
}

func (*CheckpointCompleted) eventMarker() {}

// JobRetrying is emitted when a drained job fails and stays queued for the
// next drain.
type JobRetrying struct {
	Job       *QueueJob
	Attempt   int
	Error     error
	Timestamp time.Time
}

func (*JobRetrying) eventMarker() {}

// JobDropped is emitted when a job exhausts its retries and is removed.
type JobDropped struct {
	Job       *QueueJob
	Error     error
	Timestamp time.Time
}

func (*JobDropped) eventMarker() {}

// DrainFinished is emitted at the end of each drain cycle.
type DrainFinished struct {
	Processed int
	Failed    int
	Duration  time.Duration
	Timestamp time.Time
}

func (*DrainFinished) eventMarker() {}

// OperationStarted is emitted when a side-effect pipeline is launched.
type OperationStarted struct {
	OperationID string
	OwnerID     string
	Timestamp   time.Time
}

func (*OperationStarted) eventMarker() {}

// OperationSettled is emitted when a pipeline finishes, either way.
type OperationSettled struct {
	OperationID string
	Success     bool
	Timestamp   time.Time
}

func (*OperationSettled) eventMarker() {}

// OperationEvicted is emitted when the TTL removes a registry entry.
type OperationEvicted struct {
	OperationID string
	Timestamp   time.Time
}

func (*OperationEvicted) eventMarker() {}
