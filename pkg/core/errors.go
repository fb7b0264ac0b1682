package core

import (
	"errors"
	"fmt"
)

// Validation errors
var (
	ErrInvalidKind        = errors.New("orchestrator: invalid checkpoint kind")
	ErrInvalidOwnerID     = errors.New("orchestrator: invalid owner id")
	ErrInvalidTargetID    = errors.New("orchestrator: invalid target id")
	ErrInvalidJobType     = errors.New("orchestrator: invalid job type")
	ErrDebounceKeyTooLong = errors.New("orchestrator: debounce key exceeds maximum length")
	ErrPayloadTooLarge    = errors.New("orchestrator: payload exceeds size limit")
)

// Store and pipeline errors
var (
	ErrCheckpointNotFound  = errors.New("orchestrator: checkpoint not found")
	ErrTerminalCheckpoint  = errors.New("orchestrator: checkpoint is in a terminal status")
	ErrOperationNotFound   = errors.New("orchestrator: operation not found")
	ErrOwnerNotFound       = errors.New("orchestrator: owner not found")
	ErrInsufficientCredits = errors.New("orchestrator: insufficient credits")
)

// TransitionError reports a rejected checkpoint status transition.
type TransitionError struct {
	From CheckpointStatus
	To   CheckpointStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("orchestrator: cannot transition checkpoint from %s to %s", e.From, e.To)
}

// PipelineError wraps a failure from a named pipeline step so callers can
// tell validation, upload, and record-creation failures apart in logs.
type PipelineError struct {
	Step string
	Err  error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("orchestrator: pipeline step %s: %v", e.Step, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}
