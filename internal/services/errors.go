package services

import (
	"fmt"

	"github.com/google/uuid"

	"reelflow-backend/internal/models"
)

// ValidationError rejects a malformed request before any mutation.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string { return "Validation error" }

type NotFoundError struct{ Message string }

func (e *NotFoundError) Error() string { return e.Message }

// StateTransitionError is returned when the video's current stage does not
// permit the requested operation. Nothing was written.
type StateTransitionError struct {
	VideoID uuid.UUID
	From    models.VideoStage
	Op      string
}

func (e *StateTransitionError) Error() string {
	return fmt.Sprintf("cannot %s video %s in stage %s", e.Op, e.VideoID, e.From)
}

// QueueUnavailableError reports a publish failure after the record change
// was committed. The transition stands.
type QueueUnavailableError struct {
	Queue string
	Err   error
}

func (e *QueueUnavailableError) Error() string {
	return fmt.Sprintf("queue %s unavailable: %v", e.Queue, e.Err)
}

func (e *QueueUnavailableError) Unwrap() error { return e.Err }

type StoreObjectError struct {
	Key string
	Err error
}

func (e *StoreObjectError) Error() string {
	return fmt.Sprintf("object store error for %s: %v", e.Key, e.Err)
}

func (e *StoreObjectError) Unwrap() error { return e.Err }
