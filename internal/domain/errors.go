package domain

import (
	"errors"
	"fmt"
)

// ErrInvalidBatch matches every ValidationError.
var ErrInvalidBatch = errors.New("invalid event batch")

// ValidationError rejects an event batch before any profile mutation.
// Index is -1 when the problem concerns the batch as a whole.
type ValidationError struct {
	Index   int
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("invalid event batch: %s", e.Message)
	}
	return fmt.Sprintf("invalid event batch: event %d: %s %s", e.Index, e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidBatch
}
