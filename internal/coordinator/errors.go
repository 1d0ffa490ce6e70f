package coordinator

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned when a state change is not in the transition table.
var ErrInvalidTransition = errors.New("invalid state transition")

// ProtocolViolationError reports upstream behavior that would leave the store
// inconsistent if processing continued. It is never retried.
type ProtocolViolationError struct {
	Collection string
	Block      uint64
	Watermark  uint64
	Reason     string
}

func (e *ProtocolViolationError) Error() string {
	if e.Collection == "" {
		return fmt.Sprintf("protocol violation at block %d: %s", e.Block, e.Reason)
	}
	return fmt.Sprintf("protocol violation in %s at block %d (watermark %d): %s",
		e.Collection, e.Block, e.Watermark, e.Reason)
}

// FatalError wraps a failure that exhausted its retries.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal error during %s: %v", e.Op, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

func isProtocolViolation(err error) bool {
	var pv *ProtocolViolationError
	return errors.As(err, &pv)
}

// retryable is the chunk level retry predicate.
func retryable(err error) bool {
	return !isProtocolViolation(err)
}
