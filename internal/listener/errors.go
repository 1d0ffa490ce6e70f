package listener

import (
	"errors"
	"fmt"
)

var (
	// ErrHandlerRegistered is returned when a second removal handler is registered.
	ErrHandlerRegistered = errors.New("block removal handler already registered")

	// ErrAlreadyRunning is returned when Start is called on a running listener.
	ErrAlreadyRunning = errors.New("listener already running")
)

// ReorgTooDeepError is returned when the chain diverged below every block in the window.
type ReorgTooDeepError struct {
	Block       uint64
	OldestKnown uint64
}

func (e *ReorgTooDeepError) Error() string {
	return fmt.Sprintf("block %d diverges below the oldest tracked block %d", e.Block, e.OldestKnown)
}
