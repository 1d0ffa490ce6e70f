package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goran-ethernal/ChainSync/internal/logger"
)

// Runner is a restartable unit of work, such as a Coordinator.
type Runner interface {
	Run(ctx context.Context) error
}

// Factory builds a fresh Runner for every attempt. State is reloaded from storage each time.
type Factory func(ctx context.Context) (Runner, error)

// Supervisor restarts a failed Runner a bounded number of times.
type Supervisor struct {
	factory     Factory
	maxRestarts int
	delay       time.Duration
	log         *logger.Logger
}

// NewSupervisor creates a Supervisor.
func NewSupervisor(factory Factory, maxRestarts int, delay time.Duration, log *logger.Logger) *Supervisor {
	return &Supervisor{
		factory:     factory,
		maxRestarts: max(maxRestarts, 0),
		delay:       delay,
		log:         log,
	}
}

// Run runs the unit until ctx is cancelled, it returns cleanly, or it fails more
// than maxRestarts times. Protocol violations are never restarted.
func (s *Supervisor) Run(ctx context.Context) error {
	for restarts := 0; ; restarts++ {
		err := s.runOnce(ctx)
		if err == nil || ctx.Err() != nil {
			return nil
		}
		if isProtocolViolation(err) {
			s.log.Errorw("protocol violation, not restarting", "error", err)
			return err
		}
		if restarts >= s.maxRestarts {
			return fmt.Errorf("coordinator failed after %d restarts: %w", restarts, err)
		}

		s.log.Errorw("coordinator failed, restarting",
			"error", err,
			"restart", restarts+1,
			"max_restarts", s.maxRestarts,
			"delay", s.delay,
		)
		supervisorRestartInc()

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.delay):
		}
	}
}

func (s *Supervisor) runOnce(ctx context.Context) error {
	r, err := s.factory(ctx)
	if err != nil {
		return fmt.Errorf("failed to build coordinator: %w", err)
	}
	if r == nil {
		return errors.New("factory returned no coordinator")
	}
	return r.Run(ctx)
}
