package coordinator

import (
	"fmt"
	"sync"
	"time"
)

// State is the phase the coordinator is in.
type State string

const (
	StateBackfilling State = "backfilling"
	StateLiveTailing State = "live_tailing"
	StateRollingBack State = "rolling_back"
	StateStopped     State = "stopped"
)

// transitions lists the allowed moves between states. Stopped is reachable from anywhere.
var transitions = map[State][]State{
	StateStopped:     {StateBackfilling},
	StateBackfilling: {StateLiveTailing, StateStopped},
	StateLiveTailing: {StateRollingBack, StateStopped},
	StateRollingBack: {StateLiveTailing, StateStopped},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type stateMachine struct {
	mu    sync.RWMutex
	state State
	since time.Time
}

func newStateMachine() *stateMachine {
	return &stateMachine{state: StateStopped, since: time.Now()}
}

func (m *stateMachine) transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !canTransition(m.state, to) {
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, m.state, to)
	}

	m.state = to
	m.since = time.Now()
	stateSet(to)
	return nil
}

func (m *stateMachine) current() (State, time.Time) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state, m.since
}
