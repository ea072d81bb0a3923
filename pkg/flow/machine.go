package flow

import (
	"fmt"
	"sync"
)

// Machine tracks the stage of one flow attempt and enforces the transition
// rules: stages are monotonic within an attempt, no stage is revisited after
// a later one has been reached, and StageFailed is reachable from any
// non-terminal stage. An explicit Retry starts a logically new attempt from
// StageFormEntry.
type Machine struct {
	mu       sync.Mutex
	stage    Stage
	attempt  int
	onChange func(Stage)
}

// NewMachine creates a machine starting at the given stage. onChange, if not
// nil, is invoked (outside terminal checks, under the machine lock) whenever
// the stage actually changes.
func NewMachine(initial Stage, onChange func(Stage)) (*Machine, error) {
	if !initial.IsValid() {
		return nil, fmt.Errorf("unknown stage '%s'", initial)
	}
	if initial.IsTerminal() {
		return nil, fmt.Errorf("cannot start a flow in terminal stage '%s'", initial)
	}
	return &Machine{stage: initial, attempt: 1, onChange: onChange}, nil
}

// Stage returns the current stage.
func (m *Machine) Stage() Stage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stage
}

// Attempt returns the current attempt number, starting at 1.
func (m *Machine) Attempt() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempt
}

// Advance moves the machine to next. Moving to the current stage is a no-op
// so repeated poll results do not trip the monotonicity check. Moving
// backwards, out of a terminal stage, or to an unknown stage is an error.
func (m *Machine) Advance(next Stage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !next.IsValid() {
		return fmt.Errorf("unknown stage '%s'", next)
	}
	if next == m.stage {
		return nil
	}
	if m.stage.IsTerminal() {
		return fmt.Errorf("flow is already terminal in stage '%s'", m.stage)
	}
	if next != StageFailed && stageRank[next] < stageRank[m.stage] {
		return fmt.Errorf("cannot move back from '%s' to '%s'", m.stage, next)
	}

	m.stage = next
	if m.onChange != nil {
		m.onChange(next)
	}
	return nil
}

// Fail moves the machine to StageFailed from any non-terminal stage. Failing
// an already failed flow is a no-op; failing a completed flow is an error.
func (m *Machine) Fail() error {
	return m.Advance(StageFailed)
}

// Retry re-enters StageFormEntry after a failure, starting a new attempt.
// It is only legal from StageFailed.
func (m *Machine) Retry() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stage != StageFailed {
		return fmt.Errorf("retry is only possible from stage '%s', current stage is '%s'", StageFailed, m.stage)
	}

	m.stage = StageFormEntry
	m.attempt++
	if m.onChange != nil {
		m.onChange(StageFormEntry)
	}
	return nil
}
