package orchestrator

import (
	"fmt"

	"docent/internal/core"
)

// State is the orchestrator's position in the tour lifecycle.
type State int

const (
	StateIdle State = iota
	StateWaitingTurn
	StateExecuting
	StateWaitingCompletion
	StatePaused
	StateCompleted
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWaitingTurn:
		return "waiting_turn"
	case StateExecuting:
		return "executing"
	case StateWaitingCompletion:
		return "waiting_completion"
	case StatePaused:
		return "paused"
	case StateCompleted:
		return "completed"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type effectKind int

const (
	effStarted effectKind = iota
	effPaused
	effResumed
	effStepStarted
	effHighlight
	effStepCompleted
	effRewound
	effCompleted
	effExit
	effInteraction
	effFlush
)

func (k effectKind) String() string {
	return [...]string{
		"started", "paused", "resumed", "step_started", "highlight",
		"step_completed", "rewound", "completed", "exit", "interaction", "flush",
	}[k]
}

// effect is one externally visible consequence of a transition. Transitions
// return their effects in the order they must be observed.
type effect struct {
	kind        effectKind
	index       int
	total       int
	interaction core.Interaction
}

// machine holds the run state. Its methods are pure transitions: each checks
// its guard, mutates the state and returns the ordered effects, or reports
// false when the call does not apply in the current state.
type machine struct {
	phase  State // never StatePaused; pausing is tracked separately
	paused bool
	index  int
	total  int
	manual bool

	advance bool // pending manual-advance request, consumed once at the gate
	rewind  bool // pending step-back request, consumed at the gate
}

func newMachine(total int, manual bool) machine {
	return machine{phase: StateIdle, total: total, manual: manual}
}

func (m *machine) running() bool {
	switch m.phase {
	case StateWaitingTurn, StateExecuting, StateWaitingCompletion:
		return true
	}
	return false
}

// state reports the externally visible state; a paused run reports
// StatePaused regardless of its sub-state.
func (m *machine) state() State {
	if m.paused && m.running() {
		return StatePaused
	}
	return m.phase
}

func (m *machine) start() ([]effect, bool) {
	if m.running() {
		return nil, false
	}
	m.phase = StateWaitingTurn
	m.paused = false
	m.index = 0
	m.advance = false
	m.rewind = false
	return []effect{{kind: effStarted, total: m.total}}, true
}

func (m *machine) stop() ([]effect, bool) {
	if !m.running() {
		return nil, false
	}
	m.phase = StateStopped
	m.paused = false
	m.advance = false
	m.rewind = false
	return []effect{{kind: effExit, index: m.index, total: m.total}}, true
}

func (m *machine) pause() ([]effect, bool) {
	if !m.running() || m.paused {
		return nil, false
	}
	m.paused = true
	return []effect{{kind: effPaused, index: m.index}}, true
}

func (m *machine) resume() ([]effect, bool) {
	if !m.running() || !m.paused {
		return nil, false
	}
	m.paused = false
	return []effect{{kind: effResumed, index: m.index}}, true
}

// requestNext remembers a manual-advance request. Repeats before the gate
// consumes it collapse into one.
func (m *machine) requestNext() ([]effect, bool) {
	if !m.manual || !m.running() {
		return nil, false
	}
	m.advance = true
	return nil, true
}

// stepBack asks the gate to release towards the previous step. It is refused
// while an action is executing and at the first step.
func (m *machine) stepBack() ([]effect, bool) {
	if !m.manual || m.phase != StateWaitingCompletion || m.index == 0 {
		return nil, false
	}
	m.rewind = true
	return nil, true
}

// beginStep moves from the turn to executing the step at index. A pending
// advance request is kept for this step's gate.
func (m *machine) beginStep() ([]effect, bool) {
	if m.phase != StateWaitingTurn || m.paused || m.index >= m.total {
		return nil, false
	}
	m.phase = StateExecuting
	m.rewind = false
	return []effect{{kind: effStepStarted, index: m.index, total: m.total}}, true
}

func (m *machine) actionSettled() ([]effect, bool) {
	if m.phase != StateExecuting {
		return nil, false
	}
	m.phase = StateWaitingCompletion
	return nil, true
}

func (m *machine) highlight() ([]effect, bool) {
	if m.phase != StateWaitingCompletion {
		return nil, false
	}
	return []effect{{kind: effHighlight, index: m.index}}, true
}

// gateOpen reports whether the completion gate may be passed. Duration-gated
// runs call passGate once their wait has elapsed, so only manual runs
// consult the pending flags here.
func (m *machine) gateOpen() bool {
	if m.phase != StateWaitingCompletion || m.paused {
		return false
	}
	if !m.manual {
		return true
	}
	return m.advance || m.rewind
}

// passGate leaves the current step: one step back when a rewind is pending,
// otherwise forward, completing the tour after the last step.
func (m *machine) passGate() ([]effect, bool) {
	if !m.gateOpen() {
		return nil, false
	}
	if m.rewind {
		from := m.index
		m.rewind = false
		m.advance = false
		m.index = max(m.index-1, 0)
		m.phase = StateWaitingTurn
		return []effect{{kind: effRewound, index: from, total: m.total}}, true
	}
	m.advance = false
	effs := []effect{{kind: effStepCompleted, index: m.index, total: m.total}}
	m.index++
	if m.index >= m.total {
		m.phase = StateCompleted
		return append(effs,
			effect{kind: effCompleted, index: m.total - 1, total: m.total},
			effect{kind: effExit, index: m.total - 1, total: m.total},
		), true
	}
	m.phase = StateWaitingTurn
	return effs, true
}

// interact records a user interaction on a running, unpaused tour and
// pauses it.
func (m *machine) interact(in core.Interaction) ([]effect, bool) {
	if !m.running() || m.paused {
		return nil, false
	}
	effs := []effect{{kind: effInteraction, index: m.index, interaction: in}}
	if p, ok := m.pause(); ok {
		effs = append(effs, p...)
	}
	return effs, true
}
