package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docent/internal/core"
)

func kinds(effs []effect) []effectKind {
	out := make([]effectKind, len(effs))
	for i, e := range effs {
		out[i] = e.kind
	}
	return out
}

func TestMachine_StartGuards(t *testing.T) {
	m := newMachine(2, false)
	assert.Equal(t, StateIdle, m.state())

	effs, ok := m.start()
	require.True(t, ok)
	assert.Equal(t, []effectKind{effStarted}, kinds(effs))
	assert.Equal(t, StateWaitingTurn, m.state())

	_, ok = m.start()
	assert.False(t, ok, "start while running must be a no-op")
}

func TestMachine_PauseResumeGuards(t *testing.T) {
	m := newMachine(2, false)

	_, ok := m.pause()
	assert.False(t, ok, "pause when idle")
	_, ok = m.resume()
	assert.False(t, ok, "resume when idle")

	m.start()
	_, ok = m.resume()
	assert.False(t, ok, "resume when not paused")

	effs, ok := m.pause()
	require.True(t, ok)
	assert.Equal(t, []effectKind{effPaused}, kinds(effs))
	assert.Equal(t, StatePaused, m.state())

	_, ok = m.pause()
	assert.False(t, ok, "pause when already paused")

	effs, ok = m.resume()
	require.True(t, ok)
	assert.Equal(t, []effectKind{effResumed}, kinds(effs))
	assert.Equal(t, StateWaitingTurn, m.state())
}

func TestMachine_PauseBlocksTurnAndGate(t *testing.T) {
	m := newMachine(2, false)
	m.start()
	m.pause()

	_, ok := m.beginStep()
	assert.False(t, ok, "a paused run must not take its turn")

	m.resume()
	_, ok = m.beginStep()
	require.True(t, ok)
	assert.Equal(t, StateExecuting, m.state())

	m.pause()
	_, ok = m.actionSettled()
	require.True(t, ok, "an executing action settles even while paused")
	assert.False(t, m.gateOpen())

	m.resume()
	assert.True(t, m.gateOpen())
}

func TestMachine_ForwardToCompletion(t *testing.T) {
	m := newMachine(2, false)
	m.start()

	effs, _ := m.beginStep()
	assert.Equal(t, []effectKind{effStepStarted}, kinds(effs))
	m.actionSettled()
	effs, ok := m.passGate()
	require.True(t, ok)
	assert.Equal(t, []effectKind{effStepCompleted}, kinds(effs))
	assert.Equal(t, 1, m.index)

	m.beginStep()
	m.actionSettled()
	effs, ok = m.passGate()
	require.True(t, ok)
	assert.Equal(t, []effectKind{effStepCompleted, effCompleted, effExit}, kinds(effs))
	assert.Equal(t, StateCompleted, m.state())

	_, ok = m.stop()
	assert.False(t, ok, "stop after completion must not exit twice")
}

func TestMachine_StopIsTerminalAndSingle(t *testing.T) {
	m := newMachine(3, false)
	m.start()
	m.beginStep()

	effs, ok := m.stop()
	require.True(t, ok)
	assert.Equal(t, []effectKind{effExit}, kinds(effs))
	assert.Equal(t, StateStopped, m.state())

	_, ok = m.stop()
	assert.False(t, ok)
	_, ok = m.actionSettled()
	assert.False(t, ok, "a settled action after stop is ignored")
}

func TestMachine_ManualGateConsumesOneRequest(t *testing.T) {
	m := newMachine(3, true)
	m.start()
	m.beginStep()

	// Requests during execution are remembered and collapse.
	_, ok := m.requestNext()
	require.True(t, ok)
	m.requestNext()
	m.requestNext()

	m.actionSettled()
	require.True(t, m.gateOpen())
	_, ok = m.passGate()
	require.True(t, ok)

	m.beginStep()
	m.actionSettled()
	assert.False(t, m.gateOpen(), "the collapsed requests must advance only once")
}

func TestMachine_RequestWhilePausedBetweenStepsIsKept(t *testing.T) {
	m := newMachine(3, true)
	m.start()
	m.beginStep()
	m.actionSettled()
	m.requestNext()
	m.passGate()

	m.pause()
	_, ok := m.requestNext()
	require.True(t, ok)
	m.resume()

	_, ok = m.beginStep()
	require.True(t, ok)
	assert.True(t, m.advance, "the request waits for this step's gate")
	m.actionSettled()
	assert.True(t, m.gateOpen())

	effs, ok := m.passGate()
	require.True(t, ok)
	assert.Equal(t, []effectKind{effStepCompleted}, kinds(effs))
	assert.False(t, m.advance, "the gate consumes the request")
}

func TestMachine_RequestNextIgnoredOutsideManualOrRun(t *testing.T) {
	auto := newMachine(2, false)
	auto.start()
	_, ok := auto.requestNext()
	assert.False(t, ok)

	idle := newMachine(2, true)
	_, ok = idle.requestNext()
	assert.False(t, ok)
}

func TestMachine_StepBack(t *testing.T) {
	m := newMachine(3, true)
	m.start()
	m.beginStep()
	m.actionSettled()

	_, ok := m.stepBack()
	assert.False(t, ok, "step back at index 0 is a no-op")

	m.requestNext()
	m.passGate()
	m.beginStep()

	_, ok = m.stepBack()
	assert.False(t, ok, "step back while executing is ignored")

	m.actionSettled()
	_, ok = m.stepBack()
	require.True(t, ok)

	effs, ok := m.passGate()
	require.True(t, ok)
	assert.Equal(t, []effectKind{effRewound}, kinds(effs))
	assert.Equal(t, 0, m.index)
	assert.Equal(t, StateWaitingTurn, m.state())
}

func TestMachine_StepBackManualOnly(t *testing.T) {
	m := newMachine(3, false)
	m.start()
	m.beginStep()
	m.actionSettled()
	m.passGate()
	m.beginStep()
	m.actionSettled()

	_, ok := m.stepBack()
	assert.False(t, ok)
}

func TestMachine_InteractPausesOnce(t *testing.T) {
	m := newMachine(2, false)
	_, ok := m.interact(core.Interaction{Kind: core.InteractionClick, Trusted: true})
	assert.False(t, ok, "interaction before start is ignored")

	m.start()
	effs, ok := m.interact(core.Interaction{Kind: core.InteractionClick, Trusted: true})
	require.True(t, ok)
	assert.Equal(t, []effectKind{effInteraction, effPaused}, kinds(effs))

	_, ok = m.interact(core.Interaction{Kind: core.InteractionKey, Trusted: true})
	assert.False(t, ok, "input on a paused tour is not recorded")

	m.resume()
	effs, ok = m.interact(core.Interaction{Kind: core.InteractionTouch, Trusted: true})
	require.True(t, ok)
	assert.Equal(t, []effectKind{effInteraction, effPaused}, kinds(effs))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "waiting_completion", StateWaitingCompletion.String())
	assert.Equal(t, "paused", StatePaused.String())
	assert.Equal(t, "state(42)", State(42).String())
}
