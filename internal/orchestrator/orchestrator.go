// Package orchestrator sequences a scenario's steps: it runs each step's
// action, waits out its completion gate, applies highlights and narration,
// and reports lifecycle events, while staying pausable and cancellable.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"docent/internal/core"
)

const (
	DefaultWaitTimeout  = 12 * time.Second
	DefaultPollInterval = 100 * time.Millisecond
	// DefaultWaitSlice bounds how late pause and stop are noticed during a
	// duration wait.
	DefaultWaitSlice = 100 * time.Millisecond

	decorationTimeout = 5 * time.Second
	flushTimeout      = 5 * time.Second
)

// Callbacks is the controller-facing surface. Nil fields are skipped.
// Callbacks run in event order on whichever goroutine drains the effect
// queue; they may call back into the Orchestrator.
type Callbacks struct {
	OnNarration       func(text string)
	OnStepStart       func(step core.Step, index int)
	OnStepComplete    func(step core.Step, index int)
	OnProgress        func(percent int)
	OnPause           func()
	OnResume          func()
	OnComplete        func()
	OnExit            func()
	OnHighlightChange func(selectors []string)
}

// Options configures an Orchestrator.
type Options struct {
	Scenario core.Scenario

	// Tracker receives lifecycle events. If it also implements core.Flusher
	// it is flushed by Cleanup.
	Tracker      core.Tracker
	Document     core.Document
	Interactions core.Interactions

	AutoPauseOnInteraction bool
	ManualAdvance          bool

	WaitTimeout  time.Duration // bound on waitForSelector polling
	PollInterval time.Duration // selector poll pacing
	WaitSlice    time.Duration // granularity of duration waits

	Logger    *slog.Logger
	Callbacks Callbacks
}

// Snapshot is a point-in-time view of the run state.
type Snapshot struct {
	State                  State
	Index                  int
	Total                  int
	ManualAdvanceRequested bool
}

// Orchestrator drives one scenario. All methods are safe for concurrent use.
type Orchestrator struct {
	scenario     core.Scenario
	steps        []core.Step
	tracker      core.Tracker
	doc          core.Document
	interactions core.Interactions
	autoPause    bool
	manual       bool
	waitTimeout  time.Duration
	pollInterval time.Duration
	waitSlice    time.Duration
	cb           Callbacks
	log          *slog.Logger

	mu          sync.Mutex
	m           machine
	gen         uint64
	cancel      context.CancelFunc
	changed     chan struct{}
	destroyed   bool
	unsubscribe func()

	suppressed atomic.Bool

	// execSlot admits one step action at a time, including an abandoned
	// action from a previous run that is still settling.
	execSlot chan struct{}

	qmu      sync.Mutex
	queue    []effect
	draining bool

	// highlighted is only touched while draining the effect queue.
	highlighted []string
}

// New validates the scenario and returns an idle Orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if err := opts.Scenario.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario %q: %w", opts.Scenario.ID, err)
	}

	o := &Orchestrator{
		scenario:     opts.Scenario,
		steps:        append([]core.Step(nil), opts.Scenario.Steps...),
		tracker:      opts.Tracker,
		doc:          opts.Document,
		interactions: opts.Interactions,
		autoPause:    opts.AutoPauseOnInteraction,
		manual:       opts.ManualAdvance,
		waitTimeout:  opts.WaitTimeout,
		pollInterval: opts.PollInterval,
		waitSlice:    opts.WaitSlice,
		cb:           opts.Callbacks,
		log:          opts.Logger,
		changed:      make(chan struct{}),
		execSlot:     make(chan struct{}, 1),
	}
	if o.tracker == nil {
		o.tracker = core.NullTracker
	}
	if o.waitTimeout <= 0 {
		o.waitTimeout = DefaultWaitTimeout
	}
	if o.pollInterval <= 0 {
		o.pollInterval = DefaultPollInterval
	}
	if o.waitSlice <= 0 {
		o.waitSlice = DefaultWaitSlice
	}
	if o.log == nil {
		o.log = slog.Default()
	}
	o.log = o.log.With(slog.String("scenario", o.scenario.ID))
	o.m = newMachine(len(o.steps), o.manual)
	return o, nil
}

// Start begins the tour at the first step. It returns immediately; the steps
// run on a background goroutine. No-op while running or after Cleanup.
func (o *Orchestrator) Start() {
	o.mu.Lock()
	if o.destroyed {
		o.mu.Unlock()
		return
	}
	effs, ok := o.m.start()
	if !ok {
		o.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	o.gen++
	gen := o.gen
	o.cancel = cancel
	if o.autoPause && o.interactions != nil && o.unsubscribe == nil {
		o.unsubscribe = o.interactions.Subscribe(o.handleInteraction)
	}
	o.commitLocked(effs)
	o.mu.Unlock()

	o.drain()
	go o.run(ctx, gen)
}

// Stop ends the run immediately: pending waits are abandoned, highlights are
// cleared and a single exit is reported. No-op when not running.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	effs, ok := o.m.stop()
	if !ok {
		o.mu.Unlock()
		return
	}
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	o.commitLocked(effs)
	o.mu.Unlock()

	o.drain()
}

// Pause freezes the post-action wait. An action already executing is left
// to finish. No-op unless running and not paused.
func (o *Orchestrator) Pause() {
	o.transition(0, (*machine).pause)
}

// Resume releases a paused run. No-op unless running and paused.
func (o *Orchestrator) Resume() {
	o.transition(0, (*machine).resume)
}

// RequestNextStep signals the manual-advance gate. Calls made before the
// gate opens are remembered once. Ignored outside manual mode.
func (o *Orchestrator) RequestNextStep() {
	if o.transition(0, (*machine).requestNext) {
		o.log.Debug("advance_requested")
	}
}

// GoToPreviousStep makes the next executed step the one before the current
// step. Ignored outside manual mode, at the first step, and while a step
// action is executing.
func (o *Orchestrator) GoToPreviousStep() {
	if o.transition(0, (*machine).stepBack) {
		o.log.Debug("rewind_requested")
	}
}

// Cleanup permanently retires the Orchestrator: it stops any run, detaches
// the interaction listener and flushes the tracker.
func (o *Orchestrator) Cleanup() {
	o.mu.Lock()
	if o.destroyed {
		o.mu.Unlock()
		return
	}
	o.destroyed = true
	unsubscribe := o.unsubscribe
	o.unsubscribe = nil
	o.mu.Unlock()

	o.Stop()
	if unsubscribe != nil {
		unsubscribe()
	}

	o.mu.Lock()
	o.commitLocked([]effect{{kind: effFlush}})
	o.mu.Unlock()
	o.drain()
}

// SuppressInteractions exempts subsequent page interactions from
// auto-pause, e.g. while an operator demonstrates on the page.
func (o *Orchestrator) SuppressInteractions(suppress bool) {
	o.suppressed.Store(suppress)
}

func (o *Orchestrator) InteractionsSuppressed() bool {
	return o.suppressed.Load()
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.m.state()
}

// CurrentIndex returns the index of the step being run or waited on.
func (o *Orchestrator) CurrentIndex() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.m.index
}

func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return Snapshot{
		State:                  o.m.state(),
		Index:                  o.m.index,
		Total:                  o.m.total,
		ManualAdvanceRequested: o.m.advance,
	}
}

func (o *Orchestrator) handleInteraction(in core.Interaction) {
	if !in.Trusted || o.suppressed.Load() {
		return
	}
	o.transition(0, func(m *machine) ([]effect, bool) {
		return m.interact(in)
	})
}

// transition applies fn to the machine. gen restricts it to one run; zero
// applies to whatever run is current. Accepted transitions wake waiters and
// queue their effects before the lock is released, so effects are observed
// in transition order.
func (o *Orchestrator) transition(gen uint64, fn func(m *machine) ([]effect, bool)) bool {
	o.mu.Lock()
	if gen != 0 && gen != o.gen {
		o.mu.Unlock()
		return false
	}
	effs, ok := fn(&o.m)
	if !ok {
		o.mu.Unlock()
		return false
	}
	o.commitLocked(effs)
	o.mu.Unlock()

	o.drain()
	return true
}

func (o *Orchestrator) commitLocked(effs []effect) {
	close(o.changed)
	o.changed = make(chan struct{})
	if len(effs) == 0 {
		return
	}
	o.qmu.Lock()
	o.queue = append(o.queue, effs...)
	o.qmu.Unlock()
}
