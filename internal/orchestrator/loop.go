package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"docent/internal/core"
	"docent/internal/ratelimit"
)

// run drives one generation of the tour until it completes, is stopped, or
// is superseded by a later Start.
func (o *Orchestrator) run(ctx context.Context, gen uint64) {
	defer o.release(gen)

	for {
		if !o.await(ctx, gen, func(m *machine) bool { return !m.paused }) {
			return
		}
		var (
			idx  int
			step core.Step
		)
		began := o.transition(gen, func(m *machine) ([]effect, bool) {
			effs, ok := m.beginStep()
			idx = m.index
			return effs, ok
		})
		if !began {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		step = o.steps[idx]

		if err := o.execute(ctx, idx, step); err != nil {
			if ctx.Err() != nil {
				return
			}
			o.log.Warn("step_action_failed",
				slog.String("step", step.ID),
				slog.Int("step_index", idx),
				slog.Any("error", err),
			)
		}
		if ctx.Err() != nil {
			return
		}
		o.transition(gen, (*machine).actionSettled)

		if step.WaitForSelector != "" {
			o.waitForSelector(ctx, step.WaitForSelector)
			if ctx.Err() != nil {
				return
			}
		}
		if len(step.HighlightSelectors) > 0 {
			o.transition(gen, (*machine).highlight)
		}

		if !o.manual && !o.hold(ctx, gen, step.Duration) {
			return
		}
		completed, ok := o.passGate(ctx, gen)
		if !ok || completed {
			return
		}
	}
}

// release cancels the generation's context once its loop has returned.
func (o *Orchestrator) release(gen uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.gen == gen && o.cancel != nil && !o.m.running() {
		o.cancel()
		o.cancel = nil
	}
}

// execute runs the step action and waits for it to settle or for ctx to be
// cancelled. A panicking action is reported as an error.
func (o *Orchestrator) execute(ctx context.Context, idx int, step core.Step) error {
	select {
	case o.execSlot <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	done := make(chan error, 1)
	go func() {
		defer func() { <-o.execSlot }()
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("step %q panicked: %v", step.ID, r)
			}
		}()
		if step.Action == nil {
			done <- nil
			return
		}
		done <- step.Action(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// waitForSelector polls the document until selector matches or the wait
// timeout elapses. A timeout is logged and the step proceeds.
func (o *Orchestrator) waitForSelector(ctx context.Context, selector string) {
	if o.doc == nil {
		o.log.Debug("selector_wait_skipped", slog.String("selector", selector))
		return
	}
	found, err := ratelimit.Poll(ctx, o.pollInterval, o.waitTimeout, func(ctx context.Context) (bool, error) {
		return o.doc.Exists(ctx, selector)
	})
	if found || ctx.Err() != nil {
		return
	}
	o.log.Warn("selector_timeout",
		slog.String("selector", selector),
		slog.Duration("timeout", o.waitTimeout),
		slog.Any("error", err),
	)
}

// hold waits out d in slices, not counting time spent paused. It reports
// false if the run was stopped or superseded.
func (o *Orchestrator) hold(ctx context.Context, gen uint64, d time.Duration) bool {
	notPaused := func(m *machine) bool { return !m.paused }
	for remaining := d; remaining > 0; {
		if !o.await(ctx, gen, notPaused) {
			return false
		}
		slice := min(o.waitSlice, remaining)
		t := time.NewTimer(slice)
		select {
		case <-ctx.Done():
			t.Stop()
			return false
		case <-t.C:
		}
		remaining -= slice
	}
	return ctx.Err() == nil
}

// passGate blocks until the completion gate opens and passes it. It reports
// whether the tour completed.
func (o *Orchestrator) passGate(ctx context.Context, gen uint64) (completed, ok bool) {
	for {
		if !o.await(ctx, gen, (*machine).gateOpen) {
			return false, false
		}
		passed := o.transition(gen, func(m *machine) ([]effect, bool) {
			effs, ok := m.passGate()
			completed = m.phase == StateCompleted
			return effs, ok
		})
		if passed {
			return completed, true
		}
		if ctx.Err() != nil {
			return false, false
		}
	}
}

// await blocks until cond holds for the current generation. It reports false
// if ctx is done or the generation was superseded.
func (o *Orchestrator) await(ctx context.Context, gen uint64, cond func(m *machine) bool) bool {
	for {
		o.mu.Lock()
		if o.gen != gen {
			o.mu.Unlock()
			return false
		}
		if cond(&o.m) {
			o.mu.Unlock()
			return true
		}
		changed := o.changed
		o.mu.Unlock()

		select {
		case <-ctx.Done():
			return false
		case <-changed:
		}
	}
}
