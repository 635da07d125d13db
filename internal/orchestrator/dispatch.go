package orchestrator

import (
	"context"
	"log/slog"

	"docent/internal/core"
)

// drain applies queued effects in order. Only one goroutine drains at a
// time; a caller that finds the queue already being drained (including a
// callback re-entering the Orchestrator) leaves its effects to that drainer.
func (o *Orchestrator) drain() {
	o.qmu.Lock()
	if o.draining {
		o.qmu.Unlock()
		return
	}
	o.draining = true
	for len(o.queue) > 0 {
		e := o.queue[0]
		o.queue = o.queue[1:]
		o.qmu.Unlock()
		o.apply(e)
		o.qmu.Lock()
	}
	o.draining = false
	o.qmu.Unlock()
}

func (o *Orchestrator) apply(e effect) {
	defer func() {
		if r := recover(); r != nil {
			o.log.Error("effect_panicked",
				slog.String("effect", e.kind.String()),
				slog.Any("panic", r),
			)
		}
	}()

	switch e.kind {
	case effStarted:
		o.track(core.EventStart, "", map[string]any{
			"scenario": o.scenario.ID,
			"steps":    e.total,
			"manual":   o.manual,
		})
		o.log.Info("tour_start",
			slog.Int("steps", e.total),
			slog.Duration("estimated", o.scenario.EstimatedDuration()),
		)
		if o.cb.OnProgress != nil {
			o.cb.OnProgress(0)
		}

	case effPaused:
		o.track(core.EventPause, o.stepID(e.index), nil)
		o.log.Info("tour_paused", slog.Int("step_index", e.index))
		if o.cb.OnPause != nil {
			o.cb.OnPause()
		}

	case effResumed:
		o.track(core.EventResume, o.stepID(e.index), nil)
		o.log.Info("tour_resumed", slog.Int("step_index", e.index))
		if o.cb.OnResume != nil {
			o.cb.OnResume()
		}

	case effStepStarted:
		step := o.steps[e.index]
		o.clearHighlight()
		o.track(core.EventStepStart, step.ID, map[string]any{"index": e.index})
		o.log.Debug("step_start", slog.String("step", step.ID), slog.Int("step_index", e.index))
		if o.cb.OnNarration != nil {
			o.cb.OnNarration(step.Narration)
		}
		if o.cb.OnStepStart != nil {
			o.cb.OnStepStart(step, e.index)
		}

	case effHighlight:
		o.highlight(o.steps[e.index].HighlightSelectors)

	case effStepCompleted:
		step := o.steps[e.index]
		o.track(core.EventStepComplete, step.ID, map[string]any{"index": e.index})
		o.log.Debug("step_complete", slog.String("step", step.ID), slog.Int("step_index", e.index))
		if o.cb.OnStepComplete != nil {
			o.cb.OnStepComplete(step, e.index)
		}
		if o.cb.OnProgress != nil {
			o.cb.OnProgress(percent(e.index+1, e.total))
		}

	case effRewound:
		o.clearHighlight()
		o.log.Info("tour_rewound",
			slog.Int("from_index", e.index),
			slog.Int("to_index", max(e.index-1, 0)),
		)

	case effCompleted:
		o.track(core.EventComplete, o.stepID(e.index), nil)
		o.log.Info("tour_complete", slog.Int("steps", e.total))
		if o.cb.OnComplete != nil {
			o.cb.OnComplete()
		}

	case effExit:
		o.clearHighlight()
		o.track(core.EventExit, o.stepID(e.index), map[string]any{"index": e.index})
		o.log.Info("tour_exit", slog.Int("step_index", e.index))
		if o.cb.OnExit != nil {
			o.cb.OnExit()
		}

	case effInteraction:
		o.track(core.EventUserInteraction, o.stepID(e.index), map[string]any{
			"kind":   string(e.interaction.Kind),
			"target": e.interaction.Target,
		})

	case effFlush:
		o.flush()
	}
}

func (o *Orchestrator) track(typ core.EventType, stepID string, details map[string]any) {
	o.tracker.Track(core.Event{Type: typ, StepID: stepID, Details: details})
}

func (o *Orchestrator) stepID(index int) string {
	if index < 0 || index >= len(o.steps) {
		return ""
	}
	return o.steps[index].ID
}

func (o *Orchestrator) highlight(selectors []string) {
	if o.doc == nil || len(selectors) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), decorationTimeout)
	defer cancel()
	if err := o.doc.Highlight(ctx, selectors); err != nil {
		o.log.Warn("highlight_failed", slog.Any("selectors", selectors), slog.Any("error", err))
	}
	// Record the selectors even on failure so the next clear still runs.
	o.highlighted = append([]string(nil), selectors...)
	if o.cb.OnHighlightChange != nil {
		o.cb.OnHighlightChange(append([]string(nil), selectors...))
	}
}

func (o *Orchestrator) clearHighlight() {
	if o.doc == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), decorationTimeout)
	defer cancel()
	if err := o.doc.ClearHighlight(ctx); err != nil {
		o.log.Warn("clear_highlight_failed", slog.Any("error", err))
	}
	had := o.highlighted != nil
	o.highlighted = nil
	if had && o.cb.OnHighlightChange != nil {
		o.cb.OnHighlightChange(nil)
	}
}

func (o *Orchestrator) flush() {
	f, ok := o.tracker.(core.Flusher)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	if err := f.Flush(ctx); err != nil {
		o.log.Warn("cleanup_flush_failed", slog.Any("error", err))
	}
}

func percent(done, total int) int {
	if total <= 0 {
		return 100
	}
	return done * 100 / total
}
