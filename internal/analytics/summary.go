package analytics

import (
	"time"

	"docent/internal/core"
)

// Summary condenses a session's events for the end-of-tour report.
type Summary struct {
	SessionID         string
	Events            int
	ByType            map[core.EventType]int
	StepsStarted      int
	StepsCompleted    int
	Pauses            int
	InteractionPoints int
	Completed         bool
	Exited            bool
	Duration          time.Duration
	Steps             []StepSummary
}

// StepSummary covers one step id. Time sums every start-to-complete span of
// the step, so a step replayed after a rewind is counted each time.
type StepSummary struct {
	ID        string
	Started   int
	Completed int
	Time      time.Duration
}

// Summarize computes a Summary from events in tracking order. Pure function,
// no side effects.
func Summarize(events []core.Event) *Summary {
	s := &Summary{ByType: make(map[core.EventType]int)}
	if len(events) == 0 {
		return s
	}
	s.SessionID = events[0].SessionID
	s.Events = len(events)
	s.Duration = events[len(events)-1].Timestamp.Sub(events[0].Timestamp)

	index := make(map[string]int)
	started := make(map[string]time.Time)
	step := func(id string) *StepSummary {
		i, ok := index[id]
		if !ok {
			i = len(s.Steps)
			index[id] = i
			s.Steps = append(s.Steps, StepSummary{ID: id})
		}
		return &s.Steps[i]
	}

	for _, e := range events {
		s.ByType[e.Type]++
		switch e.Type {
		case core.EventStepStart:
			s.StepsStarted++
			step(e.StepID).Started++
			started[e.StepID] = e.Timestamp
		case core.EventStepComplete:
			s.StepsCompleted++
			st := step(e.StepID)
			st.Completed++
			if t, ok := started[e.StepID]; ok {
				st.Time += e.Timestamp.Sub(t)
				delete(started, e.StepID)
			}
		case core.EventPause:
			s.Pauses++
		case core.EventUserInteraction:
			s.InteractionPoints++
		case core.EventComplete:
			s.Completed = true
		case core.EventExit:
			s.Exited = true
		}
	}
	return s
}
