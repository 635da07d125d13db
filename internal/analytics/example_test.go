package analytics_test

import (
	"fmt"

	"docent/internal/analytics"
	"docent/internal/core"
)

func ExampleNewRecorder() {
	// Without an endpoint the recorder only keeps history.
	r := analytics.NewRecorder(analytics.Config{})
	defer r.Close()

	r.Track(core.Event{Type: core.EventStart})
	r.Track(core.Event{Type: core.EventStepStart, StepID: "s1"})
	r.Track(core.Event{Type: core.EventStepComplete, StepID: "s1"})
	r.Track(core.Event{Type: core.EventComplete})

	s := analytics.Summarize(r.Events())
	fmt.Printf("events=%d steps=%d completed=%v\n", s.Events, s.StepsCompleted, s.Completed)
	// Output: events=4 steps=1 completed=true
}
