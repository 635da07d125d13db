package orchestrator_test

import (
	"context"
	"fmt"
	"time"

	"docent/internal/core"
	"docent/internal/orchestrator"
)

func ExampleNew() {
	noop := func(ctx context.Context) error { return nil }
	done := make(chan struct{})

	o, err := orchestrator.New(orchestrator.Options{
		Scenario: core.Scenario{
			ID: "demo",
			Steps: []core.Step{
				{ID: "s1", Narration: "A", Duration: 10 * time.Millisecond, Action: noop},
				{ID: "s2", Narration: "B", Duration: 10 * time.Millisecond, Action: noop},
			},
		},
		Callbacks: orchestrator.Callbacks{
			OnNarration: func(text string) { fmt.Println(text) },
			OnComplete:  func() { fmt.Println("complete") },
			OnExit:      func() { close(done) },
		},
	})
	if err != nil {
		fmt.Println(err)
		return
	}
	defer o.Cleanup()

	o.Start()
	<-done

	// Output:
	// A
	// B
	// complete
}
