// Package core defines the data model and the collaborator interfaces shared
// by the tour orchestrator, the analytics recorder and the controllers.
package core

import (
	"context"
)

// Action performs a step's side effect. It returns once the effect is
// logically complete and may block for as long as it needs. The context is
// cancelled when the tour is stopped; the orchestrator never waits on an
// action after that point.
type Action func(ctx context.Context) error

// Document is the DOM query and decoration capability the orchestrator uses
// for waitForSelector and highlightSelectors. A selector that matches nothing
// is not an error.
type Document interface {
	Exists(ctx context.Context, selector string) (bool, error)
	Highlight(ctx context.Context, selectors []string) error
	ClearHighlight(ctx context.Context) error
}

// InteractionKind names the user input that produced an Interaction.
type InteractionKind string

const (
	InteractionClick InteractionKind = "click"
	InteractionKey   InteractionKind = "key"
	InteractionTouch InteractionKind = "touch"
)

// Interaction is a top-level user input event observed on the page.
type Interaction struct {
	Kind    InteractionKind
	Trusted bool   // generated by the user agent, not by script
	Target  string // best-effort description of the event target
}

// Interactions is a source of page-level user input. Subscribe registers fn
// and returns a function that detaches it.
type Interactions interface {
	Subscribe(fn func(Interaction)) (unsubscribe func())
}

// Tracker is the sink the orchestrator reports lifecycle events to.
type Tracker interface {
	Track(Event)
}

// NullTracker discards all events (used when no analytics is configured).
var NullTracker Tracker = nullTracker{}

type nullTracker struct{}

func (nullTracker) Track(Event) {}

// Flusher is implemented by trackers that buffer events.
type Flusher interface {
	Flush(ctx context.Context) error
}
