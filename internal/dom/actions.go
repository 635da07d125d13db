package dom

import (
	"context"
	"errors"
	"fmt"
	"time"

	"docent/internal/core"
)

// Driver performs scripted page operations on behalf of step actions.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	Click(ctx context.Context, selector string) error
	Type(ctx context.Context, selector, text string) error
	Submit(ctx context.Context, selector, text string) error
	Scroll(ctx context.Context, selector string) error
	Eval(ctx context.Context, script string) error
}

// Action types understood by BuildAction.
const (
	ActionNone     = "none"
	ActionNavigate = "navigate"
	ActionClick    = "click"
	ActionType     = "type"
	ActionSearch   = "search"
	ActionScroll   = "scroll"
	ActionWait     = "wait"
	ActionEval     = "eval"
)

// ActionSpec declares a step action in a tour file.
type ActionSpec struct {
	Type     string        `yaml:"type"`
	Selector string        `yaml:"selector,omitempty"`
	Text     string        `yaml:"text,omitempty"`
	URL      string        `yaml:"url,omitempty"`
	Script   string        `yaml:"script,omitempty"`
	Wait     time.Duration `yaml:"wait,omitempty"`
}

// Validate reports missing fields for the action type.
func (s ActionSpec) Validate() error {
	switch s.Type {
	case "", ActionNone:
		return nil
	case ActionNavigate:
		if s.URL == "" {
			return errors.New("navigate action requires url")
		}
	case ActionClick, ActionScroll:
		if s.Selector == "" {
			return fmt.Errorf("%s action requires selector", s.Type)
		}
	case ActionType, ActionSearch:
		if s.Selector == "" || s.Text == "" {
			return fmt.Errorf("%s action requires selector and text", s.Type)
		}
	case ActionWait:
		if s.Wait <= 0 {
			return errors.New("wait action requires a positive wait")
		}
	case ActionEval:
		if s.Script == "" {
			return errors.New("eval action requires script")
		}
	default:
		return fmt.Errorf("unknown action type %q", s.Type)
	}
	return nil
}

// BuildAction turns spec into a step action performed through d. A
// positive spec.Wait on a non-wait action is a settle delay after it.
func BuildAction(spec ActionSpec, d Driver) (core.Action, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	var do func(ctx context.Context) error
	switch spec.Type {
	case "", ActionNone:
		return nil, nil
	case ActionNavigate:
		do = func(ctx context.Context) error { return d.Navigate(ctx, spec.URL) }
	case ActionClick:
		do = func(ctx context.Context) error { return d.Click(ctx, spec.Selector) }
	case ActionType:
		do = func(ctx context.Context) error { return d.Type(ctx, spec.Selector, spec.Text) }
	case ActionSearch:
		do = func(ctx context.Context) error { return d.Submit(ctx, spec.Selector, spec.Text) }
	case ActionScroll:
		do = func(ctx context.Context) error { return d.Scroll(ctx, spec.Selector) }
	case ActionEval:
		do = func(ctx context.Context) error { return d.Eval(ctx, spec.Script) }
	case ActionWait:
		return func(ctx context.Context) error { return sleep(ctx, spec.Wait) }, nil
	}

	if spec.Wait <= 0 {
		return do, nil
	}
	return func(ctx context.Context) error {
		if err := do(ctx); err != nil {
			return err
		}
		return sleep(ctx, spec.Wait)
	}, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
