package core

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNoSteps is returned by Scenario.Validate for an empty scenario.
	ErrNoSteps = errors.New("scenario has no steps")
	// ErrDuplicateStepID is returned by Scenario.Validate when two steps share an id.
	ErrDuplicateStepID = errors.New("duplicate step id")
)

// Step is one unit of scripted behavior: narration, a side-effecting action
// and a completion gate.
type Step struct {
	ID        string
	Narration string
	// Duration is the planned wait after the action settles. Advisory only.
	Duration time.Duration
	Action   Action

	WaitForSelector    string
	HighlightSelectors []string
	// AllowInteraction is carried for controllers; the orchestrator ignores it.
	AllowInteraction bool
}

// Scenario is an ordered list of steps forming one guided tour.
type Scenario struct {
	ID    string
	Name  string
	Steps []Step
}

// EstimatedDuration returns the sum of planned step durations. It is
// informational and never drives the run.
func (s *Scenario) EstimatedDuration() time.Duration {
	var total time.Duration
	for _, st := range s.Steps {
		total += st.Duration
	}
	return total
}

// Validate checks that the scenario has steps, that step ids are present and
// unique, and that durations are non-negative. All problems are joined.
func (s *Scenario) Validate() error {
	if len(s.Steps) == 0 {
		return ErrNoSteps
	}
	var errs []error
	seen := make(map[string]int, len(s.Steps))
	for i, st := range s.Steps {
		if st.ID == "" {
			errs = append(errs, fmt.Errorf("step %d: id is required", i))
			continue
		}
		if prev, ok := seen[st.ID]; ok {
			errs = append(errs, fmt.Errorf("step %d: %w %q (first used by step %d)", i, ErrDuplicateStepID, st.ID, prev))
		} else {
			seen[st.ID] = i
		}
		if st.Duration < 0 {
			errs = append(errs, fmt.Errorf("step %q: negative duration %v", st.ID, st.Duration))
		}
	}
	return errors.Join(errs...)
}

// Variables provides named values for narration and selector templates.
type Variables interface {
	Get(key string) (any, bool)
	Set(key string, value any)
}

// MapVariables is a simple map-based Variables implementation.
type MapVariables struct {
	data map[string]any
}

func NewVariables() *MapVariables {
	return &MapVariables{data: make(map[string]any)}
}

// VariablesFrom copies m into a new MapVariables.
func VariablesFrom(m map[string]string) *MapVariables {
	v := NewVariables()
	for k, val := range m {
		v.Set(k, val)
	}
	return v
}

func (v *MapVariables) Get(key string) (any, bool) {
	val, ok := v.data[key]
	return val, ok
}

func (v *MapVariables) Set(key string, value any) {
	v.data[key] = value
}
