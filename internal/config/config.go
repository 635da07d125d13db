// Package config handles YAML tour file parsing.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"docent/internal/core"
	"docent/internal/data"
	"docent/internal/dom"
	"docent/internal/template"
)

// Config is the root of a tour file.
type Config struct {
	Scenario  ScenarioConfig  `yaml:"scenario"`
	Options   OptionsConfig   `yaml:"options,omitempty"`
	Analytics AnalyticsConfig `yaml:"analytics,omitempty"`
	Browser   BrowserConfig   `yaml:"browser,omitempty"`

	// dir resolves relative data file paths. Set by LoadConfig.
	dir string
}

// ScenarioConfig declares the tour. Vars are available to every step's
// narration, selectors and action arguments as ${name}; fields of the row
// picked from each data file as ${data.<source>.<field>}.
type ScenarioConfig struct {
	ID    string                `yaml:"id"`
	Name  string                `yaml:"name"`
	Vars  map[string]string     `yaml:"vars,omitempty"`
	Data  map[string]DataConfig `yaml:"data,omitempty"`
	Steps []StepConfig          `yaml:"steps"`
}

// DataConfig names a CSV or JSON file of sample records.
type DataConfig struct {
	File string    `yaml:"file"`
	Mode data.Mode `yaml:"mode,omitempty"`
	Row  int       `yaml:"row,omitempty"`
}

// StepConfig declares a single step.
type StepConfig struct {
	ID               string         `yaml:"id"`
	Narration        string         `yaml:"narration"`
	Duration         time.Duration  `yaml:"duration"`
	Action           dom.ActionSpec `yaml:"action,omitempty"`
	WaitFor          string         `yaml:"waitFor,omitempty"`
	Highlight        []string       `yaml:"highlight,omitempty"`
	AllowInteraction bool           `yaml:"allowInteraction,omitempty"`
}

// OptionsConfig controls playback. Zero durations mean the orchestrator
// defaults.
type OptionsConfig struct {
	ManualAdvance          bool          `yaml:"manualAdvance"`
	AutoPauseOnInteraction bool          `yaml:"autoPauseOnInteraction"`
	WaitTimeout            time.Duration `yaml:"waitTimeout"`
	PollInterval           time.Duration `yaml:"pollInterval"`
}

// AnalyticsConfig points the recorder at a collector. An empty endpoint
// disables delivery.
type AnalyticsConfig struct {
	Endpoint      string        `yaml:"endpoint"`
	BatchSize     int           `yaml:"batchSize"`
	FlushInterval time.Duration `yaml:"flushInterval"`
	Referrer      string        `yaml:"referrer"`
}

// BrowserConfig selects the page the tour runs against.
type BrowserConfig struct {
	URL            string `yaml:"url"`
	Headless       bool   `yaml:"headless"`
	HighlightClass string `yaml:"highlightClass"`
}

// TotalDuration returns the sum of planned step durations.
func (s *ScenarioConfig) TotalDuration() time.Duration {
	var total time.Duration
	for _, st := range s.Steps {
		total += st.Duration
	}
	return total
}

// LoadConfig reads and parses a YAML tour file.
func LoadConfig(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	cfg, err := Parse(content)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cfg.dir = filepath.Dir(path)
	return cfg, nil
}

// Parse decodes a tour file and validates it. Unknown fields are rejected.
func Parse(content []byte) (*Config, error) {
	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("parsing config file: empty document")
		}
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Validate checks everything that can be checked before templates are
// expanded. All problems are joined.
func (c *Config) Validate() error {
	var errs []error
	if c.Scenario.ID == "" {
		errs = append(errs, errors.New("scenario.id is required"))
	}
	if len(c.Scenario.Steps) == 0 {
		errs = append(errs, core.ErrNoSteps)
	}
	for name, dc := range c.Scenario.Data {
		if dc.File == "" {
			errs = append(errs, fmt.Errorf("scenario.data.%s: file is required", name))
		}
		if err := dc.Mode.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("scenario.data.%s: %w", name, err))
		}
		if dc.Row < 0 {
			errs = append(errs, fmt.Errorf("scenario.data.%s: negative row", name))
		}
	}
	for i, st := range c.Scenario.Steps {
		if err := st.Action.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("step %d (%s): %w", i, st.ID, err))
		}
		if st.Duration < 0 {
			errs = append(errs, fmt.Errorf("step %d (%s): negative duration", i, st.ID))
		}
	}
	if c.Options.WaitTimeout < 0 || c.Options.PollInterval < 0 {
		errs = append(errs, errors.New("options: waitTimeout and pollInterval must not be negative"))
	}
	if c.Analytics.BatchSize < 0 {
		errs = append(errs, errors.New("analytics.batchSize must not be negative"))
	}
	return errors.Join(errs...)
}

// BuildScenario expands templates and builds the runnable scenario. Step
// actions are bound to d, which may be nil only when no step needs a page.
func (c *Config) BuildScenario(d dom.Driver) (core.Scenario, error) {
	vars := core.NewVariables()
	if err := c.injectData(vars); err != nil {
		return core.Scenario{}, err
	}
	resolved, err := template.SubstituteMap(c.Scenario.Vars, vars)
	if err != nil {
		return core.Scenario{}, fmt.Errorf("scenario vars: %w", err)
	}
	for k, v := range resolved {
		vars.Set(k, v)
	}

	name, err := template.Substitute(c.Scenario.Name, vars)
	if err != nil {
		return core.Scenario{}, fmt.Errorf("scenario name: %w", err)
	}
	sc := core.Scenario{
		ID:    c.Scenario.ID,
		Name:  name,
		Steps: make([]core.Step, 0, len(c.Scenario.Steps)),
	}

	var errs []error
	for i, stc := range c.Scenario.Steps {
		step, err := buildStep(stc, vars, d)
		if err != nil {
			errs = append(errs, fmt.Errorf("step %d (%s): %w", i, stc.ID, err))
			continue
		}
		sc.Steps = append(sc.Steps, step)
	}
	if len(errs) > 0 {
		return core.Scenario{}, errors.Join(errs...)
	}
	if err := sc.Validate(); err != nil {
		return core.Scenario{}, err
	}
	return sc, nil
}

// injectData loads every data file and sets the picked row's fields.
func (c *Config) injectData(vars core.Variables) error {
	names := make([]string, 0, len(c.Scenario.Data))
	for name := range c.Scenario.Data {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		dc := c.Scenario.Data[name]
		src, err := data.LoadFile(name, dc.File, c.dir)
		if err != nil {
			errs = append(errs, fmt.Errorf("scenario.data.%s: %w", name, err))
			continue
		}
		row, err := src.Pick(dc.Mode, dc.Row)
		if err != nil {
			errs = append(errs, fmt.Errorf("scenario.data.%s: %w", name, err))
			continue
		}
		data.Inject(vars, name, row)
	}
	return errors.Join(errs...)
}

func buildStep(stc StepConfig, vars core.Variables, d dom.Driver) (core.Step, error) {
	var errs []error
	expand := func(field, text string) string {
		out, err := template.Substitute(text, vars)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field, err))
		}
		return out
	}

	spec := stc.Action
	step := core.Step{
		ID:               stc.ID,
		Narration:        expand("narration", stc.Narration),
		Duration:         stc.Duration,
		WaitForSelector:  expand("waitFor", stc.WaitFor),
		AllowInteraction: stc.AllowInteraction,
	}
	spec.Selector = expand("action.selector", spec.Selector)
	spec.Text = expand("action.text", spec.Text)
	spec.URL = expand("action.url", spec.URL)
	spec.Script = expand("action.script", spec.Script)

	highlight, err := template.SubstituteAll(stc.Highlight, vars)
	if err != nil {
		errs = append(errs, fmt.Errorf("highlight: %w", err))
	}
	step.HighlightSelectors = highlight

	if len(errs) > 0 {
		return core.Step{}, errors.Join(errs...)
	}

	if spec.Type != "" && spec.Type != dom.ActionNone && spec.Type != dom.ActionWait && d == nil {
		return core.Step{}, fmt.Errorf("%s action needs a page driver", spec.Type)
	}
	action, err := dom.BuildAction(spec, d)
	if err != nil {
		return core.Step{}, fmt.Errorf("action: %w", err)
	}
	step.Action = action
	return step, nil
}
