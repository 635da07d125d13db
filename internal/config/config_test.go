package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"docent/internal/core"
	"docent/internal/dom"
)

const demoTour = `
scenario:
  id: demo
  name: "Demo of ${product}"
  vars:
    product: Atlas
    query: graph databases
  steps:
    - id: s1
      narration: "Searching for ${query}"
      duration: 3s
      action: {type: search, selector: "#q", text: "${query}"}
      waitFor: ".results"
      highlight: [".results li:first-child"]
    - id: s2
      narration: "Open the first result"
      duration: 1500ms
      action: {type: click, selector: ".results li:first-child a", wait: 200ms}
      allowInteraction: true
    - id: s3
      narration: "That's the tour"
options:
  manualAdvance: true
  autoPauseOnInteraction: true
  waitTimeout: 8s
  pollInterval: 50ms
analytics:
  endpoint: "http://localhost:8090/events"
  batchSize: 10
  flushInterval: 30s
  referrer: docs
browser:
  url: "http://localhost:3000"
  headless: true
`

func loadConfigFromString(t *testing.T, content string) *Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tour.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

func TestLoadConfig_FullTour(t *testing.T) {
	cfg := loadConfigFromString(t, demoTour)

	if cfg.Scenario.ID != "demo" {
		t.Errorf("expected scenario id 'demo', got %q", cfg.Scenario.ID)
	}
	if len(cfg.Scenario.Steps) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(cfg.Scenario.Steps))
	}

	s1 := cfg.Scenario.Steps[0]
	if s1.Duration != 3*time.Second {
		t.Errorf("expected duration 3s, got %v", s1.Duration)
	}
	if s1.Action.Type != dom.ActionSearch || s1.Action.Selector != "#q" {
		t.Errorf("unexpected action: %+v", s1.Action)
	}
	if s1.WaitFor != ".results" || len(s1.Highlight) != 1 {
		t.Errorf("unexpected gate fields: waitFor=%q highlight=%v", s1.WaitFor, s1.Highlight)
	}

	s2 := cfg.Scenario.Steps[1]
	if s2.Duration != 1500*time.Millisecond || s2.Action.Wait != 200*time.Millisecond {
		t.Errorf("unexpected durations: %v, %v", s2.Duration, s2.Action.Wait)
	}
	if !s2.AllowInteraction {
		t.Error("expected allowInteraction on s2")
	}

	if !cfg.Options.ManualAdvance || !cfg.Options.AutoPauseOnInteraction {
		t.Errorf("unexpected options: %+v", cfg.Options)
	}
	if cfg.Options.WaitTimeout != 8*time.Second || cfg.Options.PollInterval != 50*time.Millisecond {
		t.Errorf("unexpected wait options: %+v", cfg.Options)
	}
	if cfg.Analytics.Endpoint != "http://localhost:8090/events" || cfg.Analytics.BatchSize != 10 {
		t.Errorf("unexpected analytics: %+v", cfg.Analytics)
	}
	if cfg.Analytics.FlushInterval != 30*time.Second || cfg.Analytics.Referrer != "docs" {
		t.Errorf("unexpected analytics: %+v", cfg.Analytics)
	}
	if cfg.Browser.URL != "http://localhost:3000" || !cfg.Browser.Headless {
		t.Errorf("unexpected browser: %+v", cfg.Browser)
	}
	if got := cfg.Scenario.TotalDuration(); got != 4500*time.Millisecond {
		t.Errorf("expected total 4.5s, got %v", got)
	}
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	_, err := LoadConfig("/nonexistent/tour.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected not-exist error, got %v", err)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"empty", "", "empty document"},
		{"invalid yaml", "scenario: [", "parsing config file"},
		{"unknown field", "scenario:\n  id: x\n  stepz: []\n", "stepz"},
		{"missing id", "scenario:\n  steps:\n    - id: a\n", "scenario.id is required"},
		{"no steps", "scenario:\n  id: x\n", "no steps"},
		{"bad action", "scenario:\n  id: x\n  steps:\n    - id: a\n      action: {type: teleport}\n", `unknown action type "teleport"`},
		{"incomplete action", "scenario:\n  id: x\n  steps:\n    - id: a\n      action: {type: click}\n", "requires selector"},
		{"negative duration", "scenario:\n  id: x\n  steps:\n    - id: a\n      duration: -1s\n", "negative duration"},
		{"bad duration", "scenario:\n  id: x\n  steps:\n    - id: a\n      duration: soon\n", "parsing config file"},
		{"negative batch", "scenario:\n  id: x\n  steps:\n    - id: a\nanalytics:\n  batchSize: -1\n", "batchSize"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.content))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got: %v", tt.want, err)
			}
		})
	}
}

func TestParse_ReportsAllProblems(t *testing.T) {
	content := `
scenario:
  steps:
    - id: a
      action: {type: click}
    - id: b
      action: {type: navigate}
`
	_, err := Parse([]byte(content))
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"scenario.id", "step 0 (a)", "step 1 (b)"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected %q in error, got: %v", want, err)
		}
	}
}

func TestConfig_Scenario(t *testing.T) {
	cfg := loadConfigFromString(t, demoTour)
	page := dom.NewMemory()

	sc, err := cfg.BuildScenario(page)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if sc.ID != "demo" || sc.Name != "Demo of Atlas" {
		t.Errorf("unexpected scenario header: %q %q", sc.ID, sc.Name)
	}
	if sc.Steps[0].Narration != "Searching for graph databases" {
		t.Errorf("narration not expanded: %q", sc.Steps[0].Narration)
	}
	if sc.Steps[0].WaitForSelector != ".results" {
		t.Errorf("unexpected waitFor: %q", sc.Steps[0].WaitForSelector)
	}
	if sc.Steps[2].Action != nil {
		t.Error("a step without an action should have a nil action")
	}
	if got := sc.EstimatedDuration(); got != 4500*time.Millisecond {
		t.Errorf("expected estimated 4.5s, got %v", got)
	}

	if err := sc.Steps[0].Action(context.Background()); err != nil {
		t.Fatalf("action failed: %v", err)
	}
	calls := page.Calls()
	if len(calls) != 1 || calls[0] != "submit #q graph databases" {
		t.Errorf("expected the expanded search to reach the driver, got %v", calls)
	}
}

func TestConfig_ScenarioEnvAndFunctions(t *testing.T) {
	t.Setenv("DOCENT_TEST_APP", "http://app.test")
	content := `
scenario:
  id: env
  vars:
    base: "${env:DOCENT_TEST_APP}"
  steps:
    - id: open
      narration: "Session ${uuid()}"
      action: {type: navigate, url: "${base}/home"}
      highlight: ["#${panel}"]
`
	cfg, err := Parse([]byte(content))
	if err != nil {
		t.Fatal(err)
	}
	_, err = cfg.BuildScenario(dom.NewMemory())
	if err == nil || !strings.Contains(err.Error(), "highlight") {
		t.Fatalf("expected highlight expansion error, got %v", err)
	}

	cfg.Scenario.Steps[0].Highlight = []string{"#main"}
	page := dom.NewMemory()
	sc, err := cfg.BuildScenario(page)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(sc.Steps[0].Narration, "Session ") || len(sc.Steps[0].Narration) != len("Session ")+36 {
		t.Errorf("expected a uuid in narration, got %q", sc.Steps[0].Narration)
	}
	_ = sc.Steps[0].Action(context.Background())
	if calls := page.Calls(); len(calls) != 1 || calls[0] != "navigate http://app.test/home" {
		t.Errorf("unexpected calls: %v", calls)
	}
}

func TestConfig_ScenarioMissingVariable(t *testing.T) {
	content := `
scenario:
  id: x
  steps:
    - id: a
      narration: "Hello ${who}"
`
	cfg, err := Parse([]byte(content))
	if err != nil {
		t.Fatal(err)
	}
	_, err = cfg.BuildScenario(nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "step 0 (a)") || !strings.Contains(err.Error(), "narration") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestConfig_ScenarioDuplicateIDs(t *testing.T) {
	content := `
scenario:
  id: x
  steps:
    - id: a
    - id: a
`
	cfg, err := Parse([]byte(content))
	if err != nil {
		t.Fatal(err)
	}
	_, err = cfg.BuildScenario(nil)
	if !errors.Is(err, core.ErrDuplicateStepID) {
		t.Errorf("expected ErrDuplicateStepID, got %v", err)
	}
}

func TestConfig_ScenarioNeedsDriverForPageActions(t *testing.T) {
	content := `
scenario:
  id: x
  steps:
    - id: a
      action: {type: click, selector: "#go"}
    - id: b
      action: {type: wait, wait: 10ms}
`
	cfg, err := Parse([]byte(content))
	if err != nil {
		t.Fatal(err)
	}
	_, err = cfg.BuildScenario(nil)
	if err == nil || !strings.Contains(err.Error(), "click action needs a page driver") {
		t.Errorf("unexpected error: %v", err)
	}
	if strings.Contains(err.Error(), "step 1") {
		t.Errorf("a wait action does not need a driver: %v", err)
	}
}

func TestConfig_ScenarioDataFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "personas.csv"), []byte("name,query\nalice,graphs\nbob,vectors\n"), 0644); err != nil {
		t.Fatal(err)
	}
	tour := `
scenario:
  id: data
  vars:
    greeting: "Hi ${data.personas.name}"
  data:
    personas: {file: personas.csv, row: 1}
  steps:
    - id: a
      narration: "${greeting}, searching for ${data.personas.query}"
`
	path := filepath.Join(dir, "tour.yaml")
	if err := os.WriteFile(path, []byte(tour), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	sc, err := cfg.BuildScenario(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := sc.Steps[0].Narration; got != "Hi bob, searching for vectors" {
		t.Errorf("unexpected narration %q", got)
	}
}

func TestConfig_ScenarioDataErrors(t *testing.T) {
	_, err := Parse([]byte(`
scenario:
  id: x
  data:
    p: {mode: shuffle, row: -1}
  steps:
    - id: a
`))
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"file is required", `unknown data mode "shuffle"`, "negative row"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected %q in error, got: %v", want, err)
		}
	}

	cfg, err := Parse([]byte(`
scenario:
  id: x
  data:
    p: {file: missing.csv}
  steps:
    - id: a
`))
	if err != nil {
		t.Fatal(err)
	}
	_, err = cfg.BuildScenario(nil)
	if err == nil || !strings.Contains(err.Error(), "scenario.data.p") {
		t.Errorf("expected data load error, got %v", err)
	}
}
