// Command docent plays a guided tour against a browser page.
//
// Usage:
//
//	docent -config tour.yaml [flags]
//
// While the tour runs: n/space/enter next, b back, p pause or resume,
// r resume, i toggle auto-pause on page input, q exit.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/term"

	"docent/internal/analytics"
	"docent/internal/config"
	"docent/internal/core"
	"docent/internal/dom"
	collectorhttp "docent/internal/http"
	"docent/internal/logs"
	"docent/internal/orchestrator"
	"docent/internal/progress"
)

const (
	ExitSuccess = 0
	ExitError   = 2

	// closeWait bounds how long the teardown beacon may hold up the report.
	closeWait = 3 * time.Second
)

// page is what the tour needs from its document.
type page interface {
	dom.Driver
	core.Document
	core.Interactions
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("docent", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to YAML tour file (required)")
	logLevel := fs.String("log-level", "info", "log level: debug, info, warn, error")
	journal := fs.Bool("journal", true, "also log to the systemd journal when available")
	verbose := fs.Bool("verbose", false, "log collector requests and responses")
	output := fs.String("output", "text", "report format: text, json")
	quiet := fs.Bool("quiet", false, "suppress the progress overlay")
	dryRun := fs.Bool("dry-run", false, "play the tour against an in-memory page")
	manual := fs.Bool("manual", false, "wait for a key press after every step")
	headless := fs.Bool("headless", false, "run the browser without a window")
	url := fs.String("url", "", "page to open (overrides browser.url)")
	endpoint := fs.String("endpoint", "", "analytics collector URL (overrides analytics.endpoint)")
	if err := fs.Parse(args); err != nil {
		return ExitError
	}

	if *configPath == "" {
		fmt.Fprintln(stderr, "error: -config is required")
		fs.Usage()
		return ExitError
	}
	if *output != "text" && *output != "json" {
		fmt.Fprintf(stderr, "error: -output must be 'text' or 'json', got %q\n", *output)
		return ExitError
	}

	lvl, err := logs.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return ExitError
	}
	level := new(slog.LevelVar)
	level.Set(lvl)
	logger := logs.New(logs.Options{Level: level, Writer: stderr, Journal: *journal})

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return ExitError
	}

	// CLI flags override config file values
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if set["manual"] {
		cfg.Options.ManualAdvance = *manual
	}
	if set["headless"] {
		cfg.Browser.Headless = *headless
	}
	if *url != "" {
		cfg.Browser.URL = *url
	}
	if *endpoint != "" {
		cfg.Analytics.Endpoint = *endpoint
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var doc page
	var mem *dom.Memory
	if *dryRun {
		mem = dom.NewMemory()
		doc = mem
	} else {
		browser, err := dom.NewBrowser(context.Background(), dom.BrowserConfig{
			URL:            cfg.Browser.URL,
			Headless:       cfg.Browser.Headless,
			HighlightClass: cfg.Browser.HighlightClass,
			Logger:         logger,
		})
		if err != nil {
			fmt.Fprintf(stderr, "error: %v\n", err)
			return ExitError
		}
		defer browser.Close()
		doc = browser
	}

	sc, err := cfg.BuildScenario(doc)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return ExitError
	}
	if mem != nil {
		for _, st := range sc.Steps {
			if st.WaitForSelector != "" {
				mem.Add(st.WaitForSelector)
			}
		}
	}

	var transport analytics.Sender
	if cfg.Analytics.Endpoint != "" {
		var debug *collectorhttp.DebugLogger
		if *verbose {
			debug = collectorhttp.NewDebugLogger(stderr)
		}
		transport = collectorhttp.NewClient(collectorhttp.ClientConfig{
			Endpoint: cfg.Analytics.Endpoint,
			Debug:    debug,
		})
	}
	recorder := analytics.NewRecorder(analytics.Config{
		BatchSize:     cfg.Analytics.BatchSize,
		FlushInterval: cfg.Analytics.FlushInterval,
		Referrer:      cfg.Analytics.Referrer,
		Transport:     transport,
		Logger:        logger,
	})

	overlay := progress.NewOverlay(len(sc.Steps), *quiet)
	overlay.SetOutput(stderr)

	done := make(chan struct{})
	var exitOnce sync.Once
	orch, err := orchestrator.New(orchestrator.Options{
		Scenario:               sc,
		Tracker:                recorder,
		Document:               doc,
		Interactions:           doc,
		AutoPauseOnInteraction: cfg.Options.AutoPauseOnInteraction,
		ManualAdvance:          cfg.Options.ManualAdvance,
		WaitTimeout:            cfg.Options.WaitTimeout,
		PollInterval:           cfg.Options.PollInterval,
		Logger:                 logger,
		Callbacks: overlay.Callbacks(orchestrator.Callbacks{
			OnExit: func() { exitOnce.Do(func() { close(done) }) },
		}),
	})
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return ExitError
	}

	restore := func() {}
	if f, ok := stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		state, err := term.MakeRaw(int(f.Fd()))
		if err != nil {
			logger.Warn("raw_mode_failed", slog.Any("error", err))
		} else {
			var once sync.Once
			restore = func() { once.Do(func() { _ = term.Restore(int(f.Fd()), state) }) }
			defer restore()
		}
	}
	keys := make(chan byte, 16)
	if stdin != nil {
		go readKeys(stdin, keys)
	}

	overlay.Printf("Docent: %q, %d steps, about %s",
		sc.Name, len(sc.Steps), analytics.FormatDuration(sc.EstimatedDuration()))
	overlay.Start()
	orch.Start()

	interrupted := false
	for running := true; running; {
		select {
		case <-done:
			running = false
		case <-ctx.Done():
			interrupted = true
			orch.Stop()
			<-done
			running = false
		case b, ok := <-keys:
			if !ok {
				keys = nil
				continue
			}
			if handleKey(orch, b) {
				<-done
				running = false
			}
		}
	}

	orch.Cleanup()
	overlay.Stop()
	restore()
	if interrupted {
		fmt.Fprintln(stderr, "Received interrupt signal, shutting down...")
	}

	recorder.Wait()
	select {
	case err := <-recorder.Close():
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("analytics_close_failed", slog.Any("error", err))
		}
	case <-time.After(closeWait):
		logger.Warn("analytics_close_timeout", slog.Duration("wait", closeWait))
	}

	summary := analytics.Summarize(recorder.Events())
	if *output == "json" {
		analytics.FormatJSON(stdout, summary)
	} else {
		analytics.FormatText(stdout, summary)
	}
	return ExitSuccess
}
