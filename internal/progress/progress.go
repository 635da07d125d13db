// Package progress renders the tour's terminal overlay: narration lines above
// a status line showing the step, progress, run state and highlights.
package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"docent/internal/core"
	"docent/internal/orchestrator"
)

// Overlay is a terminal progress display driven by orchestrator callbacks.
// Lines end in "\r\n" so output stays aligned while the terminal is in raw
// mode.
type Overlay struct {
	total  int
	quiet  bool
	ticker *time.Ticker
	stopCh chan struct{}

	stopped atomic.Bool

	mu         sync.Mutex
	output     io.Writer
	startTime  time.Time
	index      int
	percent    int
	status     string
	highlights []string
}

// NewOverlay creates an overlay for a tour of total steps. If quiet is true,
// nothing is displayed.
func NewOverlay(total int, quiet bool) *Overlay {
	return &Overlay{
		total:  total,
		quiet:  quiet,
		output: os.Stderr,
		status: "ready",
	}
}

func (p *Overlay) SetOutput(w io.Writer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.output = w
}

// Start begins refreshing the status line every second.
func (p *Overlay) Start() {
	if p.quiet {
		return
	}
	p.mu.Lock()
	p.startTime = time.Now()
	p.mu.Unlock()
	p.stopCh = make(chan struct{})
	p.ticker = time.NewTicker(1 * time.Second)
	go p.run()
}

func (p *Overlay) run() {
	for {
		select {
		case <-p.stopCh:
			return
		case <-p.ticker.C:
			p.mu.Lock()
			p.renderLocked()
			p.mu.Unlock()
		}
	}
}

// Stop ends the refresh loop and leaves the final status line in place.
func (p *Overlay) Stop() {
	if p.quiet || p.stopped.Swap(true) {
		return
	}
	if p.ticker != nil {
		p.ticker.Stop()
	}
	if p.stopCh != nil {
		close(p.stopCh)
	}
	p.mu.Lock()
	p.renderLocked()
	fmt.Fprint(p.output, "\r\n")
	p.mu.Unlock()
}

// Print writes message above the status line.
func (p *Overlay) Print(message string) {
	if p.quiet {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.output, "\r\033[K%s\r\n", message)
	p.renderLocked()
}

func (p *Overlay) Printf(format string, args ...any) {
	p.Print(fmt.Sprintf(format, args...))
}

// Callbacks returns orchestrator callbacks that update the overlay and then
// invoke the matching callback in next, if set.
func (p *Overlay) Callbacks(next orchestrator.Callbacks) orchestrator.Callbacks {
	return orchestrator.Callbacks{
		OnNarration: func(text string) {
			p.Print("» " + text)
			if next.OnNarration != nil {
				next.OnNarration(text)
			}
		},
		OnStepStart: func(step core.Step, index int) {
			p.update(func() {
				p.index = index
				p.status = "playing"
			})
			if next.OnStepStart != nil {
				next.OnStepStart(step, index)
			}
		},
		OnStepComplete: next.OnStepComplete,
		OnProgress: func(percent int) {
			p.update(func() { p.percent = percent })
			if next.OnProgress != nil {
				next.OnProgress(percent)
			}
		},
		OnPause: func() {
			p.update(func() { p.status = "paused" })
			if next.OnPause != nil {
				next.OnPause()
			}
		},
		OnResume: func() {
			p.update(func() { p.status = "playing" })
			if next.OnResume != nil {
				next.OnResume()
			}
		},
		OnComplete: func() {
			p.update(func() { p.status = "complete" })
			if next.OnComplete != nil {
				next.OnComplete()
			}
		},
		OnExit: func() {
			p.update(func() {
				if p.status != "complete" {
					p.status = "stopped"
				}
				p.highlights = nil
			})
			if next.OnExit != nil {
				next.OnExit()
			}
		},
		OnHighlightChange: func(selectors []string) {
			p.update(func() { p.highlights = selectors })
			if next.OnHighlightChange != nil {
				next.OnHighlightChange(selectors)
			}
		},
	}
}

func (p *Overlay) update(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn()
	if !p.quiet {
		p.renderLocked()
	}
}

// Line returns the current status line without terminal control codes.
func (p *Overlay) Line() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lineLocked()
}

func (p *Overlay) lineLocked() string {
	var elapsed time.Duration
	if !p.startTime.IsZero() {
		elapsed = time.Since(p.startTime).Round(time.Second)
	}
	mins := int(elapsed.Minutes())
	secs := int(elapsed.Seconds()) % 60

	line := fmt.Sprintf("[%02d:%02d] %-8s step %d/%d %3d%%",
		mins, secs, p.status, min(p.index+1, p.total), p.total, p.percent)
	if len(p.highlights) > 0 {
		line += " | " + strings.Join(p.highlights, ", ")
	}
	return line
}

func (p *Overlay) renderLocked() {
	fmt.Fprintf(p.output, "\r\033[K%s", p.lineLocked())
}
