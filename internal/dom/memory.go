package dom

import (
	"context"
	"sort"
	"sync"

	"docent/internal/core"
)

// Memory is an in-process page: a set of present selectors, the set of
// highlighted selectors, a log of driver calls and a fan-out of
// interactions. It lets tours run headless and is what the tests drive.
type Memory struct {
	mu          sync.Mutex
	present     map[string]bool
	highlighted map[string]bool
	calls       []string
	subs        map[int]func(core.Interaction)
	nextID      int
}

// NewMemory returns a Memory in which the given selectors already match.
func NewMemory(selectors ...string) *Memory {
	m := &Memory{
		present:     make(map[string]bool),
		highlighted: make(map[string]bool),
		subs:        make(map[int]func(core.Interaction)),
	}
	for _, s := range selectors {
		m.present[s] = true
	}
	return m
}

// Add makes selector match from now on.
func (m *Memory) Add(selector string) {
	m.mu.Lock()
	m.present[selector] = true
	m.mu.Unlock()
}

func (m *Memory) Remove(selector string) {
	m.mu.Lock()
	delete(m.present, selector)
	m.mu.Unlock()
}

func (m *Memory) Exists(ctx context.Context, selector string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.present[selector], nil
}

// Highlight marks the selectors that currently match.
func (m *Memory) Highlight(ctx context.Context, selectors []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range selectors {
		if m.present[s] {
			m.highlighted[s] = true
		}
	}
	return nil
}

func (m *Memory) ClearHighlight(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.highlighted)
	return nil
}

// Highlighted returns the marked selectors in sorted order.
func (m *Memory) Highlighted() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.highlighted))
	for s := range m.highlighted {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func (m *Memory) Subscribe(fn func(core.Interaction)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// Subscribers returns the number of registered interaction listeners.
func (m *Memory) Subscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// Emit delivers in to every subscriber synchronously.
func (m *Memory) Emit(in core.Interaction) {
	m.mu.Lock()
	fns := make([]func(core.Interaction), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn(in)
	}
}

// Calls returns the driver calls made so far, e.g. "click #go".
func (m *Memory) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *Memory) record(call string) error {
	m.mu.Lock()
	m.calls = append(m.calls, call)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Navigate(ctx context.Context, url string) error {
	return m.record("navigate " + url)
}

func (m *Memory) Click(ctx context.Context, selector string) error {
	return m.record("click " + selector)
}

func (m *Memory) Type(ctx context.Context, selector, text string) error {
	return m.record("type " + selector + " " + text)
}

func (m *Memory) Submit(ctx context.Context, selector, text string) error {
	return m.record("submit " + selector + " " + text)
}

func (m *Memory) Scroll(ctx context.Context, selector string) error {
	return m.record("scroll " + selector)
}

func (m *Memory) Eval(ctx context.Context, script string) error {
	return m.record("eval " + script)
}
