// Package dom connects the orchestrator to a page: selector queries,
// highlight decoration, user interaction events and scripted step actions.
package dom

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"

	"docent/internal/core"
)

const (
	DefaultHighlightClass = "docent-highlight"

	bindingName = "docentInteraction"
	// actionQuiet drops page interactions for a moment after a scripted
	// action, since CDP input events arrive as trusted.
	actionQuiet = 300 * time.Millisecond
)

// BrowserConfig configures a Browser.
type BrowserConfig struct {
	URL            string
	Headless       bool
	HighlightClass string
	Logger         *slog.Logger
}

// Browser drives a Chrome tab through the DevTools protocol. It implements
// core.Document, core.Interactions and Driver.
type Browser struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	class       string
	log         *slog.Logger

	quietUntil atomic.Int64

	mu     sync.Mutex
	subs   map[int]func(core.Interaction)
	nextID int
}

// NewBrowser launches a browser, installs the interaction listener and
// navigates to cfg.URL when set.
func NewBrowser(ctx context.Context, cfg BrowserConfig) (*Browser, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	tabCtx, cancel := chromedp.NewContext(allocCtx)

	b := &Browser{
		ctx:         tabCtx,
		cancel:      cancel,
		allocCancel: allocCancel,
		class:       cfg.HighlightClass,
		log:         cfg.Logger,
		subs:        make(map[int]func(core.Interaction)),
	}
	if b.class == "" {
		b.class = DefaultHighlightClass
	}
	if b.log == nil {
		b.log = slog.Default()
	}

	chromedp.ListenTarget(tabCtx, b.onTargetEvent)

	setup := []chromedp.Action{
		runtime.AddBinding(bindingName),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(b.bootstrapScript()).Do(ctx)
			return err
		}),
	}
	if cfg.URL != "" {
		setup = append(setup, chromedp.Navigate(cfg.URL))
	}
	if err := chromedp.Run(tabCtx, setup...); err != nil {
		b.Close()
		return nil, fmt.Errorf("starting browser: %w", err)
	}
	return b, nil
}

// Close shuts down the tab and the browser process.
func (b *Browser) Close() {
	b.cancel()
	b.allocCancel()
}

// run executes actions in the tab, abandoning them when ctx is done.
func (b *Browser) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(b.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (b *Browser) Exists(ctx context.Context, selector string) (bool, error) {
	var found bool
	js := fmt.Sprintf(`document.querySelector(%s) !== null`, quote(selector))
	if err := b.run(ctx, chromedp.Evaluate(js, &found)); err != nil {
		return false, fmt.Errorf("querying %q: %w", selector, err)
	}
	return found, nil
}

// Highlight adds the highlight class to every element matching any selector.
func (b *Browser) Highlight(ctx context.Context, selectors []string) error {
	js := fmt.Sprintf(`(() => {
		let n = 0;
		for (const sel of %s) {
			for (const el of document.querySelectorAll(sel)) { el.classList.add(%s); n++; }
		}
		return n;
	})()`, quoteAll(selectors), quote(b.class))
	var marked int
	if err := b.run(ctx, chromedp.Evaluate(js, &marked)); err != nil {
		return fmt.Errorf("highlighting: %w", err)
	}
	b.log.Debug("highlight_applied", slog.Any("selectors", selectors), slog.Int("elements", marked))
	return nil
}

// ClearHighlight removes the highlight class from every element carrying it.
func (b *Browser) ClearHighlight(ctx context.Context) error {
	js := fmt.Sprintf(`(() => {
		const cls = %s;
		for (const el of document.querySelectorAll("." + CSS.escape(cls))) el.classList.remove(cls);
		return true;
	})()`, quote(b.class))
	var ok bool
	if err := b.run(ctx, chromedp.Evaluate(js, &ok)); err != nil {
		return fmt.Errorf("clearing highlight: %w", err)
	}
	return nil
}

func (b *Browser) Navigate(ctx context.Context, url string) error {
	return b.act(ctx, chromedp.Navigate(url))
}

func (b *Browser) Click(ctx context.Context, selector string) error {
	return b.act(ctx, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible))
}

func (b *Browser) Type(ctx context.Context, selector, text string) error {
	return b.act(ctx, chromedp.SendKeys(selector, text, chromedp.ByQuery))
}

// Submit types text into selector and presses Enter.
func (b *Browser) Submit(ctx context.Context, selector, text string) error {
	return b.act(ctx, chromedp.SendKeys(selector, text+kb.Enter, chromedp.ByQuery))
}

func (b *Browser) Scroll(ctx context.Context, selector string) error {
	return b.act(ctx, chromedp.ScrollIntoView(selector, chromedp.ByQuery))
}

func (b *Browser) Eval(ctx context.Context, script string) error {
	var discard any
	return b.act(ctx, chromedp.Evaluate(script, &discard))
}

// act runs a scripted action with page interactions muted around it.
func (b *Browser) act(ctx context.Context, action chromedp.Action) error {
	b.quietUntil.Store(time.Now().Add(time.Hour).UnixNano())
	defer b.quietUntil.Store(time.Now().Add(actionQuiet).UnixNano())
	return b.run(ctx, action)
}

// Subscribe registers fn for trusted page interactions.
func (b *Browser) Subscribe(fn func(core.Interaction)) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

type bindingPayload struct {
	Kind    string `json:"kind"`
	Trusted bool   `json:"trusted"`
	Target  string `json:"target"`
}

func (b *Browser) onTargetEvent(ev any) {
	called, ok := ev.(*runtime.EventBindingCalled)
	if !ok || called.Name != bindingName {
		return
	}
	if time.Now().UnixNano() < b.quietUntil.Load() {
		return
	}
	var p bindingPayload
	if err := json.Unmarshal([]byte(called.Payload), &p); err != nil {
		b.log.Debug("interaction_payload_invalid", slog.Any("error", err))
		return
	}
	in := core.Interaction{Kind: core.InteractionKind(p.Kind), Trusted: p.Trusted, Target: p.Target}

	b.mu.Lock()
	fns := make([]func(core.Interaction), 0, len(b.subs))
	for _, fn := range b.subs {
		fns = append(fns, fn)
	}
	b.mu.Unlock()

	// Listener callbacks run on the protocol read loop; never block it.
	go func() {
		for _, fn := range fns {
			fn(in)
		}
	}()
}

func (b *Browser) bootstrapScript() string {
	return fmt.Sprintf(`(() => {
	if (window.__docentInstalled) return;
	window.__docentInstalled = true;
	const style = document.createElement("style");
	style.textContent = "." + CSS.escape(%[1]s) + " { outline: 3px solid #f5a623 !important; outline-offset: 2px; }";
	document.addEventListener("DOMContentLoaded", () => document.head.appendChild(style));
	const describe = (t) => t && t.tagName ? t.tagName.toLowerCase() + (t.id ? "#" + t.id : "") : "";
	const send = (kind) => (e) => {
		window[%[2]s](JSON.stringify({kind, trusted: e.isTrusted, target: describe(e.target)}));
	};
	document.addEventListener("click", send("click"), true);
	document.addEventListener("keydown", send("key"), true);
	document.addEventListener("touchstart", send("touch"), true);
})();`, quote(b.class), quote(bindingName))
}

func quote(s string) string {
	out, _ := json.Marshal(s)
	return string(out)
}

func quoteAll(ss []string) string {
	if ss == nil {
		ss = []string{}
	}
	out, _ := json.Marshal(ss)
	return string(out)
}
