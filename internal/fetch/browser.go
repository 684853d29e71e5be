package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chromedp/chromedp"
)

// BrowserFetcher drives a shared headless browser. Each fetch runs in its
// own tab context so one slow page cannot wedge the whole browser.
type BrowserFetcher struct {
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
	timeout       time.Duration
	waitTime      time.Duration
}

// BrowserConfig controls browser startup and per-page behavior.
type BrowserConfig struct {
	Timeout  time.Duration // per-page navigation budget
	WaitTime time.Duration // extra settle time after body is ready
	Headful  bool          // run with a visible window, for debugging
}

// NewBrowserFetcher starts the shared browser.
func NewBrowserFetcher(cfg BrowserConfig) (*BrowserFetcher, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.DisableGPU,
		chromedp.NoSandbox,
	)
	if !cfg.Headful {
		opts = append(opts, chromedp.Headless)
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// Start the browser process eagerly so startup failures surface
	// here instead of on the first fetch.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	return &BrowserFetcher{
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		allocCancel:   allocCancel,
		timeout:       timeout,
		waitTime:      cfg.WaitTime,
	}, nil
}

// Close shuts the browser down.
func (f *BrowserFetcher) Close() {
	f.browserCancel()
	f.allocCancel()
}

// Fetch navigates to url in a fresh tab, strips excluded markup, and
// returns the scoped page content.
func (f *BrowserFetcher) Fetch(ctx context.Context, url string, opts Options) (*Page, error) {
	tabCtx, cancel := chromedp.NewContext(f.browserCtx)
	defer cancel()

	timeoutCtx, timeoutCancel := context.WithTimeout(tabCtx, f.timeout)
	defer timeoutCancel()

	// Honor caller cancellation between navigations.
	go func() {
		select {
		case <-ctx.Done():
			timeoutCancel()
		case <-timeoutCtx.Done():
		}
	}()

	tasks := []chromedp.Action{
		chromedp.Navigate(url),
		chromedp.WaitReady("body"),
	}
	if f.waitTime > 0 {
		tasks = append(tasks, chromedp.Sleep(f.waitTime))
	}

	if err := chromedp.Run(timeoutCtx, tasks...); err != nil {
		// Navigation failures from a live browser are almost always
		// network-shaped; classify as transient so the page is retried.
		return nil, &Error{Kind: KindTransient, URL: url, Err: err}
	}

	if len(opts.ExcludeSelectors) > 0 {
		if err := chromedp.Run(timeoutCtx, chromedp.Evaluate(removeSelectorsJS(opts.ExcludeSelectors), nil)); err != nil {
			// Losing the noise filter degrades extraction quality but
			// does not invalidate the page.
			log.Debug("Failed to strip excluded selectors", "url", url, "error", err)
		}
	}

	var fullHTML string
	if err := chromedp.Run(timeoutCtx, chromedp.OuterHTML("html", &fullHTML)); err != nil {
		return nil, &Error{Kind: KindTransient, URL: url, Err: err}
	}

	content := fullHTML
	if opts.ContentSelector != "" {
		var scoped string
		err := chromedp.Run(timeoutCtx, chromedp.Evaluate(scopedContentJS(opts.ContentSelector), &scoped))
		if err != nil {
			return nil, &Error{Kind: KindPermanent, URL: url, Err: fmt.Errorf("selector %q: %w", opts.ContentSelector, err)}
		}
		content = scoped
	}

	page := &Page{URL: url, Content: content}
	markExhausted(page, fullHTML, opts.ExhaustionMarker)
	return page, nil
}

// removeSelectorsJS builds a script that deletes every element matching
// the given selectors.
func removeSelectorsJS(selectors []string) string {
	selJSON, _ := json.Marshal(selectors)
	return fmt.Sprintf(`
	(() => {
		const selectors = %s;
		for (const sel of selectors) {
			document.querySelectorAll(sel).forEach(el => el.remove());
		}
	})()
	`, selJSON)
}

// scopedContentJS builds a script that concatenates the outer HTML of all
// elements matching the content selector. An empty string means the
// selector matched nothing, which the orchestrator treats as an empty page.
func scopedContentJS(selector string) string {
	selJSON, _ := json.Marshal(selector)
	return fmt.Sprintf(`
	(() => {
		const nodes = document.querySelectorAll(%s);
		return Array.from(nodes).map(el => el.outerHTML).join("\n");
	})()
	`, selJSON)
}
