// Package progress renders page-level crawl progress on the terminal.
package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/briandowns/spinner"
	"github.com/charmbracelet/bubbles/progress"
)

// renderMu serializes terminal writes across all trackers so concurrent
// crawl targets cannot interleave partial lines.
var renderMu sync.Mutex

// Tracker shows a spinner for the page in flight and, when the total page
// count is known up front, a progress bar. Implements the pipeline's
// PageTracker interface.
type Tracker struct {
	mu         sync.Mutex
	spin       *spinner.Spinner
	bar        progress.Model
	out        io.Writer
	totalPages int
	donePages  int
	accepted   int
	stopped    bool
}

// New creates a tracker. totalPages of 0 means the crawl is unbounded and
// only the spinner is shown.
func New(totalPages int) *Tracker {
	return &Tracker{
		spin:       spinner.New(spinner.CharSets[9], 100*time.Millisecond),
		bar:        progress.New(progress.WithDefaultGradient()),
		out:        os.Stdout,
		totalPages: totalPages,
	}
}

// PageStarted updates the spinner for the page in flight.
func (t *Tracker) PageStarted(page int, url string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.spin.Suffix = fmt.Sprintf(" page %d: %s", page, truncateURL(url))
	if !t.spin.Active() {
		t.spin.Start()
	}
}

// PageFinished records the page result and redraws the bar when a page
// cap is configured.
func (t *Tracker) PageFinished(page int, accepted int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.donePages++
	t.accepted += accepted

	if t.totalPages > 0 {
		ratio := float64(t.donePages) / float64(t.totalPages)

		renderMu.Lock()
		fmt.Fprintf(t.out, "\r%s %d/%d pages, %d records",
			t.bar.ViewAs(ratio), t.donePages, t.totalPages, t.accepted)
		renderMu.Unlock()
	}
}

// Stop halts the spinner and finishes the progress line.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		return
	}
	t.stopped = true

	if t.spin.Active() {
		t.spin.Stop()
	}
	if t.totalPages > 0 {
		renderMu.Lock()
		fmt.Fprintln(t.out)
		renderMu.Unlock()
	}
}

func truncateURL(url string) string {
	const maxLen = 60
	if len(url) <= maxLen {
		return url
	}
	return "..." + url[len(url)-maxLen:]
}
