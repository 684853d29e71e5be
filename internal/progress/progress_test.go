package progress

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

// Two trackers hammering one terminal concurrently must emit whole
// render lines, never torn fragments.
func TestConcurrentTrackersDoNotInterleaveWrites(t *testing.T) {
	var buf bytes.Buffer

	const pages = 50
	t1 := New(pages)
	t1.out = &buf
	t2 := New(pages)
	t2.out = &buf

	var wg sync.WaitGroup
	for _, tr := range []*Tracker{t1, t2} {
		tr := tr
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := 1; p <= pages; p++ {
				tr.PageFinished(p, 1)
			}
		}()
	}
	wg.Wait()

	// Every render is one "\r... pages, ... records" chunk; a torn
	// write would break the count.
	assert.Equal(t, 2*pages, strings.Count(buf.String(), " records"))
	assert.Equal(t, 2*pages, strings.Count(buf.String(), "\r"))
}

func TestStopIsIdempotent(t *testing.T) {
	var buf bytes.Buffer
	tr := New(10)
	tr.out = &buf

	tr.PageFinished(1, 1)
	tr.Stop()
	tr.Stop()

	// Only the first Stop terminates the progress line.
	assert.Equal(t, 1, strings.Count(buf.String(), "\n"))
}

func TestUnboundedTrackerRendersNoBar(t *testing.T) {
	var buf bytes.Buffer
	tr := New(0)
	tr.out = &buf

	tr.PageFinished(1, 1)
	tr.Stop()

	assert.Empty(t, buf.String())
}
