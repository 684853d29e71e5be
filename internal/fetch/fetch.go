// Package fetch retrieves raw page content for the extraction pipeline.
// Two implementations are provided: a headless-browser fetcher for sites
// that render listings with JavaScript, and a plain HTTP fetcher for
// static markup.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrKind classifies fetch failures for the orchestrator's retry policy.
type ErrKind int

const (
	// KindTransient covers timeouts and network errors worth retrying
	// with the page held constant.
	KindTransient ErrKind = iota
	// KindPermanent covers failures retrying cannot fix (4xx statuses,
	// unparseable responses).
	KindPermanent
)

// Error is a classified fetch failure.
type Error struct {
	Kind ErrKind
	URL  string
	Err  error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindTransient:
		return fmt.Sprintf("transient fetch error for %s: %v", e.URL, e.Err)
	default:
		return fmt.Sprintf("permanent fetch error for %s: %v", e.URL, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// IsTransient reports whether err is a fetch error worth retrying.
func IsTransient(err error) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Kind == KindTransient
}

// Page is the result of one successful fetch.
type Page struct {
	URL     string
	Content string

	// Exhausted is set when the page carried the configured
	// no-more-results marker.
	Exhausted bool
}

// Options shape a single fetch.
type Options struct {
	// ContentSelector scopes the returned content to one region of the
	// page. Empty returns the whole document.
	ContentSelector string

	// ExcludeSelectors name elements to remove before the content is
	// returned, to cut extraction noise.
	ExcludeSelectors []string

	// ExhaustionMarker is a literal substring that signals the listing
	// has no further results. Empty disables the check.
	ExhaustionMarker string
}

// Fetcher retrieves the content of a single URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string, opts Options) (*Page, error)
}

// markExhausted applies the exhaustion-marker check shared by both
// fetcher implementations. The marker is matched against the full
// document, not the scoped region, because sites typically render
// "no results" notices outside the listing container.
func markExhausted(p *Page, fullDocument, marker string) {
	if marker != "" && strings.Contains(fullDocument, marker) {
		p.Exhausted = true
	}
}
