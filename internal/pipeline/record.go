// Package pipeline drives the page-by-page crawl: fetch, extract,
// validate, deduplicate, and stream accepted records to a sink.
package pipeline

import (
	"github.com/go-scripts/listcrawl/internal/extract"
)

// Record is an accepted record: every required field present and
// non-placeholder, deduplicated by its identifying key. Records are not
// mutated after promotion.
type Record map[string]string

// promote materializes a Record from a validated candidate, keeping only
// schema fields. Promotion happens after validation; incomplete
// candidates never become Records.
func promote(c extract.Candidate, fieldNames []string) Record {
	r := make(Record, len(fieldNames))
	for _, name := range fieldNames {
		r[name] = c.String(name)
	}
	return r
}

// Sink receives accepted records as they are accepted. Append failures
// are fatal to the run: an accepted-but-unpersisted record must never be
// silently lost.
type Sink interface {
	Append(Record) error
}
