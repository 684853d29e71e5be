// Package extract turns raw page content into candidate records via an
// LLM-backed extraction strategy.
package extract

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/go-scripts/listcrawl/internal/config"
)

// Candidate is one loosely typed record produced by extraction. Field
// presence is not guaranteed; the pipeline validator is the enforcement
// point, not this package.
type Candidate map[string]any

// String returns the named field rendered as a string, or "" when the
// field is absent. Numbers extracted by the model may arrive as float64
// (JSON) or as quoted strings; both render the same way here.
func (c Candidate) String(field string) string {
	v, ok := c[field]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// ErrKind classifies extraction failures.
type ErrKind int

const (
	// KindProvider covers backend failures: auth, quota, timeouts,
	// non-OK statuses.
	KindProvider ErrKind = iota
	// KindMalformed covers replies the strategy could not parse into
	// records.
	KindMalformed
)

// Error is a classified extraction failure.
type Error struct {
	Kind ErrKind
	Err  error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindMalformed:
		return fmt.Sprintf("malformed extraction output: %v", e.Err)
	default:
		return fmt.Sprintf("extraction provider error: %v", e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// IsMalformed reports whether err is a parse failure rather than a
// provider failure.
func IsMalformed(err error) bool {
	var ee *Error
	return errors.As(err, &ee) && ee.Kind == KindMalformed
}

// Strategy extracts candidate records from raw page content. Calls must
// not mutate shared state; the same input yields functionally equivalent
// output.
type Strategy interface {
	Extract(ctx context.Context, content string, schema []config.Field, instruction string) ([]Candidate, error)
}
