package pipeline

import (
	"strings"

	"github.com/go-scripts/listcrawl/internal/extract"
)

// placeholders are values extraction backends emit for fields they could
// not find. A required field holding one of these counts as absent.
var placeholders = map[string]struct{}{
	"":     {},
	"n/a":  {},
	"na":   {},
	"null": {},
	"none": {},
	"-":    {},
}

// IsComplete reports whether the candidate carries a real value for every
// required field. A single missing or placeholder field rejects the
// whole candidate.
func IsComplete(c extract.Candidate, required []string) bool {
	for _, field := range required {
		if _, ok := c[field]; !ok {
			return false
		}
		v := strings.ToLower(strings.TrimSpace(c.String(field)))
		if _, placeholder := placeholders[v]; placeholder {
			return false
		}
	}
	return true
}
