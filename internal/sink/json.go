package sink

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/go-scripts/listcrawl/internal/pipeline"
)

// JSONSink appends records as JSON lines, one object per row.
type JSONSink struct {
	mu      sync.Mutex
	file    *os.File
	encoder *json.Encoder
}

// NewJSONSink creates (truncating) the output file.
func NewJSONSink(path string) (*JSONSink, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file %s: %w", path, err)
	}
	return &JSONSink{file: file, encoder: json.NewEncoder(file)}, nil
}

// Append writes one record as a JSON line.
func (s *JSONSink) Append(r pipeline.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.encoder.Encode(r); err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	return nil
}

// Close closes the file.
func (s *JSONSink) Close() error {
	return s.file.Close()
}
