// Package sink persists accepted records. Appends are serialized per
// destination and flushed immediately so partial results survive an
// aborted run.
package sink

import (
	"encoding/csv"
	"fmt"
	"os"
	"sync"

	"github.com/go-scripts/listcrawl/internal/pipeline"
)

// CSVSink appends records to a CSV file with a fixed, schema-ordered
// column set. The header is written on creation.
type CSVSink struct {
	mu      sync.Mutex
	file    *os.File
	writer  *csv.Writer
	columns []string
}

// NewCSVSink creates (truncating) the output file and writes the header.
func NewCSVSink(path string, columns []string) (*CSVSink, error) {
	if len(columns) == 0 {
		return nil, fmt.Errorf("CSV sink requires at least one column")
	}

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file %s: %w", path, err)
	}

	writer := csv.NewWriter(file)
	if err := writer.Write(columns); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to flush CSV header: %w", err)
	}

	return &CSVSink{file: file, writer: writer, columns: columns}, nil
}

// Append writes one record row. Fields the record does not carry are
// written empty; fields outside the column set are dropped.
func (s *CSVSink) Append(r pipeline.Record) error {
	row := make([]string, len(s.columns))
	for i, col := range s.columns {
		row[i] = r[col]
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writer.Write(row); err != nil {
		return fmt.Errorf("failed to write CSV row: %w", err)
	}
	// Flush per append so a later abort loses nothing already accepted.
	s.writer.Flush()
	if err := s.writer.Error(); err != nil {
		return fmt.Errorf("failed to flush CSV row: %w", err)
	}
	return nil
}

// Close flushes and closes the file.
func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.writer.Flush()
	if err := s.writer.Error(); err != nil {
		s.file.Close()
		return err
	}
	return s.file.Close()
}
