package sink

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-scripts/listcrawl/internal/pipeline"
)

func TestCSVSinkWritesHeaderAndRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	columns := []string{"name", "author", "rating"}

	s, err := NewCSVSink(path, columns)
	require.NoError(t, err)

	require.NoError(t, s.Append(pipeline.Record{"name": "Book A", "author": "Author A", "rating": "4.5"}))
	// Missing fields are written empty; unknown fields are dropped.
	require.NoError(t, s.Append(pipeline.Record{"name": "Book B", "extra": "ignored"}))
	require.NoError(t, s.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	rows, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
	require.NoError(t, err)

	require.Len(t, rows, 3)
	assert.Equal(t, columns, rows[0])
	assert.Equal(t, []string{"Book A", "Author A", "4.5"}, rows[1])
	assert.Equal(t, []string{"Book B", "", ""}, rows[2])
}

func TestCSVSinkFlushesPerAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	s, err := NewCSVSink(path, []string{"name"})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Append(pipeline.Record{"name": "Book A"}))

	// Readable before Close: an aborted run must not lose accepted rows.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Book A")
}

func TestCSVSinkRequiresColumns(t *testing.T) {
	_, err := NewCSVSink(filepath.Join(t.TempDir(), "out.csv"), nil)
	assert.Error(t, err)
}

func TestJSONSinkWritesLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.jsonl")

	s, err := NewJSONSink(path)
	require.NoError(t, err)

	require.NoError(t, s.Append(pipeline.Record{"name": "Book A"}))
	require.NoError(t, s.Append(pipeline.Record{"name": "Book B"}))
	require.NoError(t, s.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	var rec map[string]string
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "Book A", rec["name"])
}
