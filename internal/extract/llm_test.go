package extract

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-scripts/listcrawl/internal/config"
)

var testSchema = []config.Field{
	{Name: "name", Type: "string", Required: true},
	{Name: "capacity", Type: "number", Required: true},
}

// chatReply wraps content in a chat-completions response body.
func chatReply(content string) string {
	body, _ := json.Marshal(chatResponse{
		Choices: []chatChoice{
			{FinishReason: "stop", Message: Message{Role: "assistant", Content: content}},
		},
	})
	return string(body)
}

func setupMockAPIServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

// newTestStrategy builds a strategy with fast retry timings against the
// given endpoint.
func newTestStrategy(t *testing.T, endpoint, apiKey string) *LLMStrategy {
	s, err := NewLLMStrategy(config.LLM{Endpoint: endpoint, Model: "test-model", Temperature: 0.3}, apiKey)
	require.NoError(t, err)
	s.baseDelay = time.Millisecond
	s.rateLimiter = NewRateLimiter(1000, time.Millisecond)
	return s
}

func TestExtractParsesCandidates(t *testing.T) {
	server := setupMockAPIServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Contains(t, req.Messages[0].Content, "name (string, required)")
		assert.Contains(t, req.Messages[1].Content, "<li>Oak Hall</li>")

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(chatReply(`[{"name":"Oak Hall","capacity":"200"}]`)))
	})

	s := newTestStrategy(t, server.URL, "secret")
	candidates, err := s.Extract(context.Background(), "<li>Oak Hall</li>", testSchema, "Extract venues.")
	require.NoError(t, err)

	require.Len(t, candidates, 1)
	assert.Equal(t, "Oak Hall", candidates[0].String("name"))
	assert.Equal(t, "200", candidates[0].String("capacity"))
}

func TestExtractRetriesServerErrors(t *testing.T) {
	var calls int32
	server := setupMockAPIServer(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(chatReply(`[{"name":"Oak Hall","capacity":"200"}]`)))
	})

	s := newTestStrategy(t, server.URL, "")
	candidates, err := s.Extract(context.Background(), "content", testSchema, "instruction")
	require.NoError(t, err)

	assert.Len(t, candidates, 1)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestExtractAuthErrorFailsFast(t *testing.T) {
	var calls int32
	server := setupMockAPIServer(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"invalid api key"}`))
	})

	s := newTestStrategy(t, server.URL, "bad-key")
	_, err := s.Extract(context.Background(), "content", testSchema, "instruction")
	require.Error(t, err)

	var ee *Error
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, KindProvider, ee.Kind)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls), "auth errors must not be retried")
}

func TestExtractMalformedReply(t *testing.T) {
	server := setupMockAPIServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(chatReply("Sure! Here are the venues I found on the page.")))
	})

	s := newTestStrategy(t, server.URL, "")
	_, err := s.Extract(context.Background(), "content", testSchema, "instruction")
	require.Error(t, err)
	assert.True(t, IsMalformed(err))
}

func TestExtractEmptyChoices(t *testing.T) {
	server := setupMockAPIServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	})

	s := newTestStrategy(t, server.URL, "")
	_, err := s.Extract(context.Background(), "content", testSchema, "instruction")
	require.Error(t, err)
	assert.True(t, IsMalformed(err))
}

func TestParseCandidates(t *testing.T) {
	testCases := []struct {
		name    string
		reply   string
		want    int
		wantErr bool
	}{
		{
			name:  "plain JSON array",
			reply: `[{"name":"A"},{"name":"B"}]`,
			want:  2,
		},
		{
			name:  "fenced JSON array",
			reply: "```json\n[{\"name\":\"A\"}]\n```",
			want:  1,
		},
		{
			name:  "bare fenced block",
			reply: "```\n[{\"name\":\"A\"}]\n```",
			want:  1,
		},
		{
			name:  "single object promoted to array",
			reply: `{"name":"A"}`,
			want:  1,
		},
		{
			name:  "empty array",
			reply: `[]`,
			want:  0,
		},
		{
			name:  "whitespace only",
			reply: "   \n  ",
			want:  0,
		},
		{
			name:    "prose reply",
			reply:   "I could not find any listings.",
			wantErr: true,
		},
		{
			name:    "array of scalars",
			reply:   `["a","b"]`,
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			candidates, err := ParseCandidates(tc.reply)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, candidates, tc.want)
		})
	}
}

func TestParseCandidatesDropsErrorFalseKey(t *testing.T) {
	candidates, err := ParseCandidates(`[{"name":"A","error":false},{"name":"B","error":true}]`)
	require.NoError(t, err)
	require.Len(t, candidates, 2)

	_, hasKey := candidates[0]["error"]
	assert.False(t, hasKey, "error:false must be stripped")

	_, hasKey = candidates[1]["error"]
	assert.True(t, hasKey, "error:true is kept for the validator to see")
}

func TestCandidateString(t *testing.T) {
	c := Candidate{
		"name":     "Oak Hall",
		"capacity": float64(200),
		"rating":   4.5,
		"missing":  nil,
	}

	assert.Equal(t, "Oak Hall", c.String("name"))
	assert.Equal(t, "200", c.String("capacity"))
	assert.Equal(t, "4.5", c.String("rating"))
	assert.Equal(t, "", c.String("missing"))
	assert.Equal(t, "", c.String("absent"))
}
