package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"text/template"
	"time"

	"github.com/charmbracelet/log"

	"github.com/go-scripts/listcrawl/internal/config"
)

// Message is a single chat message in the completion request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatRequest is the request payload for an OpenAI-compatible
// chat-completions endpoint.
type chatRequest struct {
	Model           string    `json:"model,omitempty"`
	Messages        []Message `json:"messages"`
	Stream          bool      `json:"stream"`
	Temperature     float64   `json:"temperature"`
	ReasoningEffort string    `json:"reasoning_effort,omitempty"`
}

type chatChoice struct {
	FinishReason string  `json:"finish_reason"`
	Index        int     `json:"index"`
	Message      Message `json:"message"`
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
}

const systemPromptTemplate = `You extract structured records from HTML listing pages.
Output only a JSON array of objects with these fields:
{{- range .Fields}}
- {{.Name}} ({{.Type}}{{if .Required}}, required{{end}})
{{- end}}
Do not add explanations, markdown, or extra fields. If a field is missing
from a listing, use an empty string for strings and 0 for numbers.`

// LLMStrategy implements Strategy against an OpenAI-compatible
// chat-completions endpoint, with token-bucket rate limiting and bounded
// retry with exponential backoff.
type LLMStrategy struct {
	client      *http.Client
	cfg         config.LLM
	apiKey      string
	rateLimiter *RateLimiter
	maxRetries  int
	baseDelay   time.Duration
}

// NewLLMStrategy builds the strategy. apiKey may be empty for local
// backends that require no auth.
func NewLLMStrategy(cfg config.LLM, apiKey string) (*LLMStrategy, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("LLM endpoint is required")
	}

	return &LLMStrategy{
		client:      &http.Client{Timeout: config.DefaultLLMTimeout},
		cfg:         cfg,
		apiKey:      apiKey,
		rateLimiter: NewRateLimiter(5, 12*time.Second),
		maxRetries:  5,
		baseDelay:   1 * time.Second,
	}, nil
}

// Extract sends the page content to the model and parses the reply into
// candidate records.
func (s *LLMStrategy) Extract(ctx context.Context, content string, schema []config.Field, instruction string) ([]Candidate, error) {
	systemPrompt, err := renderSystemPrompt(schema)
	if err != nil {
		return nil, &Error{Kind: KindProvider, Err: fmt.Errorf("failed to build system prompt: %w", err)}
	}

	reqBody, err := s.buildRequest(systemPrompt, instruction, content)
	if err != nil {
		return nil, &Error{Kind: KindProvider, Err: err}
	}

	reply, err := s.complete(ctx, reqBody)
	if err != nil {
		return nil, err
	}

	candidates, err := ParseCandidates(reply)
	if err != nil {
		return nil, &Error{Kind: KindMalformed, Err: err}
	}
	return candidates, nil
}

// complete performs the HTTP round trip with rate limiting and retry.
func (s *LLMStrategy) complete(ctx context.Context, reqBody []byte) (string, error) {
	var lastErr error

	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if err := s.rateLimiter.Wait(ctx); err != nil {
			return "", &Error{Kind: KindProvider, Err: err}
		}

		if attempt > 0 {
			log.Debug("Retrying extraction request", "attempt", attempt, "max_retries", s.maxRetries)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Endpoint, bytes.NewReader(reqBody))
		if err != nil {
			return "", &Error{Kind: KindProvider, Err: err}
		}
		req.Header.Set("Content-Type", "application/json")
		if s.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+s.apiKey)
		}

		resp, err := s.client.Do(req)
		if err != nil {
			lastErr = err
		} else if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			lastErr = fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))

			// Client errors other than rate limiting will not clear on
			// retry; bail out immediately so a bad credential fails
			// fast instead of burning the retry budget.
			if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				return "", &Error{Kind: KindProvider, Err: lastErr}
			}
		} else {
			var cr chatResponse
			decodeErr := json.NewDecoder(resp.Body).Decode(&cr)
			resp.Body.Close()
			if decodeErr != nil {
				return "", &Error{Kind: KindMalformed, Err: fmt.Errorf("failed to decode response: %w", decodeErr)}
			}
			if len(cr.Choices) == 0 {
				return "", &Error{Kind: KindMalformed, Err: fmt.Errorf("response contained no choices")}
			}
			return cr.Choices[0].Message.Content, nil
		}

		if attempt == s.maxRetries {
			break
		}

		// Exponential backoff with jitter.
		delay := s.baseDelay * time.Duration(1<<uint(attempt))
		delay += time.Duration(rand.Int63n(int64(delay)/2 + 1))
		log.Debug("Backing off before retry", "delay", delay, "error", lastErr)

		select {
		case <-ctx.Done():
			return "", &Error{Kind: KindProvider, Err: ctx.Err()}
		case <-time.After(delay):
		}
	}

	return "", &Error{Kind: KindProvider, Err: fmt.Errorf("request failed after %d attempts: %w", s.maxRetries+1, lastErr)}
}

func (s *LLMStrategy) buildRequest(systemPrompt, instruction, content string) ([]byte, error) {
	req := chatRequest{
		Model: s.cfg.Model,
		Messages: []Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: instruction + "\n\n" + content},
		},
		Stream:          false,
		Temperature:     s.cfg.Temperature,
		ReasoningEffort: s.cfg.ReasoningEffort,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}
	return body, nil
}

func renderSystemPrompt(schema []config.Field) (string, error) {
	tmpl, err := template.New("system").Parse(systemPromptTemplate)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, struct{ Fields []config.Field }{schema}); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// ParseCandidates parses a model reply into candidate records. The reply
// should be a JSON array of objects, but common deviations are tolerated:
// markdown code fences, a single bare object, and a stray boolean "error"
// key some extraction backends attach to each record.
func ParseCandidates(reply string) ([]Candidate, error) {
	text := strings.TrimSpace(reply)
	text = stripCodeFence(text)

	if text == "" {
		return nil, nil
	}
	if strings.HasPrefix(text, "{") {
		text = "[" + text + "]"
	}

	var raw []map[string]any
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("reply is not a JSON array of objects: %w", err)
	}

	candidates := make([]Candidate, 0, len(raw))
	for _, m := range raw {
		if v, ok := m["error"]; ok {
			if b, isBool := v.(bool); isBool && !b {
				delete(m, "error")
			}
		}
		candidates = append(candidates, Candidate(m))
	}
	return candidates, nil
}

func stripCodeFence(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	if i := strings.LastIndex(text, "```"); i >= 0 {
		text = text[:i]
	}
	return strings.TrimSpace(text)
}
