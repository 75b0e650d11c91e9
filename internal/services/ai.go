package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/markoz2707/opzmanager/internal/logger"
)

// EmbeddingClient turns text into fixed-dimensionality vectors.
type EmbeddingClient interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch returns one vector per input, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// EmbedModel names the embedding space (provider-qualified model name).
	// Vectors produced by different spaces are not comparable.
	EmbedModel() string
	TestConnection(ctx context.Context) bool
}

// ReasoningClient is the external service that produces compliance judgments
// and structured spec extractions. Responses are free text; callers parse JSON
// out of them and degrade on garbage.
type ReasoningClient interface {
	Chat(ctx context.Context, system, user string, maxTokens int, temperature float64) (string, error)
	TestConnection(ctx context.Context) bool
}

// NewEmbeddingClient selects an embedding backend by provider name.
func NewEmbeddingClient(provider string, maxRetries int, log *logger.Logger) (EmbeddingClient, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "", "openai":
		return NewOpenAIClient(log, maxRetries)
	case "ollama":
		return NewOllamaClient(log, maxRetries), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", provider)
	}
}

// NewReasoningClient selects a reasoning backend by provider name.
func NewReasoningClient(provider string, maxRetries int, log *logger.Logger) (ReasoningClient, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "", "openai":
		return NewOpenAIClient(log, maxRetries)
	case "ollama":
		return NewOllamaClient(log, maxRetries), nil
	default:
		return nil, fmt.Errorf("unknown reasoning provider %q", provider)
	}
}

type aiHTTPError struct {
	StatusCode int
	Body       string
	// RetryAfter is the service-provided backoff hint, zero when absent.
	RetryAfter time.Duration
}

func (e *aiHTTPError) Error() string {
	return fmt.Sprintf("ai http %d: %s", e.StatusCode, e.Body)
}

// IsRateLimited reports whether err is a rate-limit response.
func IsRateLimited(err error) bool {
	var httpErr *aiHTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode == 429
}

// extractJSONBlock pulls the first JSON object or array out of a raw model
// response, tolerating markdown fencing and surrounding prose.
func extractJSONBlock(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if i := strings.Index(s, "```"); i >= 0 {
		s = s[i+3:]
		s = strings.TrimPrefix(s, "json")
		if j := strings.Index(s, "```"); j >= 0 {
			s = s[:j]
		}
		s = strings.TrimSpace(s)
	}
	start := -1
	var opener, closer byte
	for i := 0; i < len(s); i++ {
		if s[i] == '{' || s[i] == '[' {
			start = i
			opener = s[i]
			closer = '}'
			if opener == '[' {
				closer = ']'
			}
			break
		}
	}
	if start < 0 {
		return "", fmt.Errorf("no JSON found in response")
	}
	depth := 0
	inString := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			if c == '\\' {
				i++
			} else if c == '"' {
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case opener:
			depth++
		case closer:
			depth--
			if depth == 0 {
				return s[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("unterminated JSON in response")
}
