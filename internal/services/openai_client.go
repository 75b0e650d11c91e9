package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/markoz2707/opzmanager/internal/logger"
)

// OpenAIClient talks to an OpenAI-compatible API for both embeddings and chat
// completions. Rate-limit responses on the embedding path are retried with
// backoff; everything else fails immediately.
type OpenAIClient struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	chatModel  string
	embedModel string
	httpClient *http.Client

	maxRetries int
}

func NewOpenAIClient(log *logger.Logger, maxRetries int) (*OpenAIClient, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("missing OPENAI_API_KEY")
	}

	baseURL := os.Getenv("OPENAI_BASE_URL")
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}

	chatModel := os.Getenv("OPENAI_CHAT_MODEL")
	if chatModel == "" {
		chatModel = "gpt-4o-mini"
	}

	embedModel := os.Getenv("OPENAI_EMBED_MODEL")
	if embedModel == "" {
		embedModel = "text-embedding-3-small"
	}

	timeoutSec := 120
	if v := os.Getenv("OPENAI_TIMEOUT_SECONDS"); v != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed > 0 {
			timeoutSec = parsed
		}
	}

	if maxRetries < 0 {
		maxRetries = 0
	}

	return &OpenAIClient{
		log:        log.With("service", "OpenAIClient"),
		baseURL:    baseURL,
		apiKey:     apiKey,
		chatModel:  chatModel,
		embedModel: embedModel,
		httpClient: &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
		maxRetries: maxRetries,
	}, nil
}

func (c *OpenAIClient) doOnce(ctx context.Context, method, path string, body any) (*http.Response, []byte, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}

	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp, nil, readErr
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, raw, &aiHTTPError{
			StatusCode: resp.StatusCode,
			Body:       string(raw),
			RetryAfter: retryAfterHint(resp),
		}
	}
	return resp, raw, nil
}

// doWithRateLimitRetry retries 429 responses up to maxRetries times, honoring
// the Retry-After hint when present and falling back to exponential backoff
// (1s, 2s, 4s, ...). Any other failure is returned as-is on the first attempt.
func (c *OpenAIClient) doWithRateLimitRetry(ctx context.Context, method, path string, body any, out any) error {
	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		_, raw, err := c.doOnce(ctx, method, path, body)
		if err == nil {
			if out == nil {
				return nil
			}
			if uErr := json.Unmarshal(raw, out); uErr != nil {
				return fmt.Errorf("openai decode error: %w; raw=%s", uErr, string(raw))
			}
			return nil
		}

		if !IsRateLimited(err) {
			return err
		}
		if attempt == c.maxRetries {
			return fmt.Errorf("rate limited after %d retries: %w", c.maxRetries, err)
		}

		sleepFor := time.Duration(1<<attempt) * time.Second
		var httpErr *aiHTTPError
		if errors.As(err, &httpErr) && httpErr.RetryAfter > 0 {
			sleepFor = httpErr.RetryAfter
		}

		c.log.Warn("OpenAI rate limited, retrying",
			"path", path,
			"attempt", attempt+1,
			"max_retries", c.maxRetries,
			"sleep", sleepFor.String(),
		)

		if err := sleepCtx(ctx, sleepFor); err != nil {
			return err
		}
	}
}

func retryAfterHint(resp *http.Response) time.Duration {
	ra := strings.TrimSpace(resp.Header.Get("Retry-After"))
	if ra == "" {
		return 0
	}
	if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ---- Embeddings ----

type embeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingsResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

func (c *OpenAIClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	req := embeddingsRequest{
		Model: c.embedModel,
		Input: texts,
	}
	var resp embeddingsResponse
	if err := c.doWithRateLimitRetry(ctx, "POST", "/v1/embeddings", req, &resp); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		vec := make([]float32, len(d.Embedding))
		for i, f := range d.Embedding {
			vec[i] = float32(f)
		}
		if d.Index >= 0 && d.Index < len(out) {
			out[d.Index] = vec
		}
	}
	for i := range out {
		if out[i] == nil {
			return nil, fmt.Errorf("missing embedding for index %d", i)
		}
	}
	return out, nil
}

func (c *OpenAIClient) EmbedModel() string {
	return "openai/" + c.embedModel
}

func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (c *OpenAIClient) TestConnection(ctx context.Context) bool {
	if _, err := c.Embed(ctx, "connectivity check"); err != nil {
		c.log.Warn("OpenAI connectivity check failed", "error", err)
		return false
	}
	return true
}

// ---- Chat completions ----

type chatCompletionRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *OpenAIClient) Chat(ctx context.Context, system, user string, maxTokens int, temperature float64) (string, error) {
	req := chatCompletionRequest{
		Model:       c.chatModel,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}
	req.Messages = []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}

	var resp chatCompletionResponse
	// Chat calls are not retried: the matching engine isolates failures per
	// candidate instead.
	_, raw, err := c.doOnce(ctx, "POST", "/v1/chat/completions", req)
	if err != nil {
		return "", err
	}
	if uErr := json.Unmarshal(raw, &resp); uErr != nil {
		return "", fmt.Errorf("openai decode error: %w; raw=%s", uErr, string(raw))
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty chat completion response")
	}
	return resp.Choices[0].Message.Content, nil
}
