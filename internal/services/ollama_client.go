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
	"time"

	"github.com/markoz2707/opzmanager/internal/logger"
)

// OllamaClient is the local-model backend. Same contract as OpenAIClient,
// selected by provider name at composition time.
type OllamaClient struct {
	log        *logger.Logger
	baseURL    string
	chatModel  string
	embedModel string
	httpClient *http.Client

	maxRetries int
}

func NewOllamaClient(log *logger.Logger, maxRetries int) *OllamaClient {
	baseURL := os.Getenv("OLLAMA_BASE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	chatModel := os.Getenv("OLLAMA_CHAT_MODEL")
	if chatModel == "" {
		chatModel = "llama3.1"
	}
	embedModel := os.Getenv("OLLAMA_EMBED_MODEL")
	if embedModel == "" {
		embedModel = "nomic-embed-text"
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &OllamaClient{
		log:        log.With("service", "OllamaClient"),
		baseURL:    baseURL,
		chatModel:  chatModel,
		embedModel: embedModel,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		maxRetries: maxRetries,
	}
}

func (c *OllamaClient) post(ctx context.Context, path string, body any, out any) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &aiHTTPError{
			StatusCode: resp.StatusCode,
			Body:       string(raw),
			RetryAfter: retryAfterHint(resp),
		}
	}
	return json.Unmarshal(raw, out)
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func (c *OllamaClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		var resp ollamaEmbedResponse
		err := c.post(ctx, "/api/embed", ollamaEmbedRequest{Model: c.embedModel, Input: texts}, &resp)
		if err == nil {
			if len(resp.Embeddings) != len(texts) {
				return nil, fmt.Errorf("ollama returned %d embeddings for %d inputs", len(resp.Embeddings), len(texts))
			}
			return resp.Embeddings, nil
		}
		if !IsRateLimited(err) {
			return nil, err
		}
		lastErr = err
		if attempt == c.maxRetries {
			break
		}
		sleepFor := time.Duration(1<<attempt) * time.Second
		var httpErr *aiHTTPError
		if errors.As(err, &httpErr) && httpErr.RetryAfter > 0 {
			sleepFor = httpErr.RetryAfter
		}
		if sErr := sleepCtx(ctx, sleepFor); sErr != nil {
			return nil, sErr
		}
	}
	return nil, fmt.Errorf("rate limited after %d retries: %w", c.maxRetries, lastErr)
}

func (c *OllamaClient) EmbedModel() string {
	return "ollama/" + c.embedModel
}

func (c *OllamaClient) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (c *OllamaClient) TestConnection(ctx context.Context) bool {
	if _, err := c.Embed(ctx, "connectivity check"); err != nil {
		c.log.Warn("Ollama connectivity check failed", "error", err)
		return false
	}
	return true
}

type ollamaChatRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
}

func (c *OllamaClient) Chat(ctx context.Context, system, user string, maxTokens int, temperature float64) (string, error) {
	req := ollamaChatRequest{
		Model:  c.chatModel,
		Stream: false,
		Options: map[string]any{
			"temperature": temperature,
			"num_predict": maxTokens,
		},
	}
	req.Messages = []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}

	var resp ollamaChatResponse
	if err := c.post(ctx, "/api/chat", req, &resp); err != nil {
		return "", err
	}
	return resp.Message.Content, nil
}
