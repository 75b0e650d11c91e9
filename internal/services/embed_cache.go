package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/markoz2707/opzmanager/internal/logger"
)

const embedCacheTTL = 24 * time.Hour

// CachedEmbeddingClient memoizes single-text embeddings in Redis. Match runs
// embed the same concatenated requirement text once per candidate, so the hit
// rate there is high. Batch embedding (ingestion) bypasses the cache.
type CachedEmbeddingClient struct {
	inner EmbeddingClient
	rdb   *redis.Client
	log   *logger.Logger
}

func NewCachedEmbeddingClient(inner EmbeddingClient, rdb *redis.Client, baseLog *logger.Logger) *CachedEmbeddingClient {
	return &CachedEmbeddingClient{
		inner: inner,
		rdb:   rdb,
		log:   baseLog.With("service", "CachedEmbeddingClient"),
	}
}

// embedCacheKey binds the entry to the embedding space so a provider or model
// switch never serves vectors from the old space.
func embedCacheKey(model, text string) string {
	sum := sha256.Sum256([]byte(model + "\x00" + text))
	return "opz:embed:" + hex.EncodeToString(sum[:])
}

func (c *CachedEmbeddingClient) Embed(ctx context.Context, text string) ([]float32, error) {
	key := embedCacheKey(c.inner.EmbedModel(), text)
	if raw, err := c.rdb.Get(ctx, key).Bytes(); err == nil {
		var vec []float32
		if jErr := json.Unmarshal(raw, &vec); jErr == nil && len(vec) > 0 {
			return vec, nil
		}
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	if raw, jErr := json.Marshal(vec); jErr == nil {
		if sErr := c.rdb.Set(ctx, key, raw, embedCacheTTL).Err(); sErr != nil {
			c.log.Debug("embed cache write failed", "error", sErr)
		}
	}
	return vec, nil
}

func (c *CachedEmbeddingClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return c.inner.EmbedBatch(ctx, texts)
}

func (c *CachedEmbeddingClient) EmbedModel() string {
	return c.inner.EmbedModel()
}

func (c *CachedEmbeddingClient) TestConnection(ctx context.Context) bool {
	return c.inner.TestConnection(ctx)
}
