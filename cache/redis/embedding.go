package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redisv9 "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/flarexio/repochat/embedding"
)

const DefaultTTL = 7 * 24 * time.Hour

type Config struct {
	Enabled  bool          `yaml:"enabled" toml:"enabled"`
	Addr     string        `yaml:"addr" toml:"addr"`
	Password string        `yaml:"password" toml:"password"`
	DB       int           `yaml:"db" toml:"db"`
	TTL      time.Duration `yaml:"ttl" toml:"ttl"`
}

func NewClient(ctx context.Context, cfg Config) (*redisv9.Client, error) {
	client := redisv9.NewClient(&redisv9.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis failed: %w", err)
	}

	return client, nil
}

// CachedEmbedder memoizes vectors of the wrapped embedder in redis, keyed by
// model and text digest. Cache failures are logged and bypassed.
type CachedEmbedder struct {
	next   embedding.Embedder
	client *redisv9.Client
	ttl    time.Duration
	log    *zap.Logger
}

func NewCachedEmbedder(next embedding.Embedder, client *redisv9.Client, ttl time.Duration) *CachedEmbedder {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	log := zap.L().With(
		zap.String("component", "cache"),
		zap.String("model", next.Model()),
	)

	return &CachedEmbedder{next, client, ttl, log}
}

func (c *CachedEmbedder) key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return "repochat:embedding:" + c.next.Model() + ":" + hex.EncodeToString(sum[:])
}

func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.key(text)

	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var v []float32
		if err := json.Unmarshal(raw, &v); err == nil {
			return v, nil
		}

		c.log.Warn("corrupt cache entry", zap.String("key", key))

	case !errors.Is(err, redisv9.Nil):
		c.log.Warn("redis get embedding failed", zap.Error(err))
	}

	v, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	c.store(ctx, map[string][]float32{key: v})

	return v, nil
}

func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	keys := make([]string, len(texts))
	for i, text := range texts {
		keys[i] = c.key(text)
	}

	vectors := make([][]float32, len(texts))

	cached, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		c.log.Warn("redis mget embeddings failed", zap.Error(err))
		cached = make([]any, len(texts))
	}

	missing := make([]int, 0)
	for i, item := range cached {
		s, ok := item.(string)
		if !ok {
			missing = append(missing, i)
			continue
		}

		if err := json.Unmarshal([]byte(s), &vectors[i]); err != nil {
			missing = append(missing, i)
		}
	}

	if len(missing) == 0 {
		return vectors, nil
	}

	pending := make([]string, len(missing))
	for j, i := range missing {
		pending[j] = texts[i]
	}

	fresh, err := c.next.EmbedBatch(ctx, pending)
	if err != nil {
		return nil, err
	}

	entries := make(map[string][]float32, len(missing))
	for j, i := range missing {
		vectors[i] = fresh[j]
		entries[keys[i]] = fresh[j]
	}

	c.store(ctx, entries)

	c.log.Debug("embedding cache",
		zap.Int("hits", len(texts)-len(missing)),
		zap.Int("misses", len(missing)),
	)

	return vectors, nil
}

func (c *CachedEmbedder) store(ctx context.Context, entries map[string][]float32) {
	_, err := c.client.Pipelined(ctx, func(pipe redisv9.Pipeliner) error {
		for key, v := range entries {
			payload, err := json.Marshal(v)
			if err != nil {
				return err
			}

			pipe.Set(ctx, key, payload, c.ttl)
		}
		return nil
	})
	if err != nil {
		c.log.Warn("redis set embeddings failed", zap.Error(err))
	}
}

func (c *CachedEmbedder) Dimension() int {
	return c.next.Dimension()
}

func (c *CachedEmbedder) Model() string {
	return c.next.Model()
}

// Close releases the redis client handed to NewCachedEmbedder.
func (c *CachedEmbedder) Close() error {
	return c.client.Close()
}
