package repochat

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/flarexio/repochat/cache/redis"
	"github.com/flarexio/repochat/embedding"
	"github.com/flarexio/repochat/llm"
	"github.com/flarexio/repochat/persistence/chromem"
	"github.com/flarexio/repochat/persistence/qdrant"
	"github.com/flarexio/repochat/persistence/sqlite"
	"github.com/flarexio/repochat/provider/ollama"
	"github.com/flarexio/repochat/provider/openai"
	"github.com/flarexio/repochat/vector"
)

func NewIndex(cfg vector.Config) (vector.Index, error) {
	switch cfg.Backend {
	case vector.BackendChromem, "":
		return chromem.NewChromemIndex(cfg)

	case vector.BackendQdrant:
		return qdrant.NewQdrantIndex(cfg)

	case vector.BackendSQLite:
		return sqlite.NewSQLiteIndex(cfg)

	default:
		return nil, fmt.Errorf("%w: %s", vector.ErrUnsupportedBackend, cfg.Backend)
	}
}

// NewEmbedder builds the configured embedder, wrapped in the redis cache
// when enabled. An unreachable redis disables the cache rather than
// failing.
func NewEmbedder(ctx context.Context, cfg Config) (embedding.Embedder, error) {
	var (
		e   embedding.Embedder
		err error
	)

	switch cfg.Embedding.Provider {
	case embedding.ProviderHash, "":
		e, err = embedding.NewHashEmbedder(cfg.Embedding.Dimension)

	case embedding.ProviderOpenAI:
		e, err = openai.NewEmbedder(cfg.Embedding)

	case embedding.ProviderOllama:
		e, err = ollama.NewEmbedder(cfg.Embedding)

	default:
		err = fmt.Errorf("%w: %s", embedding.ErrUnsupportedProvider, cfg.Embedding.Provider)
	}

	if err != nil {
		return nil, err
	}

	if !cfg.Cache.Redis.Enabled {
		return e, nil
	}

	client, err := redis.NewClient(ctx, cfg.Cache.Redis)
	if err != nil {
		zap.L().Warn("embedding cache disabled",
			zap.String("addr", cfg.Cache.Redis.Addr),
			zap.Error(err),
		)

		return e, nil
	}

	return redis.NewCachedEmbedder(e, client, cfg.Cache.Redis.TTL), nil
}

func NewCompleter(cfg llm.Config) (llm.Completer, error) {
	switch cfg.Provider {
	case llm.ProviderEcho, "":
		return llm.NewEchoCompleter(), nil

	case llm.ProviderOpenAI:
		return openai.NewCompleter(cfg)

	case llm.ProviderOllama:
		return ollama.NewCompleter(cfg)

	default:
		return nil, fmt.Errorf("%w: %s", llm.ErrUnsupportedProvider, cfg.Provider)
	}
}
