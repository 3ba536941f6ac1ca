package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrEmbedding           = errors.New("embedding failed")
	ErrUnsupportedProvider = errors.New("unsupported embedding provider")
)

type Provider string

const (
	ProviderHash   Provider = "hash"
	ProviderOpenAI Provider = "openai"
	ProviderOllama Provider = "ollama"
)

const (
	DefaultBatchSize = 64
	DefaultTimeout   = 60 * time.Second
)

type Config struct {
	Provider  Provider `yaml:"provider" toml:"provider"`
	Model     string   `yaml:"model" toml:"model"`
	BaseURL   string   `yaml:"baseURL" toml:"base_url"`
	APIKey    string   `yaml:"apiKey" toml:"api_key"`
	Dimension int      `yaml:"dimension" toml:"dimension"`
	BatchSize int      `yaml:"batchSize" toml:"batch_size"`

	// Timeout bounds a single request to a remote provider.
	Timeout time.Duration `yaml:"timeout" toml:"timeout"`
}

// Embedder maps text to vectors of a fixed dimension. For a given Model the
// mapping is a pure function, so ingestion and queries must share one.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns one vector per text, in order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	Dimension() int
	Model() string
}

// EmbedInBatches splits texts into slices of at most size and concatenates
// the vectors fn returns for each of them.
func EmbedInBatches(ctx context.Context, texts []string, size int,
	fn func(ctx context.Context, batch []string) ([][]float32, error),
) ([][]float32, error) {
	if size <= 0 {
		size = DefaultBatchSize
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += size {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		end := min(start+size, len(texts))

		batch, err := fn(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}

		if len(batch) != end-start {
			return nil, fmt.Errorf("%w: got %d vectors for %d texts", ErrEmbedding, len(batch), end-start)
		}

		vectors = append(vectors, batch...)
	}

	return vectors, nil
}
