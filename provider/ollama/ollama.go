package ollama

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"go.uber.org/zap"

	"github.com/flarexio/repochat/embedding"
	"github.com/flarexio/repochat/llm"
)

const (
	DefaultServerURL      = "http://localhost:11434"
	DefaultEmbeddingModel = "nomic-embed-text"
	DefaultChatModel      = "llama3.2"
)

func newLLM(model, serverURL string, timeout time.Duration) (*ollama.LLM, error) {
	if serverURL == "" {
		serverURL = DefaultServerURL
	}

	return ollama.New(
		ollama.WithModel(model),
		ollama.WithServerURL(serverURL),
		ollama.WithHTTPClient(&http.Client{Timeout: timeout}),
	)
}

// Ollama reports an over-long prompt only through the error text.
func contextTooLarge(err error) bool {
	msg := strings.ToLower(err.Error())

	return strings.Contains(msg, "context length") ||
		strings.Contains(msg, "context window") ||
		strings.Contains(msg, "prompt too long")
}

type Embedder struct {
	embedder *embeddings.EmbedderImpl
	cfg      embedding.Config
	log      *zap.Logger
}

func NewEmbedder(cfg embedding.Config) (*Embedder, error) {
	if cfg.Model == "" {
		cfg.Model = DefaultEmbeddingModel
	}

	if cfg.BatchSize <= 0 {
		cfg.BatchSize = embedding.DefaultBatchSize
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = embedding.DefaultTimeout
	}

	client, err := newLLM(cfg.Model, cfg.BaseURL, cfg.Timeout)
	if err != nil {
		return nil, err
	}

	// Newlines carry structure in source code, keep them.
	e, err := embeddings.NewEmbedder(client,
		embeddings.WithBatchSize(cfg.BatchSize),
		embeddings.WithStripNewLines(false),
	)
	if err != nil {
		return nil, err
	}

	log := zap.L().With(
		zap.String("component", "embedding"),
		zap.String("provider", string(embedding.ProviderOllama)),
		zap.String("model", cfg.Model),
	)

	return &Embedder{e, cfg, log}, nil
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	v, err := e.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", embedding.ErrEmbedding, err)
	}

	return v, nil
}

func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, err := e.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", embedding.ErrEmbedding, err)
	}

	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d texts",
			embedding.ErrEmbedding, len(vectors), len(texts))
	}

	e.log.Debug("texts embedded", zap.Int("count", len(texts)))

	return vectors, nil
}

func (e *Embedder) Dimension() int {
	return e.cfg.Dimension
}

func (e *Embedder) Model() string {
	return "ollama/" + e.cfg.Model
}

type Completer struct {
	llm *ollama.LLM
	cfg llm.Config
	log *zap.Logger
}

func NewCompleter(cfg llm.Config) (*Completer, error) {
	if cfg.Model == "" {
		cfg.Model = DefaultChatModel
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = llm.DefaultTimeout
	}

	client, err := newLLM(cfg.Model, cfg.BaseURL, cfg.Timeout)
	if err != nil {
		return nil, err
	}

	log := zap.L().With(
		zap.String("component", "llm"),
		zap.String("provider", string(llm.ProviderOllama)),
		zap.String("model", cfg.Model),
	)

	return &Completer{client, cfg, log}, nil
}

func (c *Completer) Complete(ctx context.Context, prompt string) (string, error) {
	opts := make([]llms.CallOption, 0)
	if c.cfg.Temperature > 0 {
		opts = append(opts, llms.WithTemperature(float64(c.cfg.Temperature)))
	}

	if c.cfg.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(c.cfg.MaxTokens))
	}

	answer, err := llms.GenerateFromSinglePrompt(ctx, c.llm, prompt, opts...)
	if err != nil {
		if contextTooLarge(err) {
			return "", fmt.Errorf("%w: %w", llm.ErrContextTooLarge, err)
		}

		return "", fmt.Errorf("%w: %w", llm.ErrCompletion, err)
	}

	return answer, nil
}
