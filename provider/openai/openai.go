package openai

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"
	"time"

	sdk "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/flarexio/repochat/embedding"
	"github.com/flarexio/repochat/llm"
)

const (
	DefaultEmbeddingModel = "text-embedding-3-small"
	DefaultChatModel      = "gpt-4o-mini"
)

func newClient(apiKey, baseURL string, timeout time.Duration) (*sdk.Client, error) {
	if apiKey == "" && baseURL == "" {
		return nil, errors.New("openai api key is required")
	}

	cfg := sdk.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}

	cfg.HTTPClient = &http.Client{Timeout: timeout}

	return sdk.NewClientWithConfig(cfg), nil
}

type Embedder struct {
	client *sdk.Client
	cfg    embedding.Config
	log    *zap.Logger
}

func NewEmbedder(cfg embedding.Config) (*Embedder, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = embedding.DefaultTimeout
	}

	client, err := newClient(cfg.APIKey, cfg.BaseURL, cfg.Timeout)
	if err != nil {
		return nil, err
	}

	if cfg.Model == "" {
		cfg.Model = DefaultEmbeddingModel
	}

	log := zap.L().With(
		zap.String("component", "embedding"),
		zap.String("provider", string(embedding.ProviderOpenAI)),
		zap.String("model", cfg.Model),
	)

	return &Embedder{client, cfg, log}, nil
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}

	return vectors[0], nil
}

func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedding.EmbedInBatches(ctx, texts, e.cfg.BatchSize, e.embed)
}

func (e *Embedder) embed(ctx context.Context, texts []string) ([][]float32, error) {
	req := sdk.EmbeddingRequest{
		Input: texts,
		Model: sdk.EmbeddingModel(e.cfg.Model),
	}

	// Only the text-embedding-3 family can shorten its vectors.
	if e.cfg.Dimension > 0 && strings.HasPrefix(e.cfg.Model, "text-embedding-3") {
		req.Dimensions = e.cfg.Dimension
	}

	resp, err := e.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", embedding.ErrEmbedding, err)
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d texts",
			embedding.ErrEmbedding, len(resp.Data), len(texts))
	}

	sort.Slice(resp.Data, func(i, j int) bool {
		return resp.Data[i].Index < resp.Data[j].Index
	})

	vectors := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		v := make([]float32, len(d.Embedding))
		copy(v, d.Embedding)

		l2normalize(v)
		vectors[i] = v
	}

	e.log.Debug("texts embedded",
		zap.Int("count", len(texts)),
		zap.Int("total_tokens", resp.Usage.TotalTokens),
	)

	return vectors, nil
}

func (e *Embedder) Dimension() int {
	return e.cfg.Dimension
}

func (e *Embedder) Model() string {
	return "openai/" + e.cfg.Model
}

// l2normalize normalizes a vector to unit length
func l2normalize(v []float32) {
	var sum float32
	for _, x := range v {
		sum += x * x
	}
	if sum == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(float64(sum)))
	for i := range v {
		v[i] *= inv
	}
}

type Completer struct {
	client *sdk.Client
	cfg    llm.Config
	log    *zap.Logger
}

func NewCompleter(cfg llm.Config) (*Completer, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = llm.DefaultTimeout
	}

	client, err := newClient(cfg.APIKey, cfg.BaseURL, cfg.Timeout)
	if err != nil {
		return nil, err
	}

	if cfg.Model == "" {
		cfg.Model = DefaultChatModel
	}

	log := zap.L().With(
		zap.String("component", "llm"),
		zap.String("provider", string(llm.ProviderOpenAI)),
		zap.String("model", cfg.Model),
	)

	return &Completer{client, cfg, log}, nil
}

func (c *Completer) Complete(ctx context.Context, prompt string) (string, error) {
	req := sdk.ChatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []sdk.ChatCompletionMessage{
			{
				Role:    sdk.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		if contextTooLarge(err) {
			return "", fmt.Errorf("%w: %w", llm.ErrContextTooLarge, err)
		}

		return "", fmt.Errorf("%w: %w", llm.ErrCompletion, err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices returned", llm.ErrCompletion)
	}

	c.log.Debug("completion received",
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
	)

	return resp.Choices[0].Message.Content, nil
}

func contextTooLarge(err error) bool {
	var apiErr *sdk.APIError
	if !errors.As(err, &apiErr) {
		return false
	}

	if code, ok := apiErr.Code.(string); ok && code == "context_length_exceeded" {
		return true
	}

	return strings.Contains(apiErr.Message, "maximum context length")
}
