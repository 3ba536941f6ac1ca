package repochat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/flarexio/repochat/embedding"
	"github.com/flarexio/repochat/llm"
	"github.com/flarexio/repochat/vector"
)

const HealthMessage = "RepoChat server is connected!"

type Service interface {
	Close() error

	// Ask answers a question from the indexed repository.
	Ask(ctx context.Context, question string) (*Answer, error)

	// Search returns the chunks nearest to query. Without k the configured
	// top k is used.
	Search(ctx context.Context, query string, k ...int) ([]vector.Result, error)

	Health(ctx context.Context) (string, error)
}

type ServiceMiddleware func(Service) Service

func NewService(cfg Config, embedder embedding.Embedder, index vector.Index, completer llm.Completer) (Service, error) {
	if embedder == nil || index == nil || completer == nil {
		return nil, fmt.Errorf("%w: embedder, index and completer are required", ErrInvalidArgument)
	}

	topK := cfg.Retrieval.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}

	collection := cfg.Vector.Collection
	if collection == "" {
		collection = DefaultCollection
	}

	return &service{
		retriever: NewRetriever(embedder, index, collection),
		composer:  NewComposer(cfg.Retrieval.ContextBudget),
		completer: completer,
		topK:      topK,
		closers:   closers(embedder, index, completer),
	}, nil
}

type service struct {
	retriever *Retriever
	composer  *Composer
	completer llm.Completer
	topK      int
	closers   []io.Closer
}

func (svc *service) Ask(ctx context.Context, question string) (*Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}

	results, err := svc.retriever.Retrieve(ctx, question, svc.topK)
	if err != nil {
		return nil, err
	}

	prompt, used, err := svc.composer.Compose(question, results)
	if err != nil {
		return nil, err
	}

	answer, err := svc.completer.Complete(ctx, prompt)
	if err != nil {
		return nil, err
	}

	sources := make([]Source, len(used))
	for i, r := range used {
		sources[i] = Source{
			Path:     r.Metadata.SourcePath,
			Sequence: r.Metadata.Sequence,
			Score:    r.Score,
		}
	}

	return &Answer{
		Answer:  answer,
		Sources: sources,
	}, nil
}

func (svc *service) Search(ctx context.Context, query string, k ...int) ([]vector.Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: empty query", ErrInvalidArgument)
	}

	limit := svc.topK
	if len(k) > 0 {
		limit = k[0]
	}

	return svc.retriever.Retrieve(ctx, query, limit)
}

func (svc *service) Health(ctx context.Context) (string, error) {
	return HealthMessage, nil
}

func (svc *service) Close() error {
	var errs []error
	for _, c := range svc.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func closers(components ...any) []io.Closer {
	cs := make([]io.Closer, 0)
	for _, c := range components {
		if closer, ok := c.(io.Closer); ok {
			cs = append(cs, closer)
		}
	}

	return cs
}
