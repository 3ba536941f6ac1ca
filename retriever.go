package repochat

import (
	"context"
	"fmt"

	"github.com/flarexio/repochat/embedding"
	"github.com/flarexio/repochat/vector"
)

// Retriever embeds a query with the same embedder used at ingestion and
// returns the nearest chunks of one collection.
type Retriever struct {
	embedder   embedding.Embedder
	index      vector.Index
	collection string
}

func NewRetriever(embedder embedding.Embedder, index vector.Index, collection string) *Retriever {
	return &Retriever{embedder, index, collection}
}

// Retrieve returns at most k results ordered by descending similarity.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) ([]vector.Result, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", ErrInvalidArgument, k)
	}

	v, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	return r.index.Query(ctx, r.collection, v, k)
}
