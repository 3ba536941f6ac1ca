package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

const hashModel = "feature-hash-v1"

// HashEmbedder is an offline embedder that hashes lowercase word tokens
// into buckets. Texts sharing words land close together, which is enough
// for tests and demos without a model server.
type HashEmbedder struct {
	dim int
}

func NewHashEmbedder(dimension int) (*HashEmbedder, error) {
	if dimension < 2 {
		return nil, fmt.Errorf("%w: hash embedder needs at least 2 dimensions, got %d", ErrEmbedding, dimension)
	}

	return &HashEmbedder{dim: dimension}, nil
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func (e *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dim)

	// Bucket 0 is a constant bias so that no text maps to the zero vector.
	vec[0] = 0.1

	for _, token := range tokenize(text) {
		h := fnv.New64a()
		h.Write([]byte(token))
		sum := h.Sum64()

		bucket := 1 + int(sum%uint64(e.dim-1))

		sign := float32(1)
		if sum>>63 == 1 {
			sign = -1
		}

		vec[bucket] += sign
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}

	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}

	return vec, nil
}

func (e *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := e.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embedding text %d: %w", i, err)
		}

		vectors[i] = v
	}

	return vectors, nil
}

func (e *HashEmbedder) Dimension() int {
	return e.dim
}

func (e *HashEmbedder) Model() string {
	return hashModel
}
