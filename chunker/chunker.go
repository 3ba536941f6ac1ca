package chunker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/flarexio/repochat/source"
)

var (
	ErrChunking     = errors.New("chunking failed")
	ErrInvalidSizes = errors.New("invalid chunk size or overlap")
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

type Config struct {
	ChunkSize    int `yaml:"chunkSize" toml:"chunk_size"`
	ChunkOverlap int `yaml:"chunkOverlap" toml:"chunk_overlap"`
	Workers      int `yaml:"workers" toml:"workers"`
}

func (cfg Config) Validate() error {
	if cfg.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk size %d", ErrInvalidSizes, cfg.ChunkSize)
	}

	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		return fmt.Errorf("%w: overlap %d with chunk size %d",
			ErrInvalidSizes, cfg.ChunkOverlap, cfg.ChunkSize)
	}

	return nil
}

// Chunk is a bounded slice of a document. Sizes are counted in runes.
type Chunk struct {
	ID               string `json:"id"`
	Text             string `json:"text"`
	SourcePath       string `json:"source_path"`
	Sequence         int    `json:"sequence"`
	OverlapPrefixLen int    `json:"overlap_prefix_len"`
	Revision         string `json:"revision,omitempty"`
}

// ChunkID derives a stable identifier from the document revision, path and
// position of a chunk.
func ChunkID(revision, path string, sequence int) string {
	sum := sha256.Sum256([]byte(revision + "|" + path + "|" + strconv.Itoa(sequence)))
	return "chunk_" + hex.EncodeToString(sum[:12])
}

type Chunker struct {
	cfg Config
	log *zap.Logger
}

func New(cfg Config) (*Chunker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}

	return &Chunker{
		cfg: cfg,
		log: zap.L().With(zap.String("component", "chunker")),
	}, nil
}

// Split cuts one document into chunks. Consecutive chunks share exactly
// ChunkOverlap runes; only the last chunk may be shorter than ChunkSize.
func (c *Chunker) Split(doc source.Document) ([]Chunk, error) {
	if !utf8.ValidString(doc.Content) {
		return nil, fmt.Errorf("%w: %s is not valid utf-8", ErrChunking, doc.Path)
	}

	text := []rune(doc.Content)
	if len(text) == 0 {
		return []Chunk{}, nil
	}

	var (
		size     = c.cfg.ChunkSize
		overlap  = c.cfg.ChunkOverlap
		strategy = StrategyFor(doc.Path)
		chunks   = make([]Chunk, 0, len(text)/(size-overlap)+1)
	)

	emit := func(start, end int) {
		seq := len(chunks)

		prefix := 0
		if seq > 0 {
			prefix = overlap
		}

		chunks = append(chunks, Chunk{
			ID:               ChunkID(doc.Revision, doc.Path, seq),
			Text:             string(text[start:end]),
			SourcePath:       doc.Path,
			Sequence:         seq,
			OverlapPrefixLen: prefix,
			Revision:         doc.Revision,
		})
	}

	start := 0
	for len(text)-start > size {
		// The cut must leave more than the overlap behind, otherwise the
		// next window would not advance.
		lo := start + overlap + (size-overlap)/2
		lo = max(lo, start+overlap+1)
		hi := start + size

		end := strategy.cut(text, lo, hi)
		emit(start, end)

		start = end - overlap
	}

	emit(start, len(text))

	return chunks, nil
}

// SplitAll splits documents in parallel and returns chunks in document
// order. Documents that fail to split are logged and reported as skipped.
func (c *Chunker) SplitAll(ctx context.Context, docs []source.Document) ([]Chunk, []string, error) {
	results := make([][]Chunk, len(docs))
	errs := make([]error, len(docs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Workers)

	for i, doc := range docs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			results[i], errs[i] = c.Split(doc)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	chunks := make([]Chunk, 0)
	skipped := make([]string, 0)

	for i, doc := range docs {
		if err := errs[i]; err != nil {
			c.log.Warn("document skipped",
				zap.String("path", doc.Path),
				zap.Error(err),
			)

			skipped = append(skipped, doc.Path)
			continue
		}

		chunks = append(chunks, results[i]...)
	}

	c.log.Info("documents split",
		zap.Int("documents", len(docs)),
		zap.Int("skipped", len(skipped)),
		zap.Int("chunks", len(chunks)),
	)

	return chunks, skipped, nil
}
