package repochat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/flarexio/repochat/chunker"
	"github.com/flarexio/repochat/embedding"
	"github.com/flarexio/repochat/source"
	"github.com/flarexio/repochat/vector"
)

type Ingester interface {
	Ingest(ctx context.Context, opts IngestOptions) (*IngestReport, error)
}

// Ingestor rebuilds the collection from the current repository snapshot.
// The previous index is left untouched when fetching, chunking or embedding
// fails.
type Ingestor struct {
	fetcher  source.Fetcher
	chunker  *chunker.Chunker
	embedder embedding.Embedder
	index    vector.Index
	cfg      vector.Config
	closers  []io.Closer
	log      *zap.Logger
}

func NewIngestor(cfg Config, fetcher source.Fetcher, embedder embedding.Embedder, index vector.Index) (*Ingestor, error) {
	c, err := chunker.New(cfg.Chunker)
	if err != nil {
		return nil, err
	}

	if cfg.Vector.Collection == "" {
		cfg.Vector.Collection = DefaultCollection
	}

	if cfg.Vector.Metric == "" {
		cfg.Vector.Metric = vector.MetricCosine
	}

	if cfg.Vector.Dimension <= 0 {
		cfg.Vector.Dimension = embedder.Dimension()
	}

	log := zap.L().With(
		zap.String("component", "ingest"),
		zap.String("collection", cfg.Vector.Collection),
	)

	return &Ingestor{
		fetcher:  fetcher,
		chunker:  c,
		embedder: embedder,
		index:    index,
		cfg:      cfg.Vector,
		closers:  closers(embedder, index),
		log:      log,
	}, nil
}

func (i *Ingestor) Ingest(ctx context.Context, opts IngestOptions) (*IngestReport, error) {
	start := time.Now()

	report := &IngestReport{
		Collection: i.cfg.Collection,
	}

	docs, err := i.fetcher.Fetch(ctx)
	if err != nil {
		return report, err
	}

	report.Documents = len(docs)
	if len(docs) > 0 {
		report.Revision = docs[0].Revision
	}

	if len(docs) == 0 {
		return report, ErrNoDocuments
	}

	chunks, skipped, err := i.chunker.SplitAll(ctx, docs)
	if err != nil {
		return report, err
	}

	report.Skipped = skipped
	report.Chunks = len(chunks)

	if len(chunks) == 0 {
		return report, fmt.Errorf("%w: every document was skipped", ErrNoDocuments)
	}

	if opts.MaxChunks > 0 && len(chunks) > opts.MaxChunks {
		i.log.Info("chunks capped",
			zap.Int("chunks", len(chunks)),
			zap.Int("max", opts.MaxChunks),
		)

		chunks = chunks[:opts.MaxChunks]
	}

	texts := make([]string, len(chunks))
	for n, chunk := range chunks {
		texts[n] = chunk.Text
	}

	vectors, err := i.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return report, err
	}

	if len(vectors) != len(chunks) {
		return report, fmt.Errorf("%w: got %d embeddings for %d chunks",
			embedding.ErrEmbedding, len(vectors), len(chunks))
	}

	records := make([]vector.Record, len(chunks))
	for n, chunk := range chunks {
		records[n] = vector.Record{
			ID:      chunk.ID,
			Vector:  vectors[n],
			Content: chunk.Text,
			Metadata: vector.Metadata{
				SourcePath: chunk.SourcePath,
				Sequence:   chunk.Sequence,
				Revision:   chunk.Revision,
			},
		}
	}

	// Checked before the rebuild so a mismatch keeps the old collection.
	if err := vector.CheckDimension(records, i.cfg.Dimension); err != nil {
		return report, err
	}

	if err := i.index.Rebuild(ctx, i.cfg.Collection, i.cfg.Dimension, i.cfg.Metric); err != nil {
		return report, err
	}

	if err := i.index.Upsert(ctx, i.cfg.Collection, records); err != nil {
		return report, err
	}

	report.Indexed = len(records)
	report.Duration = time.Since(start)

	i.log.Info("ingestion completed",
		zap.String("revision", report.Revision),
		zap.Int("documents", report.Documents),
		zap.Int("skipped", len(report.Skipped)),
		zap.Int("chunks", report.Chunks),
		zap.Int("indexed", report.Indexed),
		zap.Duration("duration", report.Duration),
	)

	return report, nil
}

func (i *Ingestor) Close() error {
	var errs []error
	for _, c := range i.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
