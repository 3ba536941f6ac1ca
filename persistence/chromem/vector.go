package chromem

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/flarexio/repochat/vector"
)

var errEmbeddingNotSupported = errors.New("chromem collection expects precomputed embeddings")

// generationFile sits next to the collection directories of a persistent
// index and changes on every write, so other processes sharing the path
// know to reload.
const generationFile = ".repochat-generation"

func NewChromemIndex(cfg vector.Config) (vector.Index, error) {
	if cfg.Persistent && cfg.Path == "" {
		cfg.Path = "chromem-go"
	}

	var db *chromem.DB
	if !cfg.Persistent {
		db = chromem.NewDB()
	} else {
		d, err := chromem.NewPersistentDB(cfg.Path, false)
		if err != nil {
			return nil, err
		}

		db = d
	}

	log := zap.L().With(
		zap.String("component", "vector"),
		zap.String("backend", string(vector.BackendChromem)),
	)

	idx := &chromemIndex{
		db:         db,
		dimensions: make(map[string]int),
		cfg:        cfg,
		log:        log,
	}

	if cfg.Persistent {
		generation, err := idx.readGeneration()
		if err != nil {
			return nil, err
		}

		idx.generation = generation
	}

	return idx, nil
}

type chromemIndex struct {
	db         *chromem.DB
	generation string
	dbMu       sync.RWMutex

	// Dimensions of collections rebuilt by this process. Collections loaded
	// from disk fall back to the configured dimension.
	dimensions map[string]int
	mu         sync.RWMutex

	cfg vector.Config
	log *zap.Logger
}

func (idx *chromemIndex) current() *chromem.DB {
	idx.dbMu.RLock()
	defer idx.dbMu.RUnlock()

	return idx.db
}

func (idx *chromemIndex) readGeneration() (string, error) {
	bs, err := os.ReadFile(filepath.Join(idx.cfg.Path, generationFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}

		return "", err
	}

	return string(bs), nil
}

// bump records a write to a persistent index.
func (idx *chromemIndex) bump() error {
	if !idx.cfg.Persistent {
		return nil
	}

	generation := uuid.NewString()

	path := filepath.Join(idx.cfg.Path, generationFile)
	if err := os.WriteFile(path, []byte(generation), 0o600); err != nil {
		return err
	}

	idx.dbMu.Lock()
	idx.generation = generation
	idx.dbMu.Unlock()

	return nil
}

// refresh reloads a persistent index written by another process. On a
// failed reload the loaded collections keep serving and the next query
// tries again.
func (idx *chromemIndex) refresh() {
	if !idx.cfg.Persistent {
		return
	}

	generation, err := idx.readGeneration()
	if err != nil {
		idx.log.Warn("read index generation failed", zap.Error(err))
		return
	}

	idx.dbMu.RLock()
	same := generation == idx.generation
	idx.dbMu.RUnlock()

	if same {
		return
	}

	db, err := chromem.NewPersistentDB(idx.cfg.Path, false)
	if err != nil {
		idx.log.Warn("reload index failed", zap.Error(err))
		return
	}

	idx.dbMu.Lock()
	idx.db = db
	idx.generation = generation
	idx.dbMu.Unlock()

	idx.mu.Lock()
	clear(idx.dimensions)
	idx.mu.Unlock()

	idx.log.Info("index reloaded", zap.String("generation", generation))
}

// Embeddings are always supplied by the caller, so the collection never
// needs to embed on its own.
func noEmbedding(ctx context.Context, text string) ([]float32, error) {
	return nil, errEmbeddingNotSupported
}

func (idx *chromemIndex) dimension(name string) int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if d, ok := idx.dimensions[name]; ok {
		return d
	}

	return idx.cfg.Dimension
}

func (idx *chromemIndex) Rebuild(ctx context.Context, name string, dimension int, metric vector.Metric) error {
	if metric != vector.MetricCosine {
		return fmt.Errorf("%w: %s", vector.ErrUnsupportedMetric, metric)
	}

	if err := idx.Delete(ctx, name); err != nil {
		return err
	}

	metadata := map[string]string{
		"dimension": strconv.Itoa(dimension),
		"metric":    string(metric),
	}

	db := idx.current()
	if _, err := db.CreateCollection(name, metadata, noEmbedding); err != nil {
		return err
	}

	idx.mu.Lock()
	idx.dimensions[name] = dimension
	idx.mu.Unlock()

	if err := idx.bump(); err != nil {
		return err
	}

	// An embedded collection is writable as soon as it exists.
	return vector.WaitReady(ctx, idx.cfg.ReadyInterval, idx.cfg.ReadyTimeout, func(ctx context.Context) (bool, error) {
		return db.GetCollection(name, noEmbedding) != nil, nil
	})
}

func (idx *chromemIndex) Upsert(ctx context.Context, name string, records []vector.Record) error {
	c := idx.current().GetCollection(name, noEmbedding)
	if c == nil {
		return fmt.Errorf("%w: collection %s does not exist", vector.ErrIndexNotReady, name)
	}

	if err := vector.CheckDimension(records, idx.dimension(name)); err != nil {
		return err
	}

	defer func() {
		if err := idx.bump(); err != nil {
			idx.log.Warn("record index generation failed", zap.Error(err))
		}
	}()

	return vector.Batch(records, idx.cfg.BatchSize, func(batch []vector.Record) error {
		docs := make([]chromem.Document, len(batch))
		for i, r := range batch {
			docs[i] = chromem.Document{
				ID:        r.ID,
				Metadata:  toMetadata(r.Metadata),
				Embedding: r.Vector,
				Content:   r.Content,
			}
		}

		if err := c.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
			return err
		}

		idx.log.Debug("batch upserted",
			zap.String("collection", name),
			zap.Int("count", len(batch)),
		)

		return nil
	})
}

func (idx *chromemIndex) Query(ctx context.Context, name string, v []float32, k int) ([]vector.Result, error) {
	if k <= 0 {
		return nil, vector.ErrInvalidK
	}

	idx.refresh()

	c := idx.current().GetCollection(name, noEmbedding)
	if c == nil {
		return []vector.Result{}, nil
	}

	if d := idx.dimension(name); len(v) != d {
		return nil, fmt.Errorf("%w: query has %d, index has %d", vector.ErrDimensionMismatch, len(v), d)
	}

	count := c.Count()
	if count == 0 {
		return []vector.Result{}, nil
	}

	if k > count {
		k = count
	}

	results, err := c.QueryEmbedding(ctx, v, k, nil, nil)
	if err != nil {
		return nil, err
	}

	out := make([]vector.Result, len(results))
	for i, result := range results {
		out[i] = vector.Result{
			ID:       result.ID,
			Content:  result.Content,
			Score:    result.Similarity,
			Metadata: fromMetadata(result.Metadata),
		}
	}

	return vector.TopK(out, k), nil
}

func (idx *chromemIndex) Delete(ctx context.Context, name string) error {
	db := idx.current()
	if db.GetCollection(name, noEmbedding) == nil {
		return nil
	}

	if err := db.DeleteCollection(name); err != nil {
		return err
	}

	idx.mu.Lock()
	delete(idx.dimensions, name)
	idx.mu.Unlock()

	return idx.bump()
}

func toMetadata(m vector.Metadata) map[string]string {
	metadata := map[string]string{
		"source_path": m.SourcePath,
		"sequence":    strconv.Itoa(m.Sequence),
	}

	if m.Revision != "" {
		metadata["revision"] = m.Revision
	}

	return metadata
}

func fromMetadata(metadata map[string]string) vector.Metadata {
	seq, _ := strconv.Atoi(metadata["sequence"])

	return vector.Metadata{
		SourcePath: metadata["source_path"],
		Sequence:   seq,
		Revision:   metadata["revision"],
	}
}
