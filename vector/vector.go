package vector

import (
	"context"
	"errors"
	"time"
)

var (
	ErrIndexNotReady      = errors.New("index not ready")
	ErrDimensionMismatch  = errors.New("dimension mismatch")
	ErrUnsupportedMetric  = errors.New("unsupported metric")
	ErrUnsupportedBackend = errors.New("unsupported vector backend")
	ErrInvalidK           = errors.New("k must be a positive integer")
)

type Metric string

const (
	MetricCosine Metric = "cosine"
)

type Backend string

const (
	BackendChromem Backend = "chromem"
	BackendQdrant  Backend = "qdrant"
	BackendSQLite  Backend = "sqlite"
)

type QdrantConfig struct {
	URL    string `yaml:"url" toml:"url"`
	APIKey string `yaml:"apiKey" toml:"api_key"`
}

type Config struct {
	Backend       Backend       `yaml:"backend" toml:"backend"`
	Persistent    bool          `yaml:"persistent" toml:"persistent"`
	Path          string        `yaml:"path" toml:"path"`
	Collection    string        `yaml:"collection" toml:"collection"`
	Dimension     int           `yaml:"dimension" toml:"dimension"`
	Metric        Metric        `yaml:"metric" toml:"metric"`
	BatchSize     int           `yaml:"batchSize" toml:"batch_size"`
	ReadyTimeout  time.Duration `yaml:"readyTimeout" toml:"ready_timeout"`
	ReadyInterval time.Duration `yaml:"readyInterval" toml:"ready_interval"`
	Qdrant        QdrantConfig  `yaml:"qdrant" toml:"qdrant"`
}

// Index is a set of named collections of embedded chunks.
//
// Rebuild is destructive and exclusive: concurrent ingestion runs against
// the same collection name interleave and the last rebuild wins.
type Index interface {
	// Rebuild drops the named collection (if any) and creates an empty one,
	// returning once the backing store accepts writes.
	Rebuild(ctx context.Context, name string, dimension int, metric Metric) error

	// Upsert writes records in batches. A failed batch does not roll back
	// the batches before it.
	Upsert(ctx context.Context, name string, records []Record) error

	// Query returns at most k records ordered by descending similarity.
	// A missing or empty collection yields an empty result.
	Query(ctx context.Context, name string, vector []float32, k int) ([]Result, error)

	// Delete removes the named collection. Deleting a missing collection is a no-op.
	Delete(ctx context.Context, name string) error
}

type Metadata struct {
	SourcePath string `json:"source_path"`
	Sequence   int    `json:"sequence"`
	Revision   string `json:"revision,omitempty"`
}

// Record is the embedding of a single chunk.
type Record struct {
	ID       string    `json:"id"`
	Vector   []float32 `json:"vector"`
	Content  string    `json:"content"`
	Metadata Metadata  `json:"metadata"`
}

type Result struct {
	ID       string   `json:"id"`
	Content  string   `json:"content"`
	Score    float32  `json:"score"`
	Metadata Metadata `json:"metadata"`
}
