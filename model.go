package repochat

import (
	"errors"
	"time"

	"github.com/flarexio/repochat/cache/redis"
	"github.com/flarexio/repochat/chunker"
	"github.com/flarexio/repochat/embedding"
	"github.com/flarexio/repochat/llm"
	"github.com/flarexio/repochat/source"
	"github.com/flarexio/repochat/vector"
)

var (
	ErrInvalidArgument         = errors.New("invalid argument")
	ErrEmptyQuestion           = errors.New("no question provided")
	ErrNoDocuments             = errors.New("no documents to ingest")
	ErrUnsupportedConfigFormat = errors.New("unsupported config format")
	ErrMethodNotImplemented    = errors.New("method not implemented")
	ErrIndexNotShared          = errors.New("index is private to one process")
)

const (
	DefaultCollection    = "chat-with-codebase"
	DefaultDimension     = 768
	DefaultTopK          = 5
	DefaultContextBudget = 12000
	DefaultQueue         = "repochat.ingest"
)

type Config struct {
	Source    source.Config    `yaml:"source" toml:"source"`
	Chunker   chunker.Config   `yaml:"chunker" toml:"chunker"`
	Embedding embedding.Config `yaml:"embedding" toml:"embedding"`
	Vector    vector.Config    `yaml:"vector" toml:"vector"`
	LLM       llm.Config       `yaml:"llm" toml:"llm"`
	Retrieval RetrievalConfig  `yaml:"retrieval" toml:"retrieval"`
	Cache     CacheConfig      `yaml:"cache" toml:"cache"`
	Queue     QueueConfig      `yaml:"queue" toml:"queue"`
}

type RetrievalConfig struct {
	TopK int `yaml:"topK" toml:"top_k"`

	// ContextBudget caps the characters of retrieved text put into a
	// prompt. Negative values disable the cap.
	ContextBudget int `yaml:"contextBudget" toml:"context_budget"`
}

type CacheConfig struct {
	Redis redis.Config `yaml:"redis" toml:"redis"`
}

type QueueConfig struct {
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq" toml:"rabbitmq"`
}

type RabbitMQConfig struct {
	URL   string `yaml:"url" toml:"url"`
	Queue string `yaml:"queue" toml:"queue"`
}

type Source struct {
	Path     string  `json:"path"`
	Sequence int     `json:"sequence"`
	Score    float32 `json:"score"`
}

type Answer struct {
	Answer  string   `json:"answer"`
	Sources []Source `json:"sources,omitempty"`
}

type IngestOptions struct {
	// MaxChunks caps the number of indexed chunks; zero indexes all.
	MaxChunks int `json:"max_chunks,omitempty"`
}

type IngestReport struct {
	Collection string        `json:"collection"`
	Revision   string        `json:"revision,omitempty"`
	Documents  int           `json:"documents"`
	Skipped    []string      `json:"skipped,omitempty"`
	Chunks     int           `json:"chunks"`
	Indexed    int           `json:"indexed"`
	Duration   time.Duration `json:"duration"`
}
