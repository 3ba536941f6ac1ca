package repochat

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/flarexio/repochat/cache/redis"
	"github.com/flarexio/repochat/embedding"
	"github.com/flarexio/repochat/llm"
	"github.com/flarexio/repochat/source"
	"github.com/flarexio/repochat/vector"
)

var configFiles = []string{"config.yaml", "config.yml", "config.toml"}

// LoadConfig reads the configuration at path, which is either a config file
// or a directory holding one of config.yaml, config.yml or config.toml.
// Relative storage paths are resolved against that directory.
func LoadConfig(path string) (*Config, error) {
	file, dir, err := resolveConfigFile(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	switch filepath.Ext(file) {
	case ".yaml", ".yml":
		if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", file, err)
		}

	case ".toml":
		if _, err := toml.NewDecoder(f).Decode(&cfg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", file, err)
		}

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedConfigFormat, file)
	}

	cfg.ApplyDefaults(dir)
	cfg.ApplyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func resolveConfigFile(path string) (file string, dir string, err error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", "", err
	}

	if !info.IsDir() {
		return path, filepath.Dir(path), nil
	}

	for _, name := range configFiles {
		file := filepath.Join(path, name)
		if _, err := os.Stat(file); err == nil {
			return file, path, nil
		}
	}

	return "", "", fmt.Errorf("no config file found in %s", path)
}

// ApplyDefaults fills unset fields. Relative paths are joined to dir when
// dir is not empty.
func (cfg *Config) ApplyDefaults(dir string) {
	if cfg.Source.Branch == "" {
		cfg.Source.Branch = source.DefaultBranch
	}

	if len(cfg.Source.Extensions) == 0 {
		cfg.Source.Extensions = source.DefaultExtensions
	}

	if cfg.Source.MaxFileSize <= 0 {
		cfg.Source.MaxFileSize = source.DefaultMaxFileSize
	}

	if cfg.Source.LocalPath == "" {
		cfg.Source.LocalPath = "target_repo"
	}

	if cfg.Chunker.ChunkSize == 0 {
		cfg.Chunker.ChunkSize = 1000
		if cfg.Chunker.ChunkOverlap == 0 {
			cfg.Chunker.ChunkOverlap = 200
		}
	}

	if cfg.Vector.Backend == "" {
		cfg.Vector.Backend = vector.BackendChromem
	}

	if cfg.Vector.Collection == "" {
		cfg.Vector.Collection = DefaultCollection
	}

	if cfg.Vector.Dimension == 0 {
		cfg.Vector.Dimension = cfg.Embedding.Dimension
	}

	if cfg.Vector.Dimension == 0 {
		cfg.Vector.Dimension = DefaultDimension
	}

	if cfg.Embedding.Dimension == 0 {
		cfg.Embedding.Dimension = cfg.Vector.Dimension
	}

	if cfg.Vector.Metric == "" {
		cfg.Vector.Metric = vector.MetricCosine
	}

	if cfg.Vector.BatchSize <= 0 {
		cfg.Vector.BatchSize = vector.DefaultBatchSize
	}

	if cfg.Vector.ReadyTimeout <= 0 {
		cfg.Vector.ReadyTimeout = vector.DefaultReadyTimeout
	}

	if cfg.Vector.ReadyInterval <= 0 {
		cfg.Vector.ReadyInterval = vector.DefaultReadyInterval
	}

	if cfg.Vector.Path == "" {
		switch cfg.Vector.Backend {
		case vector.BackendSQLite:
			cfg.Vector.Path = "vectors.db"
		default:
			cfg.Vector.Path = "vectors"
		}
	}

	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = embedding.ProviderHash
	}

	if cfg.Embedding.Timeout <= 0 {
		cfg.Embedding.Timeout = embedding.DefaultTimeout
	}

	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = llm.ProviderEcho
	}

	if cfg.LLM.Timeout <= 0 {
		cfg.LLM.Timeout = llm.DefaultTimeout
	}

	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = DefaultTopK
	}

	if cfg.Retrieval.ContextBudget == 0 {
		cfg.Retrieval.ContextBudget = DefaultContextBudget
	}

	if cfg.Cache.Redis.Addr == "" {
		cfg.Cache.Redis.Addr = "localhost:6379"
	}

	if cfg.Cache.Redis.TTL <= 0 {
		cfg.Cache.Redis.TTL = redis.DefaultTTL
	}

	if cfg.Queue.RabbitMQ.Queue == "" {
		cfg.Queue.RabbitMQ.Queue = DefaultQueue
	}

	if dir != "" {
		cfg.Source.LocalPath = resolve(dir, cfg.Source.LocalPath)
		cfg.Vector.Path = resolve(dir, cfg.Vector.Path)
	}
}

func resolve(dir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}

	return filepath.Join(dir, path)
}

// ApplyEnv overrides secrets and the repository URL from the environment.
func (cfg *Config) ApplyEnv() {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		if cfg.Embedding.Provider == embedding.ProviderOpenAI {
			cfg.Embedding.APIKey = key
		}

		if cfg.LLM.Provider == llm.ProviderOpenAI {
			cfg.LLM.APIKey = key
		}
	}

	if key := os.Getenv("QDRANT_API_KEY"); key != "" {
		cfg.Vector.Qdrant.APIKey = key
	}

	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.Cache.Redis.Password = password
	}

	if url := os.Getenv("RABBITMQ_URL"); url != "" {
		cfg.Queue.RabbitMQ.URL = url
	}

	if url := os.Getenv("REPOCHAT_REPO_URL"); url != "" {
		cfg.Source.RepoURL = url
	}
}

func (cfg *Config) Validate() error {
	var errs []error

	if err := cfg.Chunker.Validate(); err != nil {
		errs = append(errs, err)
	}

	switch cfg.Vector.Backend {
	case vector.BackendChromem, vector.BackendQdrant, vector.BackendSQLite:
	default:
		errs = append(errs, fmt.Errorf("%w: %s", vector.ErrUnsupportedBackend, cfg.Vector.Backend))
	}

	if cfg.Vector.Metric != vector.MetricCosine {
		errs = append(errs, fmt.Errorf("%w: %s", vector.ErrUnsupportedMetric, cfg.Vector.Metric))
	}

	if cfg.Vector.Dimension <= 0 {
		errs = append(errs, fmt.Errorf("%w: vector dimension %d", ErrInvalidArgument, cfg.Vector.Dimension))
	}

	if cfg.Embedding.Dimension != cfg.Vector.Dimension {
		errs = append(errs, fmt.Errorf("%w: embedding dimension %d, index dimension %d",
			vector.ErrDimensionMismatch, cfg.Embedding.Dimension, cfg.Vector.Dimension))
	}

	switch cfg.Embedding.Provider {
	case embedding.ProviderHash, embedding.ProviderOpenAI, embedding.ProviderOllama:
	default:
		errs = append(errs, fmt.Errorf("%w: %s", embedding.ErrUnsupportedProvider, cfg.Embedding.Provider))
	}

	switch cfg.LLM.Provider {
	case llm.ProviderEcho, llm.ProviderOpenAI, llm.ProviderOllama:
	default:
		errs = append(errs, fmt.Errorf("%w: %s", llm.ErrUnsupportedProvider, cfg.LLM.Provider))
	}

	if cfg.Retrieval.TopK <= 0 {
		errs = append(errs, fmt.Errorf("%w: top k %d", ErrInvalidArgument, cfg.Retrieval.TopK))
	}

	return errors.Join(errs...)
}

// RequireSharedIndex fails when the configured index cannot be seen by other
// processes, which rules out ingesting through the queue.
func (cfg *Config) RequireSharedIndex() error {
	if cfg.Vector.Backend == vector.BackendChromem && !cfg.Vector.Persistent {
		return fmt.Errorf("%w: in-memory chromem, set vector.persistent or use the qdrant or sqlite backend",
			ErrIndexNotShared)
	}

	return nil
}
