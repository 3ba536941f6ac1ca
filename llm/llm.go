package llm

import (
	"context"
	"errors"
	"time"
)

var (
	ErrContextTooLarge     = errors.New("prompt exceeds the model context window")
	ErrCompletion          = errors.New("completion failed")
	ErrUnsupportedProvider = errors.New("unsupported llm provider")
)

type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderOllama Provider = "ollama"
	ProviderEcho   Provider = "echo"
)

const DefaultTimeout = 2 * time.Minute

type Config struct {
	Provider    Provider `yaml:"provider" toml:"provider"`
	Model       string   `yaml:"model" toml:"model"`
	BaseURL     string   `yaml:"baseURL" toml:"base_url"`
	APIKey      string   `yaml:"apiKey" toml:"api_key"`
	Temperature float32  `yaml:"temperature" toml:"temperature"`
	MaxTokens   int      `yaml:"maxTokens" toml:"max_tokens"`

	// Timeout bounds a single request to a remote provider.
	Timeout time.Duration `yaml:"timeout" toml:"timeout"`
}

// Completer turns a prompt into a single answer.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// CompleterFunc adapts a function to the Completer interface.
type CompleterFunc func(ctx context.Context, prompt string) (string, error)

func (f CompleterFunc) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}
