package source

import (
	"context"
	"errors"
	"path"
	"strings"
)

var (
	ErrFetch = errors.New("fetch failed")
)

const (
	DefaultBranch      = "master"
	DefaultMaxFileSize = 1 << 20
)

var DefaultExtensions = []string{
	".py", ".js", ".jsx", ".ts", ".tsx", ".md", ".json", ".html", ".css",
}

type Config struct {
	RepoURL     string   `yaml:"repoURL" toml:"repo_url"`
	LocalPath   string   `yaml:"localPath" toml:"local_path"`
	Branch      string   `yaml:"branch" toml:"branch"`
	Extensions  []string `yaml:"extensions" toml:"extensions"`
	Refresh     bool     `yaml:"refresh" toml:"refresh"`
	MaxFileSize int64    `yaml:"maxFileSize" toml:"max_file_size"`
	Depth       int      `yaml:"depth" toml:"depth"`
}

// Document is one tracked text file of the working copy.
type Document struct {
	Path     string `json:"path"`
	Content  string `json:"content"`
	Revision string `json:"revision"`
}

// Fetcher produces the documents of a repository. On failure it returns an
// empty slice together with an error wrapping ErrFetch.
type Fetcher interface {
	Fetch(ctx context.Context) ([]Document, error)
}

type extensionFilter map[string]struct{}

func newExtensionFilter(extensions []string) extensionFilter {
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}

	filter := make(extensionFilter, len(extensions))
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}

		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}

		filter[ext] = struct{}{}
	}

	return filter
}

func (f extensionFilter) Allow(name string) bool {
	_, ok := f[strings.ToLower(path.Ext(name))]
	return ok
}
