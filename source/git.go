package source

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"go.uber.org/zap"
)

// NewGitFetcher returns a Fetcher that clones cfg.RepoURL into
// cfg.LocalPath when no working copy exists there yet. An existing copy is
// reused as is unless cfg.Refresh is set.
func NewGitFetcher(cfg Config) Fetcher {
	if cfg.Branch == "" {
		cfg.Branch = DefaultBranch
	}

	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = DefaultMaxFileSize
	}

	log := zap.L().With(
		zap.String("component", "source"),
		zap.String("path", cfg.LocalPath),
	)

	return &gitFetcher{
		cfg:    cfg,
		filter: newExtensionFilter(cfg.Extensions),
		log:    log,
	}
}

type gitFetcher struct {
	cfg    Config
	filter extensionFilter
	log    *zap.Logger
}

func (f *gitFetcher) Fetch(ctx context.Context) ([]Document, error) {
	repo, err := f.ensureLocalCopy(ctx)
	if err != nil {
		return []Document{}, fmt.Errorf("%w: %w", ErrFetch, err)
	}

	docs, err := f.documents(ctx, repo)
	if err != nil {
		return []Document{}, fmt.Errorf("%w: %w", ErrFetch, err)
	}

	return docs, nil
}

func (f *gitFetcher) branch() plumbing.ReferenceName {
	return plumbing.NewBranchReferenceName(f.cfg.Branch)
}

func (f *gitFetcher) ensureLocalCopy(ctx context.Context) (*git.Repository, error) {
	if f.cfg.LocalPath == "" {
		return nil, errors.New("local path is required")
	}

	repo, err := git.PlainOpen(f.cfg.LocalPath)
	if err == nil {
		f.log.Info("repository already exists")

		if f.cfg.Refresh {
			f.refresh(ctx, repo)
		}

		return repo, nil
	}

	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, err
	}

	if f.cfg.RepoURL == "" {
		return nil, errors.New("no working copy and no repository url configured")
	}

	log := f.log.With(
		zap.String("url", f.cfg.RepoURL),
		zap.String("branch", f.cfg.Branch),
	)

	log.Info("cloning repository")

	repo, err = git.PlainCloneContext(ctx, f.cfg.LocalPath, false, &git.CloneOptions{
		URL:           f.cfg.RepoURL,
		ReferenceName: f.branch(),
		SingleBranch:  true,
		Depth:         f.cfg.Depth,
	})
	if err != nil {
		log.Error("clone failed", zap.Error(err))
		return nil, err
	}

	log.Info("repository cloned")
	return repo, nil
}

// refresh pulls the configured branch. A failed pull leaves the stale copy
// in place.
func (f *gitFetcher) refresh(ctx context.Context, repo *git.Repository) {
	log := f.log.With(zap.String("action", "refresh"))

	wt, err := repo.Worktree()
	if err != nil {
		log.Warn("using stale working copy", zap.Error(err))
		return
	}

	err = wt.PullContext(ctx, &git.PullOptions{
		RemoteName:    git.DefaultRemoteName,
		ReferenceName: f.branch(),
		SingleBranch:  true,
	})

	switch {
	case err == nil:
		log.Info("working copy updated")
	case errors.Is(err, git.NoErrAlreadyUpToDate):
		log.Debug("working copy up to date")
	default:
		log.Warn("using stale working copy", zap.Error(err))
	}
}

// head resolves the configured branch, falling back to HEAD for copies that
// were checked out some other way.
func (f *gitFetcher) head(repo *git.Repository) (*plumbing.Reference, error) {
	ref, err := repo.Reference(f.branch(), true)
	if err == nil {
		return ref, nil
	}

	return repo.Head()
}

func (f *gitFetcher) documents(ctx context.Context, repo *git.Repository) ([]Document, error) {
	ref, err := f.head(repo)
	if err != nil {
		return nil, err
	}

	commit, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, err
	}

	files, err := commit.Files()
	if err != nil {
		return nil, err
	}

	revision := ref.Hash().String()
	docs := make([]Document, 0)

	err = files.ForEach(func(file *object.File) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		if !f.filter.Allow(file.Name) {
			return nil
		}

		log := f.log.With(zap.String("file", file.Name))

		if file.Size > f.cfg.MaxFileSize {
			log.Debug("file too large", zap.Int64("size", file.Size))
			return nil
		}

		binary, err := file.IsBinary()
		if err != nil || binary {
			log.Debug("binary file skipped")
			return nil
		}

		content, err := file.Contents()
		if err != nil {
			log.Warn("unreadable file skipped", zap.Error(err))
			return nil
		}

		if !utf8.ValidString(content) {
			log.Debug("non utf-8 file skipped")
			return nil
		}

		docs = append(docs, Document{
			Path:     file.Name,
			Content:  content,
			Revision: revision,
		})

		return nil
	})
	if err != nil {
		return nil, err
	}

	f.log.Info("documents loaded",
		zap.String("revision", revision),
		zap.Int("count", len(docs)),
	)

	return docs, nil
}
