package fetcher

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/repoqa/repoqa/internal/filter"
	"github.com/repoqa/repoqa/pkg/models"
)

// Strategy thresholds for choosing API download over a shallow clone.
const (
	maxAPIFiles  = 1000
	maxAPISizeKB = 50 * 1024
	blobParallel = 20
)

// MetaCache memoizes repository metadata lookups. Implemented by
// cache.Cache; nil disables caching.
type MetaCache interface {
	GetJSON(ctx context.Context, key string, out any) (bool, error)
	SetJSON(ctx context.Context, key string, v any) error
}

// Result is the outcome of fetching one repository.
type Result struct {
	Files        []models.RawFile
	Meta         models.RepoMeta
	UsedFallback bool
}

// Fetcher downloads the files of a GitHub repository, preferring blob-by-blob
// API download for small repos and falling back to a shallow clone.
type Fetcher struct {
	API       GitHubAPI
	Cloner    Cloner
	MetaCache MetaCache
}

// New builds a Fetcher authenticated with token (empty for anonymous).
func New(ctx context.Context, token string, metaCache MetaCache) *Fetcher {
	return &Fetcher{
		API:       NewGitHubClient(ctx, token),
		Cloner:    &GitCloner{Token: token},
		MetaCache: metaCache,
	}
}

// Fetch downloads the repository named by rawURL.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (Result, error) {
	owner, repo, err := ParseGitHubURL(rawURL)
	if err != nil {
		return Result{}, err
	}

	meta, err := f.Meta(ctx, owner, repo)
	if err != nil {
		return Result{}, err
	}

	entries, truncated, treeErr := f.API.Tree(ctx, owner, repo, meta.DefaultBranch)
	if treeErr != nil || truncated || len(entries) > maxAPIFiles || meta.SizeKB > maxAPISizeKB {
		if treeErr != nil {
			log.Warn().Err(treeErr).Str("repo", meta.RepoID).Msg("tree listing failed, using clone fallback")
		} else {
			log.Info().
				Str("repo", meta.RepoID).
				Int("files", len(entries)).
				Int("size_kb", meta.SizeKB).
				Bool("truncated", truncated).
				Msg("repo too large for API download, using clone fallback")
		}
		files, seen, err := f.Cloner.Collect(ctx, owner, repo)
		if err != nil {
			return Result{}, err
		}
		meta.FileCount = seen
		return Result{Files: files, Meta: meta, UsedFallback: true}, nil
	}

	meta.FileCount = len(entries)
	files := f.fetchBlobs(ctx, owner, repo, meta.DefaultBranch, entries)
	return Result{Files: files, Meta: meta}, nil
}

// HeadCommit resolves the current head commit of branch. Failures are
// tolerated: the caller proceeds without a commit hash and the store falls
// back to per-chunk upserts.
func (f *Fetcher) HeadCommit(ctx context.Context, owner, repo, branch string) string {
	sha, err := f.API.HeadCommit(ctx, owner, repo, branch)
	if err != nil {
		log.Warn().Err(err).Str("repo", owner+"/"+repo).Msg("failed to resolve head commit")
		return ""
	}
	return sha
}

// fetchBlobs downloads tree entries that pass the path rules and the
// per-file size cap, at most blobParallel in flight. Per-file failures are
// logged and skipped, never fatal to the repo.
func (f *Fetcher) fetchBlobs(ctx context.Context, owner, repo, branch string, entries []TreeEntry) []models.RawFile {
	wanted := make([]TreeEntry, 0, len(entries))
	for _, e := range entries {
		if !filter.AllowedPath(e.Path) || e.Size > filter.MaxFileBytes {
			continue
		}
		wanted = append(wanted, e)
	}

	results := make([]*models.RawFile, len(wanted))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(blobParallel)
	for i, e := range wanted {
		i, e := i, e
		g.Go(func() error {
			b, err := f.API.FileContent(gctx, owner, repo, e.Path, branch)
			if err != nil {
				log.Warn().Err(err).Str("path", e.Path).Msg("skipping file, blob fetch failed")
				return nil
			}
			results[i] = &models.RawFile{Path: e.Path, Content: b, SizeBytes: len(b)}
			return nil
		})
	}
	_ = g.Wait()

	files := make([]models.RawFile, 0, len(wanted))
	for _, r := range results {
		if r != nil {
			files = append(files, *r)
		}
	}
	return files
}

// Meta returns repository metadata, served from the cache when possible.
func (f *Fetcher) Meta(ctx context.Context, owner, repo string) (models.RepoMeta, error) {
	key := fmt.Sprintf("repometa:%s/%s", owner, repo)
	if f.MetaCache != nil {
		var m models.RepoMeta
		if ok, err := f.MetaCache.GetJSON(ctx, key, &m); err == nil && ok {
			return m, nil
		}
	}

	m, err := f.API.RepoMeta(ctx, owner, repo)
	if err != nil {
		return models.RepoMeta{}, err
	}

	if f.MetaCache != nil {
		if err := f.MetaCache.SetJSON(ctx, key, m); err != nil {
			log.Warn().Err(err).Str("repo", m.RepoID).Msg("failed to cache repo metadata")
		}
	}
	return m, nil
}
