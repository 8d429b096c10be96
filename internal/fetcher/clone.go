package fetcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-git/go-git/v5"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/karrick/godirwalk"
	"github.com/rs/zerolog/log"

	"github.com/repoqa/repoqa/internal/filter"
	"github.com/repoqa/repoqa/pkg/models"
)

// Cloner collects repository files without the REST API, for repos too big
// for blob-by-blob download.
type Cloner interface {
	Collect(ctx context.Context, owner, repo string) ([]models.RawFile, int, error)
}

// GitCloner does a shallow single-branch clone into a temp directory and
// walks the result. The directory is removed on every exit path.
type GitCloner struct {
	Token string
}

// Collect returns the candidate files and the total number of regular files
// seen in the working tree.
func (c *GitCloner) Collect(ctx context.Context, owner, repo string) ([]models.RawFile, int, error) {
	dir, err := os.MkdirTemp("", "repoqa-clone-*")
	if err != nil {
		return nil, 0, fmt.Errorf("creating temp dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			log.Warn().Err(err).Str("dir", dir).Msg("failed to remove clone dir")
		}
	}()

	cloneURL := fmt.Sprintf("https://github.com/%s/%s.git", owner, repo)
	opts := &git.CloneOptions{
		URL:          cloneURL,
		Depth:        1,
		SingleBranch: true,
		Tags:         git.NoTags,
	}
	if c.Token != "" {
		opts.Auth = &githttp.BasicAuth{Username: "x-access-token", Password: c.Token}
	}

	log.Info().Str("repo", owner+"/"+repo).Msg("falling back to shallow clone")
	if _, err := git.PlainCloneContext(ctx, dir, false, opts); err != nil {
		return nil, 0, fmt.Errorf("cloning %s: %w", cloneURL, err)
	}

	var files []models.RawFile
	seen := 0
	walkErr := godirwalk.Walk(dir, &godirwalk.Options{
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de.IsDir() {
				if de.Name() == ".git" {
					return filepath.SkipDir
				}
				return nil
			}
			if !de.IsRegular() {
				return nil
			}
			seen++

			rel, err := filepath.Rel(dir, path)
			if err != nil {
				return nil
			}
			rel = filepath.ToSlash(rel)
			if !filter.AllowedPath(rel) {
				return nil
			}

			fi, err := os.Stat(path)
			if err != nil || fi.Size() > filter.MaxFileBytes {
				return nil
			}
			b, err := os.ReadFile(path)
			if err != nil {
				log.Warn().Err(err).Str("path", rel).Msg("failed to read file")
				return nil
			}
			files = append(files, models.RawFile{Path: rel, Content: b, SizeBytes: len(b)})
			return nil
		},
	})
	if walkErr != nil {
		return nil, 0, fmt.Errorf("walking clone: %w", walkErr)
	}
	return files, seen, nil
}
