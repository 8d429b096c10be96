package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/go-github/v62/github"
	"golang.org/x/oauth2"

	"github.com/repoqa/repoqa/pkg/models"
)

// TreeEntry is one blob in a repository tree listing.
type TreeEntry struct {
	Path string
	Size int
	SHA  string
}

// GitHubAPI is the slice of the GitHub REST surface the fetcher needs.
type GitHubAPI interface {
	RepoMeta(ctx context.Context, owner, repo string) (models.RepoMeta, error)
	Tree(ctx context.Context, owner, repo, branch string) ([]TreeEntry, bool, error)
	FileContent(ctx context.Context, owner, repo, path, ref string) ([]byte, error)
	HeadCommit(ctx context.Context, owner, repo, branch string) (string, error)
}

// GitHubClient implements GitHubAPI over the REST v3 API. An empty token
// gives unauthenticated access with its lower rate limit.
type GitHubClient struct {
	client *github.Client
}

func NewGitHubClient(ctx context.Context, token string) *GitHubClient {
	httpClient := &http.Client{Timeout: 30 * time.Second}
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		httpClient = oauth2.NewClient(ctx, ts)
	}
	return &GitHubClient{client: github.NewClient(httpClient)}
}

func (g *GitHubClient) RepoMeta(ctx context.Context, owner, repo string) (models.RepoMeta, error) {
	r, _, err := g.client.Repositories.Get(ctx, owner, repo)
	if err != nil {
		return models.RepoMeta{}, fmt.Errorf("fetching repo metadata: %w", err)
	}
	return models.RepoMeta{
		RepoID:        owner + "/" + repo,
		Owner:         owner,
		Name:          repo,
		DefaultBranch: r.GetDefaultBranch(),
		SizeKB:        r.GetSize(),
	}, nil
}

// Tree lists every blob reachable from branch. The second return reports
// whether GitHub truncated the listing, in which case the caller cannot
// trust the entry count.
func (g *GitHubClient) Tree(ctx context.Context, owner, repo, branch string) ([]TreeEntry, bool, error) {
	tree, _, err := g.client.Git.GetTree(ctx, owner, repo, branch, true)
	if err != nil {
		return nil, false, fmt.Errorf("fetching repo tree: %w", err)
	}

	entries := make([]TreeEntry, 0, len(tree.Entries))
	for _, e := range tree.Entries {
		if e.GetType() != "blob" {
			continue
		}
		entries = append(entries, TreeEntry{
			Path: e.GetPath(),
			Size: e.GetSize(),
			SHA:  e.GetSHA(),
		})
	}
	return entries, tree.GetTruncated(), nil
}

func (g *GitHubClient) FileContent(ctx context.Context, owner, repo, path, ref string) ([]byte, error) {
	fc, _, _, err := g.client.Repositories.GetContents(ctx, owner, repo, path,
		&github.RepositoryContentGetOptions{Ref: ref})
	if err != nil {
		return nil, err
	}
	if fc == nil {
		return nil, errors.New("not a file: " + path)
	}
	content, err := fc.GetContent()
	if err != nil {
		return nil, err
	}
	return []byte(content), nil
}

func (g *GitHubClient) HeadCommit(ctx context.Context, owner, repo, branch string) (string, error) {
	ref, _, err := g.client.Git.GetRef(ctx, owner, repo, "refs/heads/"+branch)
	if err != nil {
		return "", fmt.Errorf("resolving head of %s: %w", branch, err)
	}
	return ref.GetObject().GetSHA(), nil
}
