package fetcher

import (
	"errors"
	"strings"
)

// ErrInvalidURL is returned for anything that does not name a GitHub repo.
var ErrInvalidURL = errors.New("invalid GitHub URL")

// ParseGitHubURL extracts (owner, repo) from a GitHub repository URL.
// The scheme is optional; trailing ".git" and "/tree/<ref>" are stripped.
func ParseGitHubURL(raw string) (string, string, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	s = strings.TrimPrefix(s, "www.")
	if !strings.HasPrefix(s, "github.com/") {
		return "", "", ErrInvalidURL
	}
	s = strings.TrimPrefix(s, "github.com/")

	if i := strings.Index(s, "/tree/"); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSuffix(s, "/")
	s = strings.TrimSuffix(s, ".git")

	parts := strings.Split(s, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", ErrInvalidURL
	}
	return parts[0], parts[1], nil
}
