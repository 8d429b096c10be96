package filter

import (
	"bytes"
	"fmt"
	"path"
	"strings"

	"github.com/repoqa/repoqa/pkg/models"
)

// Size bounds for indexable files, in bytes.
const (
	MinFileBytes = 10
	MaxFileBytes = 512_000
)

// Rejection records why a file was dropped.
type Rejection struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// Apply partitions files into accepted and rejected. Rules run in a fixed
// order and the first failing rule supplies the rejection reason.
func Apply(files []models.RawFile) ([]models.RawFile, []Rejection) {
	accepted := make([]models.RawFile, 0, len(files))
	rejected := []Rejection{}
	for _, f := range files {
		if reason := Check(f); reason != "" {
			rejected = append(rejected, Rejection{Path: f.Path, Reason: reason})
			continue
		}
		accepted = append(accepted, f)
	}
	return accepted, rejected
}

// Check returns the rejection reason for a single file, or "" if it passes.
func Check(f models.RawFile) string {
	if reason := checkPath(f.Path); reason != "" {
		return reason
	}
	if f.SizeBytes < MinFileBytes {
		return fmt.Sprintf("file too small: %d bytes", f.SizeBytes)
	}
	if f.SizeBytes > MaxFileBytes {
		return fmt.Sprintf("file too large: %d bytes", f.SizeBytes)
	}
	if bytes.IndexByte(f.Content, 0) >= 0 {
		return "binary content"
	}
	return ""
}

// AllowedPath applies only the path rules (directory denylist, filename
// denylist, extension allowlist) so fetchers can drop files before
// downloading their contents.
func AllowedPath(p string) bool { return checkPath(p) == "" }

func checkPath(p string) string {
	segs := strings.Split(p, "/")
	for _, seg := range segs[:len(segs)-1] {
		if deniedDir(seg) {
			return "excluded directory: " + seg
		}
	}
	base := segs[len(segs)-1]
	if deniedName(base) {
		return "excluded filename: " + base
	}
	ext := strings.ToLower(path.Ext(base))
	if !allowedExt(ext) {
		return "extension not allowed: " + ext
	}
	return ""
}

func deniedDir(seg string) bool {
	switch seg {
	case "node_modules", "dist", "build", "out", ".next", ".nuxt", ".output",
		".cache", "__pycache__", ".pytest_cache", "vendor", "venv", ".venv",
		"env", "__pypackages__", ".git", ".svn", ".hg", ".idea", ".vscode",
		"coverage", ".nyc_output", "htmlcov", "tmp", "temp", "logs", ".pnp":
		return true
	}
	return strings.HasSuffix(seg, ".egg-info")
}

func deniedName(base string) bool {
	switch base {
	case "package-lock.json", "yarn.lock", "pnpm-lock.yaml", "poetry.lock",
		"Pipfile.lock", "composer.lock",
		".DS_Store", "Thumbs.db",
		".env", ".env.local", ".env.production",
		".gitignore", ".gitattributes", ".editorconfig", ".prettierrc",
		"vitest.config.ts":
		return true
	}
	return strings.HasPrefix(base, ".eslintrc") || strings.HasPrefix(base, "jest.config.")
}

func allowedExt(ext string) bool {
	switch ext {
	case ".ts", ".tsx", ".js", ".jsx", ".mjs", ".cjs", ".py", ".md", ".mdx", ".json", ".yaml", ".yml", ".toml":
		return true
	}
	return false
}
