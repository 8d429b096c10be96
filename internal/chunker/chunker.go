package chunker

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/repoqa/repoqa/pkg/models"
)

// Chunking parameters, in lines.
const (
	MinChunkLines        = 3
	MaxChunkLines        = 150
	SlidingWindowSize    = 60
	SlidingWindowOverlap = 15
)

// Strategies reported in Result.
const (
	StrategyAST           = "ast"
	StrategySlidingWindow = "sliding-window"
)

// Result carries the chunks produced for one file.
type Result struct {
	Chunks   []models.CodeChunk `json:"chunks"`
	Strategy string             `json:"strategy"`
}

// Symbol-start patterns. These are deliberately approximate line matchers,
// not parsers; files they cannot handle fall through to the sliding window.
var tsPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^\s*(?:export\s+)?(?:default\s+)?(?:async\s+)?function\s+([A-Za-z_$][A-Za-z0-9_$]*)`),
	regexp.MustCompile(`^\s*(?:export\s+)?(?:default\s+)?(?:abstract\s+)?class\s+([A-Za-z_$][A-Za-z0-9_$]*)`),
	regexp.MustCompile(`^(?:export\s+)?const\s+([A-Za-z_$][A-Za-z0-9_$]*)\s*(?::[^=]+)?=\s*(?:async\s+)?\(?.*=>`),
}

var pyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^(?:async\s+)?def\s+([A-Za-z_][A-Za-z0-9_]*)`),
	regexp.MustCompile(`^class\s+([A-Za-z_][A-Za-z0-9_]*)`),
}

// Chunk splits one file into embedding-sized pieces. TypeScript, JavaScript
// and Python files are cut at symbol boundaries; everything else, and symbol
// files where no boundary matched, gets the sliding window.
func Chunk(repoID, filePath, content string) Result {
	lang := Language(filePath)
	switch strings.ToLower(path.Ext(filePath)) {
	case ".ts", ".tsx", ".js", ".jsx", ".mjs":
		if r, ok := symbolChunk(repoID, filePath, lang, content, tsPatterns); ok {
			return r
		}
	case ".py":
		if r, ok := symbolChunk(repoID, filePath, lang, content, pyPatterns); ok {
			return r
		}
	}
	return Result{
		Chunks:   slidingWindow(repoID, filePath, lang, content),
		Strategy: StrategySlidingWindow,
	}
}

// Language maps a file extension to the tag stored with its chunks.
func Language(filePath string) string {
	switch strings.ToLower(path.Ext(filePath)) {
	case ".ts", ".tsx":
		return "typescript"
	case ".js", ".jsx", ".mjs", ".cjs":
		return "javascript"
	case ".py":
		return "python"
	case ".md", ".mdx":
		return "markdown"
	case ".json":
		return "json"
	case ".yaml", ".yml":
		return "yaml"
	case ".toml":
		return "toml"
	default:
		return "text"
	}
}

// ChunkID is deterministic from repo, path and start line.
func ChunkID(repoID, filePath string, startLine int) string {
	return fmt.Sprintf("%s__%s__L%d", safe(repoID), safe(filePath), startLine)
}

// boundary marks a detected symbol start. Lines are 1-indexed.
type boundary struct {
	line int
	name string
}

func symbolChunk(repoID, filePath, lang, content string, patterns []*regexp.Regexp) (Result, bool) {
	lines := splitLines(content)
	var bounds []boundary
	for i, ln := range lines {
		for _, re := range patterns {
			if m := re.FindStringSubmatch(ln); m != nil {
				bounds = append(bounds, boundary{line: i + 1, name: m[1]})
				break
			}
		}
	}
	if len(bounds) == 0 {
		return Result{}, false
	}

	var chunks []models.CodeChunk
	idx := 0

	// Lines before the first symbol (imports, module setup) become an
	// unnamed chunk so the head of the file is not lost.
	if bounds[0].line > 1 {
		idx = emitBlock(&chunks, repoID, filePath, lang, lines, 1, bounds[0].line-1, "", idx)
	}
	for i, b := range bounds {
		end := len(lines)
		if i+1 < len(bounds) {
			end = bounds[i+1].line - 1
		}
		idx = emitBlock(&chunks, repoID, filePath, lang, lines, b.line, end, b.name, idx)
	}
	return Result{Chunks: chunks, Strategy: StrategyAST}, true
}

// emitBlock appends the block spanning [start, end] (1-indexed, inclusive),
// splitting oversized blocks into overlapping sub-windows. Blocks and
// sub-windows shorter than MinChunkLines are dropped. Returns the next
// chunk index.
func emitBlock(chunks *[]models.CodeChunk, repoID, filePath, lang string, lines []string, start, end int, symbol string, idx int) int {
	if end-start+1 < MinChunkLines {
		return idx
	}
	if end-start+1 <= MaxChunkLines {
		*chunks = append(*chunks, newChunk(repoID, filePath, lang, lines, start, end, symbol, idx))
		return idx + 1
	}

	step := MaxChunkLines - SlidingWindowOverlap
	part := 1
	for s := start; s <= end; s += step {
		e := s + MaxChunkLines - 1
		if e > end {
			e = end
		}
		if e-s+1 < MinChunkLines {
			break
		}
		name := symbol
		if name != "" {
			name = fmt.Sprintf("%s [part %d]", symbol, part)
		}
		*chunks = append(*chunks, newChunk(repoID, filePath, lang, lines, s, e, name, idx))
		idx++
		part++
		if e == end {
			break
		}
	}
	return idx
}

func slidingWindow(repoID, filePath, lang, content string) []models.CodeChunk {
	lines := splitLines(content)
	step := SlidingWindowSize - SlidingWindowOverlap

	var chunks []models.CodeChunk
	idx := 0
	for s := 1; s <= len(lines); s += step {
		e := s + SlidingWindowSize - 1
		if e > len(lines) {
			e = len(lines)
		}
		if e-s+1 < MinChunkLines {
			break
		}
		chunks = append(chunks, newChunk(repoID, filePath, lang, lines, s, e, "", idx))
		idx++
		if e == len(lines) {
			break
		}
	}
	return chunks
}

func newChunk(repoID, filePath, lang string, lines []string, start, end int, symbol string, idx int) models.CodeChunk {
	return models.CodeChunk{
		ID:         ChunkID(repoID, filePath, start),
		RepoID:     repoID,
		FilePath:   filePath,
		Language:   lang,
		Content:    strings.Join(lines[start-1:end], "\n"),
		StartLine:  start,
		EndLine:    end,
		SymbolName: symbol,
		ChunkIndex: idx,
	}
}

// splitLines splits content into lines, ignoring a single trailing newline.
func splitLines(content string) []string {
	lines := strings.Split(content, "\n")
	if n := len(lines); n > 1 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	return lines
}

func safe(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}
