package prompt

import (
	"fmt"
	"sort"
	"strings"

	"github.com/repoqa/repoqa/pkg/models"
)

// MaxContextChars caps the code context included in a prompt (~3k tokens).
const MaxContextChars = 12_000

const systemTemplate = `You are an expert code assistant answering questions about the repository %s.

Rules:
- Answer ONLY from the provided codebase context.
- Cite sources inline with [N] markers that refer to the numbered context blocks.
- Include file paths and line numbers when pointing at code.
- If the context is insufficient to answer, say you don't know.
- Be concise.`

// Citation points a [N] marker back at its source location.
type Citation struct {
	FilePath   string `json:"filePath"`
	StartLine  int    `json:"startLine"`
	EndLine    int    `json:"endLine"`
	SymbolName string `json:"symbolName,omitempty"`
}

// Assembled is a ready-to-send prompt pair with its citation index.
type Assembled struct {
	SystemPrompt  string
	UserPrompt    string
	CitationMap   map[string]Citation
	TokenEstimate int
	ContextChunks int
}

type fileGroup struct {
	path   string
	chunks []models.RetrievedChunk
}

// Assemble renders retrieved chunks into numbered context blocks plus the
// question. Chunks are grouped by file in retrieval order and sorted by start
// line within each file. Emission stops once the accumulated context exceeds
// MaxContextChars; the block that crosses the boundary is kept.
func Assemble(query string, chunks []models.RetrievedChunk, repoID string) Assembled {
	groups := groupByFile(chunks)

	var blocks strings.Builder
	citations := map[string]Citation{}
	marker := 0
	emitted := 0

emit:
	for gi, g := range groups {
		if gi > 0 {
			blocks.WriteString("\n\n---\n\n")
		}
		fmt.Fprintf(&blocks, "### File: %s", g.path)

		for _, c := range g.chunks {
			marker++
			key := fmt.Sprintf("[%d]", marker)

			header := fmt.Sprintf("%s lines %d–%d", key, c.StartLine, c.EndLine)
			if c.SymbolName != "" {
				header = fmt.Sprintf("%s `%s` (lines %d–%d)", key, c.SymbolName, c.StartLine, c.EndLine)
			}
			fmt.Fprintf(&blocks, "\n\n%s\n```%s\n%s\n```", header, c.Language, c.Content)

			citations[key] = Citation{
				FilePath:   c.FilePath,
				StartLine:  c.StartLine,
				EndLine:    c.EndLine,
				SymbolName: c.SymbolName,
			}
			emitted++

			if blocks.Len() > MaxContextChars {
				break emit
			}
		}
	}

	system := fmt.Sprintf(systemTemplate, repoID)
	user := fmt.Sprintf(
		"## Codebase Context\n\n%s\n\n---\n\n## Question\n\n%s\n\n## Answer (cite sources with [N] markers)",
		blocks.String(), query,
	)

	return Assembled{
		SystemPrompt:  system,
		UserPrompt:    user,
		CitationMap:   citations,
		TokenEstimate: (len(system) + len(user) + 3) / 4,
		ContextChunks: emitted,
	}
}

// groupByFile buckets chunks by path, keeping first-seen file order, and
// orders each bucket by start line.
func groupByFile(chunks []models.RetrievedChunk) []fileGroup {
	var groups []fileGroup
	byPath := map[string]int{}
	for _, c := range chunks {
		i, ok := byPath[c.FilePath]
		if !ok {
			i = len(groups)
			byPath[c.FilePath] = i
			groups = append(groups, fileGroup{path: c.FilePath})
		}
		groups[i].chunks = append(groups[i].chunks, c)
	}
	for i := range groups {
		g := groups[i].chunks
		sort.SliceStable(g, func(a, b int) bool { return g[a].StartLine < g[b].StartLine })
	}
	return groups
}
