package prompt

import (
	"fmt"
	"strings"
	"testing"

	"github.com/repoqa/repoqa/pkg/models"
)

func chunk(path string, start, end int, symbol, content string) models.RetrievedChunk {
	return models.RetrievedChunk{
		FilePath:   path,
		StartLine:  start,
		EndLine:    end,
		SymbolName: symbol,
		Content:    content,
		Language:   "typescript",
		Score:      0.9,
	}
}

func TestAssembleGroupingAndOrder(t *testing.T) {
	chunks := []models.RetrievedChunk{
		chunk("src/auth.ts", 50, 60, "logout", "function logout() {}"),
		chunk("src/db.ts", 10, 20, "connect", "function connect() {}"),
		chunk("src/auth.ts", 5, 15, "login", "function login() {}"),
	}

	a := Assemble("how does auth work", chunks, "o/r")

	authIdx := strings.Index(a.UserPrompt, "### File: src/auth.ts")
	dbIdx := strings.Index(a.UserPrompt, "### File: src/db.ts")
	if authIdx == -1 || dbIdx == -1 {
		t.Fatal("expected one file header per file")
	}
	if authIdx > dbIdx {
		t.Error("file groups must keep retrieval insertion order")
	}

	// Within auth.ts the line-5 chunk comes first, so it takes marker [1]
	// even though retrieval returned the line-50 chunk before it.
	if got := a.CitationMap["[1]"]; got.SymbolName != "login" || got.StartLine != 5 {
		t.Errorf("citation [1] = %+v, want login at line 5", got)
	}
	if got := a.CitationMap["[2]"]; got.SymbolName != "logout" || got.StartLine != 50 {
		t.Errorf("citation [2] = %+v, want logout at line 50", got)
	}
	if got := a.CitationMap["[3]"]; got.FilePath != "src/db.ts" {
		t.Errorf("citation [3] = %+v, want src/db.ts", got)
	}

	if sep := strings.Count(strings.Split(a.UserPrompt, "## Question")[0], "\n\n---\n\n"); sep != 2 {
		// one separator between the two file groups, one before ## Question
		t.Errorf("Expected 2 block separators, got %d", sep)
	}
	if a.ContextChunks != 3 {
		t.Errorf("ContextChunks = %d, want 3", a.ContextChunks)
	}
}

func TestAssembleHeaders(t *testing.T) {
	chunks := []models.RetrievedChunk{
		chunk("a.ts", 10, 42, "validateCredentials", "x"),
		chunk("a.ts", 50, 80, "", "y"),
	}

	a := Assemble("q", chunks, "o/r")

	want := "[1] `validateCredentials` (lines 10–42)"
	if !strings.Contains(a.UserPrompt, want) {
		t.Errorf("missing symbol header %q", want)
	}
	want = "[2] lines 50–80"
	if !strings.Contains(a.UserPrompt, want) {
		t.Errorf("missing plain header %q", want)
	}
	if !strings.Contains(a.UserPrompt, "```typescript\nx\n```") {
		t.Error("content not wrapped in a language-tagged fence")
	}
}

func TestAssembleUserPromptTemplate(t *testing.T) {
	a := Assemble("where is the entry point?", []models.RetrievedChunk{chunk("m.ts", 1, 3, "main", "z")}, "o/r")

	if !strings.HasPrefix(a.UserPrompt, "## Codebase Context\n\n") {
		t.Error("user prompt must open with the context section")
	}
	if !strings.HasSuffix(a.UserPrompt, "## Answer (cite sources with [N] markers)") {
		t.Error("user prompt must end with the answer instruction")
	}
	if !strings.Contains(a.UserPrompt, "## Question\n\nwhere is the entry point?\n\n") {
		t.Error("question section malformed")
	}
	if !strings.Contains(a.SystemPrompt, "o/r") {
		t.Error("system prompt must name the repository")
	}
	if !strings.Contains(a.SystemPrompt, "[N]") {
		t.Error("system prompt must explain [N] citations")
	}
}

func TestAssembleBudgetCutoff(t *testing.T) {
	big := strings.Repeat("x", 5000)
	var chunks []models.RetrievedChunk
	for i := 0; i < 6; i++ {
		chunks = append(chunks, chunk(fmt.Sprintf("f%d.ts", i), 1, 100, "", big))
	}

	a := Assemble("q", chunks, "o/r")

	// 5k per block: the third block crosses 12k and is kept, nothing after.
	if a.ContextChunks != 3 {
		t.Fatalf("ContextChunks = %d, want 3", a.ContextChunks)
	}
	if len(a.CitationMap) != 3 {
		t.Errorf("CitationMap has %d entries, want 3", len(a.CitationMap))
	}
	if strings.Contains(a.UserPrompt, "[4]") {
		t.Error("chunks past the budget must not be emitted")
	}
	if !strings.Contains(a.UserPrompt, "### File: f2.ts") {
		t.Error("the boundary-crossing block keeps its file header")
	}
}

func TestAssembleTokenEstimate(t *testing.T) {
	a := Assemble("q", []models.RetrievedChunk{chunk("a.ts", 1, 5, "f", "body")}, "o/r")

	want := (len(a.SystemPrompt) + len(a.UserPrompt) + 3) / 4
	if a.TokenEstimate != want {
		t.Errorf("TokenEstimate = %d, want %d", a.TokenEstimate, want)
	}
	if a.TokenEstimate <= 0 {
		t.Error("TokenEstimate must be positive")
	}
}

func TestAssembleEmpty(t *testing.T) {
	a := Assemble("q", nil, "o/r")

	if a.ContextChunks != 0 {
		t.Errorf("ContextChunks = %d, want 0", a.ContextChunks)
	}
	if len(a.CitationMap) != 0 {
		t.Errorf("CitationMap has %d entries, want 0", len(a.CitationMap))
	}
	if !strings.Contains(a.UserPrompt, "## Question\n\nq") {
		t.Error("question still present with no context")
	}
}
