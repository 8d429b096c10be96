package search

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/repoqa/repoqa/internal/store"
	"github.com/repoqa/repoqa/pkg/models"
)

func init() {
	// Suppress logs during testing
	zerolog.SetGlobalLevel(zerolog.Disabled)
}

// MockAIClient implements the ai.Client interface for testing
type MockAIClient struct {
	EmbedQueryFunc func(ctx context.Context, text string) ([]float32, error)
	GenerateFunc   func(ctx context.Context, system, user string) (string, error)
	GenerateCalls  int
}

func (m *MockAIClient) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{0.1, 0.2, 0.3}
	}
	return out, nil
}

func (m *MockAIClient) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if m.EmbedQueryFunc != nil {
		return m.EmbedQueryFunc(ctx, text)
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

func (m *MockAIClient) Generate(ctx context.Context, system, user string) (string, error) {
	m.GenerateCalls++
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, system, user)
	}
	return "mock answer [1]", nil
}

func (m *MockAIClient) Dim() int { return 3 }

func (m *MockAIClient) EmbedModel() string { return "mock-embed-001" }

func (m *MockAIClient) GenModel() string { return "mock-gen-001" }

// MockChunkStore implements the store.ChunkStore interface for testing
type MockChunkStore struct {
	SearchFunc func(ctx context.Context, vec []float32, opts store.SearchOpts) ([]models.RetrievedChunk, int, error)
}

func (m *MockChunkStore) Search(ctx context.Context, vec []float32, opts store.SearchOpts) ([]models.RetrievedChunk, int, error) {
	if m.SearchFunc != nil {
		return m.SearchFunc(ctx, vec, opts)
	}
	return nil, 0, nil
}

func (m *MockChunkStore) Migrate(ctx context.Context, dim int) error { return nil }

func (m *MockChunkStore) Write(ctx context.Context, embedded []models.EmbeddedChunk, opts store.WriteOpts) (store.WriteResult, error) {
	return store.WriteResult{}, nil
}

func (m *MockChunkStore) GetRepoIndex(ctx context.Context, repoID string) (models.RepoIndex, bool, error) {
	return models.RepoIndex{}, false, nil
}

func (m *MockChunkStore) ListRepos(ctx context.Context) ([]models.RepoIndex, error) {
	return nil, nil
}

func (m *MockChunkStore) DeleteRepo(ctx context.Context, repoID string) (int, error) {
	return 0, nil
}

func (m *MockChunkStore) Ping(ctx context.Context) error { return nil }

func sampleRetrieved() []models.RetrievedChunk {
	return []models.RetrievedChunk{
		{
			FilePath:   "src/auth.ts",
			StartLine:  10,
			EndLine:    42,
			SymbolName: "validateCredentials",
			Content:    "function validateCredentials() {}",
			Language:   "typescript",
			Score:      0.91234567,
		},
		{
			FilePath:  "src/db.ts",
			StartLine: 1,
			EndLine:   20,
			Content:   "export const pool = connect()",
			Language:  "typescript",
			Score:     0.787654,
		},
	}
}

func TestService_AnswerValidation(t *testing.T) {
	tests := []struct {
		name        string
		repoID      string
		query       string
		expectedErr error
	}{
		{"empty repoId", "", "how does auth work?", ErrMissingRepoID},
		{"whitespace repoId", "   ", "how does auth work?", ErrMissingRepoID},
		{"empty query", "owner/repo", "", ErrQueryTooShort},
		{"short query", "owner/repo", "ab", ErrQueryTooShort},
		{"whitespace-padded short query", "owner/repo", "  ab  ", ErrQueryTooShort},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(&MockAIClient{}, &MockChunkStore{})
			_, err := svc.Answer(context.Background(), QueryRequest{RepoID: tt.repoID, Query: tt.query})
			if !errors.Is(err, tt.expectedErr) {
				t.Errorf("Expected error %v, got %v", tt.expectedErr, err)
			}
		})
	}
}

func TestService_AnswerHappyPath(t *testing.T) {
	var gotSystem, gotUser string
	client := &MockAIClient{
		GenerateFunc: func(ctx context.Context, system, user string) (string, error) {
			gotSystem, gotUser = system, user
			return "Credentials are validated in validateCredentials [1].", nil
		},
	}
	st := &MockChunkStore{
		SearchFunc: func(ctx context.Context, vec []float32, opts store.SearchOpts) ([]models.RetrievedChunk, int, error) {
			return sampleRetrieved(), 5, nil
		},
	}

	svc := NewService(client, st)
	resp, err := svc.Answer(context.Background(), QueryRequest{
		RepoID: "owner/repo",
		Query:  "  how are credentials validated?  ",
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if resp.Answer != "Credentials are validated in validateCredentials [1]." {
		t.Errorf("Unexpected answer: %q", resp.Answer)
	}
	if len(resp.Citations) != 2 {
		t.Errorf("Expected 2 citations, got %d", len(resp.Citations))
	}
	if c, ok := resp.Citations["[1]"]; !ok || c.FilePath != "src/auth.ts" || c.SymbolName != "validateCredentials" {
		t.Errorf("Citation [1] = %+v", c)
	}

	if len(resp.Chunks) != 2 {
		t.Fatalf("Expected 2 projected chunks, got %d", len(resp.Chunks))
	}
	if resp.Chunks[0].Score != 0.9123 {
		t.Errorf("Expected score rounded to 0.9123, got %v", resp.Chunks[0].Score)
	}
	if resp.Chunks[1].Score != 0.7877 {
		t.Errorf("Expected score rounded to 0.7877, got %v", resp.Chunks[1].Score)
	}
	if resp.Chunks[0].SymbolName != "validateCredentials" || resp.Chunks[0].Language != "typescript" {
		t.Errorf("Chunk projection lost fields: %+v", resp.Chunks[0])
	}

	meta := resp.Meta
	if meta.TotalCandidates != 5 {
		t.Errorf("Expected 5 total candidates, got %d", meta.TotalCandidates)
	}
	if meta.Retrieved != 2 {
		t.Errorf("Expected 2 retrieved, got %d", meta.Retrieved)
	}
	if meta.ContextChunks != 2 {
		t.Errorf("Expected 2 context chunks, got %d", meta.ContextChunks)
	}
	if meta.TokenEstimate <= 0 {
		t.Errorf("Expected positive token estimate, got %d", meta.TokenEstimate)
	}
	if meta.Model != "mock-gen-001" {
		t.Errorf("Expected model 'mock-gen-001', got %q", meta.Model)
	}

	if !strings.Contains(gotSystem, "owner/repo") {
		t.Error("Expected system prompt to name the repository")
	}
	if !strings.Contains(gotUser, "how are credentials validated?") {
		t.Error("Expected user prompt to contain the trimmed question")
	}
	if !strings.Contains(gotUser, "src/auth.ts") {
		t.Error("Expected user prompt to contain retrieved context")
	}
}

func TestService_AnswerNoResults(t *testing.T) {
	client := &MockAIClient{}
	st := &MockChunkStore{
		SearchFunc: func(ctx context.Context, vec []float32, opts store.SearchOpts) ([]models.RetrievedChunk, int, error) {
			// Two candidates fetched, both below the similarity floor.
			return nil, 2, nil
		},
	}

	svc := NewService(client, st)
	resp, err := svc.Answer(context.Background(), QueryRequest{RepoID: "owner/repo", Query: "what is this?"})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if resp.Answer != noMatchAnswer {
		t.Errorf("Expected the fixed no-match answer, got %q", resp.Answer)
	}
	if resp.Citations == nil || len(resp.Citations) != 0 {
		t.Errorf("Expected empty citations map, got %v", resp.Citations)
	}
	if resp.Chunks == nil || len(resp.Chunks) != 0 {
		t.Errorf("Expected empty chunk list, got %v", resp.Chunks)
	}
	if resp.Meta.TotalCandidates != 2 {
		t.Errorf("Expected 2 total candidates, got %d", resp.Meta.TotalCandidates)
	}
	if client.GenerateCalls != 0 {
		t.Error("Expected no LLM call when nothing was retrieved")
	}
}

func TestService_AnswerTopK(t *testing.T) {
	tests := []struct {
		name      string
		requested int
		expected  int
	}{
		{"default when unset", 0, store.DefaultTopK},
		{"negative falls back to default", -3, store.DefaultTopK},
		{"passthrough in range", 5, 5},
		{"clamped to maximum", 200, maxTopK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotTopK int
			st := &MockChunkStore{
				SearchFunc: func(ctx context.Context, vec []float32, opts store.SearchOpts) ([]models.RetrievedChunk, int, error) {
					gotTopK = opts.TopK
					return nil, 0, nil
				},
			}
			svc := NewService(&MockAIClient{}, st)
			if _, err := svc.Answer(context.Background(), QueryRequest{
				RepoID: "owner/repo", Query: "where is the entrypoint?", TopK: tt.requested,
			}); err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}
			if gotTopK != tt.expected {
				t.Errorf("Expected topK %d, got %d", tt.expected, gotTopK)
			}
		})
	}
}

func TestService_AnswerErrors(t *testing.T) {
	embedErr := errors.New("provider unavailable")
	searchErr := errors.New("connection refused")
	genErr := errors.New("model overloaded")

	tests := []struct {
		name       string
		client     *MockAIClient
		store      *MockChunkStore
		wantSubstr string
		wantCause  error
	}{
		{
			name: "embedding failure",
			client: &MockAIClient{
				EmbedQueryFunc: func(ctx context.Context, text string) ([]float32, error) {
					return nil, embedErr
				},
			},
			store:      &MockChunkStore{},
			wantSubstr: "embed query",
			wantCause:  embedErr,
		},
		{
			name:   "search failure",
			client: &MockAIClient{},
			store: &MockChunkStore{
				SearchFunc: func(ctx context.Context, vec []float32, opts store.SearchOpts) ([]models.RetrievedChunk, int, error) {
					return nil, 0, searchErr
				},
			},
			wantSubstr: "similarity search",
			wantCause:  searchErr,
		},
		{
			name: "generation failure",
			client: &MockAIClient{
				GenerateFunc: func(ctx context.Context, system, user string) (string, error) {
					return "", genErr
				},
			},
			store: &MockChunkStore{
				SearchFunc: func(ctx context.Context, vec []float32, opts store.SearchOpts) ([]models.RetrievedChunk, int, error) {
					return sampleRetrieved(), 2, nil
				},
			},
			wantSubstr: "generate answer",
			wantCause:  genErr,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.client, tt.store)
			_, err := svc.Answer(context.Background(), QueryRequest{RepoID: "owner/repo", Query: "how does it work?"})
			if err == nil {
				t.Fatal("Expected an error")
			}
			if !strings.Contains(err.Error(), tt.wantSubstr) {
				t.Errorf("Expected error containing %q, got %q", tt.wantSubstr, err.Error())
			}
			if !errors.Is(err, tt.wantCause) {
				t.Errorf("Expected wrapped cause %v, got %v", tt.wantCause, err)
			}
		})
	}
}
