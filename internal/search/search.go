package search

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/repoqa/repoqa/internal/ai"
	"github.com/repoqa/repoqa/internal/metrics"
	"github.com/repoqa/repoqa/internal/prompt"
	"github.com/repoqa/repoqa/internal/store"
	"github.com/repoqa/repoqa/pkg/models"
)

const (
	minQueryChars = 3
	maxTopK       = 50

	noMatchAnswer = "No relevant code was found in this repository for your question. " +
		"The repository may not be indexed yet, or the question may not relate to its contents."
)

// Validation failures the HTTP layer maps to 400 responses.
var (
	ErrMissingRepoID = errors.New("repoId is required")
	ErrQueryTooShort = errors.New("query must be at least 3 characters")
)

// Service answers questions about an indexed repository by retrieving
// similar chunks and asking the language model for an answer grounded
// in them.
type Service struct {
	Client ai.Client
	Store  store.ChunkStore
}

// NewService creates a new query service with the provided AI client and store
func NewService(client ai.Client, store store.ChunkStore) *Service {
	return &Service{
		Client: client,
		Store:  store,
	}
}

// QueryRequest is the body of POST /api/rag/query.
type QueryRequest struct {
	RepoID string `json:"repoId"`
	Query  string `json:"query"`
	TopK   int    `json:"topK,omitempty"`
}

// ChunkRef is the projection of a retrieved chunk returned to callers.
// Content is omitted; the answer and citations carry the useful parts.
type ChunkRef struct {
	FilePath   string  `json:"filePath"`
	StartLine  int     `json:"startLine"`
	EndLine    int     `json:"endLine"`
	SymbolName string  `json:"symbolName,omitempty"`
	Language   string  `json:"language"`
	Score      float64 `json:"score"`
}

// QueryMeta carries retrieval and generation counters alongside the answer.
type QueryMeta struct {
	TotalCandidates int    `json:"totalCandidates"`
	Retrieved       int    `json:"retrieved"`
	ContextChunks   int    `json:"contextChunks"`
	TokenEstimate   int    `json:"tokenEstimate"`
	DurationMS      int64  `json:"durationMs"`
	Model           string `json:"model"`
}

// QueryResponse is the full answer payload.
type QueryResponse struct {
	Answer    string                     `json:"answer"`
	Citations map[string]prompt.Citation `json:"citations"`
	Chunks    []ChunkRef                 `json:"chunks"`
	Meta      QueryMeta                  `json:"meta"`
}

// Answer validates the request, embeds the question, retrieves the most
// similar chunks and has the model answer from that context. When nothing
// clears the similarity floor a fixed answer is returned without calling
// the model.
func (s *Service) Answer(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
	start := time.Now()

	repoID := strings.TrimSpace(req.RepoID)
	if repoID == "" {
		metrics.QueriesTotal.WithLabelValues("invalid").Inc()
		return nil, ErrMissingRepoID
	}
	query := strings.TrimSpace(req.Query)
	if len(query) < minQueryChars {
		metrics.QueriesTotal.WithLabelValues("invalid").Inc()
		return nil, ErrQueryTooShort
	}

	topK := req.TopK
	if topK <= 0 {
		topK = store.DefaultTopK
	} else if topK > maxTopK {
		topK = maxTopK
	}

	vec, err := s.Client.EmbedQuery(ctx, query)
	if err != nil {
		metrics.QueriesTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("embed query: %w", err)
	}

	retrieved, candidates, err := s.Store.Search(ctx, vec, store.SearchOpts{RepoID: repoID, TopK: topK})
	if err != nil {
		metrics.QueriesTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	metrics.RetrievedChunks.Observe(float64(len(retrieved)))

	if len(retrieved) == 0 {
		metrics.QueriesTotal.WithLabelValues("no_results").Inc()
		return &QueryResponse{
			Answer:    noMatchAnswer,
			Citations: map[string]prompt.Citation{},
			Chunks:    []ChunkRef{},
			Meta: QueryMeta{
				TotalCandidates: candidates,
				DurationMS:      time.Since(start).Milliseconds(),
				Model:           s.Client.GenModel(),
			},
		}, nil
	}

	assembled := prompt.Assemble(query, retrieved, repoID)

	answer, err := s.Client.Generate(ctx, assembled.SystemPrompt, assembled.UserPrompt)
	if err != nil {
		metrics.QueriesTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("generate answer: %w", err)
	}

	resp := &QueryResponse{
		Answer:    answer,
		Citations: assembled.CitationMap,
		Chunks:    projectChunks(retrieved),
		Meta: QueryMeta{
			TotalCandidates: candidates,
			Retrieved:       len(retrieved),
			ContextChunks:   assembled.ContextChunks,
			TokenEstimate:   assembled.TokenEstimate,
			DurationMS:      time.Since(start).Milliseconds(),
			Model:           s.Client.GenModel(),
		},
	}

	metrics.QueriesTotal.WithLabelValues("ok").Inc()
	metrics.QueryDuration.Observe(time.Since(start).Seconds())
	log.Debug().
		Str("repoId", repoID).
		Int("retrieved", len(retrieved)).
		Int("contextChunks", assembled.ContextChunks).
		Int64("durationMs", resp.Meta.DurationMS).
		Msg("answered query")
	return resp, nil
}

func projectChunks(retrieved []models.RetrievedChunk) []ChunkRef {
	out := make([]ChunkRef, len(retrieved))
	for i, rc := range retrieved {
		out[i] = ChunkRef{
			FilePath:   rc.FilePath,
			StartLine:  rc.StartLine,
			EndLine:    rc.EndLine,
			SymbolName: rc.SymbolName,
			Language:   rc.Language,
			Score:      math.Round(rc.Score*10000) / 10000,
		}
	}
	return out
}
