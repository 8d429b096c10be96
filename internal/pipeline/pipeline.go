package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/repoqa/repoqa/internal/chunker"
	"github.com/repoqa/repoqa/internal/fetcher"
	"github.com/repoqa/repoqa/internal/filter"
	"github.com/repoqa/repoqa/pkg/models"
)

// RepoFetcher is the slice of the fetcher the pipeline needs.
type RepoFetcher interface {
	Fetch(ctx context.Context, rawURL string) (fetcher.Result, error)
}

// Stats counts what each ingestion phase did.
type Stats struct {
	FilesFetched      int   `json:"filesFetched"`
	FilesAccepted     int   `json:"filesAccepted"`
	FilesRejected     int   `json:"filesRejected"`
	ChunkCount        int   `json:"chunkCount"`
	UsedCloneFallback bool  `json:"usedCloneFallback"`
	FetchMS           int64 `json:"fetchMs"`
	FilterMS          int64 `json:"filterMs"`
	ChunkMS           int64 `json:"chunkMs"`
}

// Result is the output of one ingestion run: everything needed to embed and
// store, with nothing persisted yet.
type Result struct {
	RepoID string
	Meta   models.RepoMeta
	Chunks []models.CodeChunk
	Stats  Stats
}

// Pipeline runs fetch, filter and chunk as sequential phases.
type Pipeline struct {
	Fetcher RepoFetcher

	// OnProgress, when set, receives a 0-100 percentage as phases complete.
	OnProgress func(pct int)
}

func New(f RepoFetcher) *Pipeline {
	return &Pipeline{Fetcher: f}
}

// Run ingests one repository. Each phase's output feeds the next; any phase
// error aborts the run.
func (p *Pipeline) Run(ctx context.Context, githubURL string) (Result, error) {
	var res Result

	t0 := time.Now()
	fetched, err := p.Fetcher.Fetch(ctx, githubURL)
	if err != nil {
		return Result{}, fmt.Errorf("fetch: %w", err)
	}
	res.Meta = fetched.Meta
	res.RepoID = fetched.Meta.RepoID
	res.Stats.FetchMS = time.Since(t0).Milliseconds()
	res.Stats.FilesFetched = len(fetched.Files)
	res.Stats.UsedCloneFallback = fetched.UsedFallback
	p.progress(70)

	t1 := time.Now()
	accepted, rejected := filter.Apply(fetched.Files)
	res.Stats.FilterMS = time.Since(t1).Milliseconds()
	res.Stats.FilesAccepted = len(accepted)
	res.Stats.FilesRejected = len(rejected)
	p.progress(80)

	t2 := time.Now()
	for _, f := range accepted {
		out := chunker.Chunk(res.RepoID, f.Path, string(f.Content))
		res.Chunks = append(res.Chunks, out.Chunks...)
	}
	res.Stats.ChunkMS = time.Since(t2).Milliseconds()
	res.Stats.ChunkCount = len(res.Chunks)
	p.progress(100)

	log.Info().
		Str("repo", res.RepoID).
		Int("fetched", res.Stats.FilesFetched).
		Int("accepted", res.Stats.FilesAccepted).
		Int("rejected", res.Stats.FilesRejected).
		Int("chunks", res.Stats.ChunkCount).
		Bool("clone_fallback", res.Stats.UsedCloneFallback).
		Msg("ingestion pipeline complete")
	return res, nil
}

func (p *Pipeline) progress(pct int) {
	if p.OnProgress != nil {
		p.OnProgress(pct)
	}
}
