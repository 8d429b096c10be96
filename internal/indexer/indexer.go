package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/repoqa/repoqa/internal/fetcher"
	"github.com/repoqa/repoqa/internal/metrics"
	"github.com/repoqa/repoqa/internal/pipeline"
	"github.com/repoqa/repoqa/internal/store"
	"github.com/repoqa/repoqa/pkg/models"
)

// DefaultConcurrency is the worker pool size.
const DefaultConcurrency = 3

const dequeueTimeout = 2 * time.Second

// ErrCancelled aborts a job at a phase boundary after a cancel request.
var ErrCancelled = errors.New("job cancelled")

// JobQueue is the queue surface the worker needs.
type JobQueue interface {
	Dequeue(ctx context.Context, timeout time.Duration) (*models.Job, error)
	SetProgress(ctx context.Context, id string, pct int) error
	Complete(ctx context.Context, id string, result *models.IndexJobResult) error
	Fail(ctx context.Context, id, reason string) error
	FailTerminal(ctx context.Context, id, reason string) error
	CancelRequested(ctx context.Context, id string) (bool, error)
	RequeueOrphans(ctx context.Context) (int, error)
}

// Ingester is one job's view of the fetch/filter/chunk machinery.
type Ingester interface {
	Meta(ctx context.Context, owner, repo string) (models.RepoMeta, error)
	HeadCommit(ctx context.Context, owner, repo, branch string) string
	Run(ctx context.Context, githubURL string) (pipeline.Result, error)
}

// IngestFactory builds a fresh Ingester for one job. token is the job's own
// GitHub token, empty when the job carries none.
type IngestFactory func(ctx context.Context, token string, onProgress func(pct int)) (Ingester, error)

// ChunkEmbedder embeds chunk batches.
type ChunkEmbedder interface {
	EmbedChunks(ctx context.Context, chunks []models.CodeChunk) ([]models.EmbeddedChunk, error)
	Model() string
}

// ChunkWriter persists embedded chunks.
type ChunkWriter interface {
	Write(ctx context.Context, embedded []models.EmbeddedChunk, opts store.WriteOpts) (store.WriteResult, error)
}

// Indexer drains the index-repo queue with a bounded worker pool.
type Indexer struct {
	Queue       JobQueue
	NewIngest   IngestFactory
	Embedder    ChunkEmbedder
	Writer      ChunkWriter
	Concurrency int
}

func New(q JobQueue, factory IngestFactory, emb ChunkEmbedder, w ChunkWriter, concurrency int) *Indexer {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Indexer{
		Queue:       q,
		NewIngest:   factory,
		Embedder:    emb,
		Writer:      w,
		Concurrency: concurrency,
	}
}

// DefaultIngestFactory wires the production fetcher and pipeline. A per-job
// token overrides the shared one.
func DefaultIngestFactory(defaultToken string, metaCache fetcher.MetaCache) IngestFactory {
	return func(ctx context.Context, token string, onProgress func(pct int)) (Ingester, error) {
		if token == "" {
			token = defaultToken
		}
		f := fetcher.New(ctx, token, metaCache)
		p := pipeline.New(f)
		p.OnProgress = onProgress
		return &defaultIngester{f: f, p: p}, nil
	}
}

type defaultIngester struct {
	f *fetcher.Fetcher
	p *pipeline.Pipeline
}

func (d *defaultIngester) Meta(ctx context.Context, owner, repo string) (models.RepoMeta, error) {
	return d.f.Meta(ctx, owner, repo)
}

func (d *defaultIngester) HeadCommit(ctx context.Context, owner, repo, branch string) string {
	return d.f.HeadCommit(ctx, owner, repo, branch)
}

func (d *defaultIngester) Run(ctx context.Context, githubURL string) (pipeline.Result, error) {
	return d.p.Run(ctx, githubURL)
}

// Run requeues orphaned jobs, then consumes the queue until ctx is done.
func (ix *Indexer) Run(ctx context.Context) {
	if n, err := ix.Queue.RequeueOrphans(ctx); err != nil {
		log.Warn().Err(err).Msg("requeue orphans failed")
	} else if n > 0 {
		log.Info().Int("count", n).Msg("orphaned jobs returned to queue")
	}

	var wg sync.WaitGroup
	for i := 0; i < ix.Concurrency; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			ix.workerLoop(ctx, worker)
		}(i)
	}
	wg.Wait()
}

func (ix *Indexer) workerLoop(ctx context.Context, worker int) {
	for {
		if ctx.Err() != nil {
			return
		}
		job, err := ix.Queue.Dequeue(ctx, dequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Int("worker", worker).Msg("dequeue failed")
			time.Sleep(time.Second)
			continue
		}
		if job == nil {
			continue
		}
		ix.handle(ctx, worker, job)
	}
}

func (ix *Indexer) handle(ctx context.Context, worker int, job *models.Job) {
	start := time.Now()
	logger := log.With().
		Int("worker", worker).
		Str("job_id", job.ID).
		Str("url", job.Data.GithubURL).
		Logger()
	logger.Info().Int("attempt", job.Attempts).Msg("job started")

	result, err := ix.process(ctx, job)
	metrics.JobDuration.Observe(time.Since(start).Seconds())

	switch {
	case errors.Is(err, ErrCancelled):
		metrics.JobsTotal.WithLabelValues("cancelled").Inc()
		if qerr := ix.Queue.FailTerminal(ctx, job.ID, "cancelled"); qerr != nil {
			logger.Error().Err(qerr).Msg("failed to record cancellation")
		}
		logger.Info().Msg("job cancelled")
	case err != nil:
		metrics.JobsTotal.WithLabelValues("failed").Inc()
		if qerr := ix.Queue.Fail(ctx, job.ID, err.Error()); qerr != nil {
			logger.Error().Err(qerr).Msg("failed to record job failure")
		}
		logger.Error().Err(err).Msg("job attempt failed")
	default:
		metrics.JobsTotal.WithLabelValues("completed").Inc()
		metrics.ChunksWritten.Add(float64(result.ChunksWritten))
		if qerr := ix.Queue.Complete(ctx, job.ID, result); qerr != nil {
			logger.Error().Err(qerr).Msg("failed to record job completion")
		}
		logger.Info().
			Str("strategy", result.Strategy).
			Int("chunks", result.ChunksWritten).
			Int64("duration_ms", result.TotalDurationMS).
			Msg("job completed")
	}
}

// process runs the indexing phases for one job.
func (ix *Indexer) process(ctx context.Context, job *models.Job) (*models.IndexJobResult, error) {
	start := time.Now()

	owner, repo, err := fetcher.ParseGitHubURL(job.Data.GithubURL)
	if err != nil {
		return nil, err
	}

	ing, err := ix.NewIngest(ctx, job.Data.GithubToken, func(pct int) {
		// Ingestion covers the 10-40 band of overall progress.
		_ = ix.Queue.SetProgress(ctx, job.ID, 10+pct*30/100)
	})
	if err != nil {
		return nil, fmt.Errorf("build ingester: %w", err)
	}

	meta, err := ing.Meta(ctx, owner, repo)
	if err != nil {
		return nil, fmt.Errorf("repo metadata %s/%s: %w", owner, repo, err)
	}
	commit := ing.HeadCommit(ctx, owner, repo, meta.DefaultBranch)
	_ = ix.Queue.SetProgress(ctx, job.ID, 5)

	if err := ix.cancelled(ctx, job.ID); err != nil {
		return nil, err
	}

	res, err := ing.Run(ctx, job.Data.GithubURL)
	if err != nil {
		return nil, fmt.Errorf("ingest %s/%s: %w", owner, repo, err)
	}

	if len(res.Chunks) == 0 {
		log.Info().Str("repo", res.RepoID).Msg("no indexable content, skipping")
		return &models.IndexJobResult{
			RepoID:          res.RepoID,
			Strategy:        models.StrategySkipped,
			ChunksWritten:   0,
			TotalDurationMS: time.Since(start).Milliseconds(),
		}, nil
	}

	if err := ix.cancelled(ctx, job.ID); err != nil {
		return nil, err
	}

	embedded, err := ix.Embedder.EmbedChunks(ctx, res.Chunks)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	_ = ix.Queue.SetProgress(ctx, job.ID, 80)

	if err := ix.cancelled(ctx, job.ID); err != nil {
		return nil, err
	}

	wres, err := ix.Writer.Write(ctx, embedded, store.WriteOpts{
		Meta:           res.Meta,
		CommitHash:     commit,
		EmbeddingModel: ix.Embedder.Model(),
	})
	if err != nil {
		return nil, fmt.Errorf("write: %w", err)
	}
	_ = ix.Queue.SetProgress(ctx, job.ID, 100)

	return &models.IndexJobResult{
		RepoID:          res.RepoID,
		Strategy:        wres.Strategy,
		ChunksWritten:   wres.ChunksWritten,
		TotalDurationMS: time.Since(start).Milliseconds(),
	}, nil
}

// cancelled checks the job's cancel flag; flag lookup errors are tolerated.
func (ix *Indexer) cancelled(ctx context.Context, id string) error {
	c, err := ix.Queue.CancelRequested(ctx, id)
	if err != nil {
		log.Warn().Err(err).Str("job_id", id).Msg("cancel flag check failed")
		return nil
	}
	if c {
		return ErrCancelled
	}
	return nil
}
