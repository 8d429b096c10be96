package embed

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/repoqa/repoqa/internal/ai"
	"github.com/repoqa/repoqa/internal/metrics"
	"github.com/repoqa/repoqa/pkg/models"
)

const (
	// BatchSize is the number of texts sent per embedding request.
	BatchSize = 100

	// batchConcurrency bounds how many embedding requests run at once.
	batchConcurrency = 3

	requestsPerSecond = 5
	maxRetries        = 4
)

// ErrDimensionMismatch indicates the provider returned a vector whose length
// does not match the configured model dimension.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Embedder converts code chunks into unit-length vectors via an AI client.
type Embedder struct {
	client        ai.Client
	limiter       *rate.Limiter
	retryInterval time.Duration
}

// New returns an Embedder with the default request rate.
func New(client ai.Client) *Embedder {
	return &Embedder{
		client:        client,
		limiter:       rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond),
		retryInterval: 500 * time.Millisecond,
	}
}

// Model returns the embedding model identifier in use.
func (e *Embedder) Model() string {
	return e.client.EmbedModel()
}

// Dim returns the vector dimension produced by the underlying model.
func (e *Embedder) Dim() int {
	return e.client.Dim()
}

// EmbedChunks embeds all chunks in batches. Output order matches input order.
// A batch that still fails after retries fails the whole call.
func (e *Embedder) EmbedChunks(ctx context.Context, chunks []models.CodeChunk) ([]models.EmbeddedChunk, error) {
	out := make([]models.EmbeddedChunk, len(chunks))
	if len(chunks) == 0 {
		return out, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(batchConcurrency)

	batches := 0
	for start := 0; start < len(chunks); start += BatchSize {
		end := start + BatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		start, end := start, end
		batches++

		g.Go(func() error {
			batch := chunks[start:end]
			texts := make([]string, len(batch))
			for i, c := range batch {
				texts[i] = c.Content
			}

			var vecs [][]float32
			err := e.withRetry(gctx, func() error {
				if err := e.limiter.Wait(gctx); err != nil {
					return backoff.Permanent(err)
				}
				var embErr error
				vecs, embErr = e.client.EmbedDocuments(gctx, texts)
				return embErr
			})
			if err != nil {
				metrics.EmbedBatches.WithLabelValues("error").Inc()
				return fmt.Errorf("embed batch at offset %d: %w", start, err)
			}
			if len(vecs) != len(batch) {
				metrics.EmbedBatches.WithLabelValues("error").Inc()
				return fmt.Errorf("embed batch at offset %d: got %d vectors for %d texts", start, len(vecs), len(batch))
			}
			metrics.EmbedBatches.WithLabelValues("ok").Inc()

			now := time.Now().UTC()
			for i, vec := range vecs {
				if err := e.checkAndNormalize(vec); err != nil {
					return fmt.Errorf("chunk %s: %w", batch[i].ID, err)
				}
				out[start+i] = models.EmbeddedChunk{
					Chunk:      batch[i],
					Embedding:  vec,
					EmbeddedAt: now,
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	log.Debug().
		Int("chunks", len(chunks)).
		Int("batches", batches).
		Str("model", e.Model()).
		Msg("embedded chunks")
	return out, nil
}

// EmbedQuery embeds a single query string, normalized to unit length.
func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	var vec []float32
	err := e.withRetry(ctx, func() error {
		if err := e.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		var embErr error
		vec, embErr = e.client.EmbedQuery(ctx, text)
		return embErr
	})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if err := e.checkAndNormalize(vec); err != nil {
		return nil, err
	}
	return vec, nil
}

func (e *Embedder) withRetry(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	if e.retryInterval > 0 {
		bo.InitialInterval = e.retryInterval
	}
	bo.MaxInterval = 10 * time.Second
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, maxRetries), ctx))
}

// checkAndNormalize enforces the model dimension and scales the vector to
// unit length in place.
func (e *Embedder) checkAndNormalize(vec []float32) error {
	if dim := e.client.Dim(); dim > 0 && len(vec) != dim {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), dim)
	}
	var sum float64
	for _, x := range vec {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return errors.New("zero-length embedding")
	}
	inv := 1 / math.Sqrt(sum)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) * inv)
	}
	return nil
}
