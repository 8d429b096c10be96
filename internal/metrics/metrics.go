// Package metrics holds the process-wide Prometheus instruments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsTotal counts finished indexing job attempts by outcome
	// (completed, failed, cancelled).
	JobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "repoqa_index_jobs_total",
		Help: "Indexing jobs by terminal outcome.",
	}, []string{"outcome"})

	// JobDuration observes end-to-end indexing time per job attempt.
	JobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "repoqa_index_job_duration_seconds",
		Help:    "Wall-clock duration of indexing job attempts.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
	})

	// ChunksWritten counts chunks persisted to the vector store.
	ChunksWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "repoqa_chunks_written_total",
		Help: "Chunks written to the vector store.",
	})

	// EmbedBatches counts embedding API batches by status (ok, error).
	// A batch is counted once, after its retries are exhausted or it succeeds.
	EmbedBatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "repoqa_embed_batches_total",
		Help: "Embedding request batches by final status.",
	}, []string{"status"})

	// QueriesTotal counts RAG queries by status
	// (ok, no_results, invalid, error).
	QueriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "repoqa_rag_queries_total",
		Help: "RAG queries by result status.",
	}, []string{"status"})

	// QueryDuration observes end-to-end RAG query latency.
	QueryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "repoqa_rag_query_duration_seconds",
		Help:    "Wall-clock duration of RAG queries.",
		Buckets: prometheus.DefBuckets,
	})

	// RetrievedChunks observes how many chunks cleared the similarity
	// floor per query.
	RetrievedChunks = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "repoqa_retrieved_chunks",
		Help:    "Chunks above the similarity floor per RAG query.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 7),
	})
)
