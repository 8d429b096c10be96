package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/repoqa/repoqa/internal/ai"
	"github.com/repoqa/repoqa/internal/cache"
	"github.com/repoqa/repoqa/internal/config"
	"github.com/repoqa/repoqa/internal/embed"
	"github.com/repoqa/repoqa/internal/fetcher"
	"github.com/repoqa/repoqa/internal/indexer"
	"github.com/repoqa/repoqa/internal/queue"
	"github.com/repoqa/repoqa/internal/store"
)

// promoteInterval is how often delayed retries are moved back to pending.
const promoteInterval = 5 * time.Second

func main() {
	fs := pflag.NewFlagSet("repoqa-worker", pflag.ExitOnError)

	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level '%s': %v", cfg.LogLevel, err)
	}
	zerolog.SetGlobalLevel(level)
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	logger.Info().Str("provider", cfg.Provider).Int("workers", cfg.Workers).Msg("starting repoqa worker")

	var clientConfig *ai.ClientConfig
	switch strings.ToLower(cfg.Provider) {
	case "gemini", "google":
		clientConfig = &ai.ClientConfig{
			APIKey:     cfg.APIKey,
			EmbedModel: cfg.EmbedModel,
			GenModel:   cfg.GenModel,
			Dim:        cfg.Dim,
			Provider:   ai.ProviderGemini,
		}
	case "openai":
		clientConfig = &ai.ClientConfig{
			APIKey:     cfg.APIKey,
			EmbedModel: cfg.EmbedModel,
			GenModel:   cfg.GenModel,
			Dim:        cfg.Dim,
			Provider:   ai.ProviderOpenAI,
		}
	case "stub":
		clientConfig = &ai.ClientConfig{
			Dim:      cfg.Dim,
			Provider: ai.ProviderStub,
		}
	default:
		log.Fatalf("unsupported provider: %s", cfg.Provider)
	}

	if clientConfig.Provider == ai.ProviderGemini && clientConfig.APIKey == "" {
		logger.Warn().Msg("GEMINI_API_KEY not set, falling back to stub provider")
		clientConfig = &ai.ClientConfig{Dim: cfg.Dim, Provider: ai.ProviderStub}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer st.Close()

	client, err := ai.NewClient(ctx, clientConfig)
	if err != nil {
		log.Fatalf("Failed to create AI client: %v", err)
	}

	if client.Dim() == 0 {
		log.Fatal("embedding dimension must be set")
	}
	if err := st.Migrate(ctx, client.Dim()); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	q, err := queue.New(cfg.RedisURL, queue.IndexRepo)
	if err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}
	defer q.Close()

	var metaCache fetcher.MetaCache
	if ttl := cfg.CacheTTLDuration(); ttl > 0 {
		mc, err := cache.New(cfg.RedisURL, ttl)
		if err != nil {
			logger.Warn().Err(err).Msg("repo metadata cache disabled")
		} else {
			defer mc.Close()
			metaCache = mc
		}
	}

	emb := embed.New(client)
	ix := indexer.New(q, indexer.DefaultIngestFactory(cfg.GithubToken, metaCache), emb, st, cfg.Workers)

	go q.RunPromoter(ctx, promoteInterval)

	logger.Info().Int("concurrency", ix.Concurrency).Str("embed_model", emb.Model()).Msg("worker pool started")
	ix.Run(ctx)
	logger.Info().Msg("worker stopped")
}
