package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/spf13/pflag"

	"github.com/repoqa/repoqa/internal/ai"
	"github.com/repoqa/repoqa/internal/config"
	"github.com/repoqa/repoqa/internal/httpapi"
	"github.com/repoqa/repoqa/internal/queue"
	"github.com/repoqa/repoqa/internal/search"
	"github.com/repoqa/repoqa/internal/store"
)

func main() {
	// Create flagset for configuration
	fs := pflag.NewFlagSet("repoqa-api", pflag.ExitOnError)

	// Load configuration
	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	// Set up logging
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level '%s': %v", cfg.LogLevel, err)
	}
	zerolog.SetGlobalLevel(level)
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	logger.Info().Str("provider", cfg.Provider).Str("log_level", cfg.LogLevel).Msg("starting repoqa api")

	// Create AI client configuration
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

	ctx := context.Background()
	st, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer st.Close()

	client, err := ai.NewClient(ctx, clientConfig)
	if err != nil {
		log.Fatalf("Failed to create AI client: %v", err)
	}

	// Use the AI client's dimension for database migration
	dim := client.Dim()
	logger.Info().Int("embedding_dim", dim).Str("embed_model", client.EmbedModel()).Msg("AI client initialized")

	if err := st.Migrate(ctx, dim); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	q, err := queue.New(cfg.RedisURL, queue.IndexRepo)
	if err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}
	defer q.Close()

	svc := search.NewService(client, st)

	mux := http.NewServeMux()
	httpapi.NewHandler(q, svc, st).RegisterRoutes(mux)

	handler := hlog.NewHandler(logger)(
		hlog.AccessHandler(func(r *http.Request, status, size int, dur time.Duration) {
			logger.Info().Str("method", r.Method).Str("path", r.URL.Path).Int("status", status).Int("size", size).Dur("dur", dur).Msg("http")
		})(httpapi.CORS(cfg.Origins())(mux)),
	)

	address := fmt.Sprintf(":%d", cfg.Port)
	s := &http.Server{Addr: address, Handler: handler}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", s.Addr).Msg("api server listening")
		errCh <- s.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		log.Fatalf("Server error: %v", err)
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}
