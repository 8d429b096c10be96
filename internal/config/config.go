package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Specification holds every runtime knob for the API server and the
// indexing worker. Environment names are unprefixed (DATABASE_URL, not
// REPOQA_DATABASE_URL) to match the deployment environment.
type Specification struct {
	Port           int    `yaml:"port" envconfig:"PORT"`
	Database       string `yaml:"databaseUrl" envconfig:"DATABASE_URL"`
	RedisURL       string `yaml:"redisUrl" envconfig:"REDIS_URL"`
	Provider       string `yaml:"provider" envconfig:"AI_PROVIDER"`
	APIKey         string `yaml:"geminiApiKey" envconfig:"GEMINI_API_KEY"`
	EmbedModel     string `yaml:"embeddingModel" envconfig:"EMBEDDING_MODEL"`
	GenModel       string `yaml:"generationModel" envconfig:"GENERATION_MODEL"`
	Dim            int    `yaml:"embedDim" envconfig:"EMBED_DIM"`
	GithubToken    string `yaml:"githubToken" envconfig:"GITHUB_TOKEN"`
	AllowedOrigins string `yaml:"allowedOrigins" envconfig:"ALLOWED_ORIGINS"`
	CacheTTL       int    `yaml:"cacheTtlSeconds" envconfig:"CACHE_TTL_SECONDS"`
	Workers        int    `yaml:"workerConcurrency" envconfig:"WORKER_CONCURRENCY"`
	LogLevel       string `yaml:"logLevel" envconfig:"LOG_LEVEL"`

	flags *pflag.FlagSet `ignored:"true"`
}

// envPrefix only scopes the config-file discovery variable; runtime
// settings use the bare names above.
const envPrefix = "REPOQA"

func (s *Specification) Usage() {
	fmt.Fprint(os.Stderr, s.flags.FlagUsages())
}

// Origins splits the ALLOWED_ORIGINS CSV into a list.
func (s *Specification) Origins() []string {
	if strings.TrimSpace(s.AllowedOrigins) == "" {
		return nil
	}
	parts := strings.Split(s.AllowedOrigins, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// CacheTTLDuration converts CACHE_TTL_SECONDS to a duration.
func (s *Specification) CacheTTLDuration() time.Duration {
	return time.Duration(s.CacheTTL) * time.Second
}

// Load => defaults < YAML < env < flags.
// configPath may be ""; if so we auto-discover.
func Load(configPath string, fs *pflag.FlagSet) (Specification, error) {
	var cfg Specification

	// set defaults (lowest precedence)
	setDefaults(&cfg)
	bindFlags(fs, &cfg)

	// config file
	path := configPath
	if path == "" {
		if v := os.Getenv(envPrefix + "_CONFIG"); v != "" {
			path = v
		} else {
			for _, cand := range []string{
				"configs/repoqa.yaml",
				"config/repoqa.yaml",
				"./repoqa.yaml",
				"./config.yaml",
			} {
				if fileExists(cand) {
					path = cand
					break
				}
			}
		}
	}

	if path != "" {
		if !fileExists(path) {
			return Specification{}, fmt.Errorf("config file not found: %s", path)
		}
		if err := loadYAML(path, &cfg); err != nil {
			return Specification{}, fmt.Errorf("load yaml %s: %w", path, err)
		}
	}

	// env overrides config file
	if err := envconfig.Process("", &cfg); err != nil {
		return Specification{}, fmt.Errorf("env override: %w", err)
	}

	// flags override everything
	if err := fs.Parse(os.Args[1:]); err != nil {
		return Specification{}, err
	}
	applyChangedFlags(fs, &cfg)

	// Minimal sanity
	if strings.TrimSpace(cfg.Database) == "" {
		return Specification{}, fmt.Errorf("DATABASE_URL is required (env/file/flag)")
	}
	if strings.TrimSpace(cfg.LogLevel) == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 3
	}
	if cfg.CacheTTL < 0 {
		cfg.CacheTTL = 0
	}
	return cfg, nil
}

// ---------- helpers ----------

func loadYAML(path string, into any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(b, into)
}

func fileExists(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && !fi.IsDir()
}

func bindFlags(fs *pflag.FlagSet, c *Specification) {
	fs.String("config", "", "Path to config file")

	// If --config is provided on the command line, capture it now so
	// config discovery (which runs before flags.Parse) can use it.
	for i, a := range os.Args {
		if a == "--config" {
			if i+1 < len(os.Args) && !strings.HasPrefix(os.Args[i+1], "-") {
				_ = os.Setenv(envPrefix+"_CONFIG", os.Args[i+1])
			}
		} else if strings.HasPrefix(a, "--config=") {
			parts := strings.SplitN(a, "=", 2)
			if len(parts) == 2 {
				_ = os.Setenv(envPrefix+"_CONFIG", parts[1])
			}
		}
	}

	fs.Int("port", c.Port, "API server port")
	fs.String("database-url", c.Database, "Postgres URL (DSN), pgvector required")
	fs.String("redis-url", c.RedisURL, "Redis URL for the job queue and cache")

	fs.String("provider", c.Provider, "AI provider (gemini, openai, stub)")
	fs.String("gemini-api-key", c.APIKey, "AI provider API key")
	fs.String("embedding-model", c.EmbedModel, "Embedding model name")
	fs.String("generation-model", c.GenModel, "Generation model name")
	fs.Int("embed-dim", c.Dim, "Embedding dimensionality")

	fs.String("github-token", c.GithubToken, "GitHub API token (raises rate limits)")
	fs.String("allowed-origins", c.AllowedOrigins, "CSV of origins allowed to call the API")
	fs.Int("cache-ttl-seconds", c.CacheTTL, "Repo metadata cache TTL in seconds")
	fs.Int("worker-concurrency", c.Workers, "Number of concurrent indexing workers")
	fs.String("log-level", c.LogLevel, "Log level (debug|info|warn|error)")

	// Used later for usage/help
	// create a shallow copy of fs (so Usage can be called safely without mutating caller)
	copied := pflag.NewFlagSet("temp", pflag.ContinueOnError)
	*copied = *fs
	c.flags = copied
}

func applyChangedFlags(fs *pflag.FlagSet, c *Specification) {
	setStr := func(name string, dst *string) {
		if fs.Changed(name) {
			v, _ := fs.GetString(name)
			*dst = v
		}
	}
	setInt := func(name string, dst *int) {
		if fs.Changed(name) {
			v, _ := fs.GetInt(name)
			*dst = v
		}
	}

	// (We ignore --config here; it's for discovery.)
	setInt("port", &c.Port)
	setStr("database-url", &c.Database)
	setStr("redis-url", &c.RedisURL)

	setStr("provider", &c.Provider)
	setStr("gemini-api-key", &c.APIKey)
	setStr("embedding-model", &c.EmbedModel)
	setStr("generation-model", &c.GenModel)
	setInt("embed-dim", &c.Dim)

	setStr("github-token", &c.GithubToken)
	setStr("allowed-origins", &c.AllowedOrigins)
	setInt("cache-ttl-seconds", &c.CacheTTL)
	setInt("worker-concurrency", &c.Workers)
	setStr("log-level", &c.LogLevel)
}

func setDefaults(c *Specification) {
	c.Port = 8000
	c.RedisURL = "redis://localhost:6379"
	c.Provider = "gemini"
	c.CacheTTL = 3600
	c.Workers = 3
	c.LogLevel = "info"
	c.Dim = 0
}
