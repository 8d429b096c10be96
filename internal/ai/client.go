package ai

import (
	"context"
	"crypto/sha256"
	"errors"
	"math"
)

// Client provides embeddings and grounded answer generation.
type Client interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Generate(ctx context.Context, system, user string) (string, error)
	Dim() int
	EmbedModel() string
	GenModel() string
}

// Provider is enumeration of supported AI providers
type Provider string

const (
	ProviderGemini Provider = "gemini"
	ProviderOpenAI Provider = "openai"
	ProviderStub   Provider = "stub"
)

// ClientConfig holds configuration for AI clients
type ClientConfig struct {
	APIKey     string
	EmbedModel string
	GenModel   string
	Dim        int
	Provider   Provider
}

// NewClient creates a new AI client based on configuration
func NewClient(ctx context.Context, config *ClientConfig) (Client, error) {
	if config == nil {
		return nil, errors.New("client config is required")
	}

	switch config.Provider {
	case ProviderGemini:
		return NewGeminiClient(ctx, config)
	case ProviderOpenAI:
		return NewOpenAIClient(config), nil
	case ProviderStub:
		return NewStubClient(config.Dim), nil
	default:
		return nil, errors.New("unsupported provider: " + string(config.Provider))
	}
}

// StubClient is a stub implementation of the Client interface for testing
// and keyless development. Vectors are deterministic functions of the text.
type StubClient struct {
	dim int
}

// NewStubClient creates a new StubClient
func NewStubClient(dim int) *StubClient {
	if dim == 0 {
		dim = 768
	}
	return &StubClient{dim: dim}
}

// EmbedDocuments returns one deterministic unit vector per text.
func (s *StubClient) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = s.embedOne(t)
	}
	return out, nil
}

// EmbedQuery returns a deterministic unit vector for the query text.
func (s *StubClient) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return s.embedOne(text), nil
}

// Generate returns a canned answer.
func (s *StubClient) Generate(ctx context.Context, system, user string) (string, error) {
	return "Stub answer: no language model is configured.", nil
}

// Dim returns the embedding dimension
func (s *StubClient) Dim() int {
	return s.dim
}

// EmbedModel returns the embedding model name
func (s *StubClient) EmbedModel() string {
	return "stub"
}

// GenModel returns the generation model name
func (s *StubClient) GenModel() string {
	return "stub"
}

func (s *StubClient) embedOne(text string) []float32 {
	h := sha256.Sum256([]byte(text))
	v := make([]float32, s.dim)
	var norm float64
	for i := range v {
		b := h[i%len(h)]
		v[i] = float32(int(b)) - 127.5
		norm += float64(v[i]) * float64(v[i])
	}
	n := float32(math.Sqrt(norm))
	for i := range v {
		v[i] /= n
	}
	return v
}
