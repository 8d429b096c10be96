package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

type GeminiClient struct {
	config *ClientConfig
	client *genai.Client
}

// NewGeminiClient creates a new client for the Google Gemini API.
func NewGeminiClient(ctx context.Context, config *ClientConfig) (*GeminiClient, error) {
	if config == nil {
		return nil, errors.New("config cannot be nil")
	}
	if strings.TrimSpace(config.APIKey) == "" {
		return nil, errors.New("gemini api key is required")
	}

	// Defaults for Gemini API
	if config.EmbedModel == "" {
		config.EmbedModel = "text-embedding-004"
	}
	if config.GenModel == "" {
		config.GenModel = "gemini-2.0-flash"
	}
	if config.Dim == 0 {
		config.Dim = 768
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiClient{
		config: config,
		client: client,
	}, nil
}

// EmbedDocuments embeds a batch of chunk texts in a single API call.
func (c *GeminiClient) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return c.embed(ctx, texts, "RETRIEVAL_DOCUMENT")
}

// EmbedQuery embeds a search query.
func (c *GeminiClient) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.embed(ctx, []string{text}, "RETRIEVAL_QUERY")
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (c *GeminiClient) embed(ctx context.Context, texts []string, taskType string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.Text(t)[0]
	}
	cfg := genai.EmbedContentConfig{
		TaskType: taskType,
	}

	res, err := c.client.Models.EmbedContent(ctx, c.config.EmbedModel, contents, &cfg)
	if err != nil {
		return nil, fmt.Errorf("embedding failed: %w", err)
	}

	got := 0
	if res != nil {
		got = len(res.Embeddings)
	}
	if got != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), got)
	}

	out := make([][]float32, got)
	for i, e := range res.Embeddings {
		out[i] = e.Values
	}
	return out, nil
}

// Generate produces a grounded answer from the assembled prompts using the
// Gemini API. Low temperature and a bounded output keep the model close to
// the supplied context.
func (c *GeminiClient) Generate(ctx context.Context, system, user string) (string, error) {
	prompt := genai.Text(system)
	temp := float32(0.1)
	cfg := genai.GenerateContentConfig{
		Temperature:       &temp,
		MaxOutputTokens:   1024,
		SystemInstruction: prompt[0],
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.config.GenModel, genai.Text(user), &cfg)
	if err != nil {
		return "", fmt.Errorf("generation failed: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", errors.New("no answer returned")
	}

	part := resp.Candidates[0].Content.Parts[0]
	return strings.TrimSpace(part.Text), nil
}

func (c *GeminiClient) Dim() int {
	return c.config.Dim
}

// EmbedModel returns the embedding model name recorded with indexed repos.
func (c *GeminiClient) EmbedModel() string {
	return c.config.EmbedModel
}

// GenModel returns the generation model name reported in query metadata.
func (c *GeminiClient) GenModel() string {
	return c.config.GenModel
}
