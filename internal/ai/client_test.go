package ai

import (
	"context"
	"math"
	"reflect"
	"strings"
	"testing"
)

// Compile-time interface compliance checks.
var (
	_ Client = &StubClient{}
	_ Client = &GeminiClient{}
	_ Client = &OpenAIClient{}
)

// Test Provider constants
func TestProviderConstants(t *testing.T) {
	tests := []struct {
		provider Provider
		expected string
	}{
		{ProviderGemini, "gemini"},
		{ProviderOpenAI, "openai"},
		{ProviderStub, "stub"},
	}

	for _, tt := range tests {
		t.Run(string(tt.provider), func(t *testing.T) {
			if string(tt.provider) != tt.expected {
				t.Errorf("Provider constant mismatch. Expected: %s, Got: %s", tt.expected, string(tt.provider))
			}
		})
	}
}

// Test NewClient function
func TestNewClient(t *testing.T) {
	tests := []struct {
		name        string
		config      *ClientConfig
		expectError bool
		errorMsg    string
		clientType  string
	}{
		{
			name:        "nil config",
			config:      nil,
			expectError: true,
			errorMsg:    "client config is required",
		},
		{
			name: "gemini provider",
			config: &ClientConfig{
				Provider: ProviderGemini,
				APIKey:   "test-key",
			},
			expectError: false,
			clientType:  "*ai.GeminiClient",
		},
		{
			name: "gemini provider without key",
			config: &ClientConfig{
				Provider: ProviderGemini,
			},
			expectError: true,
			errorMsg:    "gemini api key is required",
		},
		{
			name: "openai provider",
			config: &ClientConfig{
				Provider: ProviderOpenAI,
				APIKey:   "test-key",
			},
			expectError: false,
			clientType:  "*ai.OpenAIClient",
		},
		{
			name: "stub provider",
			config: &ClientConfig{
				Provider: ProviderStub,
				Dim:      256,
			},
			expectError: false,
			clientType:  "*ai.StubClient",
		},
		{
			name: "unsupported provider",
			config: &ClientConfig{
				Provider: Provider("unsupported"),
			},
			expectError: true,
			errorMsg:    "unsupported provider: unsupported",
		},
		{
			name: "empty provider",
			config: &ClientConfig{
				Provider: Provider(""),
			},
			expectError: true,
			errorMsg:    "unsupported provider: ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClient(context.Background(), tt.config)

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error containing '%s', got '%s'", tt.errorMsg, err.Error())
				}
				return
			}

			if err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}
			clientTypeName := "unknown"
			switch client.(type) {
			case *GeminiClient:
				clientTypeName = "*ai.GeminiClient"
			case *OpenAIClient:
				clientTypeName = "*ai.OpenAIClient"
			case *StubClient:
				clientTypeName = "*ai.StubClient"
			}
			if clientTypeName != tt.clientType {
				t.Errorf("Expected client type '%s', got '%s'", tt.clientType, clientTypeName)
			}
		})
	}
}

// Test StubClient creation
func TestNewStubClient(t *testing.T) {
	tests := []struct {
		name string
		dim  int
		want int
	}{
		{"explicit dimension", 512, 512},
		{"small dimension", 128, 128},
		{"zero dimension falls back to default", 0, 768},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewStubClient(tt.dim)
			if client.Dim() != tt.want {
				t.Errorf("Expected Dim() to return %d, got %d", tt.want, client.Dim())
			}
		})
	}
}

// Test StubClient embeddings: deterministic, unit-length, text-sensitive.
func TestStubClientEmbed(t *testing.T) {
	client := NewStubClient(384)
	ctx := context.Background()

	v1, err := client.EmbedQuery(ctx, "how does auth work?")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(v1) != 384 {
		t.Fatalf("Expected embedding length 384, got %d", len(v1))
	}

	var norm float64
	for _, x := range v1 {
		norm += float64(x) * float64(x)
	}
	if math.Abs(math.Sqrt(norm)-1) > 1e-4 {
		t.Errorf("Expected unit-length vector, got norm %f", math.Sqrt(norm))
	}

	v2, _ := client.EmbedQuery(ctx, "how does auth work?")
	if !reflect.DeepEqual(v1, v2) {
		t.Error("Expected identical vectors for identical text")
	}

	v3, _ := client.EmbedQuery(ctx, "something else entirely")
	if reflect.DeepEqual(v1, v3) {
		t.Error("Expected different vectors for different texts")
	}
}

func TestStubClientEmbedDocuments(t *testing.T) {
	client := NewStubClient(64)
	ctx := context.Background()

	texts := []string{"alpha", "beta", "gamma"}
	vecs, err := client.EmbedDocuments(ctx, texts)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(vecs) != len(texts) {
		t.Fatalf("Expected %d vectors, got %d", len(texts), len(vecs))
	}
	for i, v := range vecs {
		if len(v) != 64 {
			t.Errorf("vector %d: expected length 64, got %d", i, len(v))
		}
	}

	single, _ := client.EmbedQuery(ctx, "beta")
	if !reflect.DeepEqual(vecs[1], single) {
		t.Error("Expected batch and single embedding of the same text to match")
	}
}

func TestStubClientGenerate(t *testing.T) {
	client := NewStubClient(0)
	answer, err := client.Generate(context.Background(), "system", "user")
	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
	if answer == "" {
		t.Error("Expected non-empty answer")
	}
}

// Test concurrent access to StubClient
func TestStubClientConcurrency(t *testing.T) {
	client := NewStubClient(128)
	ctx := context.Background()
	done := make(chan bool, 10)

	for i := 0; i < 10; i++ {
		go func(id int) {
			defer func() { done <- true }()

			embedding, err := client.EmbedQuery(ctx, "test text")
			if err != nil {
				t.Errorf("Goroutine %d: Expected no error, got: %v", id, err)
			}
			if len(embedding) != 128 {
				t.Errorf("Goroutine %d: Expected embedding length 128, got %d", id, len(embedding))
			}
		}(i)
	}

	for i := 0; i < 10; i++ {
		<-done
	}
}

// Benchmark tests
func BenchmarkStubClientEmbedQuery(b *testing.B) {
	client := NewStubClient(768)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = client.EmbedQuery(ctx, "This is a test text for embedding benchmark")
	}
}

func BenchmarkNewClient(b *testing.B) {
	config := &ClientConfig{
		Provider: ProviderStub,
		Dim:      768,
	}
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = NewClient(ctx, config)
	}
}
