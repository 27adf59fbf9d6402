// Package embedding turns text into vectors for the memory pipeline.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/34892002/3000World/internal/apperr"
	"github.com/34892002/3000World/internal/config"
)

// Embedder produces an embedding for a piece of text. Failures carry the
// EmbeddingError kind.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Func adapts a plain function to Embedder.
type Func func(ctx context.Context, text string) ([]float32, error)

func (f Func) Embed(ctx context.Context, text string) ([]float32, error) {
	return f(ctx, text)
}

var errEmptyEmbedding = errors.New("provider returned no embedding")

// New builds the embedder named by cfg.Provider.
func New(cfg config.EmbeddingConfig) (Embedder, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "openai":
		return NewOpenAI(cfg.APIKey(), cfg.BaseURL, cfg.Model), nil
	case "mock":
		return NewMock(cfg.Dimension), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

// OpenAI calls an OpenAI-compatible /embeddings endpoint.
type OpenAI struct {
	client *openai.Client
	model  string
}

// NewOpenAI creates a client. An empty baseURL means api.openai.com.
func NewOpenAI(apiKey, baseURL, model string) *OpenAI {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if model == "" {
		model = string(openai.SmallEmbedding3)
	}
	return &OpenAI{client: openai.NewClientWithConfig(cfg), model: model}
}

// Model returns the embedding model name.
func (e *OpenAI) Model() string { return e.model }

func (e *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.model),
		Input: []string{text},
	})
	if err != nil {
		return nil, apperr.New(apperr.KindEmbedding, "embed", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, apperr.New(apperr.KindEmbedding, "embed", errEmptyEmbedding)
	}
	return resp.Data[0].Embedding, nil
}
