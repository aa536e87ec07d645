// Package openai adapts the OpenAI API to the embedding and chat
// capabilities consumed by the service.
package openai

import (
	"context"
	"fmt"
	"os"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/commonrag/commonrag"
)

type Config struct {
	BaseURL        string
	APIKeyEnv      string
	EmbeddingModel string
	ChatModel      string
	Dimension      int
}

func NewProvider(cfg Config) (*Provider, error) {
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("%w: missing API key in env %s",
			commonrag.ErrInvalidConfiguration, cfg.APIKeyEnv)
	}

	opts := []option.RequestOption{
		option.WithAPIKey(key),
	}

	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	provider := &Provider{
		client: openai.NewClient(opts...),
		cfg:    cfg,
	}

	return provider, nil
}

// Provider implements both commonrag.Embedder and commonrag.ChatModel over
// one shared client, constructed once at process start.
type Provider struct {
	client openai.Client
	cfg    Config
}

func (p *Provider) Dimension() int {
	return p.cfg.Dimension
}

func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := p.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{
			OfString: openai.String(text),
		},
		Model: openai.EmbeddingModel(p.cfg.EmbeddingModel),
	})
	if err != nil {
		return nil, err
	}

	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("empty embedding response")
	}

	raw := resp.Data[0].Embedding
	embedding := make([]float32, len(raw))
	for i, v := range raw {
		embedding[i] = float32(v)
	}

	if p.cfg.Dimension > 0 && len(embedding) != p.cfg.Dimension {
		return nil, fmt.Errorf("model returned dimension %d, configured %d",
			len(embedding), p.cfg.Dimension)
	}

	return embedding, nil
}

func (p *Provider) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Model:       openai.ChatModel(p.cfg.ChatModel),
		Temperature: openai.Float(0),
	})
	if err != nil {
		return "", err
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty completion response")
	}

	return resp.Choices[0].Message.Content, nil
}
