package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/yungbote/codeframe-backend/internal/clients/llmlabel"
	types "github.com/yungbote/codeframe-backend/internal/domain"
	"github.com/yungbote/codeframe-backend/internal/pkg/httpx"
	"github.com/yungbote/codeframe-backend/internal/pkg/logger"
)

type Config struct {
	APIKey    string
	BaseURL   string
	Timeout   time.Duration
	BatchSize int
}

// Client embeds answer text and, when selected as the labeling provider,
// labels clusters through chat completions.
type Client interface {
	Embed(ctx context.Context, model string, texts []string) ([][]float32, error)
	Label(ctx context.Context, req types.LabelRequest) (*types.ClusterLabel, error)
}

type client struct {
	log       *logger.Logger
	api       *goopenai.Client
	timeout   time.Duration
	batchSize int
}

func NewClient(cfg Config, log *logger.Logger) (Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("missing openai api key")
	}
	oc := goopenai.DefaultConfig(apiKey)
	if base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"); base != "" {
		oc.BaseURL = base
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 100
	}
	return &client{
		log:       log.With("service", "OpenAIClient"),
		api:       goopenai.NewClientWithConfig(oc),
		timeout:   timeout,
		batchSize: batch,
	}, nil
}

func (c *client) Embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	out := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += c.batchSize {
		end := i + c.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := c.embedBatch(ctx, model, texts[i:end])
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
	}
	return out, nil
}

func (c *client) embedBatch(ctx context.Context, model string, texts []string) ([][]float32, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.api.CreateEmbeddings(callCtx, goopenai.EmbeddingRequest{
		Input: texts,
		Model: goopenai.EmbeddingModel(model),
	})
	if err != nil {
		return nil, wrapErr(err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embeddings: got %d vectors for %d inputs", len(resp.Data), len(texts))
	}
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("openai embeddings: index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	for i, v := range out {
		if len(v) == 0 {
			return nil, fmt.Errorf("openai embeddings: missing vector %d", i)
		}
	}
	return out, nil
}

func (c *client) Label(ctx context.Context, req types.LabelRequest) (*types.ClusterLabel, error) {
	system, user := llmlabel.BuildPrompt(req)
	resp, err := c.api.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:     req.Model,
		MaxTokens: req.MaxTokens,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleSystem, Content: system},
			{Role: goopenai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		return nil, wrapErr(err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai chat: empty choices")
	}
	label, err := llmlabel.Parse(resp.Choices[0].Message.Content, req)
	if err != nil {
		return nil, err
	}
	label.TokensUsed = int64(resp.Usage.TotalTokens)
	return label, nil
}

// wrapErr turns SDK errors into httpx.StatusError so retry classification
// works the same for every upstream.
func wrapErr(err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return &httpx.StatusError{Service: "openai", Status: apiErr.HTTPStatusCode, Body: apiErr.Message}
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return &httpx.StatusError{Service: "openai", Status: reqErr.HTTPStatusCode, Body: reqErr.Error()}
	}
	return fmt.Errorf("openai: %w", err)
}
