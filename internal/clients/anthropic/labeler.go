package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/yungbote/codeframe-backend/internal/clients/llmlabel"
	types "github.com/yungbote/codeframe-backend/internal/domain"
	"github.com/yungbote/codeframe-backend/internal/pkg/httpx"
	"github.com/yungbote/codeframe-backend/internal/pkg/logger"
)

type Config struct {
	APIKey  string
	BaseURL string
}

type Labeler interface {
	Label(ctx context.Context, req types.LabelRequest) (*types.ClusterLabel, error)
}

type labeler struct {
	log    *logger.Logger
	client *sdk.Client
}

func NewLabeler(cfg Config, log *logger.Logger) (Labeler, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	key := strings.TrimSpace(cfg.APIKey)
	if key == "" {
		return nil, fmt.Errorf("missing anthropic api key")
	}
	opts := []option.RequestOption{option.WithAPIKey(key), option.WithMaxRetries(0)}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	client := sdk.NewClient(opts...)
	return &labeler{
		log:    log.With("service", "AnthropicLabeler"),
		client: &client,
	}, nil
}

func (l *labeler) Label(ctx context.Context, req types.LabelRequest) (*types.ClusterLabel, error) {
	system, user := llmlabel.BuildPrompt(req)
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	resp, err := l.client.Messages.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: int64(maxTokens),
		System:    []sdk.TextBlockParam{{Text: system}},
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(user)),
		},
	})
	if err != nil {
		var apiErr *sdk.Error
		if errors.As(err, &apiErr) {
			return nil, &httpx.StatusError{Service: "anthropic", Status: apiErr.StatusCode, Body: apiErr.Error()}
		}
		return nil, fmt.Errorf("anthropic: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	label, err := llmlabel.Parse(text.String(), req)
	if err != nil {
		return nil, err
	}
	label.TokensUsed = resp.Usage.InputTokens + resp.Usage.OutputTokens
	return label, nil
}
