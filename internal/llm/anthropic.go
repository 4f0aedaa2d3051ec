package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"seedmix/internal/core"
)

const defaultAnthropicModel = "claude-3-5-haiku-latest"

type AnthropicClient struct {
	config *core.LLMConfig
	logger *zap.Logger
	client *anthropic.Client
}

func NewAnthropicClient(config *core.LLMConfig, logger *zap.Logger) (*AnthropicClient, error) {
	if config.APIKey == "" {
		return nil, errors.New("Anthropic API key is required")
	}

	var opts []option.RequestOption
	opts = append(opts, option.WithAPIKey(config.APIKey))

	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}

	client := anthropic.NewClient(opts...)

	return &AnthropicClient{
		config: config,
		logger: logger,
		client: &client,
	}, nil
}

func (a *AnthropicClient) Complete(ctx context.Context, system, user string) (string, error) {
	model := a.config.Model
	if model == "" {
		model = defaultAnthropicModel
	}

	message, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		System: []anthropic.TextBlockParam{{
			Text: system,
		}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
		Temperature: anthropic.Float(defaultTemperature),
	})
	if err != nil {
		return "", fmt.Errorf("Anthropic API call failed: %w", err)
	}

	if len(message.Content) == 0 {
		return "", errors.New("no response from Anthropic")
	}

	a.logger.Debug("Anthropic response received", zap.String("model", model))
	return message.Content[0].Text, nil
}
