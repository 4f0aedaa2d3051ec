package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"go.uber.org/zap"

	"seedmix/internal/core"
)

const defaultOpenAIModel = "gpt-4o-mini"

type OpenAIClient struct {
	config *core.LLMConfig
	logger *zap.Logger
	client *openai.Client
}

func NewOpenAIClient(config *core.LLMConfig, logger *zap.Logger) (*OpenAIClient, error) {
	if config.APIKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}

	var opts []option.RequestOption
	opts = append(opts, option.WithAPIKey(config.APIKey))

	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}

	client := openai.NewClient(opts...)

	return &OpenAIClient{
		config: config,
		logger: logger,
		client: &client,
	}, nil
}

func (o *OpenAIClient) Complete(ctx context.Context, system, user string) (string, error) {
	o.logger.Debug("Calling OpenAI", zap.String("model", o.getModel()))

	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		Model:       shared.ChatModel(o.getModel()),
		Temperature: openai.Float(defaultTemperature),
		MaxTokens:   openai.Int(maxTokens),
	})
	if err != nil {
		o.logger.Error("OpenAI API call failed", zap.Error(err))
		return "", fmt.Errorf("OpenAI API call failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", errors.New("no response from OpenAI")
	}

	return resp.Choices[0].Message.Content, nil
}

func (o *OpenAIClient) getModel() string {
	if o.config.Model != "" {
		return o.config.Model
	}
	return defaultOpenAIModel
}
