// Package llm writes playlist descriptions with a language model.
package llm

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"seedmix/internal/core"
)

const (
	// MaxDescriptionLength is the longest description the catalog accepts
	MaxDescriptionLength = 300
	// maxPromptSeeds bounds how many seeds are listed in a prompt
	maxPromptSeeds = 20

	defaultTemperature = 0.7
	maxTokens          = 200
)

const systemPrompt = `You write descriptions for music playlists.
Given a playlist name and the seed tracks it was built from, reply with one or two sentences
describing the mood and sound of the playlist.

Rules:
- Plain text only, no quotes, no markdown, no hashtags
- Do not list the seed tracks
- At most 250 characters`

type Provider struct {
	config *core.LLMConfig
	logger *zap.Logger
	client LLMClient
}

// LLMClient sends one system and one user prompt and returns the model's reply.
type LLMClient interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

func NewProvider(config *core.LLMConfig, logger *zap.Logger) (*Provider, error) {
	var client LLMClient
	var err error

	switch strings.ToLower(config.Provider) {
	case "openai":
		client, err = NewOpenAIClient(config, logger)
	case "anthropic":
		client, err = NewAnthropicClient(config, logger)
	case "ollama":
		client, err = NewOllamaClient(config, logger)
	case "none", "":
		return &Provider{
			config: config,
			logger: logger,
			client: &NoOpClient{},
		}, nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", config.Provider)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create %s client: %w", config.Provider, err)
	}

	return &Provider{
		config: config,
		logger: logger,
		client: client,
	}, nil
}

// DescribePlaylist asks the model for a description. An empty string means the
// caller should fall back to its own template.
func (p *Provider) DescribePlaylist(ctx context.Context, name string, seeds []core.Seed) (string, error) {
	reply, err := p.client.Complete(ctx, systemPrompt, buildUserPrompt(name, seeds))
	if err != nil {
		return "", err
	}

	description := sanitizeDescription(reply)
	p.logger.Debug("Playlist description generated",
		zap.String("provider", p.config.Provider),
		zap.Int("length", len(description)))
	return description, nil
}

func buildUserPrompt(name string, seeds []core.Seed) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Playlist name: %s\n", name)
	b.WriteString("Seed tracks:\n")
	for i, s := range seeds {
		if i == maxPromptSeeds {
			fmt.Fprintf(&b, "- and %d more\n", len(seeds)-maxPromptSeeds)
			break
		}
		fmt.Fprintf(&b, "- %s - %s\n", s.Artist, s.Title)
	}
	return b.String()
}

// sanitizeDescription flattens the reply to one line, strips wrapping quotes and
// truncates it to MaxDescriptionLength runes.
func sanitizeDescription(reply string) string {
	description := strings.Join(strings.Fields(reply), " ")
	description = strings.Trim(description, "\"'`")
	description = strings.TrimSpace(description)

	if utf8.RuneCountInString(description) > MaxDescriptionLength {
		runes := []rune(description)
		description = strings.TrimSpace(string(runes[:MaxDescriptionLength-1])) + "…"
	}
	return description
}

type NoOpClient struct{}

func (n *NoOpClient) Complete(context.Context, string, string) (string, error) {
	return "", nil
}

var _ core.Describer = (*Provider)(nil)
