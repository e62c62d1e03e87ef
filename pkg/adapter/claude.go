package adapter

import (
	"context"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
)

// ClaudeInput is one completion call to the Anthropic API.
type ClaudeInput struct {
	Model       string
	System      string
	Messages    []anthropic.MessageParam
	MaxTokens   int64
	Temperature *float32
}

// Claude is the interface for the Anthropic API client
type Claude interface {
	// Chat sends messages to Claude and awaits the full response
	Chat(ctx context.Context, input ClaudeInput) (*anthropic.Message, error)

	// ChatStream opens a streaming completion
	ChatStream(ctx context.Context, input ClaudeInput) *ssestream.Stream[anthropic.MessageStreamEventUnion]
}

// claudeClient implements Claude interface
type claudeClient struct {
	client *anthropic.Client
}

// NewClaude creates a new Claude API client
func NewClaude(apiKey string) Claude {
	client := anthropic.NewClient(
		option.WithAPIKey(apiKey),
	)
	return &claudeClient{
		client: &client,
	}
}

func (c *claudeClient) params(input ClaudeInput) anthropic.MessageNewParams {
	maxTokens := input.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(input.Model),
		MaxTokens: maxTokens,
		Messages:  input.Messages,
	}
	if input.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: input.System}}
	}
	if input.Temperature != nil {
		params.Temperature = anthropic.Float(float64(*input.Temperature))
	}

	return params
}

func (c *claudeClient) Chat(ctx context.Context, input ClaudeInput) (*anthropic.Message, error) {
	return c.client.Messages.New(ctx, c.params(input))
}

func (c *claudeClient) ChatStream(ctx context.Context, input ClaudeInput) *ssestream.Stream[anthropic.MessageStreamEventUnion] {
	return c.client.Messages.NewStreaming(ctx, c.params(input))
}
