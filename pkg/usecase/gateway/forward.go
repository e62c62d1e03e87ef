package gateway

import (
	"context"
	"errors"
	"iter"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mnemo/pkg/adapter"
	"github.com/m-mizutani/mnemo/pkg/model"
	"google.golang.org/genai"
)

// isClaudeModel routes a request to the Anthropic adapter by model name.
func isClaudeModel(name string) bool {
	return strings.HasPrefix(name, "claude")
}

// Forward performs the single-shot completion call and returns the full
// response with its wall-clock duration for downstream logging.
func (uc *UseCase) Forward(ctx context.Context, req *model.ChatRequest) (*model.ChatResponse, error) {
	started := time.Now()

	var resp *model.ChatResponse
	var err error
	if isClaudeModel(req.Model) {
		resp, err = uc.forwardClaude(ctx, req)
	} else {
		resp, err = uc.forwardGemini(ctx, req)
	}
	if err != nil {
		return nil, err
	}

	resp.Duration = time.Since(started)
	return resp, nil
}

// ForwardStream opens a streaming completion and relays the provider's
// chunks without buffering them. A non-success upstream response is
// surfaced as ErrUpstreamHTTP carrying the upstream status and payload.
func (uc *UseCase) ForwardStream(ctx context.Context, req *model.ChatRequest) iter.Seq2[model.StreamChunk, error] {
	if isClaudeModel(req.Model) {
		return uc.streamClaude(ctx, req)
	}
	return uc.streamGemini(ctx, req)
}

func (uc *UseCase) forwardGemini(ctx context.Context, req *model.ChatRequest) (*model.ChatResponse, error) {
	contents, config := toGenaiRequest(req)

	resp, err := uc.gemini.GenerateContent(ctx, contents, config)
	if err != nil {
		return nil, err
	}

	out := &model.ChatResponse{
		ID:        uuid.New().String(),
		Model:     req.Model,
		Content:   resp.Text(),
		CreatedAt: time.Now(),
	}
	if resp.UsageMetadata != nil {
		out.Usage = model.TokenUsage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}

	return out, nil
}

func (uc *UseCase) forwardClaude(ctx context.Context, req *model.ChatRequest) (*model.ChatResponse, error) {
	if uc.claude == nil {
		return nil, goerr.Wrap(model.ErrValidation, "requested model is not available", goerr.V("model", req.Model))
	}

	msg, err := uc.claude.Chat(ctx, toClaudeInput(req))
	if err != nil {
		return nil, goerr.Wrap(model.ErrProvider, "failed to generate completion", goerr.V("cause", err))
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			text.WriteString(variant.Text)
		}
	}

	return &model.ChatResponse{
		ID:      msg.ID,
		Model:   req.Model,
		Content: text.String(),
		Usage: model.TokenUsage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
			TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
		CreatedAt: time.Now(),
	}, nil
}

func (uc *UseCase) streamGemini(ctx context.Context, req *model.ChatRequest) iter.Seq2[model.StreamChunk, error] {
	return func(yield func(model.StreamChunk, error) bool) {
		contents, config := toGenaiRequest(req)

		for resp, err := range uc.gemini.GenerateContentStream(ctx, contents, config) {
			if err != nil {
				yield(model.StreamChunk{}, wrapUpstreamGemini(err))
				return
			}
			if text := resp.Text(); text != "" {
				if !yield(model.StreamChunk{Delta: text}, nil) {
					return
				}
			}
		}
	}
}

func (uc *UseCase) streamClaude(ctx context.Context, req *model.ChatRequest) iter.Seq2[model.StreamChunk, error] {
	return func(yield func(model.StreamChunk, error) bool) {
		if uc.claude == nil {
			yield(model.StreamChunk{}, goerr.Wrap(model.ErrValidation, "requested model is not available", goerr.V("model", req.Model)))
			return
		}

		stream := uc.claude.ChatStream(ctx, toClaudeInput(req))
		defer stream.Close()

		for stream.Next() {
			event := stream.Current()
			if evt, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
				if delta, ok := evt.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
					if !yield(model.StreamChunk{Delta: delta.Text}, nil) {
						return
					}
				}
			}
		}

		if err := stream.Err(); err != nil {
			yield(model.StreamChunk{}, wrapUpstreamClaude(err))
		}
	}
}

// toGenaiRequest splits the conversation into contents and a generation
// config, folding system messages into the system instruction.
func toGenaiRequest(req *model.ChatRequest) ([]*genai.Content, *genai.GenerateContentConfig) {
	var system []string
	var contents []*genai.Content

	for _, msg := range req.Messages {
		switch msg.Role {
		case model.RoleSystem:
			system = append(system, msg.Content)
		case model.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))
		}
	}

	config := &genai.GenerateContentConfig{}
	if len(system) > 0 {
		config.SystemInstruction = genai.NewContentFromText(strings.Join(system, "\n"), "")
	}
	if req.Temperature != nil {
		config.Temperature = req.Temperature
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}

	return contents, config
}

func toClaudeInput(req *model.ChatRequest) adapter.ClaudeInput {
	var system []string
	var messages []anthropic.MessageParam

	for _, msg := range req.Messages {
		switch msg.Role {
		case model.RoleSystem:
			system = append(system, msg.Content)
		case model.RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}

	return adapter.ClaudeInput{
		Model:       req.Model,
		System:      strings.Join(system, "\n"),
		Messages:    messages,
		MaxTokens:   int64(req.MaxTokens),
		Temperature: req.Temperature,
	}
}

func wrapUpstreamGemini(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return goerr.Wrap(model.ErrUpstreamHTTP, "completion stream failed",
			goerr.V("status", apiErr.Code), goerr.V("payload", apiErr.Message))
	}
	return goerr.Wrap(model.ErrUpstreamHTTP, "completion stream failed", goerr.V("cause", err))
}

func wrapUpstreamClaude(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return goerr.Wrap(model.ErrUpstreamHTTP, "completion stream failed",
			goerr.V("status", apiErr.StatusCode), goerr.V("payload", apiErr.Error()))
	}
	return goerr.Wrap(model.ErrUpstreamHTTP, "completion stream failed", goerr.V("cause", err))
}
