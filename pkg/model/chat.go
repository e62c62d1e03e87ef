package model

import (
	"strings"
	"time"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single turn of the inbound conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the inbound chat-completion body. The field layout
// follows the common chat-completion wire format so existing clients can
// point at the gateway unchanged.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream,omitempty"`
	Temperature *float32  `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// UserText returns the user-authored turns joined by newlines. This is
// the text embedded for retrieval and handed to the fact extractor.
func (r *ChatRequest) UserText() string {
	var parts []string
	for _, msg := range r.Messages {
		if msg.Role == RoleUser && msg.Content != "" {
			parts = append(parts, msg.Content)
		}
	}
	return strings.Join(parts, "\n")
}

// Clone returns a deep copy of the request. Augmentation mutates the
// message list and must never write through to the caller's copy.
func (r *ChatRequest) Clone() *ChatRequest {
	dup := *r
	dup.Messages = make([]Message, len(r.Messages))
	copy(dup.Messages, r.Messages)
	return &dup
}

// SystemDelimiter separates injected context from the conversation's
// original system instructions.
const SystemDelimiter = "\n\n---\n\nInstructions:\n"

// PrependSystem prefixes text onto the conversation's system message.
// When a system message already exists its original content is preserved
// after the delimiter; otherwise a new leading system message is created.
// Each call stacks independently, so callers apply one call per logical
// context block and ordering matters.
func (r *ChatRequest) PrependSystem(text string) {
	for i := range r.Messages {
		if r.Messages[i].Role == RoleSystem {
			r.Messages[i].Content = text + SystemDelimiter + r.Messages[i].Content
			return
		}
	}
	r.Messages = append([]Message{{Role: RoleSystem, Content: text}}, r.Messages...)
}

// TokenUsage is the provider-reported token accounting for one call.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatResponse is the single-shot completion returned to the client.
type ChatResponse struct {
	ID        string        `json:"id"`
	Model     string        `json:"model"`
	Content   string        `json:"content"`
	Usage     TokenUsage    `json:"usage"`
	CreatedAt time.Time     `json:"created_at"`
	Duration  time.Duration `json:"-"`
}

// StreamChunk is one SSE event of a streaming completion relay.
type StreamChunk struct {
	Delta string `json:"delta"`
}
