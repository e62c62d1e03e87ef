package model

import (
	"time"

	"github.com/google/uuid"
)

type UsageLogID string

// NewUsageLogID generates a new unique UsageLogID
func NewUsageLogID() UsageLogID {
	return UsageLogID(uuid.New().String())
}

// UsageLog is the per-request audit record: who called which model, how
// many tokens it burned, and what that cost. PayloadKey points at the
// archived request/response body in object storage, when archiving is
// enabled.
type UsageLog struct {
	ID               UsageLogID
	UserID           UserID
	Model            string
	PromptTokens     int
	CompletionTokens int
	Cost             float64
	DurationMS       int64
	Streamed         bool
	PayloadKey       string
	CreatedAt        time.Time
}

// ModelPrice is the cost of one model in USD per million tokens.
type ModelPrice struct {
	Model         string  `yaml:"model"`
	InputPerMTok  float64 `yaml:"input_per_mtok"`
	OutputPerMTok float64 `yaml:"output_per_mtok"`
}

// Cost derives the USD cost of a call from its token usage.
func (p ModelPrice) Cost(usage TokenUsage) float64 {
	return float64(usage.PromptTokens)*p.InputPerMTok/1e6 +
		float64(usage.CompletionTokens)*p.OutputPerMTok/1e6
}
