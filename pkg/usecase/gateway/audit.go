package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mnemo/pkg/adapter"
	"github.com/m-mizutani/mnemo/pkg/model"
	"github.com/m-mizutani/mnemo/pkg/utils/logging"
)

// AuditInput is the material for one request's audit trail.
type AuditInput struct {
	User     *model.User
	Request  *model.ChatRequest
	Response *model.ChatResponse
	Streamed bool
}

// AuditPayload is the archived request/response pair.
type AuditPayload struct {
	Request  *model.ChatRequest  `json:"request"`
	Response *model.ChatResponse `json:"response,omitempty"`
}

// Audit records the usage log, archives the payload, and ships the
// analytics event. Every sub-step is best effort: failures are logged
// and swallowed, and a failed archive still leaves the usage row intact.
func (uc *UseCase) Audit(ctx context.Context, input AuditInput) {
	logger := logging.From(ctx)

	log := &model.UsageLog{
		ID:        model.NewUsageLogID(),
		UserID:    input.User.ID,
		Model:     input.Request.Model,
		Streamed:  input.Streamed,
		CreatedAt: time.Now(),
	}
	if input.Response != nil {
		price := uc.config.PriceFor(input.Request.Model)
		if price.InputPerMTok == 0 && price.OutputPerMTok == 0 {
			logger.Debug("no pricing for model, cost recorded as zero", "model", input.Request.Model)
		}
		log.PromptTokens = input.Response.Usage.PromptTokens
		log.CompletionTokens = input.Response.Usage.CompletionTokens
		log.Cost = price.Cost(input.Response.Usage)
		log.DurationMS = input.Response.Duration.Milliseconds()
	}

	if uc.storage != nil {
		key := fmt.Sprintf("payloads/%s/%s.json", log.CreatedAt.UTC().Format("2006/01/02"), log.ID)
		if err := uc.archivePayload(ctx, key, input); err != nil {
			logger.Warn("failed to archive payload", "key", key, "error", err)
		} else {
			log.PayloadKey = key
		}
	}

	if err := uc.repo.PutUsageLog(ctx, log); err != nil {
		logger.Warn("failed to save usage log", "usage_log_id", log.ID, "error", err)
	}

	if uc.bigquery != nil {
		if err := uc.bigquery.InsertUsage(ctx, log); err != nil {
			logger.Warn("failed to stream usage event", "usage_log_id", log.ID, "error", err)
		}
	}

	if uc.analytics != nil {
		event := &adapter.AnalyticsEvent{
			Name:      "chat_completion",
			UserID:    string(input.User.ID),
			Timestamp: log.CreatedAt,
			Properties: map[string]any{
				"model":    log.Model,
				"streamed": log.Streamed,
				"tokens":   log.PromptTokens + log.CompletionTokens,
			},
		}
		if err := uc.analytics.Track(ctx, event); err != nil {
			logger.Warn("failed to send analytics event", "error", err)
		}
	}
}

func (uc *UseCase) archivePayload(ctx context.Context, key string, input AuditInput) error {
	w, err := uc.storage.Put(ctx, key)
	if err != nil {
		return err
	}

	payload := AuditPayload{
		Request:  input.Request,
		Response: input.Response,
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_ = w.Close()
		return err
	}

	return w.Close()
}

// Payload retrieves an archived request/response pair by its storage
// key, as recorded in the usage log's PayloadKey.
func (uc *UseCase) Payload(ctx context.Context, key string) (*AuditPayload, error) {
	if uc.storage == nil {
		return nil, goerr.Wrap(model.ErrValidation, "payload archive is not configured")
	}

	r, err := uc.storage.Get(ctx, key)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open archived payload", goerr.V("key", key))
	}
	defer r.Close()

	var payload AuditPayload
	if err := json.NewDecoder(r).Decode(&payload); err != nil {
		return nil, goerr.Wrap(err, "failed to decode archived payload", goerr.V("key", key))
	}

	return &payload, nil
}
