package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/mnemo/pkg/model"
	"github.com/m-mizutani/mnemo/pkg/utils/logging"
)

// Reconcile resolves proposed edits against the candidate list that was
// shown to the model and upserts the results. A memory_number within
// [1, len(candidates)] rewrites that candidate's record in place (same
// id, same scope); an absent or out-of-range number becomes a new
// memory. Each item embeds and writes independently: one failure is
// logged and never stops the rest.
//
// Returns the number of created and updated memories, for logging.
func (uc *UseCase) Reconcile(ctx context.Context, user *model.User, storeID string, edits []model.MemoryEdit, candidates []*model.RetrievedMemory) (created, updated int) {
	logger := logging.From(ctx)

	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, edit := range edits {
		if edit.Content == "" {
			continue
		}

		wg.Add(1)
		go func(edit model.MemoryEdit) {
			defer wg.Done()

			embedding, err := uc.gemini.Embedding(ctx, edit.Content, uc.config.Retrieval.EmbeddingDimension)
			if err != nil {
				logger.Warn("failed to embed proposed memory", "error", err)
				return
			}

			memory := &model.Memory{
				UserID:    user.ID,
				StoreID:   storeID,
				Content:   edit.Content,
				Embedding: firestore.Vector32(embedding),
				UpdatedAt: time.Now(),
			}

			isUpdate := edit.MemoryNumber >= 1 && edit.MemoryNumber <= len(candidates)
			if isUpdate {
				memory.ID = candidates[edit.MemoryNumber-1].Memory.ID
			} else {
				memory.ID = model.NewMemoryID()
			}

			if err := uc.repo.PutMemory(ctx, memory); err != nil {
				logger.Warn("failed to persist memory", "memory_id", memory.ID, "error", err)
				return
			}

			mu.Lock()
			if isUpdate {
				updated++
			} else {
				created++
			}
			mu.Unlock()
		}(edit)
	}

	wg.Wait()
	return created, updated
}

// ProcessTurn is the deferred entry point: extract memory edits from the
// turn and reconcile them. It fails open: every error is logged and
// swallowed, since the client already has its response.
func (uc *UseCase) ProcessTurn(ctx context.Context, user *model.User, storeID, userText string, candidates []*model.RetrievedMemory) {
	logger := logging.From(ctx)

	edits, err := uc.Extract(ctx, userText, candidates)
	if err != nil {
		if errors.Is(err, model.ErrValidation) {
			logger.Debug("extraction skipped", "reason", err)
		} else {
			logger.Warn("extraction failed", "error", err)
		}
		return
	}
	if len(edits) == 0 {
		return
	}

	created, updated := uc.Reconcile(ctx, user, storeID, edits, candidates)
	logger.Info("memories reconciled",
		"user_id", user.ID, "store_id", storeID,
		"proposed", len(edits), "created", created, "updated", updated)
}
