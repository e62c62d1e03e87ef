package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mnemo/pkg/model"
	"github.com/m-mizutani/mnemo/pkg/utils/logging"
)

// Augment runs the synchronous retrieval phase: embed the user turns,
// search the requested scopes, and fold the hits into the conversation's
// system instructions. The inbound request is never mutated; with no
// store and no context the original request is returned as-is.
//
// The returned candidate list is the memory set shown to the model, in
// retrieval order. The reconciler later resolves 1-based edit references
// against exactly this list.
func (uc *UseCase) Augment(ctx context.Context, req *model.ChatRequest, user *model.User, storeID, contextID string) (*model.ChatRequest, []*model.RetrievedMemory, error) {
	if storeID == "" && contextID == "" {
		return req, nil, nil
	}

	// A context id must resolve before any retrieval happens.
	if contextID != "" {
		if _, err := uc.repo.GetContext(ctx, contextID); err != nil {
			return nil, nil, err
		}
	}

	userText := req.UserText()
	if userText == "" {
		return req, nil, nil
	}

	embedding, err := uc.gemini.Embedding(ctx, userText, uc.config.Retrieval.EmbeddingDimension)
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to embed query")
	}

	augmented := req.Clone()
	logger := logging.From(ctx)

	// Snippets first, memories second: each block prepends, so the
	// memory block ends up leading the final system message.
	if contextID != "" {
		snippets, err := uc.repo.SearchSnippets(ctx, contextID, embedding, uc.config.Retrieval.SnippetThreshold, uc.config.Retrieval.TopK)
		if err != nil {
			return nil, nil, goerr.Wrap(err, "failed to search snippets")
		}
		logger.Debug("snippet retrieval", "context_id", contextID, "hits", len(snippets))
		if len(snippets) > 0 {
			augmented.PrependSystem(formatSnippets(snippets))
		}
	}

	var candidates []*model.RetrievedMemory
	if storeID != "" {
		candidates, err = uc.repo.SearchMemories(ctx, user.ID, storeID, embedding, uc.config.Retrieval.MemoryThreshold, uc.config.Retrieval.TopK)
		if err != nil {
			return nil, nil, goerr.Wrap(err, "failed to search memories")
		}
		logger.Debug("memory retrieval", "store_id", storeID, "hits", len(candidates))
		if len(candidates) > 0 {
			augmented.PrependSystem(formatMemories(candidates))
		}
	}

	return augmented, candidates, nil
}

func formatMemories(memories []*model.RetrievedMemory) string {
	var buf strings.Builder
	buf.WriteString("The following facts about the user were remembered from earlier conversations:\n")
	for _, mem := range memories {
		fmt.Fprintf(&buf, "- %s\n", mem.Memory.Content)
	}
	return buf.String()
}

func formatSnippets(snippets []*model.RetrievedSnippet) string {
	var buf strings.Builder
	buf.WriteString("Relevant excerpts from the attached document:\n")
	for _, sn := range snippets {
		fmt.Fprintf(&buf, "- %s\n", sn.Snippet.Content)
	}
	return buf.String()
}
