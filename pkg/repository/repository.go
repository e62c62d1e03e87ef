package repository

import (
	"context"

	"github.com/m-mizutani/mnemo/pkg/model"
)

// Repository defines the persistence interface of the gateway: account
// lookup, two independently scoped vector searches (per-user memory
// stores and shared document contexts), and usage logs.
type Repository interface {
	// GetUserByAPIKey resolves an opaque access key to a user account
	GetUserByAPIKey(ctx context.Context, apiKey string) (*model.User, error)

	// PutUser saves a user account
	PutUser(ctx context.Context, user *model.User) error

	// PutMemory upserts a memory under its (user, store, id) path
	PutMemory(ctx context.Context, memory *model.Memory) error

	// GetMemory retrieves a single memory by ID
	GetMemory(ctx context.Context, userID model.UserID, storeID string, id model.MemoryID) (*model.Memory, error)

	// ListMemories retrieves a user's memories in a store
	ListMemories(ctx context.Context, userID model.UserID, storeID string, limit int) ([]*model.Memory, error)

	// SearchMemories performs vector search within one (user, store)
	// scope. Results are ordered by descending similarity; an empty
	// slice (not an error) is returned when nothing clears threshold.
	SearchMemories(ctx context.Context, userID model.UserID, storeID string, embedding []float32, threshold float64, limit int) ([]*model.RetrievedMemory, error)

	// PutContext registers a document context
	PutContext(ctx context.Context, docCtx *model.DocumentContext) error

	// GetContext retrieves a document context by ID
	GetContext(ctx context.Context, contextID string) (*model.DocumentContext, error)

	// PutSnippet saves an ingested document snippet
	PutSnippet(ctx context.Context, snippet *model.DocumentSnippet) error

	// SearchSnippets performs vector search within one document
	// context. Same ordering and empty-result semantics as
	// SearchMemories; the scope is shared, not per-user.
	SearchSnippets(ctx context.Context, contextID string, embedding []float32, threshold float64, limit int) ([]*model.RetrievedSnippet, error)

	// PutUsageLog saves a per-request audit record
	PutUsageLog(ctx context.Context, log *model.UsageLog) error
}
