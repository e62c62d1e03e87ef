package repository

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mnemo/pkg/model"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	collectionUsers     = "users"
	collectionContexts  = "contexts"
	collectionUsageLogs = "usage_logs"

	// distanceField receives the computed cosine distance on vector
	// search results
	distanceField = "vector_distance"
)

// Firestore implements Repository using Firestore, including its native
// nearest-neighbor vector search.
type Firestore struct {
	client *firestore.Client
}

// New creates a new Firestore repository
func New(ctx context.Context, projectID, databaseID string) (*Firestore, error) {
	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client")
	}

	return &Firestore{client: client}, nil
}

// Close releases the underlying client
func (r *Firestore) Close() error {
	return r.client.Close()
}

func (r *Firestore) memories(userID model.UserID, storeID string) *firestore.CollectionRef {
	return r.client.Collection(fmt.Sprintf("%s/%s/stores/%s/memories", collectionUsers, userID, storeID))
}

func (r *Firestore) snippets(contextID string) *firestore.CollectionRef {
	return r.client.Collection(fmt.Sprintf("%s/%s/snippets", collectionContexts, contextID))
}

func (r *Firestore) GetUserByAPIKey(ctx context.Context, apiKey string) (*model.User, error) {
	iter := r.client.Collection(collectionUsers).
		Where("APIKey", "==", apiKey).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if err == iterator.Done {
		return nil, goerr.Wrap(model.ErrNotFound, "no user for access key")
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query user by access key")
	}

	var user model.User
	if err := doc.DataTo(&user); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal user")
	}

	return &user, nil
}

func (r *Firestore) PutUser(ctx context.Context, user *model.User) error {
	if _, err := r.client.Collection(collectionUsers).Doc(string(user.ID)).Set(ctx, user); err != nil {
		return goerr.Wrap(err, "failed to put user", goerr.V("user_id", user.ID))
	}
	return nil
}

func (r *Firestore) PutMemory(ctx context.Context, memory *model.Memory) error {
	col := r.memories(memory.UserID, memory.StoreID)
	if _, err := col.Doc(string(memory.ID)).Set(ctx, memory); err != nil {
		return goerr.Wrap(err, "failed to put memory", goerr.V("memory_id", memory.ID))
	}
	return nil
}

func (r *Firestore) GetMemory(ctx context.Context, userID model.UserID, storeID string, id model.MemoryID) (*model.Memory, error) {
	doc, err := r.memories(userID, storeID).Doc(string(id)).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, goerr.Wrap(model.ErrNotFound, "memory not found", goerr.V("memory_id", id))
		}
		return nil, goerr.Wrap(err, "failed to get memory", goerr.V("memory_id", id))
	}

	var memory model.Memory
	if err := doc.DataTo(&memory); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal memory")
	}

	return &memory, nil
}

func (r *Firestore) ListMemories(ctx context.Context, userID model.UserID, storeID string, limit int) ([]*model.Memory, error) {
	query := r.memories(userID, storeID).OrderBy("UpdatedAt", firestore.Desc)
	if limit > 0 {
		query = query.Limit(limit)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var memories []*model.Memory
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to list memories")
		}

		var memory model.Memory
		if err := doc.DataTo(&memory); err != nil {
			return nil, goerr.Wrap(err, "failed to unmarshal memory")
		}
		memories = append(memories, &memory)
	}

	return memories, nil
}

func (r *Firestore) SearchMemories(ctx context.Context, userID model.UserID, storeID string, embedding []float32, threshold float64, limit int) ([]*model.RetrievedMemory, error) {
	// Cosine distance = 1 - cosine similarity, so the similarity
	// threshold becomes a distance ceiling.
	distanceThreshold := 1 - threshold

	vq := r.memories(userID, storeID).FindNearest(
		"Embedding",
		firestore.Vector32(embedding),
		limit,
		firestore.DistanceMeasureCosine,
		&firestore.FindNearestOptions{
			DistanceResultField: distanceField,
			DistanceThreshold:   &distanceThreshold,
		},
	)

	iter := vq.Documents(ctx)
	defer iter.Stop()

	var results []*model.RetrievedMemory
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to search memories")
		}

		var memory model.Memory
		if err := doc.DataTo(&memory); err != nil {
			return nil, goerr.Wrap(err, "failed to unmarshal memory")
		}

		results = append(results, &model.RetrievedMemory{
			Memory:     &memory,
			Similarity: similarityOf(doc),
		})
	}

	return results, nil
}

func (r *Firestore) PutContext(ctx context.Context, docCtx *model.DocumentContext) error {
	if _, err := r.client.Collection(collectionContexts).Doc(docCtx.ID).Set(ctx, docCtx); err != nil {
		return goerr.Wrap(err, "failed to put context", goerr.V("context_id", docCtx.ID))
	}
	return nil
}

func (r *Firestore) GetContext(ctx context.Context, contextID string) (*model.DocumentContext, error) {
	doc, err := r.client.Collection(collectionContexts).Doc(contextID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, goerr.Wrap(model.ErrNotFound, "context not found", goerr.V("context_id", contextID))
		}
		return nil, goerr.Wrap(err, "failed to get context", goerr.V("context_id", contextID))
	}

	var docCtx model.DocumentContext
	if err := doc.DataTo(&docCtx); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal context")
	}

	return &docCtx, nil
}

func (r *Firestore) PutSnippet(ctx context.Context, snippet *model.DocumentSnippet) error {
	col := r.snippets(snippet.ContextID)
	if _, err := col.Doc(string(snippet.ID)).Set(ctx, snippet); err != nil {
		return goerr.Wrap(err, "failed to put snippet", goerr.V("snippet_id", snippet.ID))
	}
	return nil
}

func (r *Firestore) SearchSnippets(ctx context.Context, contextID string, embedding []float32, threshold float64, limit int) ([]*model.RetrievedSnippet, error) {
	distanceThreshold := 1 - threshold

	vq := r.snippets(contextID).FindNearest(
		"Embedding",
		firestore.Vector32(embedding),
		limit,
		firestore.DistanceMeasureCosine,
		&firestore.FindNearestOptions{
			DistanceResultField: distanceField,
			DistanceThreshold:   &distanceThreshold,
		},
	)

	iter := vq.Documents(ctx)
	defer iter.Stop()

	var results []*model.RetrievedSnippet
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to search snippets")
		}

		var snippet model.DocumentSnippet
		if err := doc.DataTo(&snippet); err != nil {
			return nil, goerr.Wrap(err, "failed to unmarshal snippet")
		}

		results = append(results, &model.RetrievedSnippet{
			Snippet:    &snippet,
			Similarity: similarityOf(doc),
		})
	}

	return results, nil
}

func (r *Firestore) PutUsageLog(ctx context.Context, log *model.UsageLog) error {
	if _, err := r.client.Collection(collectionUsageLogs).Doc(string(log.ID)).Set(ctx, log); err != nil {
		return goerr.Wrap(err, "failed to put usage log", goerr.V("usage_log_id", log.ID))
	}
	return nil
}

// similarityOf reads the computed distance field back out of a vector
// search result and converts it to a similarity score.
func similarityOf(doc *firestore.DocumentSnapshot) float64 {
	if dist, ok := doc.Data()[distanceField].(float64); ok {
		return 1 - dist
	}
	return 0
}
