package model

import (
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
)

type MemoryID string

// NewMemoryID generates a new unique MemoryID
func NewMemoryID() MemoryID {
	return MemoryID(uuid.New().String())
}

// Memory is a durable fact about a user, stored with its embedding for
// similarity search. Uniqueness is per (UserID, StoreID, ID).
type Memory struct {
	ID        MemoryID
	UserID    UserID
	StoreID   string
	Content   string
	Embedding firestore.Vector32
	UpdatedAt time.Time
}

// DocumentContext is the registration record of a pre-ingested document.
// Snippet retrieval is scoped by its ID; the ID is shared, not per-user.
type DocumentContext struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

type SnippetID string

// DocumentSnippet is a chunk of a pre-ingested document. Snippets are
// produced by an external ingestion pipeline and are read-only here.
type DocumentSnippet struct {
	ID        SnippetID
	ContextID string
	Content   string
	Embedding firestore.Vector32
}

// RetrievedMemory is a memory paired with its similarity score for the
// query it was retrieved against. Ordering is by descending similarity.
type RetrievedMemory struct {
	Memory     *Memory
	Similarity float64
}

// RetrievedSnippet is a document snippet paired with its similarity score.
type RetrievedSnippet struct {
	Snippet    *DocumentSnippet
	Similarity float64
}

// MemoryEdit is a memory proposed by the extraction model. MemoryNumber,
// when positive, is a 1-based index into the candidate list that was shown
// to the model; it must be resolved to a real MemoryID before persistence
// and must never be stored itself. A number outside the candidate range is
// treated as a request to create a new memory.
type MemoryEdit struct {
	MemoryNumber int    `json:"memory_number,omitempty"`
	Content      string `json:"content"`
}
