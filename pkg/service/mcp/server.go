// Package mcp exposes the memory store over the Model Context Protocol
// so external agents can search and save memories without going through
// the HTTP gateway.
package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mnemo/pkg/adapter"
	"github.com/m-mizutani/mnemo/pkg/model"
	"github.com/m-mizutani/mnemo/pkg/repository"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Server serves memory tools over a stdio MCP transport.
type Server struct {
	repo      repository.Repository
	gemini    adapter.Gemini
	threshold float64
	topK      int
	dimension int
	server    *mcp.Server
}

// Input contains the collaborators for creating a Server.
type Input struct {
	Repo   repository.Repository
	Gemini adapter.Gemini

	// Retrieval knobs, matching the gateway's defaults when zero.
	Threshold float64
	TopK      int
	Dimension int
}

type searchMemoriesParams struct {
	UserID  string `json:"user_id" jsonschema:"The user whose memory store to search"`
	StoreID string `json:"store_id" jsonschema:"The memory store to search within"`
	Query   string `json:"query" jsonschema:"Natural-language query to match against stored memories"`
	Limit   int    `json:"limit,omitempty" jsonschema:"Maximum number of memories to return"`
}

type saveMemoryParams struct {
	UserID  string `json:"user_id" jsonschema:"The user the memory belongs to"`
	StoreID string `json:"store_id" jsonschema:"The memory store to save into"`
	Content string `json:"content" jsonschema:"A single short, self-contained statement about the user"`
}

// New builds the MCP server and registers the memory tools.
func New(input Input) (*Server, error) {
	if input.Repo == nil {
		return nil, goerr.New("repository is required")
	}
	if input.Gemini == nil {
		return nil, goerr.New("gemini client is required")
	}

	s := &Server{
		repo:      input.Repo,
		gemini:    input.Gemini,
		threshold: input.Threshold,
		topK:      input.TopK,
		dimension: input.Dimension,
	}
	if s.threshold == 0 {
		s.threshold = 0.75
	}
	if s.topK == 0 {
		s.topK = 10
	}
	if s.dimension == 0 {
		s.dimension = 768
	}

	s.server = mcp.NewServer(&mcp.Implementation{
		Name:    "mnemo-memory-server",
		Version: "1.0.0",
	}, nil)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "search_memories",
		Description: "Search a user's memory store by semantic similarity",
	}, s.searchMemories)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "save_memory",
		Description: "Save a new memory into a user's memory store",
	}, s.saveMemory)

	return s, nil
}

// Run serves the tools over stdio until the context ends.
func (s *Server) Run(ctx context.Context) error {
	if err := s.server.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return goerr.Wrap(err, "MCP server exited")
	}
	return nil
}

func (s *Server) searchMemories(ctx context.Context, req *mcp.CallToolRequest, params *searchMemoriesParams) (*mcp.CallToolResult, any, error) {
	if params.UserID == "" || params.StoreID == "" {
		return nil, nil, goerr.New("user_id and store_id are required")
	}
	if params.Query == "" {
		return nil, nil, goerr.New("query is required")
	}

	limit := params.Limit
	if limit <= 0 || limit > s.topK {
		limit = s.topK
	}

	embedding, err := s.gemini.Embedding(ctx, params.Query, s.dimension)
	if err != nil {
		return nil, nil, err
	}

	memories, err := s.repo.SearchMemories(ctx, model.UserID(params.UserID), params.StoreID, embedding, s.threshold, limit)
	if err != nil {
		return nil, nil, err
	}

	var text string
	if len(memories) == 0 {
		text = "No matching memories found."
	} else {
		lines := make([]string, 0, len(memories))
		for i, m := range memories {
			lines = append(lines, fmt.Sprintf("%d. (%.2f) %s", i+1, m.Similarity, m.Memory.Content))
		}
		text = fmt.Sprintf("Found %d memories:\n%s", len(memories), strings.Join(lines, "\n"))
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}, nil, nil
}

func (s *Server) saveMemory(ctx context.Context, req *mcp.CallToolRequest, params *saveMemoryParams) (*mcp.CallToolResult, any, error) {
	if params.UserID == "" || params.StoreID == "" {
		return nil, nil, goerr.New("user_id and store_id are required")
	}
	if params.Content == "" {
		return nil, nil, goerr.New("content is required")
	}

	embedding, err := s.gemini.Embedding(ctx, params.Content, s.dimension)
	if err != nil {
		return nil, nil, err
	}

	memory := &model.Memory{
		ID:        model.NewMemoryID(),
		UserID:    model.UserID(params.UserID),
		StoreID:   params.StoreID,
		Content:   params.Content,
		Embedding: firestore.Vector32(embedding),
		UpdatedAt: time.Now(),
	}
	if err := s.repo.PutMemory(ctx, memory); err != nil {
		return nil, nil, err
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf("Saved memory %s", memory.ID)},
		},
	}, nil, nil
}
