package gateway_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"iter"
	"strings"
	"sync"
	"testing"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/mnemo/pkg/model"
	"github.com/m-mizutani/mnemo/pkg/usecase/gateway"
	"google.golang.org/genai"
)

// Mock Repository
type mockRepository struct {
	mu        sync.Mutex
	users     map[string]*model.User
	memories  map[model.MemoryID]*model.Memory
	contexts  map[string]*model.DocumentContext
	snippets  []*model.RetrievedSnippet
	retrieved []*model.RetrievedMemory
	usageLogs []*model.UsageLog
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		users:    make(map[string]*model.User),
		memories: make(map[model.MemoryID]*model.Memory),
		contexts: make(map[string]*model.DocumentContext),
	}
}

func (m *mockRepository) GetUserByAPIKey(ctx context.Context, apiKey string) (*model.User, error) {
	user, ok := m.users[apiKey]
	if !ok {
		return nil, goerr.Wrap(model.ErrNotFound, "user not found")
	}
	return user, nil
}

func (m *mockRepository) PutUser(ctx context.Context, user *model.User) error {
	m.users[user.APIKey] = user
	return nil
}

func (m *mockRepository) PutMemory(ctx context.Context, memory *model.Memory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.memories[memory.ID] = memory
	return nil
}

func (m *mockRepository) GetMemory(ctx context.Context, userID model.UserID, storeID string, id model.MemoryID) (*model.Memory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	memory, ok := m.memories[id]
	if !ok {
		return nil, goerr.Wrap(model.ErrNotFound, "memory not found", goerr.V("memory_id", id))
	}
	return memory, nil
}

func (m *mockRepository) ListMemories(ctx context.Context, userID model.UserID, storeID string, limit int) ([]*model.Memory, error) {
	return nil, nil
}

func (m *mockRepository) SearchMemories(ctx context.Context, userID model.UserID, storeID string, embedding []float32, threshold float64, limit int) ([]*model.RetrievedMemory, error) {
	return m.retrieved, nil
}

func (m *mockRepository) PutContext(ctx context.Context, docCtx *model.DocumentContext) error {
	m.contexts[docCtx.ID] = docCtx
	return nil
}

func (m *mockRepository) GetContext(ctx context.Context, contextID string) (*model.DocumentContext, error) {
	docCtx, ok := m.contexts[contextID]
	if !ok {
		return nil, goerr.Wrap(model.ErrNotFound, "context not found", goerr.V("context_id", contextID))
	}
	return docCtx, nil
}

func (m *mockRepository) PutSnippet(ctx context.Context, snippet *model.DocumentSnippet) error {
	return nil
}

func (m *mockRepository) SearchSnippets(ctx context.Context, contextID string, embedding []float32, threshold float64, limit int) ([]*model.RetrievedSnippet, error) {
	return m.snippets, nil
}

func (m *mockRepository) PutUsageLog(ctx context.Context, log *model.UsageLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usageLogs = append(m.usageLogs, log)
	return nil
}

// Mock Gemini
type mockGemini struct {
	mu            sync.Mutex
	generateFn    func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	embedFn       func(ctx context.Context, text string, dimension int) ([]float32, error)
	generateCalls int
	embedCalls    int
	embeddedTexts []string
}

func (m *mockGemini) GenerateContent(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	m.mu.Lock()
	m.generateCalls++
	m.mu.Unlock()
	if m.generateFn == nil {
		return textResponse("ok"), nil
	}
	return m.generateFn(ctx, contents, config)
}

func (m *mockGemini) GenerateContentStream(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error] {
	return func(yield func(*genai.GenerateContentResponse, error) bool) {}
}

func (m *mockGemini) Embedding(ctx context.Context, text string, dimension int) ([]float32, error) {
	m.mu.Lock()
	m.embedCalls++
	m.embeddedTexts = append(m.embeddedTexts, text)
	m.mu.Unlock()
	if m.embedFn == nil {
		return []float32{0.1, 0.2, 0.3}, nil
	}
	return m.embedFn(ctx, text, dimension)
}

// Mock Storage
type mockStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMockStorage() *mockStorage {
	return &mockStorage{objects: make(map[string][]byte)}
}

type mockStorageWriter struct {
	buf     bytes.Buffer
	key     string
	storage *mockStorage
}

func (w *mockStorageWriter) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}

func (w *mockStorageWriter) Close() error {
	w.storage.mu.Lock()
	defer w.storage.mu.Unlock()
	w.storage.objects[w.key] = w.buf.Bytes()
	return nil
}

func (m *mockStorage) Put(ctx context.Context, key string) (io.WriteCloser, error) {
	return &mockStorageWriter{key: key, storage: m}, nil
}

func (m *mockStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, goerr.Wrap(model.ErrNotFound, "object not found", goerr.V("key", key))
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: genai.NewContentFromText(text, genai.RoleModel),
		}},
	}
}

func toolCallResponse(name string, args map[string]any) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{
				Role: string(genai.RoleModel),
				Parts: []*genai.Part{{
					FunctionCall: &genai.FunctionCall{Name: name, Args: args},
				}},
			},
		}},
	}
}

func testUser() *model.User {
	return &model.User{
		ID:     model.UserID("user-1"),
		APIKey: "key-1",
		Plan:   model.PlanPro,
		Active: true,
	}
}

func newUseCase(t *testing.T, repo *mockRepository, gemini *mockGemini) *gateway.UseCase {
	uc, err := gateway.New(gateway.Input{
		Repo:   repo,
		Gemini: gemini,
	})
	gt.NoError(t, err)
	return uc
}

func retrievedMemory(content string, similarity float64) *model.RetrievedMemory {
	return &model.RetrievedMemory{
		Memory: &model.Memory{
			ID:      model.NewMemoryID(),
			UserID:  "user-1",
			StoreID: "personal",
			Content: content,
		},
		Similarity: similarity,
	}
}

func TestAugmentWithoutScopes(t *testing.T) {
	repo := newMockRepository()
	gemini := &mockGemini{}
	uc := newUseCase(t, repo, gemini)

	req := &model.ChatRequest{
		Model:    "gemini-2.5-flash",
		Messages: []model.Message{{Role: model.RoleUser, Content: "hi"}},
	}

	augmented, candidates, err := uc.Augment(context.Background(), req, testUser(), "", "")
	gt.NoError(t, err)
	gt.V(t, augmented).Equal(req)
	gt.A(t, candidates).Length(0)
	gt.Number(t, gemini.embedCalls).Equal(0).Describe("no retrieval means no embedding call")
}

func TestAugmentInjectsMemories(t *testing.T) {
	repo := newMockRepository()
	repo.retrieved = []*model.RetrievedMemory{
		retrievedMemory("lives in Kyoto", 0.92),
		retrievedMemory("prefers tea", 0.81),
	}
	gemini := &mockGemini{}
	uc := newUseCase(t, repo, gemini)

	req := &model.ChatRequest{
		Model:    "gemini-2.5-flash",
		Messages: []model.Message{{Role: model.RoleUser, Content: "what do I drink?"}},
	}

	augmented, candidates, err := uc.Augment(context.Background(), req, testUser(), "personal", "")
	gt.NoError(t, err)

	gt.A(t, candidates).Length(2)
	gt.V(t, candidates[0].Memory.Content).Equal("lives in Kyoto")
	gt.V(t, candidates[1].Memory.Content).Equal("prefers tea")

	gt.A(t, augmented.Messages).Length(2)
	gt.V(t, augmented.Messages[0].Role).Equal(model.RoleSystem)
	gt.S(t, augmented.Messages[0].Content).Contains("lives in Kyoto")
	gt.S(t, augmented.Messages[0].Content).Contains("prefers tea")

	// The caller's request is untouched.
	gt.A(t, req.Messages).Length(1)
	gt.V(t, req.Messages[0].Content).Equal("what do I drink?")
}

func TestAugmentMemoryBlockLeadsSnippets(t *testing.T) {
	repo := newMockRepository()
	repo.retrieved = []*model.RetrievedMemory{retrievedMemory("lives in Kyoto", 0.9)}
	repo.contexts["doc-1"] = &model.DocumentContext{ID: "doc-1", Name: "handbook"}
	repo.snippets = []*model.RetrievedSnippet{{
		Snippet:    &model.DocumentSnippet{ID: "sn-1", ContextID: "doc-1", Content: "office closes at six"},
		Similarity: 0.85,
	}}
	gemini := &mockGemini{}
	uc := newUseCase(t, repo, gemini)

	req := &model.ChatRequest{
		Model:    "gemini-2.5-flash",
		Messages: []model.Message{{Role: model.RoleUser, Content: "when does the office close?"}},
	}

	augmented, _, err := uc.Augment(context.Background(), req, testUser(), "personal", "doc-1")
	gt.NoError(t, err)

	content := augmented.Messages[0].Content
	gt.S(t, content).Contains("lives in Kyoto")
	gt.S(t, content).Contains("office closes at six")
	gt.Number(t, strings.Index(content, "lives in Kyoto")).Less(strings.Index(content, "office closes at six"))
}

func TestAugmentUnknownContext(t *testing.T) {
	repo := newMockRepository()
	gemini := &mockGemini{}
	uc := newUseCase(t, repo, gemini)

	req := &model.ChatRequest{
		Model:    "gemini-2.5-flash",
		Messages: []model.Message{{Role: model.RoleUser, Content: "hi"}},
	}

	_, _, err := uc.Augment(context.Background(), req, testUser(), "", "no-such-doc")
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrNotFound))
	gt.Number(t, gemini.embedCalls).Equal(0).Describe("unknown context fails before retrieval")
}

func TestAugmentEmptyRetrievalLeavesRequestUnchanged(t *testing.T) {
	repo := newMockRepository()
	gemini := &mockGemini{}
	uc := newUseCase(t, repo, gemini)

	req := &model.ChatRequest{
		Model:    "gemini-2.5-flash",
		Messages: []model.Message{{Role: model.RoleUser, Content: "hi"}},
	}

	augmented, candidates, err := uc.Augment(context.Background(), req, testUser(), "personal", "")
	gt.NoError(t, err)
	gt.A(t, candidates).Length(0)
	gt.A(t, augmented.Messages).Length(1)
	gt.V(t, augmented.Messages[0]).Equal(req.Messages[0])
}

func TestExtractParsesEdits(t *testing.T) {
	repo := newMockRepository()
	gemini := &mockGemini{
		generateFn: func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
			return toolCallResponse("update_memories", map[string]any{
				"memories": []any{
					map[string]any{"memory_number": float64(1), "content": "lives in Osaka"},
					map[string]any{"content": "has a dog"},
				},
			}), nil
		},
	}
	uc := newUseCase(t, repo, gemini)

	edits, err := uc.Extract(context.Background(), "I moved to Osaka and got a dog", nil)
	gt.NoError(t, err)
	gt.A(t, edits).Length(2)
	gt.V(t, edits[0].MemoryNumber).Equal(1)
	gt.V(t, edits[0].Content).Equal("lives in Osaka")
	gt.V(t, edits[1].MemoryNumber).Equal(0)
	gt.V(t, edits[1].Content).Equal("has a dog")
}

func TestExtractEmptyUserText(t *testing.T) {
	repo := newMockRepository()
	gemini := &mockGemini{}
	uc := newUseCase(t, repo, gemini)

	edits, err := uc.Extract(context.Background(), "", nil)
	gt.NoError(t, err)
	gt.A(t, edits).Length(0)
	gt.Number(t, gemini.generateCalls).Equal(0)
}

func TestExtractWithoutToolCall(t *testing.T) {
	repo := newMockRepository()
	gemini := &mockGemini{
		generateFn: func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
			return textResponse("nothing worth remembering"), nil
		},
	}
	uc := newUseCase(t, repo, gemini)

	_, err := uc.Extract(context.Background(), "hello", nil)
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrValidation))
}

func TestExtractRejectsMalformedArguments(t *testing.T) {
	repo := newMockRepository()
	gemini := &mockGemini{
		generateFn: func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
			return toolCallResponse("update_memories", map[string]any{
				"memories": []any{
					map[string]any{"memory_number": float64(2)},
				},
			}), nil
		},
	}
	uc := newUseCase(t, repo, gemini)

	_, err := uc.Extract(context.Background(), "hello", nil)
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrValidation))
}

func TestReconcileResolvesEditNumbers(t *testing.T) {
	repo := newMockRepository()
	gemini := &mockGemini{}
	uc := newUseCase(t, repo, gemini)

	candidates := []*model.RetrievedMemory{
		retrievedMemory("lives in Kyoto", 0.92),
		retrievedMemory("prefers tea", 0.81),
	}

	edits := []model.MemoryEdit{
		{MemoryNumber: 1, Content: "lives in Osaka"},
		{Content: "has a dog"},
		{MemoryNumber: 7, Content: "plays shogi"},
	}

	created, updated := uc.Reconcile(context.Background(), testUser(), "personal", edits, candidates)
	gt.Number(t, created).Equal(2)
	gt.Number(t, updated).Equal(1)
	gt.V(t, len(repo.memories)).Equal(3)

	// The in-range edit rewrote candidate 1 under its existing id.
	rewritten := repo.memories[candidates[0].Memory.ID]
	gt.V(t, rewritten.Content).Equal("lives in Osaka")
	gt.V(t, rewritten.StoreID).Equal("personal")

	// The out-of-range number became a new memory, not candidate 2.
	_, ok := repo.memories[candidates[1].Memory.ID]
	gt.False(t, ok).Describe("candidate 2 was never written")
}

func TestReconcileSkipsFailedEmbedding(t *testing.T) {
	repo := newMockRepository()
	gemini := &mockGemini{
		embedFn: func(ctx context.Context, text string, dimension int) ([]float32, error) {
			if text == "poison" {
				return nil, goerr.New("embedding backend down")
			}
			return []float32{0.1}, nil
		},
	}
	uc := newUseCase(t, repo, gemini)

	edits := []model.MemoryEdit{
		{Content: "poison"},
		{Content: "has a dog"},
	}

	created, updated := uc.Reconcile(context.Background(), testUser(), "personal", edits, nil)
	gt.Number(t, created).Equal(1)
	gt.Number(t, updated).Equal(0)
	gt.V(t, len(repo.memories)).Equal(1)
}

func TestReconcileIgnoresEmptyContent(t *testing.T) {
	repo := newMockRepository()
	gemini := &mockGemini{}
	uc := newUseCase(t, repo, gemini)

	created, updated := uc.Reconcile(context.Background(), testUser(), "personal", []model.MemoryEdit{{MemoryNumber: 1}}, nil)
	gt.Number(t, created).Equal(0)
	gt.Number(t, updated).Equal(0)
	gt.V(t, len(repo.memories)).Equal(0)
}

func TestForwardGemini(t *testing.T) {
	repo := newMockRepository()
	gemini := &mockGemini{
		generateFn: func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
			resp := textResponse("green tea, usually")
			resp.UsageMetadata = &genai.GenerateContentResponseUsageMetadata{
				PromptTokenCount:     12,
				CandidatesTokenCount: 5,
				TotalTokenCount:      17,
			}
			return resp, nil
		},
	}
	uc := newUseCase(t, repo, gemini)

	resp, err := uc.Forward(context.Background(), &model.ChatRequest{
		Model:    "gemini-2.5-flash",
		Messages: []model.Message{{Role: model.RoleUser, Content: "what do I drink?"}},
	})
	gt.NoError(t, err)
	gt.V(t, resp.Content).Equal("green tea, usually")
	gt.V(t, resp.Model).Equal("gemini-2.5-flash")
	gt.V(t, resp.Usage.PromptTokens).Equal(12)
	gt.V(t, resp.Usage.CompletionTokens).Equal(5)
	gt.True(t, resp.Duration > 0)
}

func TestForwardClaudeWithoutAdapter(t *testing.T) {
	repo := newMockRepository()
	gemini := &mockGemini{}
	uc := newUseCase(t, repo, gemini)

	_, err := uc.Forward(context.Background(), &model.ChatRequest{
		Model:    "claude-sonnet-4-5",
		Messages: []model.Message{{Role: model.RoleUser, Content: "hi"}},
	})
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrValidation))
}

func TestAuditArchivesPayload(t *testing.T) {
	repo := newMockRepository()
	storage := newMockStorage()
	uc, err := gateway.New(gateway.Input{
		Repo:    repo,
		Gemini:  &mockGemini{},
		Storage: storage,
	})
	gt.NoError(t, err)

	req := &model.ChatRequest{
		Model:    "gemini-2.5-flash",
		Messages: []model.Message{{Role: model.RoleUser, Content: "hello"}},
	}
	resp := &model.ChatResponse{
		ID:      "resp-1",
		Model:   "gemini-2.5-flash",
		Content: "hi there",
		Usage:   model.TokenUsage{PromptTokens: 4, CompletionTokens: 2, TotalTokens: 6},
	}

	uc.Audit(context.Background(), gateway.AuditInput{User: testUser(), Request: req, Response: resp})

	gt.A(t, repo.usageLogs).Length(1)
	log := repo.usageLogs[0]
	gt.True(t, log.PayloadKey != "").Describe("archive key is recorded on the usage log")
	gt.S(t, log.PayloadKey).Contains("payloads/")

	payload, err := uc.Payload(context.Background(), log.PayloadKey)
	gt.NoError(t, err)
	gt.V(t, payload.Request.Messages[0].Content).Equal("hello")
	gt.V(t, payload.Response.Content).Equal("hi there")
}

func TestPayloadWithoutStorage(t *testing.T) {
	uc := newUseCase(t, newMockRepository(), &mockGemini{})

	_, err := uc.Payload(context.Background(), "payloads/2026/08/28/x.json")
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrValidation))
}

func TestPayloadUnknownKey(t *testing.T) {
	repo := newMockRepository()
	uc, err := gateway.New(gateway.Input{
		Repo:    repo,
		Gemini:  &mockGemini{},
		Storage: newMockStorage(),
	})
	gt.NoError(t, err)

	_, err = uc.Payload(context.Background(), "payloads/2026/08/28/missing.json")
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrNotFound))
}
