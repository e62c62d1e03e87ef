package gateway

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"text/template"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mnemo/pkg/model"
	"google.golang.org/genai"
)

//go:embed prompt/extract.md
var extractPromptRaw string

var extractPromptTmpl = template.Must(
	template.New("extract").
		Funcs(template.FuncMap{"add": func(a, b int) int { return a + b }}).
		Parse(extractPromptRaw),
)

const extractToolName = "update_memories"

// extractTemperature is pinned low to keep the structured output stable
// across identical turns.
const extractTemperature float32 = 0.2

// editsSchema validates the model's tool-call arguments before they are
// trusted by the reconciler.
var editsSchema = &jsonschema.Schema{
	Type:     "object",
	Required: []string{"memories"},
	Properties: map[string]*jsonschema.Schema{
		"memories": {
			Type: "array",
			Items: &jsonschema.Schema{
				Type:     "object",
				Required: []string{"content"},
				Properties: map[string]*jsonschema.Schema{
					"memory_number": {Type: "integer"},
					"content":       {Type: "string"},
				},
			},
		},
	},
}

type extractPromptData struct {
	Candidates []*model.RetrievedMemory
	UserText   string
}

// Extract asks the model, through a function-call constrained to the
// memory-edit schema, which memories the latest turn should create or
// rewrite. Candidates are presented as a 1-based numbered list; the
// returned edits reference that numbering. A malformed tool call yields
// ErrValidation, which callers treat as "skip this turn".
func (uc *UseCase) Extract(ctx context.Context, userText string, candidates []*model.RetrievedMemory) ([]model.MemoryEdit, error) {
	if userText == "" {
		return nil, nil
	}

	var prompt bytes.Buffer
	if err := extractPromptTmpl.Execute(&prompt, extractPromptData{
		Candidates: candidates,
		UserText:   userText,
	}); err != nil {
		return nil, goerr.Wrap(err, "failed to render extraction prompt")
	}

	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(extractTemperature),
		Tools: []*genai.Tool{{
			FunctionDeclarations: []*genai.FunctionDeclaration{{
				Name:        extractToolName,
				Description: "Record the set of user memories to create or rewrite for this conversation turn",
				Parameters: &genai.Schema{
					Type:     genai.TypeObject,
					Required: []string{"memories"},
					Properties: map[string]*genai.Schema{
						"memories": {
							Type: genai.TypeArray,
							Items: &genai.Schema{
								Type:     genai.TypeObject,
								Required: []string{"content"},
								Properties: map[string]*genai.Schema{
									"memory_number": {
										Type:        genai.TypeInteger,
										Description: "1-based number of the existing memory to rewrite; omit to create a new memory",
									},
									"content": {
										Type:        genai.TypeString,
										Description: "The memory statement",
									},
								},
							},
						},
					},
				},
			}},
		}},
		ToolConfig: &genai.ToolConfig{
			FunctionCallingConfig: &genai.FunctionCallingConfig{
				Mode:                 genai.FunctionCallingConfigModeAny,
				AllowedFunctionNames: []string{extractToolName},
			},
		},
	}

	contents := []*genai.Content{
		genai.NewContentFromText(prompt.String(), genai.RoleUser),
	}

	resp, err := uc.gemini.GenerateContent(ctx, contents, config)
	if err != nil {
		return nil, err
	}

	return parseEdits(resp)
}

// parseEdits pulls the update_memories call out of the response and
// validates its arguments against the edit schema.
func parseEdits(resp *genai.GenerateContentResponse) ([]model.MemoryEdit, error) {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, goerr.Wrap(model.ErrValidation, "empty extraction response")
	}

	var args map[string]any
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.FunctionCall != nil && part.FunctionCall.Name == extractToolName {
			args = part.FunctionCall.Args
			break
		}
	}
	if args == nil {
		return nil, goerr.Wrap(model.ErrValidation, "no memory tool call in extraction response")
	}

	resolved, err := editsSchema.Resolve(nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to resolve edits schema")
	}
	if err := resolved.Validate(args); err != nil {
		return nil, goerr.Wrap(model.ErrValidation, "extraction output failed schema validation", goerr.V("cause", err))
	}

	raw, err := json.Marshal(args)
	if err != nil {
		return nil, goerr.Wrap(model.ErrValidation, "failed to marshal extraction output", goerr.V("cause", err))
	}

	var parsed struct {
		Memories []model.MemoryEdit `json:"memories"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, goerr.Wrap(model.ErrValidation, "failed to unmarshal extraction output", goerr.V("cause", err))
	}

	return parsed.Memories, nil
}
