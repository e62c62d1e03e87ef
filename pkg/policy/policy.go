// Package policy evaluates an optional Rego authorization gate before a
// request enters the pipeline. With no policy directory configured every
// request is allowed.
package policy

import (
	"context"
	"os"
	"path/filepath"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mnemo/pkg/model"
	"github.com/open-policy-agent/opa/v1/rego"
)

// Input is the document handed to the policy for one request.
type Input struct {
	UserID    string `json:"user_id"`
	Plan      string `json:"plan"`
	Active    bool   `json:"active"`
	StoreID   string `json:"store_id,omitempty"`
	ContextID string `json:"context_id,omitempty"`
	Model     string `json:"model"`
	Stream    bool   `json:"stream"`
}

// Gate holds the prepared authorization query. A nil *Gate allows
// everything.
type Gate struct {
	query *rego.PreparedEvalQuery
}

// New loads all .rego files from policyDir and prepares the
// data.mnemo.authz.allow query. An empty directory yields a nil Gate.
func New(ctx context.Context, policyDir string) (*Gate, error) {
	if policyDir == "" {
		return nil, nil
	}

	files, err := filepath.Glob(filepath.Join(policyDir, "*.rego"))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to glob policy files")
	}
	if len(files) == 0 {
		return nil, nil
	}

	options := make([]func(*rego.Rego), 0, len(files)+1)
	options = append(options, rego.Query("data.mnemo.authz.allow"))
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to read policy file", goerr.Value("path", file))
		}
		options = append(options, rego.Module(file, string(data)))
	}

	prepared, err := rego.New(options...).PrepareForEval(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to prepare authz query")
	}

	return &Gate{query: &prepared}, nil
}

// NewInput builds the policy input for a resolved account and request.
func NewInput(user *model.User, storeID, contextID string, req *model.ChatRequest) Input {
	return Input{
		UserID:    string(user.ID),
		Plan:      string(user.Plan),
		Active:    user.Active,
		StoreID:   storeID,
		ContextID: contextID,
		Model:     req.Model,
		Stream:    req.Stream,
	}
}

// Allow evaluates the gate. An undefined result is a denial.
func (g *Gate) Allow(ctx context.Context, input Input) (bool, error) {
	if g == nil {
		return true, nil
	}

	rs, err := g.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return false, goerr.Wrap(err, "failed to evaluate authz policy")
	}

	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return false, nil
	}

	allowed, ok := rs[0].Expressions[0].Value.(bool)
	return ok && allowed, nil
}
