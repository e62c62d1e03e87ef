// Package gateway implements the augmentation and reconciliation
// pipeline: embed the inbound turn, retrieve memories and document
// snippets, fold them into the prompt, forward the completion, and after
// the response extract and upsert memories.
package gateway

import (
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mnemo/pkg/adapter"
	"github.com/m-mizutani/mnemo/pkg/repository"
)

// UseCase carries the pipeline's collaborators. Construct with New;
// Claude, Storage, BigQuery and Analytics are optional.
type UseCase struct {
	repo      repository.Repository
	gemini    adapter.Gemini
	claude    adapter.Claude
	storage   adapter.Storage
	bigquery  adapter.BigQuery
	analytics adapter.Analytics
	config    *Config
}

// Input contains the collaborators for creating a UseCase
type Input struct {
	Repo      repository.Repository
	Gemini    adapter.Gemini
	Claude    adapter.Claude
	Storage   adapter.Storage
	BigQuery  adapter.BigQuery
	Analytics adapter.Analytics
	Config    *Config
}

func New(input Input) (*UseCase, error) {
	if input.Repo == nil {
		return nil, goerr.New("repository is required")
	}
	if input.Gemini == nil {
		return nil, goerr.New("gemini adapter is required")
	}

	cfg := input.Config
	if cfg == nil {
		cfg = DefaultConfig()
	}

	return &UseCase{
		repo:      input.Repo,
		gemini:    input.Gemini,
		claude:    input.Claude,
		storage:   input.Storage,
		bigquery:  input.BigQuery,
		analytics: input.Analytics,
		config:    cfg,
	}, nil
}

// Configuration returns the active retrieval/pricing configuration.
func (uc *UseCase) Configuration() *Config {
	return uc.config
}
