package cli

import (
	"context"
	"log/slog"
	"os"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mnemo/pkg/adapter"
	"github.com/m-mizutani/mnemo/pkg/policy"
	"github.com/m-mizutani/mnemo/pkg/repository"
	"github.com/m-mizutani/mnemo/pkg/usecase/gateway"
	"github.com/m-mizutani/mnemo/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

// config holds configuration values
type config struct {
	// Logging
	logLevel string

	// Repository
	project  string
	database string

	// Adapters
	geminiProject   string
	geminiLocation  string
	geminiModel     string
	embeddingModel  string
	anthropicAPIKey string

	// Optional integrations
	bucket            string
	bigqueryDataset   string
	bigqueryTable     string
	analyticsEndpoint string
	policyDir         string
	configPath        string
}

// globalFlags returns common flags used across commands with destination config
func globalFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "Log level (debug, info, warn, error)",
			Value:       "info",
			Sources:     cli.EnvVars("MNEMO_LOG_LEVEL"),
			Destination: &cfg.logLevel,
		},
		&cli.StringFlag{
			Name:        "project",
			Aliases:     []string{"p"},
			Usage:       "Google Cloud project ID",
			Sources:     cli.EnvVars("GOOGLE_CLOUD_PROJECT"),
			Destination: &cfg.project,
		},
		&cli.StringFlag{
			Name:        "database",
			Aliases:     []string{"d"},
			Usage:       "Firestore database ID",
			Value:       "(default)",
			Sources:     cli.EnvVars("FIRESTORE_DATABASE_ID"),
			Destination: &cfg.database,
		},
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       "Path to retrieval/pricing config file (YAML)",
			Sources:     cli.EnvVars("MNEMO_CONFIG"),
			Destination: &cfg.configPath,
		},
	}
}

// llmFlags returns flags for LLM-related configuration with destination config
func llmFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "gemini-project",
			Usage:       "Google Cloud project ID for Gemini",
			Sources:     cli.EnvVars("GEMINI_PROJECT_ID"),
			Destination: &cfg.geminiProject,
		},
		&cli.StringFlag{
			Name:        "gemini-location",
			Usage:       "Google Cloud location for Gemini",
			Value:       "us-central1",
			Sources:     cli.EnvVars("GEMINI_LOCATION"),
			Destination: &cfg.geminiLocation,
		},
		&cli.StringFlag{
			Name:        "gemini-model",
			Usage:       "Gemini model for completion and extraction",
			Sources:     cli.EnvVars("MNEMO_GEMINI_MODEL"),
			Destination: &cfg.geminiModel,
		},
		&cli.StringFlag{
			Name:        "embedding-model",
			Usage:       "Gemini model for embeddings",
			Sources:     cli.EnvVars("MNEMO_EMBEDDING_MODEL"),
			Destination: &cfg.embeddingModel,
		},
		&cli.StringFlag{
			Name:        "anthropic-api-key",
			Usage:       "Anthropic API key (enables claude-* model forwarding)",
			Sources:     cli.EnvVars("ANTHROPIC_API_KEY"),
			Destination: &cfg.anthropicAPIKey,
		},
	}
}

// integrationFlags returns flags for the optional audit/policy integrations
func integrationFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "bucket",
			Usage:       "Cloud Storage bucket for payload archives",
			Sources:     cli.EnvVars("MNEMO_BUCKET"),
			Destination: &cfg.bucket,
		},
		&cli.StringFlag{
			Name:        "bigquery-dataset",
			Usage:       "BigQuery dataset for usage events",
			Sources:     cli.EnvVars("MNEMO_BIGQUERY_DATASET"),
			Destination: &cfg.bigqueryDataset,
		},
		&cli.StringFlag{
			Name:        "bigquery-table",
			Usage:       "BigQuery table for usage events",
			Value:       "usage_events",
			Sources:     cli.EnvVars("MNEMO_BIGQUERY_TABLE"),
			Destination: &cfg.bigqueryTable,
		},
		&cli.StringFlag{
			Name:        "analytics-endpoint",
			Usage:       "HTTP endpoint for analytics events",
			Sources:     cli.EnvVars("MNEMO_ANALYTICS_ENDPOINT"),
			Destination: &cfg.analyticsEndpoint,
		},
		&cli.StringFlag{
			Name:        "policy-dir",
			Usage:       "Directory of Rego policies for request authorization",
			Sources:     cli.EnvVars("MNEMO_POLICY_DIR"),
			Destination: &cfg.policyDir,
		},
	}
}

// setupLogger applies the configured log level to the default logger
func (cfg *config) setupLogger() {
	logger := logging.New(cfg.logLevel, os.Stderr)
	logging.SetDefault(logger)
	slog.SetDefault(logger)
}

// newRepository creates a new repository instance
func (cfg *config) newRepository(ctx context.Context) (*repository.Firestore, error) {
	if cfg.project == "" {
		return nil, goerr.New("project is required")
	}
	if cfg.database == "" {
		return nil, goerr.New("database is required")
	}

	repo, err := repository.New(ctx, cfg.project, cfg.database)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create repository")
	}
	return repo, nil
}

// newGemini creates a new Gemini adapter instance
func (cfg *config) newGemini(ctx context.Context) (adapter.Gemini, error) {
	if cfg.geminiProject == "" {
		return nil, goerr.New("gemini-project is required")
	}
	if cfg.geminiLocation == "" {
		return nil, goerr.New("gemini-location is required")
	}

	var opts []adapter.GeminiOption
	if cfg.geminiModel != "" {
		opts = append(opts, adapter.WithGenerativeModel(cfg.geminiModel))
	}
	if cfg.embeddingModel != "" {
		opts = append(opts, adapter.WithEmbeddingModel(cfg.embeddingModel))
	}

	return adapter.NewGemini(ctx, cfg.geminiProject, cfg.geminiLocation, opts...)
}

// newClaude creates a new Claude adapter instance, or nil when no API
// key is configured. Claude forwarding is optional.
func (cfg *config) newClaude() adapter.Claude {
	if cfg.anthropicAPIKey == "" {
		return nil
	}
	return adapter.NewClaude(cfg.anthropicAPIKey)
}

// newStorage creates a new Storage adapter instance, or nil when no
// bucket is configured
func (cfg *config) newStorage(ctx context.Context) (adapter.Storage, error) {
	if cfg.bucket == "" {
		return nil, nil
	}

	storage, err := adapter.NewStorage(ctx, cfg.bucket)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create storage")
	}
	return storage, nil
}

// newBigQuery creates a new BigQuery adapter instance, or nil when no
// dataset is configured
func (cfg *config) newBigQuery(ctx context.Context) (adapter.BigQuery, error) {
	if cfg.bigqueryDataset == "" {
		return nil, nil
	}
	if cfg.project == "" {
		return nil, goerr.New("project is required for bigquery")
	}

	bq, err := adapter.NewBigQuery(ctx, cfg.project,
		adapter.WithUsageTable(cfg.bigqueryDataset, cfg.bigqueryTable))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create bigquery client")
	}
	return bq, nil
}

// newAnalytics creates a new Analytics adapter instance, or nil when no
// endpoint is configured
func (cfg *config) newAnalytics() adapter.Analytics {
	if cfg.analyticsEndpoint == "" {
		return nil
	}
	return adapter.NewAnalytics(cfg.analyticsEndpoint)
}

// newPolicy compiles the Rego policies, or returns a nil gate (allow
// all) when no policy directory is configured
func (cfg *config) newPolicy(ctx context.Context) (*policy.Gate, error) {
	if cfg.policyDir == "" {
		return nil, nil
	}
	return policy.New(ctx, cfg.policyDir)
}

// newGatewayConfig loads the retrieval/pricing configuration
func (cfg *config) newGatewayConfig() (*gateway.Config, error) {
	if cfg.configPath == "" {
		return gateway.DefaultConfig(), nil
	}
	return gateway.LoadConfig(cfg.configPath)
}

// newUseCase assembles the full gateway pipeline from the configured
// adapters
func (cfg *config) newUseCase(ctx context.Context) (*gateway.UseCase, *repository.Firestore, error) {
	repo, err := cfg.newRepository(ctx)
	if err != nil {
		return nil, nil, err
	}

	gemini, err := cfg.newGemini(ctx)
	if err != nil {
		return nil, nil, err
	}

	storage, err := cfg.newStorage(ctx)
	if err != nil {
		return nil, nil, err
	}

	bq, err := cfg.newBigQuery(ctx)
	if err != nil {
		return nil, nil, err
	}

	gwConfig, err := cfg.newGatewayConfig()
	if err != nil {
		return nil, nil, err
	}

	uc, err := gateway.New(gateway.Input{
		Repo:      repo,
		Gemini:    gemini,
		Claude:    cfg.newClaude(),
		Storage:   storage,
		BigQuery:  bq,
		Analytics: cfg.newAnalytics(),
		Config:    gwConfig,
	})
	if err != nil {
		return nil, nil, err
	}

	return uc, repo, nil
}
