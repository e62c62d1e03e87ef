package cli

import (
	"context"

	"github.com/m-mizutani/mnemo/pkg/service/mcp"
	"github.com/urfave/cli/v3"
)

func mcpCommand() *cli.Command {
	var cfg config

	flags := globalFlags(&cfg)
	flags = append(flags, llmFlags(&cfg)...)

	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve the memory store over MCP on stdio",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg.setupLogger()

			repo, err := cfg.newRepository(ctx)
			if err != nil {
				return err
			}
			defer repo.Close()

			gemini, err := cfg.newGemini(ctx)
			if err != nil {
				return err
			}

			gwConfig, err := cfg.newGatewayConfig()
			if err != nil {
				return err
			}

			srv, err := mcp.New(mcp.Input{
				Repo:      repo,
				Gemini:    gemini,
				Threshold: gwConfig.Retrieval.MemoryThreshold,
				TopK:      gwConfig.Retrieval.TopK,
				Dimension: gwConfig.Retrieval.EmbeddingDimension,
			})
			if err != nil {
				return err
			}

			return srv.Run(ctx)
		},
	}
}
