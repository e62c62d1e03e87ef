package cli

import (
	"context"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mnemo/pkg/model"
	"github.com/urfave/cli/v3"
)

func memoryCommand() *cli.Command {
	return &cli.Command{
		Name:  "memory",
		Usage: "Inspect memory stores",
		Commands: []*cli.Command{
			memoryListCommand(),
			memorySearchCommand(),
		},
	}
}

func memoryListCommand() *cli.Command {
	var (
		cfg     config
		userID  string
		storeID string
		limit   int64
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "user-id",
			Aliases:     []string{"u"},
			Usage:       "User who owns the memory store",
			Destination: &userID,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "store",
			Aliases:     []string{"s"},
			Usage:       "Memory store to list",
			Destination: &storeID,
			Required:    true,
		},
		&cli.IntFlag{
			Name:        "limit",
			Usage:       "Maximum number of memories to list",
			Value:       100,
			Destination: &limit,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)

	return &cli.Command{
		Name:  "list",
		Usage: "List memories in a store, most recently updated first",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg.setupLogger()

			repo, err := cfg.newRepository(ctx)
			if err != nil {
				return err
			}
			defer repo.Close()

			memories, err := repo.ListMemories(ctx, model.UserID(userID), storeID, int(limit))
			if err != nil {
				return goerr.Wrap(err, "failed to list memories")
			}

			for _, m := range memories {
				fmt.Fprintf(c.Root().Writer, "%s  %s  %s\n",
					m.ID, m.UpdatedAt.Format("2006-01-02 15:04"), m.Content)
			}
			fmt.Fprintf(c.Root().Writer, "\n%d memories\n", len(memories))
			return nil
		},
	}
}

func memorySearchCommand() *cli.Command {
	var (
		cfg     config
		userID  string
		storeID string
		query   string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "user-id",
			Aliases:     []string{"u"},
			Usage:       "User who owns the memory store",
			Destination: &userID,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "store",
			Aliases:     []string{"s"},
			Usage:       "Memory store to search",
			Destination: &storeID,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "query",
			Aliases:     []string{"q"},
			Usage:       "Natural-language query",
			Destination: &query,
			Required:    true,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)

	return &cli.Command{
		Name:  "search",
		Usage: "Search memories by semantic similarity",
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

			embedding, err := gemini.Embedding(ctx, query, gwConfig.Retrieval.EmbeddingDimension)
			if err != nil {
				return goerr.Wrap(err, "failed to embed query")
			}

			memories, err := repo.SearchMemories(ctx, model.UserID(userID), storeID, embedding,
				gwConfig.Retrieval.MemoryThreshold, gwConfig.Retrieval.TopK)
			if err != nil {
				return goerr.Wrap(err, "failed to search memories")
			}

			for _, m := range memories {
				fmt.Fprintf(c.Root().Writer, "%.3f  %s  %s\n",
					m.Similarity, m.Memory.ID, m.Memory.Content)
			}
			fmt.Fprintf(c.Root().Writer, "\n%d memories\n", len(memories))
			return nil
		},
	}
}
