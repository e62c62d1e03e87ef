package cli

import (
	"context"
	"encoding/json"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func auditCommand() *cli.Command {
	return &cli.Command{
		Name:  "audit",
		Usage: "Inspect the audit trail",
		Commands: []*cli.Command{
			auditShowCommand(),
		},
	}
}

func auditShowCommand() *cli.Command {
	var (
		cfg config
		key string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "key",
			Aliases:     []string{"k"},
			Usage:       "Payload key from the usage log (payloads/...)",
			Destination: &key,
			Required:    true,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)
	flags = append(flags, integrationFlags(&cfg)...)

	return &cli.Command{
		Name:  "show",
		Usage: "Print an archived request/response payload",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg.setupLogger()

			uc, repo, err := cfg.newUseCase(ctx)
			if err != nil {
				return err
			}
			defer repo.Close()

			payload, err := uc.Payload(ctx, key)
			if err != nil {
				return goerr.Wrap(err, "failed to fetch payload")
			}

			encoder := json.NewEncoder(c.Root().Writer)
			encoder.SetIndent("", "  ")
			return encoder.Encode(payload)
		},
	}
}
