package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/briandowns/spinner"
	"github.com/chzyer/readline"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mnemo/pkg/model"
	"github.com/urfave/cli/v3"
)

func chatCommand() *cli.Command {
	var (
		cfg       config
		apiKey    string
		modelName string
		storeID   string
		contextID string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "api-key",
			Usage:       "Gateway API key of the user to chat as",
			Sources:     cli.EnvVars("MNEMO_API_KEY"),
			Destination: &apiKey,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "model",
			Aliases:     []string{"m"},
			Usage:       "Model to forward to",
			Value:       "gemini-2.5-flash",
			Sources:     cli.EnvVars("MNEMO_CHAT_MODEL"),
			Destination: &modelName,
		},
		&cli.StringFlag{
			Name:        "store",
			Aliases:     []string{"s"},
			Usage:       "Memory store to retrieve from and reconcile into",
			Sources:     cli.EnvVars("MNEMO_STORE_ID"),
			Destination: &storeID,
		},
		&cli.StringFlag{
			Name:        "context",
			Usage:       "Document context to retrieve snippets from",
			Sources:     cli.EnvVars("MNEMO_CONTEXT_ID"),
			Destination: &contextID,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)
	flags = append(flags, integrationFlags(&cfg)...)

	return &cli.Command{
		Name:  "chat",
		Usage: "Interactive chat through the gateway pipeline",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg.setupLogger()

			uc, repo, err := cfg.newUseCase(ctx)
			if err != nil {
				return err
			}
			defer repo.Close()

			user, err := repo.GetUserByAPIKey(ctx, apiKey)
			if err != nil {
				return goerr.Wrap(err, "failed to look up user")
			}

			rl, err := readline.NewEx(&readline.Config{
				Prompt:      "> ",
				HistoryFile: "/tmp/.mnemo_chat_history",
			})
			if err != nil {
				return goerr.Wrap(err, "failed to initialize prompt")
			}
			defer rl.Close()

			sp := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
			sp.Suffix = " thinking..."

			fmt.Fprintf(c.Root().Writer, "Chat session started. Type 'exit' to quit.\n")

			history := []model.Message{}
			for {
				line, err := rl.Readline()
				if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
					break
				}
				if err != nil {
					return goerr.Wrap(err, "failed to read input")
				}
				if line == "" {
					continue
				}
				if line == "exit" {
					break
				}

				history = append(history, model.Message{
					Role:    model.RoleUser,
					Content: line,
				})
				req := &model.ChatRequest{
					Model:    modelName,
					Messages: history,
				}

				sp.Start()
				augmented, candidates, err := uc.Augment(ctx, req, user, storeID, contextID)
				if err != nil {
					sp.Stop()
					return goerr.Wrap(err, "failed to augment request")
				}

				resp, err := uc.Forward(ctx, augmented)
				sp.Stop()
				if err != nil {
					return goerr.Wrap(err, "failed to forward request")
				}

				fmt.Fprintf(c.Root().Writer, "%s\n", resp.Content)
				history = append(history, model.Message{
					Role:    model.RoleAssistant,
					Content: resp.Content,
				})

				// Unlike the server, the REPL reconciles inline so the
				// next turn can already retrieve what this one taught.
				// Extraction sees the same input as the server path: all
				// user turns of the request, newline-joined.
				if storeID != "" {
					uc.ProcessTurn(ctx, user, storeID, req.UserText(), candidates)
				}
			}

			fmt.Fprintf(c.Root().Writer, "\nChat session completed\n")
			return nil
		},
	}
}
