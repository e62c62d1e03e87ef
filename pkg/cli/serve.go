package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mnemo/pkg/server"
	"github.com/m-mizutani/mnemo/pkg/utils/logging"
	"github.com/m-mizutani/mnemo/pkg/utils/tasks"
	"github.com/urfave/cli/v3"
)

const shutdownGrace = 30 * time.Second

func serveCommand() *cli.Command {
	var (
		cfg  config
		addr string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "addr",
			Usage:       "Listen address",
			Value:       "127.0.0.1:8080",
			Sources:     cli.EnvVars("MNEMO_ADDR"),
			Destination: &addr,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)
	flags = append(flags, integrationFlags(&cfg)...)

	return &cli.Command{
		Name:  "serve",
		Usage: "Run the gateway HTTP server",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg.setupLogger()
			logger := logging.Default()

			uc, repo, err := cfg.newUseCase(ctx)
			if err != nil {
				return err
			}
			defer repo.Close()

			gate, err := cfg.newPolicy(ctx)
			if err != nil {
				return err
			}

			supervisor := tasks.New()
			handler := server.New(server.Input{
				UseCase:    uc,
				Repo:       repo,
				Gate:       gate,
				Supervisor: supervisor,
			})

			httpServer := &http.Server{
				Addr:    addr,
				Handler: handler,
				BaseContext: func(_ net.Listener) context.Context {
					return logging.With(context.Background(), logger)
				},
			}

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				logger.Info("starting gateway", "addr", addr)
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			select {
			case err := <-errCh:
				return goerr.Wrap(err, "server failed")
			case <-ctx.Done():
			}

			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()

			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Warn("failed to shut down cleanly", "error", err)
			}

			// Let in-flight reconcile/audit tasks drain before exit.
			if err := supervisor.Wait(shutdownCtx); err != nil {
				logger.Warn("deferred tasks did not drain", "error", err)
			}

			return nil
		},
	}
}
