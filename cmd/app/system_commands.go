package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/allisson/outboxd/cmd/app/commands"
	"github.com/allisson/outboxd/internal/app"
	"github.com/allisson/outboxd/internal/config"
)

func getSystemCommands(version string) []*cli.Command {
	return []*cli.Command{
		{
			Name:  "server",
			Usage: "Start the HTTP server (and the dispatcher when OUTBOX_EMBEDDED_WORKER is set)",
			Action: func(ctx context.Context, cmd *cli.Command) error {
				return commands.RunServer(ctx, version)
			},
		},
		{
			Name:  "worker",
			Usage: "Run the outbox dispatcher loop without the HTTP server",
			Action: func(ctx context.Context, cmd *cli.Command) error {
				cfg := config.Load()
				if err := cfg.Validate(); err != nil {
					return fmt.Errorf("invalid configuration: %w", err)
				}
				container := app.NewContainer(cfg)
				defer func() { _ = container.Shutdown(context.Background()) }()

				dispatcher, err := container.Dispatcher()
				if err != nil {
					return err
				}

				ctx, cancel := signalContext(ctx)
				defer cancel()

				return commands.RunWorker(ctx, dispatcher, container.Logger())
			},
		},
		{
			Name:  "migrate",
			Usage: "Run database migrations",
			Action: func(ctx context.Context, cmd *cli.Command) error {
				cfg := config.Load()
				container := app.NewContainer(cfg)
				defer func() { _ = container.Shutdown(ctx) }()

				return commands.RunMigrations(container.Logger(), cfg.DBDriver, cfg.DBConnectionString)
			},
		},
	}
}
