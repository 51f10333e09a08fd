package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/allisson/outboxd/cmd/app/commands"
	"github.com/allisson/outboxd/internal/app"
	"github.com/allisson/outboxd/internal/config"
)

func signalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

func formatFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Value:   "text",
		Usage:   "Output format: 'text' or 'json'",
	}
}

func getOutboxCommands() []*cli.Command {
	return []*cli.Command{
		{
			Name:  "dispatch-once",
			Usage: "Claim and dispatch a single batch of due outbox entries",
			Flags: []cli.Flag{formatFlag()},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				container := app.NewContainer(config.Load())
				defer func() { _ = container.Shutdown(context.Background()) }()

				dispatcher, err := container.Dispatcher()
				if err != nil {
					return err
				}

				return commands.RunDispatchOnce(
					ctx,
					dispatcher,
					container.Logger(),
					commands.DefaultIO().Writer,
					cmd.String("format"),
				)
			},
		},
		{
			Name:  "list-dead-letters",
			Usage: "List dead-lettered outbox entries, newest first",
			Flags: []cli.Flag{
				&cli.IntFlag{
					Name:    "limit",
					Aliases: []string{"l"},
					Value:   50,
					Usage:   "Maximum number of entries to list (1-1000)",
				},
				formatFlag(),
			},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				container := app.NewContainer(config.Load())
				defer func() { _ = container.Shutdown(context.Background()) }()

				adminUseCase, err := container.AdminUseCase()
				if err != nil {
					return err
				}

				return commands.RunListDeadLetters(
					ctx,
					adminUseCase,
					container.Logger(),
					commands.DefaultIO().Writer,
					int(cmd.Int("limit")),
					cmd.String("format"),
				)
			},
		},
		{
			Name:  "replay-dead-letter",
			Usage: "Return a dead-lettered entry to pending for another round of attempts",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:     "id",
					Aliases:  []string{"i"},
					Required: true,
					Usage:    "Outbox entry ID (UUID)",
				},
				formatFlag(),
			},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				container := app.NewContainer(config.Load())
				defer func() { _ = container.Shutdown(context.Background()) }()

				adminUseCase, err := container.AdminUseCase()
				if err != nil {
					return err
				}

				return commands.RunReplayDeadLetter(
					ctx,
					adminUseCase,
					container.Logger(),
					commands.DefaultIO().Writer,
					cmd.String("id"),
					cmd.String("format"),
				)
			},
		},
		{
			Name:  "purge-completed",
			Usage: "Delete completed outbox entries older than specified days",
			Flags: []cli.Flag{
				&cli.IntFlag{
					Name:     "days",
					Aliases:  []string{"d"},
					Required: true,
					Usage:    "Delete completed entries older than this many days",
				},
				&cli.BoolFlag{
					Name:    "dry-run",
					Aliases: []string{"n"},
					Value:   false,
					Usage:   "Show how many entries would be deleted without deleting",
				},
				formatFlag(),
			},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				container := app.NewContainer(config.Load())
				defer func() { _ = container.Shutdown(context.Background()) }()

				adminUseCase, err := container.AdminUseCase()
				if err != nil {
					return err
				}

				return commands.RunPurgeCompleted(
					ctx,
					adminUseCase,
					container.Logger(),
					commands.DefaultIO().Writer,
					int(cmd.Int("days")),
					cmd.Bool("dry-run"),
					cmd.String("format"),
				)
			},
		},
	}
}
