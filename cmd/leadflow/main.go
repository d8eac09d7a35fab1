// Command leadflow manages flows on a running leadflow API.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dukex/leadflow/pkg/client"
	"github.com/go-playground/validator/v10"
	cli "github.com/urfave/cli/v3"
)

func NewApp() *cli.Command {
	return &cli.Command{
		Name:                  "leadflow",
		Usage:                 "Inspect, validate and activate lead routing flows",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "api-url",
				Usage:   "Base URL of the leadflow API",
				Value:   "http://localhost:9091",
				Sources: cli.EnvVars("LEADFLOW_API_URL"),
			},
			&cli.StringFlag{
				Name:    "token",
				Usage:   "Bearer token sent with every request",
				Sources: cli.EnvVars("LEADFLOW_TOKEN"),
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Usage:   "Per-request timeout",
				Value:   client.DefaultTimeout,
				Sources: cli.EnvVars("LEADFLOW_TIMEOUT"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "warn",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Before: func(ctx context.Context, command *cli.Command) (context.Context, error) {
			err := validator.New().Var(command.String("api-url"), "required,url")
			if err != nil {
				return ctx, fmt.Errorf("invalid --api-url %q: %w", command.String("api-url"), err)
			}

			return ctx, nil
		},
		Commands: []*cli.Command{
			NewListCommand(),
			NewGetCommand(),
			NewCreateCommand(),
			NewValidateCommand(),
			NewActivateCommand(),
			NewDeactivateCommand(),
			NewDuplicateCommand(),
			NewDeleteCommand(),
			NewRefdataCommand(),
		},
	}
}

func main() {
	err := NewApp().Run(context.Background(), os.Args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
