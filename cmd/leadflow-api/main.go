// Command leadflow-api serves the flow editor backend.
package main

import (
	"context"
	"os"

	"github.com/dukex/leadflow/pkg/cmd"
	"github.com/dukex/leadflow/pkg/log"
	"github.com/dukex/leadflow/pkg/otelhelper"
	"github.com/dukex/leadflow/pkg/refdata"
	"github.com/dukex/leadflow/pkg/registry"
	"github.com/dukex/leadflow/pkg/wire"
	cli "github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel/trace"
)

const defaultPort = 9091

func main() {
	cmd := &cli.Command{
		Name:                  "leadflow-api",
		Usage:                 "Create, validate and activate lead routing flows",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence (file://<dir> or postgres://...)",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (gochannel, kafka)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma separated Kafka brokers",
				Value:   "localhost:9092",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "refdata-path",
				Usage:   "JSON file with CRM fields, pipelines and dialer entities",
				Sources: cli.EnvVars("REFDATA_PATH"),
			},
			&cli.StringFlag{
				Name:    "refdata-refresh",
				Usage:   "Cron schedule for reloading reference data",
				Value:   "@every 15m",
				Sources: cli.EnvVars("REFDATA_REFRESH"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL used to share reference data between replicas",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Export OpenTelemetry traces over OTLP/HTTP",
				Sources: cli.EnvVars("OTEL_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger := log.WithModule("api")
			logger.InfoContext(ctx, "Initializing Leadflow API")

			reg := registry.NewRegistry()

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"), wire.NewCodec(reg))
			if err != nil {
				return err
			}

			defer func() {
				err := persistence.Close(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), command.String("kafka-brokers"), "leadflow-api", logger)
			if err != nil {
				return err
			}

			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			store, closeCache, err := cmd.NewReferenceData(ctx, logger, command.String("refdata-path"), command.String("redis-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := closeCache(); err != nil {
					logger.ErrorContext(ctx, "Failed to close reference data cache", "error", err)
				}
			}()

			if store != nil {
				refresher, err := refdata.NewRefresher(store, command.String("refdata-refresh"), logger)
				if err != nil {
					return err
				}

				err = refresher.Start(ctx)
				if err != nil {
					return err
				}

				defer refresher.Stop()
			}

			var tracer trace.Tracer

			if command.Bool("tracing") {
				t, shutdown, err := otelhelper.NewTracer(ctx, "leadflow-api")
				if err != nil {
					return err
				}

				defer func() {
					if err := shutdown(context.Background()); err != nil {
						logger.ErrorContext(ctx, "Failed to shutdown tracer provider", "error", err)
					}
				}()

				tracer = t
			}

			api := NewAPI(logger, persistence, reg, eventBus, store, tracer)

			err = api.Start(command.Int("port"))
			if err != nil {
				logger.ErrorContext(ctx, "Failed to start API server", "error", err)

				return err
			}

			return nil
		},
	}

	err := cmd.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
