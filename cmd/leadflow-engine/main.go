// Command leadflow-engine runs active flows against lead updates.
package main

import (
	"context"
	"os"

	"github.com/dukex/leadflow/pkg/cmd"
	"github.com/dukex/leadflow/pkg/engine"
	"github.com/dukex/leadflow/pkg/log"
	"github.com/dukex/leadflow/pkg/otelhelper"
	"github.com/dukex/leadflow/pkg/registry"
	"github.com/dukex/leadflow/pkg/services"
	"github.com/dukex/leadflow/pkg/wire"
	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:                  "leadflow-engine",
		EnableShellCompletion: true,
		Usage:                 "Route lead updates through active flows",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "engine-id",
				Aliases: []string{"id"},
				Usage:   "Custom engine ID (auto-generated if not provided)",
				Sources: cli.EnvVars("ENGINE_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (gochannel, kafka)",
				Value:   "kafka",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma separated Kafka brokers",
				Value:   "localhost:9092",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.IntFlag{
				Name:    "max-steps",
				Usage:   "Maximum nodes visited per flow run",
				Value:   engine.DefaultMaxSteps,
				Sources: cli.EnvVars("ENGINE_MAX_STEPS"),
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

			engineID := command.String("engine-id")
			if engineID == "" {
				engineID = "engine-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("leadflow-engine").With("engineId", engineID)

			logger.InfoContext(ctx, "Initializing Leadflow Engine")

			reg := registry.NewRegistry()

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), command.String("kafka-brokers"), "leadflow-engine", logger)
			if err != nil {
				return err
			}

			defer func() {
				err := eventBus.Close()
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

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

			opts := []engine.Option{engine.WithMaxSteps(command.Int("max-steps"))}

			if command.Bool("tracing") {
				tracer, shutdown, err := otelhelper.NewTracer(ctx, "leadflow-engine")
				if err != nil {
					return err
				}

				defer func() {
					if err := shutdown(context.Background()); err != nil {
						logger.ErrorContext(ctx, "Failed to shutdown tracer provider", "error", err)
					}
				}()

				opts = append(opts, engine.WithTracer(tracer))
			}

			flows := services.NewFlow(persistence, eventBus, nil, logger)
			flowEngine := engine.New(reg, engine.NewEventDispatcher(eventBus), logger, opts...)
			worker := engine.NewWorker(flowEngine, flows, eventBus, logger)

			manager := NewEngineManager(engineID, worker, eventBus, logger)

			err = manager.Start(ctx)
			if err != nil {
				logger.ErrorContext(ctx, "Failed to start engine", "error", err)

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
