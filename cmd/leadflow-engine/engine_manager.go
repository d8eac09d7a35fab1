package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dukex/leadflow/pkg/engine"
	"github.com/dukex/leadflow/pkg/eventbus"
)

type EngineManager struct {
	id       string
	logger   *slog.Logger
	worker   *engine.Worker
	eventBus eventbus.EventBus
}

func NewEngineManager(id string, worker *engine.Worker, eventBus eventbus.EventBus, logger *slog.Logger) *EngineManager {
	return &EngineManager{
		id:       id,
		logger:   logger.With("module", "leadflow-engine", "engine_id", id),
		worker:   worker,
		eventBus: eventBus,
	}
}

// Start subscribes the engine to lead and flow events and blocks until ctx is
// cancelled or the process receives SIGINT or SIGTERM.
func (m *EngineManager) Start(ctx context.Context) error {
	m.logger.InfoContext(ctx, "Starting engine manager")

	err := m.worker.Register(m.eventBus)
	if err != nil {
		return err
	}

	err = m.eventBus.Subscribe(ctx)
	if err != nil {
		m.logger.ErrorContext(ctx, "Failed to subscribe to event bus", "error", err)

		return err
	}

	m.logger.InfoContext(ctx, "Engine started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-sigChan:
	case <-ctx.Done():
	}

	m.logger.InfoContext(ctx, "Shutting down engine...")

	return nil
}
