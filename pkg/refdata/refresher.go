package refdata

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Refresher reloads a Store on a cron schedule.
type Refresher struct {
	store  *Store
	expr   string
	logger *slog.Logger
	cron   *cron.Cron
}

// NewRefresher validates expr, a standard five-field cron expression or a
// descriptor such as "@every 15m".
func NewRefresher(store *Store, expr string, logger *slog.Logger) (*Refresher, error) {
	if _, err := cron.ParseStandard(expr); err != nil {
		return nil, fmt.Errorf("invalid refresh schedule %q: %w", expr, err)
	}

	return &Refresher{
		store:  store,
		expr:   expr,
		logger: logger.With("module", "refdata_refresher"),
	}, nil
}

// Start schedules the refresh job. Runs that overlap a slow refresh are skipped.
func (r *Refresher) Start(ctx context.Context) error {
	r.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	id, err := r.cron.AddFunc(r.expr, func() { r.run(ctx) })
	if err != nil {
		return fmt.Errorf("failed to add refresh job: %w", err)
	}

	r.logger.InfoContext(ctx, "Starting reference data refresher", "schedule", r.expr, "id", id)
	r.cron.Start()

	return nil
}

func (r *Refresher) run(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	_, err := r.store.Refresh(ctx)
	if err != nil {
		r.logger.ErrorContext(ctx, "Scheduled refresh failed", "error", err)
	}
}

// Stop waits for a running refresh to finish.
func (r *Refresher) Stop() {
	if r.cron == nil {
		return
	}

	<-r.cron.Stop().Done()
	r.logger.Info("Reference data refresher stopped")
}
