package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/clinicore/report-exporter/internal/errors"
	"github.com/clinicore/report-exporter/internal/model"
)

const purgeInterval = time.Hour

// StartScheduler runs the tick loop that turns due schedules into queued
// jobs. A template that is already in flight or fails to enqueue is skipped
// this tick and picked up again on the next one.
func (app *App) StartScheduler(ctx context.Context) {
	go func() {
		tick := time.NewTicker(app.config.Export.TickInterval)
		purge := time.NewTicker(purgeInterval)
		defer tick.Stop()
		defer purge.Stop()

		slog.InfoContext(ctx, "report_exporter.scheduler.started",
			slog.Duration("tick_interval", app.config.Export.TickInterval))

		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
				app.runDue(ctx)
			case <-purge.C:
				if _, err := app.historyService.PurgeExpired(ctx, time.Now()); err != nil {
					slog.ErrorContext(ctx, "report_exporter.scheduler.purge_failed",
						slog.String("error", err.Error()))
				}
			}
		}
	}()
}

func (app *App) runDue(ctx context.Context) {
	due, err := app.Store.Template().ListDue(ctx, time.Now())
	if err != nil {
		slog.ErrorContext(ctx, "report_exporter.scheduler.list_due_failed",
			slog.String("error", err.Error()))
		return
	}

	for _, tmpl := range due {
		if _, err := app.executor.Enqueue(ctx, tmpl, model.TriggeredByScheduler); err != nil {
			// InvalidState means a run is already in flight, which is the
			// normal long-running-export case, not a fault.
			level := slog.LevelError
			if errors.IsKind(err, errors.KindInvalidState) {
				level = slog.LevelDebug
			}
			slog.Log(ctx, level, "report_exporter.scheduler.enqueue_skipped",
				slog.String("template_id", tmpl.ID),
				slog.String("error", err.Error()))
			continue
		}
	}
}
