package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/clinicore/report-exporter/internal/errors"
	"github.com/clinicore/report-exporter/internal/model"
)

// RecoverInterrupted fails every job left in processing by a previous run.
// Interrupted work is never resumed mid-flight; the template runs again on
// its next scheduled slot. Must complete before workers and scheduler start.
func (app *App) RecoverInterrupted(ctx context.Context) error {
	stuck, err := app.Store.Job().ListByStatus(ctx, model.JobProcessing)
	if err != nil {
		return errors.Internal("unable to list interrupted jobs", errors.WithCause(err))
	}
	if len(stuck) == 0 {
		return nil
	}

	now := time.Now()
	for _, job := range stuck {
		msg := "export interrupted by service restart"
		if err := app.Store.Job().Fail(ctx, job.ID, now, string(errors.KindInterrupted), msg); err != nil {
			slog.ErrorContext(ctx, "report_exporter.recovery.fail_job_failed",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()))
			continue
		}
		job.Status = model.JobFailed
		job.FinishedAt = &now
		job.ErrorKind = errors.KindInterrupted
		job.ErrorMessage = msg

		retention := defaultRetentionDays
		if tmpl, err := app.Store.Template().Get(ctx, job.TemplateID); err == nil && tmpl.RetentionDays > 0 {
			retention = tmpl.RetentionDays
		}
		if _, err := app.Store.History().Append(ctx, model.NewHistoryRecord(job, retention)); err != nil {
			slog.ErrorContext(ctx, "report_exporter.recovery.history_append_failed",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()))
		}
		if app.cache != nil {
			_ = app.cache.SetJobStatus(job.ID, model.JobFailed)
		}

		slog.WarnContext(ctx, "report_exporter.recovery.job_interrupted",
			slog.String("job_id", job.ID),
			slog.String("template_id", job.TemplateID))
	}

	slog.InfoContext(ctx, "report_exporter.recovery.done",
		slog.Int("recovered", len(stuck)))
	return nil
}
