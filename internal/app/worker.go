package app

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"github.com/clinicore/report-exporter/internal/cache"
	"github.com/clinicore/report-exporter/internal/model"
)

// StartExportWorkers launches background workers that pop export tasks off the
// queue and run them. If too many workers are configured, the number is
// limited based on available CPU cores.
func (app *App) StartExportWorkers(ctx context.Context) {
	numWorkers := app.config.Export.Workers
	if numWorkers <= 0 {
		numWorkers = 4
	}

	maxWorkers := runtime.NumCPU() * 2
	if numWorkers > maxWorkers {
		numWorkers = maxWorkers
	}

	slog.InfoContext(ctx, "report_exporter.worker.starting", slog.Int("count", numWorkers))

	for i := 0; i < numWorkers; i++ {
		go func(workerID int) {
			for {
				select {
				case <-ctx.Done():
					return
				default:
					task, err := app.cache.PopTask()
					if err != nil {
						if err != cache.ErrEmpty {
							slog.WarnContext(ctx, "report_exporter.worker.pop_failed",
								slog.Int("worker_id", workerID),
								slog.String("error", err.Error()))
							time.Sleep(time.Second)
						}
						continue
					}

					app.runTask(ctx, workerID, task)
				}
			}
		}(i + 1)
	}
}

// runTask executes one job and, when it completed with recipients, hands the
// artifact to the dispatcher.
func (app *App) runTask(ctx context.Context, workerID int, task model.ExportTask) {
	job, err := app.executor.Execute(ctx, task)
	if err != nil {
		slog.ErrorContext(ctx, "report_exporter.worker.task_failed",
			slog.Int("worker_id", workerID),
			slog.String("job_id", task.JobID),
			slog.String("error", err.Error()))
		return
	}
	if job == nil || job.Status != model.JobCompleted || len(job.Recipients) == 0 {
		return
	}

	data, err := app.artifacts.Open(job.ArtifactRef)
	if err != nil {
		slog.ErrorContext(ctx, "report_exporter.worker.artifact_unavailable",
			slog.String("job_id", job.ID),
			slog.String("artifact_ref", job.ArtifactRef),
			slog.String("error", err.Error()))
		return
	}
	art := &model.Artifact{
		FileName: job.ArtifactRef,
		Mime:     job.Format.Mime(),
		Data:     data,
	}
	app.dispatcher.Deliver(ctx, job, art)
}
