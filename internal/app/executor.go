package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/clinicore/report-exporter/internal/artifact"
	"github.com/clinicore/report-exporter/internal/cache"
	"github.com/clinicore/report-exporter/internal/datasource"
	"github.com/clinicore/report-exporter/internal/errors"
	"github.com/clinicore/report-exporter/internal/model"
	"github.com/clinicore/report-exporter/internal/render"
	"github.com/clinicore/report-exporter/internal/schedule"
	"github.com/clinicore/report-exporter/internal/store"
)

// Executor owns the job state machine: it creates queued jobs, claims them
// exclusively, generates the artifact and drives the terminal transition.
// Every terminal job is appended to the history ledger, whatever the outcome.
type Executor struct {
	templates store.TemplateStore
	jobs      store.JobStore
	history   store.HistoryStore
	cache     cache.Cache
	source    datasource.DataSource
	renderer  render.Renderer
	artifacts *artifact.Store
	timeout   time.Duration
	log       *slog.Logger
}

func NewExecutor(
	templates store.TemplateStore,
	jobs store.JobStore,
	history store.HistoryStore,
	c cache.Cache,
	source datasource.DataSource,
	renderer render.Renderer,
	artifacts *artifact.Store,
	timeout time.Duration,
	log *slog.Logger,
) (*Executor, error) {
	if templates == nil || jobs == nil || history == nil || source == nil || renderer == nil || artifacts == nil {
		return nil, errors.Internal("executor dependency is nil")
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Executor{
		templates: templates,
		jobs:      jobs,
		history:   history,
		cache:     c,
		source:    source,
		renderer:  renderer,
		artifacts: artifacts,
		timeout:   timeout,
		log:       log,
	}, nil
}

// Enqueue creates a queued job for an active template and pushes it onto the
// work queue. A template with a queued or processing job is rejected, which
// together with the claim CAS keeps executions per template serialized.
func (e *Executor) Enqueue(ctx context.Context, tmpl *model.ExportTemplate, triggeredBy string) (string, error) {
	if tmpl.Status != model.TemplateActive {
		return "", errors.InvalidState("template is not active: "+tmpl.ID,
			errors.WithID("executor.enqueue.not_active"))
	}

	if e.cache != nil {
		ok, err := e.cache.AcquireTemplateLock(tmpl.ID)
		if err != nil {
			e.log.WarnContext(ctx, "report_exporter.executor.lock_unavailable",
				slog.String("template_id", tmpl.ID),
				slog.String("error", err.Error()))
		} else if !ok {
			return "", errors.InvalidState("export already in progress for template "+tmpl.ID,
				errors.WithID("executor.enqueue.locked"))
		} else {
			defer func() { _ = e.cache.ReleaseTemplateLock(tmpl.ID) }()
		}
	}

	inFlight, err := e.jobs.HasInFlight(ctx, tmpl.ID)
	if err != nil {
		return "", err
	}
	if inFlight {
		return "", errors.InvalidState("export already in progress for template "+tmpl.ID,
			errors.WithID("executor.enqueue.in_flight"))
	}

	job := &model.ExportJob{
		ID:           uuid.NewString(),
		TemplateID:   tmpl.ID,
		TemplateName: tmpl.Name,
		Format:       tmpl.Format,
		TriggeredBy:  triggeredBy,
		Recipients:   tmpl.Recipients,
		Status:       model.JobQueued,
		StartedAt:    time.Now(),
	}
	if err := e.jobs.Insert(ctx, job); err != nil {
		return "", err
	}

	if e.cache != nil {
		if err := e.cache.PushTask(model.ExportTask{
			JobID:       job.ID,
			TemplateID:  tmpl.ID,
			TriggeredBy: triggeredBy,
		}); err != nil {
			// The queue is the only path to a worker; a job we cannot
			// enqueue must not linger as queued forever.
			now := time.Now()
			msg := "enqueue failed: " + err.Error()
			_ = e.jobs.Fail(ctx, job.ID, now, string(errors.KindInternal), msg)
			job.Status = model.JobFailed
			job.FinishedAt = &now
			job.ErrorKind = errors.KindInternal
			job.ErrorMessage = msg
			e.appendHistory(ctx, job, tmpl)
			return "", errors.Internal("unable to enqueue export task",
				errors.WithID("executor.enqueue.push"), errors.WithCause(err))
		}
		_ = e.cache.SetJobStatus(job.ID, model.JobQueued)
	}

	e.log.InfoContext(ctx, "report_exporter.executor.enqueued",
		slog.String("job_id", job.ID),
		slog.String("template_id", tmpl.ID),
		slog.String("triggered_by", triggeredBy))
	return job.ID, nil
}

// Execute runs one queued job to a terminal state. Returns the terminal job,
// or nil when the job was already claimed or finished elsewhere.
func (e *Executor) Execute(ctx context.Context, task model.ExportTask) (*model.ExportJob, error) {
	job, err := e.jobs.Get(ctx, task.JobID)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		return nil, nil
	}

	startedAt := time.Now()
	claimed, err := e.jobs.Claim(ctx, job.ID, startedAt)
	if err != nil {
		return nil, err
	}
	if !claimed {
		// Lost the CAS: some other worker owns this job.
		return nil, nil
	}
	job.Status = model.JobProcessing
	job.StartedAt = startedAt
	e.setCachedStatus(job.ID, model.JobProcessing)

	tmpl, err := e.templates.Get(ctx, job.TemplateID)
	if err != nil {
		return e.fail(ctx, job, nil, errors.KindInternal, "template unavailable: "+err.Error())
	}

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	rows, err := e.source.Query(runCtx, tmpl.Category, tmpl.Filters, tmpl.DataFields)
	if err != nil {
		return e.fail(ctx, job, tmpl, classify(runCtx, err, errors.KindDataSource), err.Error())
	}

	data, err := e.renderer.Render(rows, tmpl.DataFields, tmpl.Format)
	if err != nil {
		return e.fail(ctx, job, tmpl, classify(runCtx, err, errors.KindRender), err.Error())
	}

	ref, size, err := e.artifacts.Save(job.ID, tmpl.Format, data)
	if err != nil {
		return e.fail(ctx, job, tmpl, errors.KindInternal, err.Error())
	}

	finishedAt := time.Now()
	if err := e.jobs.Complete(ctx, job.ID, finishedAt, ref, size); err != nil {
		return nil, err
	}
	job.Status = model.JobCompleted
	job.FinishedAt = &finishedAt
	job.ArtifactRef = ref
	job.OutputSize = size
	e.setCachedStatus(job.ID, model.JobCompleted)

	e.recordExecution(ctx, tmpl, finishedAt)
	e.appendHistory(ctx, job, tmpl)

	e.log.InfoContext(ctx, "report_exporter.executor.completed",
		slog.String("job_id", job.ID),
		slog.String("template_id", tmpl.ID),
		slog.Int64("output_size", size),
		slog.Duration("duration", finishedAt.Sub(startedAt)))
	return job, nil
}

// fail drives the job to its failed terminal state and appends history.
// Failed runs never advance lastExportAt; scheduled ones still move
// nextRunAt forward so a broken template is retried on its cadence, not on
// every tick.
func (e *Executor) fail(ctx context.Context, job *model.ExportJob, tmpl *model.ExportTemplate, kind errors.Kind, msg string) (*model.ExportJob, error) {
	finishedAt := time.Now()
	if err := e.jobs.Fail(ctx, job.ID, finishedAt, string(kind), msg); err != nil {
		return nil, err
	}
	job.Status = model.JobFailed
	job.FinishedAt = &finishedAt
	job.ErrorKind = kind
	job.ErrorMessage = msg
	e.setCachedStatus(job.ID, model.JobFailed)

	if tmpl != nil && tmpl.Scheduled() {
		if next, err := schedule.NextRun(tmpl.Schedule, finishedAt); err == nil {
			if err := e.templates.AdvanceNextRun(ctx, tmpl.ID, &next); err != nil {
				e.log.WarnContext(ctx, "report_exporter.executor.advance_next_run_failed",
					slog.String("template_id", tmpl.ID),
					slog.String("error", err.Error()))
			}
		}
	}
	e.appendHistory(ctx, job, tmpl)

	e.log.WarnContext(ctx, "report_exporter.executor.failed",
		slog.String("job_id", job.ID),
		slog.String("template_id", job.TemplateID),
		slog.String("error_kind", string(kind)),
		slog.String("error", msg))
	return job, nil
}

// recordExecution updates lastExportAt and recomputes nextRunAt relative to
// the finish time, not the scheduled slot, so missed runs don't pile into a
// backlog.
func (e *Executor) recordExecution(ctx context.Context, tmpl *model.ExportTemplate, finishedAt time.Time) {
	var nextRun *time.Time
	if tmpl.Scheduled() {
		if next, err := schedule.NextRun(tmpl.Schedule, finishedAt); err == nil {
			nextRun = &next
		}
	}
	if err := e.templates.RecordExecution(ctx, tmpl.ID, finishedAt, nextRun); err != nil {
		e.log.WarnContext(ctx, "report_exporter.executor.record_execution_failed",
			slog.String("template_id", tmpl.ID),
			slog.String("error", err.Error()))
	}
}

func (e *Executor) appendHistory(ctx context.Context, job *model.ExportJob, tmpl *model.ExportTemplate) {
	retention := defaultRetentionDays
	if tmpl != nil && tmpl.RetentionDays > 0 {
		retention = tmpl.RetentionDays
	}
	if _, err := e.history.Append(ctx, model.NewHistoryRecord(job, retention)); err != nil {
		e.log.ErrorContext(ctx, "report_exporter.executor.history_append_failed",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()))
	}
}

func (e *Executor) setCachedStatus(jobID string, status model.JobStatus) {
	if e.cache == nil {
		return
	}
	_ = e.cache.SetJobStatus(jobID, status)
}

const defaultRetentionDays = 30

// classify maps an execution error to its job error kind. Deadline expiry
// wins over the step kind so cancelled DataSource/Renderer calls surface as
// Timeout.
func classify(ctx context.Context, err error, step errors.Kind) errors.Kind {
	if ctx.Err() == context.DeadlineExceeded || errors.Is(err, context.DeadlineExceeded) {
		return errors.KindTimeout
	}
	if kind := errors.KindOf(err); kind != errors.KindInternal {
		return kind
	}
	return step
}
