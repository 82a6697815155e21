package app

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicore/report-exporter/internal/artifact"
	"github.com/clinicore/report-exporter/internal/errors"
	"github.com/clinicore/report-exporter/internal/model"
)

func activeTemplate(id string) *model.ExportTemplate {
	return &model.ExportTemplate{
		ID:            id,
		Name:          "Monthly Revenue",
		Format:        model.FormatCSV,
		Category:      model.CategoryFinancial,
		DataFields:    []string{"invoice_id", "amount"},
		Recipients:    []string{"cfo@clinic.example"},
		Status:        model.TemplateActive,
		RetentionDays: 30,
	}
}

type executorFixture struct {
	executor  *Executor
	templates *fakeTemplateStore
	jobs      *fakeJobStore
	history   *fakeHistoryStore
	cache     *fakeCache
	source    *fakeDataSource
	renderer  *fakeRenderer
}

func newExecutorFixture(t *testing.T, tmpl *model.ExportTemplate, timeout time.Duration) *executorFixture {
	t.Helper()
	artifacts, err := artifact.NewStore(t.TempDir())
	require.NoError(t, err)

	f := &executorFixture{
		templates: newFakeTemplateStore(tmpl),
		jobs:      newFakeJobStore(),
		history:   &fakeHistoryStore{},
		cache:     newFakeCache(),
		source:    &fakeDataSource{rows: []model.Row{{"invoice_id": "inv-1", "amount": 120.5}}},
		renderer:  &fakeRenderer{data: []byte("invoice_id,amount\ninv-1,120.5\n")},
	}
	f.executor, err = NewExecutor(
		f.templates, f.jobs, f.history, f.cache,
		f.source, f.renderer, artifacts, timeout, slog.Default(),
	)
	require.NoError(t, err)
	return f
}

func (f *executorFixture) enqueue(t *testing.T, tmpl *model.ExportTemplate) model.ExportTask {
	t.Helper()
	jobID, err := f.executor.Enqueue(context.Background(), tmpl, "user-1")
	require.NoError(t, err)
	task, err := f.cache.PopTask()
	require.NoError(t, err)
	require.Equal(t, jobID, task.JobID)
	return task
}

func TestExecutorCompletesJob(t *testing.T) {
	tmpl := activeTemplate("tpl-1")
	f := newExecutorFixture(t, tmpl, time.Minute)

	task := f.enqueue(t, tmpl)
	job, err := f.executor.Execute(context.Background(), task)
	require.NoError(t, err)
	require.NotNil(t, job)

	assert.Equal(t, model.JobCompleted, job.Status)
	assert.NotEmpty(t, job.ArtifactRef)
	assert.Greater(t, job.OutputSize, int64(0))
	assert.NotNil(t, job.FinishedAt)

	stored, err := f.jobs.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobCompleted, stored.Status)

	require.Len(t, f.history.records, 1)
	rec := f.history.records[0]
	assert.Equal(t, job.ID, rec.JobID)
	assert.Equal(t, model.JobCompleted, rec.Status)
	assert.Equal(t, "user-1", rec.TriggeredBy)

	status, _ := f.cache.GetJobStatus(job.ID)
	assert.Equal(t, model.JobCompleted, status)
	assert.Contains(t, f.templates.executed, tmpl.ID)
}

func TestExecutorRejectsInactiveTemplate(t *testing.T) {
	tmpl := activeTemplate("tpl-1")
	tmpl.Status = model.TemplateDraft
	f := newExecutorFixture(t, tmpl, time.Minute)

	_, err := f.executor.Enqueue(context.Background(), tmpl, "user-1")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindInvalidState))
}

func TestExecutorRejectsConcurrentRun(t *testing.T) {
	tmpl := activeTemplate("tpl-1")
	f := newExecutorFixture(t, tmpl, time.Minute)

	_, err := f.executor.Enqueue(context.Background(), tmpl, "user-1")
	require.NoError(t, err)

	_, err = f.executor.Enqueue(context.Background(), tmpl, "user-2")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindInvalidState))
}

func TestExecutorEnqueuePushFailureLandsInHistory(t *testing.T) {
	tmpl := activeTemplate("tpl-1")
	f := newExecutorFixture(t, tmpl, time.Minute)
	f.cache.pushErr = errors.Internal("redis down")

	_, err := f.executor.Enqueue(context.Background(), tmpl, "user-1")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindInternal))

	require.Len(t, f.jobs.jobs, 1)
	for _, job := range f.jobs.jobs {
		assert.Equal(t, model.JobFailed, job.Status)
		assert.Equal(t, string(errors.KindInternal), string(job.ErrorKind))
	}

	require.Len(t, f.history.records, 1)
	rec := f.history.records[0]
	assert.Equal(t, model.JobFailed, rec.Status)
	assert.Equal(t, errors.KindInternal, rec.ErrorKind)
	assert.Equal(t, "user-1", rec.TriggeredBy)
}

func TestExecutorDataSourceFailure(t *testing.T) {
	tmpl := activeTemplate("tpl-1")
	f := newExecutorFixture(t, tmpl, time.Minute)
	f.source.err = errors.DataSource("reporting view unavailable")

	task := f.enqueue(t, tmpl)
	job, err := f.executor.Execute(context.Background(), task)
	require.NoError(t, err)
	require.NotNil(t, job)

	assert.Equal(t, model.JobFailed, job.Status)
	assert.Equal(t, errors.KindDataSource, job.ErrorKind)
	// The renderer must never run on a failed query.
	assert.Zero(t, f.renderer.calls)

	require.Len(t, f.history.records, 1)
	assert.Equal(t, errors.KindDataSource, f.history.records[0].ErrorKind)
}

func TestExecutorRenderFailure(t *testing.T) {
	tmpl := activeTemplate("tpl-1")
	f := newExecutorFixture(t, tmpl, time.Minute)
	f.renderer.err = errors.Render("unsupported cell value")

	task := f.enqueue(t, tmpl)
	job, err := f.executor.Execute(context.Background(), task)
	require.NoError(t, err)

	assert.Equal(t, model.JobFailed, job.Status)
	assert.Equal(t, errors.KindRender, job.ErrorKind)
}

func TestExecutorTimeout(t *testing.T) {
	tmpl := activeTemplate("tpl-1")
	f := newExecutorFixture(t, tmpl, 20*time.Millisecond)
	f.source.delay = 500 * time.Millisecond

	task := f.enqueue(t, tmpl)
	job, err := f.executor.Execute(context.Background(), task)
	require.NoError(t, err)

	assert.Equal(t, model.JobFailed, job.Status)
	assert.Equal(t, errors.KindTimeout, job.ErrorKind)
}

func TestExecutorClaimIsExclusive(t *testing.T) {
	tmpl := activeTemplate("tpl-1")
	f := newExecutorFixture(t, tmpl, time.Minute)

	task := f.enqueue(t, tmpl)
	first, err := f.executor.Execute(context.Background(), task)
	require.NoError(t, err)
	require.NotNil(t, first)

	// A second worker processing the same task loses the claim and steps
	// aside without touching the job.
	second, err := f.executor.Execute(context.Background(), task)
	require.NoError(t, err)
	assert.Nil(t, second)
	require.Len(t, f.history.records, 1)
}

func TestExecutorFailureKeepsLastExportAt(t *testing.T) {
	day := 15
	tmpl := activeTemplate("tpl-1")
	tmpl.Schedule = &model.Schedule{
		Frequency:  model.FrequencyMonthly,
		DayOfMonth: &day,
		TimeOfDay:  "06:00",
		Active:     true,
	}
	f := newExecutorFixture(t, tmpl, time.Minute)
	f.source.err = errors.DataSource("reporting view unavailable")

	task := f.enqueue(t, tmpl)
	_, err := f.executor.Execute(context.Background(), task)
	require.NoError(t, err)

	stored, err := f.templates.Get(context.Background(), tmpl.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.LastExportAt)
	// nextRunAt still advances so the broken template retries on its
	// cadence instead of every scheduler tick.
	require.NotNil(t, stored.NextRunAt)
	assert.True(t, stored.NextRunAt.After(time.Now()))
}

func TestExecutorSuccessAdvancesSchedule(t *testing.T) {
	tmpl := activeTemplate("tpl-1")
	tmpl.Schedule = &model.Schedule{
		Frequency: model.FrequencyDaily,
		TimeOfDay: "07:30",
		Active:    true,
	}
	f := newExecutorFixture(t, tmpl, time.Minute)

	task := f.enqueue(t, tmpl)
	job, err := f.executor.Execute(context.Background(), task)
	require.NoError(t, err)
	require.Equal(t, model.JobCompleted, job.Status)

	stored, err := f.templates.Get(context.Background(), tmpl.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastExportAt)
	require.NotNil(t, stored.NextRunAt)
	assert.True(t, stored.NextRunAt.After(*stored.LastExportAt))
	assert.Equal(t, 7, stored.NextRunAt.Hour())
	assert.Equal(t, 30, stored.NextRunAt.Minute())
}
