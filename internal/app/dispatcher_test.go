package app

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicore/report-exporter/internal/model"
)

func completedJob(recipients ...string) *model.ExportJob {
	finished := time.Now()
	return &model.ExportJob{
		ID:          "job-1",
		TemplateID:  "tpl-1",
		Format:      model.FormatCSV,
		Recipients:  recipients,
		Status:      model.JobCompleted,
		StartedAt:   finished.Add(-time.Second),
		FinishedAt:  &finished,
		ArtifactRef: "job-1.csv",
	}
}

func testArtifact() *model.Artifact {
	return &model.Artifact{
		FileName: "job-1.csv",
		Mime:     "text/csv",
		Data:     []byte("a,b\n1,2\n"),
	}
}

func TestDispatcherDeliversToAllRecipients(t *testing.T) {
	job := completedJob("a@clinic.example", "b@clinic.example", "c@clinic.example")
	jobs := newFakeJobStore(job)
	history := &fakeHistoryStore{}
	_, err := history.Append(context.Background(), model.NewHistoryRecord(job, 30))
	require.NoError(t, err)

	n := &fakeNotifier{failOn: map[string]bool{"b@clinic.example": true}}
	d, err := NewDispatcher(jobs, history, n, 2, slog.Default())
	require.NoError(t, err)

	deliveries := d.Deliver(context.Background(), job, testArtifact())
	require.Len(t, deliveries, 3)

	byRecipient := map[string]model.Delivery{}
	for _, delivery := range deliveries {
		byRecipient[delivery.Recipient] = delivery
		require.NotNil(t, delivery.AttemptedAt)
	}
	assert.Equal(t, model.DeliverySent, byRecipient["a@clinic.example"].Status)
	assert.Equal(t, model.DeliverySent, byRecipient["c@clinic.example"].Status)
	assert.Equal(t, model.DeliveryFailed, byRecipient["b@clinic.example"].Status)
	assert.NotEmpty(t, byRecipient["b@clinic.example"].Error)

	// One failed recipient never rolls the job back.
	stored, err := jobs.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobCompleted, stored.Status)
	assert.Len(t, stored.Deliveries, 3)

	rec, err := history.GetByJobID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Len(t, rec.Deliveries, 3)
}

func TestDispatcherWithoutNotifier(t *testing.T) {
	job := completedJob("a@clinic.example")
	jobs := newFakeJobStore(job)
	history := &fakeHistoryStore{}
	_, err := history.Append(context.Background(), model.NewHistoryRecord(job, 30))
	require.NoError(t, err)

	d, err := NewDispatcher(jobs, history, nil, 2, slog.Default())
	require.NoError(t, err)

	deliveries := d.Deliver(context.Background(), job, testArtifact())
	require.Len(t, deliveries, 1)
	assert.Equal(t, model.DeliveryFailed, deliveries[0].Status)
}

func TestDispatcherNoRecipients(t *testing.T) {
	job := completedJob()
	d, err := NewDispatcher(newFakeJobStore(job), &fakeHistoryStore{}, &fakeNotifier{}, 2, slog.Default())
	require.NoError(t, err)

	assert.Nil(t, d.Deliver(context.Background(), job, testArtifact()))
}
