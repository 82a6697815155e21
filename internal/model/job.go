package model

import (
	"time"

	"github.com/clinicore/report-exporter/internal/errors"
)

type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Terminal reports whether a job may no longer change status.
func (s JobStatus) Terminal() bool { return s == JobCompleted || s == JobFailed }

// TriggeredByScheduler is recorded on jobs created by the scheduler loop.
const TriggeredByScheduler = "scheduler"

type DeliveryStatus string

const (
	DeliveryPending DeliveryStatus = "pending"
	DeliverySent    DeliveryStatus = "sent"
	DeliveryFailed  DeliveryStatus = "failed"
)

// Delivery is the per-recipient outcome of dispatching a completed artifact.
type Delivery struct {
	Recipient   string         `json:"recipient"`
	Status      DeliveryStatus `json:"status"`
	AttemptedAt *time.Time     `json:"attempted_at,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// ExportJob is one execution attempt of a template. The job record is
// immutable after reaching a terminal status; only the executor that claimed
// it writes to the status field while it is alive.
type ExportJob struct {
	ID           string          `json:"id" db:"id"`
	TemplateID   string          `json:"template_id" db:"template_id"`
	TemplateName string          `json:"template_name" db:"template_name"`
	Format       Format          `json:"format" db:"format"`
	TriggeredBy  string          `json:"triggered_by" db:"triggered_by"`
	Recipients   []string        `json:"recipients,omitempty" db:"recipients"`
	Status       JobStatus       `json:"status" db:"status"`
	StartedAt    time.Time       `json:"started_at" db:"started_at"`
	FinishedAt   *time.Time      `json:"finished_at,omitempty" db:"finished_at"`
	OutputSize   int64           `json:"output_size" db:"output_size"`
	ArtifactRef  string          `json:"artifact_ref,omitempty" db:"artifact_ref"`
	Deliveries   []Delivery      `json:"deliveries,omitempty" db:"deliveries"`
	ErrorKind    errors.Kind     `json:"error_kind,omitempty" db:"error_kind"`
	ErrorMessage string          `json:"error_message,omitempty" db:"error_message"`
}

// Duration returns the wall time of a finished job.
func (j *ExportJob) Duration() time.Duration {
	if j.FinishedAt == nil {
		return 0
	}
	return j.FinishedAt.Sub(j.StartedAt)
}

// ExportTask is the queue payload handed to a worker. It must stay
// JSON-serializable; everything else is loaded from the store by job id.
type ExportTask struct {
	JobID       string `json:"job_id"`
	TemplateID  string `json:"template_id"`
	TriggeredBy string `json:"triggered_by"`
}
