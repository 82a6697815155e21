package model

import (
	"time"

	"github.com/clinicore/report-exporter/internal/errors"
)

// HistoryRecord is the audit entry appended for every terminal job.
// Immutable after append except for DownloadCount and delivery statuses;
// RetentionExpiresAt is frozen at append time so later template edits never
// change how long past artifacts are kept.
type HistoryRecord struct {
	ID                 int64       `json:"id" db:"id"`
	JobID              string      `json:"job_id" db:"job_id"`
	TemplateID         string      `json:"template_id" db:"template_id"`
	TemplateName       string      `json:"template_name" db:"template_name"`
	Format             Format      `json:"format" db:"format"`
	TriggeredBy        string      `json:"triggered_by" db:"triggered_by"`
	Status             JobStatus   `json:"status" db:"status"`
	StartedAt          time.Time   `json:"started_at" db:"started_at"`
	FinishedAt         time.Time   `json:"finished_at" db:"finished_at"`
	DurationMs         int64       `json:"duration_ms" db:"duration_ms"`
	OutputSize         int64       `json:"output_size" db:"output_size"`
	ArtifactRef        string      `json:"artifact_ref,omitempty" db:"artifact_ref"`
	Deliveries         []Delivery  `json:"deliveries,omitempty" db:"deliveries"`
	DownloadCount      int         `json:"download_count" db:"download_count"`
	ErrorKind          errors.Kind `json:"error_kind,omitempty" db:"error_kind"`
	ErrorMessage       string      `json:"error_message,omitempty" db:"error_message"`
	RetentionExpiresAt time.Time   `json:"retention_expires_at" db:"retention_expires_at"`
}

// NewHistoryRecord projects a terminal job into its audit entry.
func NewHistoryRecord(job *ExportJob, retentionDays int) *HistoryRecord {
	finished := time.Now()
	if job.FinishedAt != nil {
		finished = *job.FinishedAt
	}
	return &HistoryRecord{
		JobID:              job.ID,
		TemplateID:         job.TemplateID,
		TemplateName:       job.TemplateName,
		Format:             job.Format,
		TriggeredBy:        job.TriggeredBy,
		Status:             job.Status,
		StartedAt:          job.StartedAt,
		FinishedAt:         finished,
		DurationMs:         finished.Sub(job.StartedAt).Milliseconds(),
		OutputSize:         job.OutputSize,
		ArtifactRef:        job.ArtifactRef,
		Deliveries:         job.Deliveries,
		ErrorKind:          job.ErrorKind,
		ErrorMessage:       job.ErrorMessage,
		RetentionExpiresAt: finished.AddDate(0, 0, retentionDays),
	}
}

// HistorySearch filters and paginates history listings.
type HistorySearch struct {
	TemplateID string
	Status     JobStatus
	Page       int64
	Size       int64
}

// HistoryPage is one page of history records with has-next detection.
type HistoryPage struct {
	Page int64            `json:"page"`
	Next bool             `json:"next"`
	Data []*HistoryRecord `json:"data"`
}

// Row is one record returned by a DataSource query.
type Row map[string]any

// Artifact is the generated output handed to the notifier and the
// download endpoint.
type Artifact struct {
	FileName string
	Mime     string
	Data     []byte
}
