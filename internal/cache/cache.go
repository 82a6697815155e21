package cache

import (
	"errors"

	"github.com/clinicore/report-exporter/internal/model"
)

// ErrEmpty is returned by PopTask when the queue stayed empty for the pop
// timeout. Workers treat it as "sleep and retry".
var ErrEmpty = errors.New("queue empty (timeout)")

// Cache is the work queue plus the cheap status mirror in front of the store.
// Job status values here are advisory; the SQL compare-and-swap in the job
// store remains the authority.
type Cache interface {
	PushTask(task model.ExportTask) error
	PopTask() (model.ExportTask, error)
	SetJobStatus(jobID string, status model.JobStatus) error
	GetJobStatus(jobID string) (model.JobStatus, error)
	ClearJobStatus(jobID string) error

	// AcquireTemplateLock marks a template as having an enqueue in progress.
	// It is a duplicate-trigger guard, not a correctness mechanism.
	AcquireTemplateLock(templateID string) (bool, error)
	ReleaseTemplateLock(templateID string) error

	Clear() error
}
