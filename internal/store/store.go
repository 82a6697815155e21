package store

import (
	"context"
	"time"

	"github.com/clinicore/report-exporter/internal/model"
)

type Store interface {
	Template() TemplateStore
	Job() JobStore
	History() HistoryStore

	// ------------ Database Management ------------ //
	Open() error
	Close() error
}

// TemplateStore is the single writer of template records. Update uses an
// optimistic version check so concurrent activate/archive calls serialize
// per template.
type TemplateStore interface {
	Create(ctx context.Context, tmpl *model.ExportTemplate) error
	Get(ctx context.Context, id string) (*model.ExportTemplate, error)
	Update(ctx context.Context, tmpl *model.ExportTemplate) error
	List(ctx context.Context, status model.TemplateStatus) ([]*model.ExportTemplate, error)
	ListDue(ctx context.Context, now time.Time) ([]*model.ExportTemplate, error)
	RecordExecution(ctx context.Context, id string, lastExport time.Time, nextRun *time.Time) error
	AdvanceNextRun(ctx context.Context, id string, nextRun *time.Time) error
}

// JobStore owns job rows. Claim is the queued -> processing compare-and-swap
// that guarantees at-most-one worker per job.
type JobStore interface {
	Insert(ctx context.Context, job *model.ExportJob) error
	Get(ctx context.Context, id string) (*model.ExportJob, error)
	Claim(ctx context.Context, id string, startedAt time.Time) (bool, error)
	HasInFlight(ctx context.Context, templateID string) (bool, error)
	Complete(ctx context.Context, id string, finishedAt time.Time, artifactRef string, size int64) error
	Fail(ctx context.Context, id string, finishedAt time.Time, kind string, msg string) error
	SetDeliveries(ctx context.Context, id string, deliveries []model.Delivery) error
	ListByStatus(ctx context.Context, status model.JobStatus) ([]*model.ExportJob, error)
}

// HistoryStore owns history records, download accounting and retention purges.
type HistoryStore interface {
	Append(ctx context.Context, rec *model.HistoryRecord) (int64, error)
	GetByJobID(ctx context.Context, jobID string) (*model.HistoryRecord, error)
	List(ctx context.Context, search *model.HistorySearch) (*model.HistoryPage, error)
	IncrementDownload(ctx context.Context, jobID string) error
	UpdateDeliveries(ctx context.Context, jobID string, deliveries []model.Delivery) error
	PurgeExpired(ctx context.Context, now time.Time) ([]*model.HistoryRecord, error)
}
