package app

import (
	"context"
	"sync"
	"time"

	"github.com/clinicore/report-exporter/internal/errors"
	"github.com/clinicore/report-exporter/internal/model"
)

// In-memory store fakes. They keep the same contracts as the postgres
// implementations: Claim is a queued -> processing compare-and-swap,
// HasInFlight covers queued and processing, Fail only touches live jobs.

type fakeTemplateStore struct {
	mu        sync.Mutex
	templates map[string]*model.ExportTemplate
	executed  map[string]time.Time
	advanced  map[string]*time.Time
}

func newFakeTemplateStore(templates ...*model.ExportTemplate) *fakeTemplateStore {
	s := &fakeTemplateStore{
		templates: map[string]*model.ExportTemplate{},
		executed:  map[string]time.Time{},
		advanced:  map[string]*time.Time{},
	}
	for _, tmpl := range templates {
		s.templates[tmpl.ID] = tmpl
	}
	return s
}

func (s *fakeTemplateStore) Create(_ context.Context, tmpl *model.ExportTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[tmpl.ID] = tmpl
	return nil
}

func (s *fakeTemplateStore) Get(_ context.Context, id string) (*model.ExportTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tmpl, ok := s.templates[id]
	if !ok {
		return nil, errors.NotFound("template not found: " + id)
	}
	cp := *tmpl
	return &cp, nil
}

func (s *fakeTemplateStore) Update(_ context.Context, tmpl *model.ExportTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.templates[tmpl.ID]; !ok {
		return errors.NotFound("template not found: " + tmpl.ID)
	}
	tmpl.Version++
	cp := *tmpl
	s.templates[tmpl.ID] = &cp
	return nil
}

func (s *fakeTemplateStore) List(_ context.Context, status model.TemplateStatus) ([]*model.ExportTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.ExportTemplate
	for _, tmpl := range s.templates {
		if status != "" && tmpl.Status != status {
			continue
		}
		cp := *tmpl
		out = append(out, &cp)
	}
	return out, nil
}

func (s *fakeTemplateStore) ListDue(_ context.Context, now time.Time) ([]*model.ExportTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*model.ExportTemplate
	for _, tmpl := range s.templates {
		if tmpl.Scheduled() && tmpl.NextRunAt != nil && !tmpl.NextRunAt.After(now) {
			cp := *tmpl
			due = append(due, &cp)
		}
	}
	return due, nil
}

func (s *fakeTemplateStore) RecordExecution(_ context.Context, id string, lastExport time.Time, nextRun *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tmpl, ok := s.templates[id]
	if !ok {
		return errors.NotFound("template not found: " + id)
	}
	tmpl.LastExportAt = &lastExport
	tmpl.NextRunAt = nextRun
	s.executed[id] = lastExport
	return nil
}

func (s *fakeTemplateStore) AdvanceNextRun(_ context.Context, id string, nextRun *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tmpl, ok := s.templates[id]
	if !ok {
		return errors.NotFound("template not found: " + id)
	}
	tmpl.NextRunAt = nextRun
	s.advanced[id] = nextRun
	return nil
}

type fakeJobStore struct {
	mu   sync.Mutex
	jobs map[string]*model.ExportJob
}

func newFakeJobStore(jobs ...*model.ExportJob) *fakeJobStore {
	s := &fakeJobStore{jobs: map[string]*model.ExportJob{}}
	for _, job := range jobs {
		s.jobs[job.ID] = job
	}
	return s
}

func (s *fakeJobStore) Insert(_ context.Context, job *model.ExportJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *fakeJobStore) Get(_ context.Context, id string) (*model.ExportJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, errors.NotFound("job not found: " + id)
	}
	cp := *job
	return &cp, nil
}

func (s *fakeJobStore) Claim(_ context.Context, id string, startedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.Status != model.JobQueued {
		return false, nil
	}
	job.Status = model.JobProcessing
	job.StartedAt = startedAt
	return true, nil
}

func (s *fakeJobStore) HasInFlight(_ context.Context, templateID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range s.jobs {
		if job.TemplateID == templateID && !job.Status.Terminal() {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeJobStore) Complete(_ context.Context, id string, finishedAt time.Time, artifactRef string, size int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.Status != model.JobProcessing {
		return errors.InvalidState("job not processing: " + id)
	}
	job.Status = model.JobCompleted
	job.FinishedAt = &finishedAt
	job.ArtifactRef = artifactRef
	job.OutputSize = size
	return nil
}

func (s *fakeJobStore) Fail(_ context.Context, id string, finishedAt time.Time, kind string, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.Status.Terminal() {
		return errors.InvalidState("job already terminal: " + id)
	}
	job.Status = model.JobFailed
	job.FinishedAt = &finishedAt
	job.ErrorKind = errors.Kind(kind)
	job.ErrorMessage = msg
	return nil
}

func (s *fakeJobStore) SetDeliveries(_ context.Context, id string, deliveries []model.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return errors.NotFound("job not found: " + id)
	}
	job.Deliveries = deliveries
	return nil
}

func (s *fakeJobStore) ListByStatus(_ context.Context, status model.JobStatus) ([]*model.ExportJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.ExportJob
	for _, job := range s.jobs {
		if job.Status == status {
			cp := *job
			out = append(out, &cp)
		}
	}
	return out, nil
}

type fakeHistoryStore struct {
	mu      sync.Mutex
	records []*model.HistoryRecord
}

func (s *fakeHistoryStore) Append(_ context.Context, rec *model.HistoryRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.ID = int64(len(s.records) + 1)
	s.records = append(s.records, rec)
	return rec.ID, nil
}

func (s *fakeHistoryStore) GetByJobID(_ context.Context, jobID string) (*model.HistoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.records {
		if rec.JobID == jobID {
			return rec, nil
		}
	}
	return nil, errors.NotFound("history record not found: " + jobID)
}

func (s *fakeHistoryStore) List(_ context.Context, search *model.HistorySearch) (*model.HistoryPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &model.HistoryPage{Page: search.Page, Data: s.records}, nil
}

func (s *fakeHistoryStore) IncrementDownload(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.records {
		if rec.JobID == jobID {
			rec.DownloadCount++
			return nil
		}
	}
	return errors.NotFound("history record not found: " + jobID)
}

func (s *fakeHistoryStore) UpdateDeliveries(_ context.Context, jobID string, deliveries []model.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.records {
		if rec.JobID == jobID {
			rec.Deliveries = deliveries
			return nil
		}
	}
	return errors.NotFound("history record not found: " + jobID)
}

func (s *fakeHistoryStore) PurgeExpired(_ context.Context, now time.Time) ([]*model.HistoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept, purged []*model.HistoryRecord
	for _, rec := range s.records {
		if rec.RetentionExpiresAt.Before(now) {
			purged = append(purged, rec)
		} else {
			kept = append(kept, rec)
		}
	}
	s.records = kept
	return purged, nil
}

type fakeCache struct {
	mu       sync.Mutex
	tasks    []model.ExportTask
	statuses map[string]model.JobStatus
	locks    map[string]bool
	pushErr  error
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		statuses: map[string]model.JobStatus{},
		locks:    map[string]bool{},
	}
}

func (c *fakeCache) PushTask(task model.ExportTask) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pushErr != nil {
		return c.pushErr
	}
	c.tasks = append(c.tasks, task)
	return nil
}

func (c *fakeCache) PopTask() (model.ExportTask, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.tasks) == 0 {
		return model.ExportTask{}, errors.Internal("queue empty")
	}
	task := c.tasks[0]
	c.tasks = c.tasks[1:]
	return task, nil
}

func (c *fakeCache) SetJobStatus(jobID string, status model.JobStatus) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses[jobID] = status
	return nil
}

func (c *fakeCache) GetJobStatus(jobID string) (model.JobStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statuses[jobID], nil
}

func (c *fakeCache) ClearJobStatus(jobID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.statuses, jobID)
	return nil
}

func (c *fakeCache) AcquireTemplateLock(templateID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.locks[templateID] {
		return false, nil
	}
	c.locks[templateID] = true
	return true, nil
}

func (c *fakeCache) ReleaseTemplateLock(templateID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.locks, templateID)
	return nil
}

func (c *fakeCache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tasks = nil
	c.statuses = map[string]model.JobStatus{}
	c.locks = map[string]bool{}
	return nil
}

type fakeDataSource struct {
	rows  []model.Row
	err   error
	delay time.Duration
	calls int
}

func (d *fakeDataSource) Query(ctx context.Context, _ model.Category, _ []model.Filter, _ []string) ([]model.Row, error) {
	d.calls++
	if d.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(d.delay):
		}
	}
	if d.err != nil {
		return nil, d.err
	}
	return d.rows, nil
}

type fakeRenderer struct {
	data  []byte
	err   error
	calls int
}

func (r *fakeRenderer) Render(_ []model.Row, _ []string, _ model.Format) ([]byte, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return r.data, nil
}

func (r *fakeRenderer) Supports(model.Format) bool { return true }

type fakeNotifier struct {
	mu     sync.Mutex
	failOn map[string]bool
	sent   []string
}

func (n *fakeNotifier) Send(_ context.Context, recipient string, _ *model.Artifact) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failOn[recipient] {
		return errors.Delivery("smtp rejected recipient: " + recipient)
	}
	n.sent = append(n.sent, recipient)
	return nil
}
