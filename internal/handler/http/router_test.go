package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicore/report-exporter/internal/errors"
	"github.com/clinicore/report-exporter/internal/model"
)

type stubTemplateService struct {
	created *model.ExportTemplate
	tmpl    *model.ExportTemplate
	jobID   string
	userID  string
}

func (s *stubTemplateService) Create(_ context.Context, tmpl *model.ExportTemplate, createdBy string) (string, error) {
	s.created = tmpl
	s.userID = createdBy
	return "tpl-1", nil
}

func (s *stubTemplateService) Get(_ context.Context, id string) (*model.ExportTemplate, error) {
	if s.tmpl == nil || s.tmpl.ID != id {
		return nil, errors.NotFound("template not found: " + id)
	}
	return s.tmpl, nil
}

func (s *stubTemplateService) List(context.Context, model.TemplateStatus) ([]*model.ExportTemplate, error) {
	if s.tmpl == nil {
		return nil, nil
	}
	return []*model.ExportTemplate{s.tmpl}, nil
}

func (s *stubTemplateService) ListScheduled(context.Context) ([]*model.ExportTemplate, error) {
	return nil, nil
}

func (s *stubTemplateService) Activate(_ context.Context, id string) error {
	if s.tmpl == nil || s.tmpl.ID != id {
		return errors.NotFound("template not found: " + id)
	}
	s.tmpl.Status = model.TemplateActive
	return nil
}

func (s *stubTemplateService) Archive(_ context.Context, id string) error {
	if s.tmpl == nil || s.tmpl.ID != id {
		return errors.NotFound("template not found: " + id)
	}
	s.tmpl.Status = model.TemplateArchived
	return nil
}

func (s *stubTemplateService) TriggerNow(_ context.Context, id, userID string) (string, error) {
	if s.tmpl == nil || s.tmpl.ID != id {
		return "", errors.NotFound("template not found: " + id)
	}
	s.userID = userID
	return s.jobID, nil
}

type stubHistoryService struct {
	page     *model.HistoryPage
	artifact *model.Artifact
	status   model.JobStatus
	search   *model.HistorySearch
}

func (s *stubHistoryService) List(_ context.Context, search *model.HistorySearch) (*model.HistoryPage, error) {
	s.search = search
	return s.page, nil
}

func (s *stubHistoryService) Download(_ context.Context, jobID string) (*model.Artifact, error) {
	if s.artifact == nil {
		return nil, errors.InvalidState("job has no downloadable artifact: " + jobID)
	}
	return s.artifact, nil
}

func (s *stubHistoryService) JobStatus(context.Context, string) (model.JobStatus, error) {
	return s.status, nil
}

func (s *stubHistoryService) PurgeExpired(context.Context, time.Time) (int, error) {
	return 0, nil
}

func TestCreateTemplateEndpoint(t *testing.T) {
	templates := &stubTemplateService{}
	router := NewRouter(templates, &stubHistoryService{})

	body, _ := json.Marshal(map[string]any{
		"name":        "Weekly Visits",
		"format":      "csv",
		"category":    "clinical",
		"data_fields": []string{"patient_id"},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/templates", bytes.NewReader(body))
	req.Header.Set("X-User-Id", "user-7")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.JSONEq(t, `{"id":"tpl-1"}`, w.Body.String())
	require.NotNil(t, templates.created)
	assert.Equal(t, "Weekly Visits", templates.created.Name)
	assert.Equal(t, "user-7", templates.userID)
}

func TestCreateTemplateRejectsMalformedBody(t *testing.T) {
	router := NewRouter(&stubTemplateService{}, &stubHistoryService{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/templates", bytes.NewReader([]byte(`{"name":`)))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetTemplateNotFoundMapsTo404(t *testing.T) {
	router := NewRouter(&stubTemplateService{}, &stubHistoryService{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/templates/missing", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	assert.Equal(t, string(errors.KindNotFound), payload["kind"])
}

func TestTriggerEndpointReturnsJobID(t *testing.T) {
	templates := &stubTemplateService{
		tmpl:  &model.ExportTemplate{ID: "tpl-1", Status: model.TemplateActive},
		jobID: "job-9",
	}
	router := NewRouter(templates, &stubHistoryService{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/templates/tpl-1/trigger", nil)
	req.Header.Set("X-User-Id", "user-3")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.JSONEq(t, `{"job_id":"job-9"}`, w.Body.String())
	assert.Equal(t, "user-3", templates.userID)
}

func TestDownloadEndpointStreamsArtifact(t *testing.T) {
	history := &stubHistoryService{
		artifact: &model.Artifact{
			FileName: "job-9.csv",
			Mime:     "text/csv",
			Data:     []byte("a,b\n1,2\n"),
		},
	}
	router := NewRouter(&stubTemplateService{}, history)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/job-9/download", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "job-9.csv")
	assert.Equal(t, "a,b\n1,2\n", w.Body.String())
}

func TestHistoryListEndpoint(t *testing.T) {
	history := &stubHistoryService{
		page: &model.HistoryPage{Page: 1, Next: false, Data: []*model.HistoryRecord{{JobID: "job-1"}}},
	}
	router := NewRouter(&stubTemplateService{}, history)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/history?page=1&size=10", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var page model.HistoryPage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	require.Len(t, page.Data, 1)
	assert.Equal(t, "job-1", page.Data[0].JobID)
}

func TestHistoryListPagination(t *testing.T) {
	history := &stubHistoryService{page: &model.HistoryPage{}}
	router := NewRouter(&stubTemplateService{}, history)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/history?page=3&size=50", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, history.search)
	assert.Equal(t, int64(3), history.search.Page)
	assert.Equal(t, int64(50), history.search.Size)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/history?page=oops&size=-2", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, history.search)
	assert.Equal(t, int64(1), history.search.Page)
	assert.Equal(t, int64(20), history.search.Size)
}

func TestJobStatusEndpoint(t *testing.T) {
	router := NewRouter(&stubTemplateService{}, &stubHistoryService{status: model.JobProcessing})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/job-1/status", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"job_id":"job-1","status":"processing"}`, w.Body.String())
}
