package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/clinicore/report-exporter/internal/artifact"
	"github.com/clinicore/report-exporter/internal/cache"
	"github.com/clinicore/report-exporter/internal/errors"
	"github.com/clinicore/report-exporter/internal/model"
	"github.com/clinicore/report-exporter/internal/store"
)

// HistoryService is the read side of the ledger: listings, downloads and
// retention purges.
type HistoryService interface {
	List(ctx context.Context, search *model.HistorySearch) (*model.HistoryPage, error)
	Download(ctx context.Context, jobID string) (*model.Artifact, error)
	JobStatus(ctx context.Context, jobID string) (model.JobStatus, error)
	PurgeExpired(ctx context.Context, now time.Time) (int, error)
}

type HistoryServiceImpl struct {
	history   store.HistoryStore
	jobs      store.JobStore
	artifacts *artifact.Store
	cache     cache.Cache
	log       *slog.Logger
}

func NewHistoryService(h store.HistoryStore, j store.JobStore, a *artifact.Store, c cache.Cache, log *slog.Logger) (HistoryService, error) {
	if h == nil || j == nil || a == nil {
		return nil, errors.Internal("store or artifact store is nil in HistoryService")
	}
	return &HistoryServiceImpl{history: h, jobs: j, artifacts: a, cache: c, log: log}, nil
}

func (s *HistoryServiceImpl) List(ctx context.Context, search *model.HistorySearch) (*model.HistoryPage, error) {
	return s.history.List(ctx, search)
}

// Download serves a completed job's artifact and counts the access.
// The ledger is the only writer of downloadCount.
func (s *HistoryServiceImpl) Download(ctx context.Context, jobID string) (*model.Artifact, error) {
	rec, err := s.history.GetByJobID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if rec.Status != model.JobCompleted || rec.ArtifactRef == "" {
		return nil, errors.InvalidState("job has no downloadable artifact: "+jobID,
			errors.WithID("service.history.download.no_artifact"))
	}

	data, err := s.artifacts.Open(rec.ArtifactRef)
	if err != nil {
		return nil, err
	}
	if err := s.history.IncrementDownload(ctx, jobID); err != nil {
		return nil, err
	}

	return &model.Artifact{
		FileName: rec.ArtifactRef,
		Mime:     rec.Format.Mime(),
		Data:     data,
	}, nil
}

// JobStatus consults the redis mirror first and falls back to the store.
func (s *HistoryServiceImpl) JobStatus(ctx context.Context, jobID string) (model.JobStatus, error) {
	if s.cache != nil {
		if status, err := s.cache.GetJobStatus(jobID); err == nil && status != "" {
			return status, nil
		}
	}
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return "", err
	}
	return job.Status, nil
}

// PurgeExpired drops history records past retention and deletes their
// artifacts from disk.
func (s *HistoryServiceImpl) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	purged, err := s.history.PurgeExpired(ctx, now)
	if err != nil {
		return 0, err
	}
	for _, rec := range purged {
		if rec.ArtifactRef == "" {
			continue
		}
		if err := s.artifacts.Remove(rec.ArtifactRef); err != nil {
			s.log.WarnContext(ctx, "report_exporter.history.purge_artifact_failed",
				slog.String("job_id", rec.JobID),
				slog.String("artifact_ref", rec.ArtifactRef),
				slog.String("error", err.Error()))
		}
	}
	if len(purged) > 0 {
		s.log.InfoContext(ctx, "report_exporter.history.purged",
			slog.Int("count", len(purged)))
	}
	return len(purged), nil
}
