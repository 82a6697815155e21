package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/clinicore/report-exporter/internal/errors"
	"github.com/clinicore/report-exporter/internal/model"
	"github.com/clinicore/report-exporter/internal/render"
	"github.com/clinicore/report-exporter/internal/schedule"
	"github.com/clinicore/report-exporter/internal/store"
)

// Trigger hands a template to the execution pipeline. Implemented by the
// executor; both triggerNow and the scheduler loop go through it.
type Trigger interface {
	Enqueue(ctx context.Context, tmpl *model.ExportTemplate, triggeredBy string) (string, error)
}

// TemplateService is the registry API consumed by the HTTP handlers.
type TemplateService interface {
	Create(ctx context.Context, tmpl *model.ExportTemplate, createdBy string) (string, error)
	Get(ctx context.Context, id string) (*model.ExportTemplate, error)
	List(ctx context.Context, status model.TemplateStatus) ([]*model.ExportTemplate, error)
	ListScheduled(ctx context.Context) ([]*model.ExportTemplate, error)
	Activate(ctx context.Context, id string) error
	Archive(ctx context.Context, id string) error
	TriggerNow(ctx context.Context, id, userID string) (string, error)
}

type TemplateServiceImpl struct {
	store            store.TemplateStore
	renderer         render.Renderer
	trigger          Trigger
	defaultRetention int
	log              *slog.Logger
}

func NewTemplateService(s store.TemplateStore, r render.Renderer, trigger Trigger, defaultRetention int, log *slog.Logger) (TemplateService, error) {
	if s == nil || r == nil || trigger == nil {
		return nil, errors.Internal("store, renderer or trigger is nil in TemplateService")
	}
	return &TemplateServiceImpl{
		store:            s,
		renderer:         r,
		trigger:          trigger,
		defaultRetention: defaultRetention,
		log:              log,
	}, nil
}

// Create validates the draft and stores it. Templates are always born in
// draft; activation is a separate, checked transition.
func (s *TemplateServiceImpl) Create(ctx context.Context, tmpl *model.ExportTemplate, createdBy string) (string, error) {
	tmpl.ID = uuid.NewString()
	tmpl.Status = model.TemplateDraft
	tmpl.CreatedBy = createdBy
	tmpl.CreatedAt = time.Now()
	tmpl.UpdatedAt = tmpl.CreatedAt
	tmpl.LastExportAt = nil
	tmpl.NextRunAt = nil
	if tmpl.RetentionDays == 0 {
		tmpl.RetentionDays = s.defaultRetention
	}

	if err := tmpl.ValidateDraft(); err != nil {
		return "", err
	}
	if err := s.store.Create(ctx, tmpl); err != nil {
		return "", err
	}

	s.log.InfoContext(ctx, "report_exporter.template.created",
		slog.String("template_id", tmpl.ID),
		slog.String("name", tmpl.Name),
		slog.String("format", string(tmpl.Format)))
	return tmpl.ID, nil
}

func (s *TemplateServiceImpl) Get(ctx context.Context, id string) (*model.ExportTemplate, error) {
	return s.store.Get(ctx, id)
}

func (s *TemplateServiceImpl) List(ctx context.Context, status model.TemplateStatus) ([]*model.ExportTemplate, error) {
	return s.store.List(ctx, status)
}

// ListScheduled returns active templates that participate in the scheduler
// loop, with their cached nextRunAt.
func (s *TemplateServiceImpl) ListScheduled(ctx context.Context) ([]*model.ExportTemplate, error) {
	active, err := s.store.List(ctx, model.TemplateActive)
	if err != nil {
		return nil, err
	}
	scheduled := active[:0]
	for _, tmpl := range active {
		if tmpl.Scheduled() {
			scheduled = append(scheduled, tmpl)
		}
	}
	return scheduled, nil
}

// Activate transitions draft -> active and caches the first nextRunAt.
// Unsupported formats are rejected here, never at render time.
func (s *TemplateServiceImpl) Activate(ctx context.Context, id string) error {
	tmpl, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if tmpl.Status == model.TemplateArchived {
		return errors.InvalidState("cannot activate an archived template",
			errors.WithID("service.template.activate.archived"))
	}
	if tmpl.Status == model.TemplateActive {
		return nil
	}
	if err := tmpl.ValidateForActivation(); err != nil {
		return err
	}
	if !s.renderer.Supports(tmpl.Format) {
		return errors.Validation("unsupported format: "+string(tmpl.Format),
			errors.WithID("service.template.activate.format"))
	}

	tmpl.Status = model.TemplateActive
	if tmpl.Schedule != nil && tmpl.Schedule.Active {
		next, err := schedule.NextRun(tmpl.Schedule, time.Now())
		if err != nil {
			return err
		}
		tmpl.NextRunAt = &next
	} else {
		tmpl.NextRunAt = nil
	}

	if err := s.store.Update(ctx, tmpl); err != nil {
		return err
	}
	s.log.InfoContext(ctx, "report_exporter.template.activated",
		slog.String("template_id", tmpl.ID))
	return nil
}

// Archive is idempotent. It deactivates the schedule so the template drops
// out of listDue immediately; history is preserved.
func (s *TemplateServiceImpl) Archive(ctx context.Context, id string) error {
	tmpl, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if tmpl.Status == model.TemplateArchived {
		return nil
	}

	tmpl.Status = model.TemplateArchived
	if tmpl.Schedule != nil {
		tmpl.Schedule.Active = false
	}
	tmpl.NextRunAt = nil

	if err := s.store.Update(ctx, tmpl); err != nil {
		return err
	}
	s.log.InfoContext(ctx, "report_exporter.template.archived",
		slog.String("template_id", tmpl.ID))
	return nil
}

// TriggerNow runs an active template on demand through the same pipeline
// the scheduler uses.
func (s *TemplateServiceImpl) TriggerNow(ctx context.Context, id, userID string) (string, error) {
	tmpl, err := s.store.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if userID == "" {
		userID = "api"
	}
	return s.trigger.Enqueue(ctx, tmpl, userID)
}
