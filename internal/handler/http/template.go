package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/clinicore/report-exporter/internal/errors"
	"github.com/clinicore/report-exporter/internal/model"
	"github.com/clinicore/report-exporter/internal/service"
)

const userIDHeader = "X-User-Id"

// TemplateHandler handles export template HTTP requests.
type TemplateHandler struct {
	templates service.TemplateService
}

func NewTemplateHandler(templates service.TemplateService) *TemplateHandler {
	return &TemplateHandler{templates: templates}
}

type createTemplateRequest struct {
	Name          string          `json:"name" binding:"required"`
	Description   string          `json:"description"`
	Format        model.Format    `json:"format" binding:"required"`
	Category      model.Category  `json:"category" binding:"required"`
	DataFields    []string        `json:"data_fields"`
	Filters       []model.Filter  `json:"filters"`
	Schedule      *model.Schedule `json:"schedule"`
	Recipients    []string        `json:"recipients"`
	RetentionDays int             `json:"retention_days"`
}

// Create stores a new template in draft status.
func (h *TemplateHandler) Create(c *gin.Context) {
	var req createTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, errors.Validation(err.Error(),
			errors.WithID("handler.template.create.bind")))
		return
	}

	tmpl := &model.ExportTemplate{
		Name:          req.Name,
		Description:   req.Description,
		Format:        req.Format,
		Category:      req.Category,
		DataFields:    req.DataFields,
		Filters:       req.Filters,
		Schedule:      req.Schedule,
		Recipients:    req.Recipients,
		RetentionDays: req.RetentionDays,
	}
	id, err := h.templates.Create(c.Request.Context(), tmpl, c.GetHeader(userIDHeader))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

// Get retrieves a template by ID.
func (h *TemplateHandler) Get(c *gin.Context) {
	tmpl, err := h.templates.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tmpl)
}

// List returns templates, optionally filtered by ?status=.
func (h *TemplateHandler) List(c *gin.Context) {
	status := model.TemplateStatus(c.Query("status"))
	templates, err := h.templates.List(c.Request.Context(), status)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, templates)
}

// ListScheduled returns active templates with an active recurrence rule.
func (h *TemplateHandler) ListScheduled(c *gin.Context) {
	templates, err := h.templates.ListScheduled(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, templates)
}

// Activate transitions a draft template to active.
func (h *TemplateHandler) Activate(c *gin.Context) {
	if err := h.templates.Activate(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Archive retires a template. Its history remains queryable.
func (h *TemplateHandler) Archive(c *gin.Context) {
	if err := h.templates.Archive(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Trigger runs an active template on demand and returns the job id.
func (h *TemplateHandler) Trigger(c *gin.Context) {
	jobID, err := h.templates.TriggerNow(c.Request.Context(), c.Param("id"), c.GetHeader(userIDHeader))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job_id": jobID})
}
