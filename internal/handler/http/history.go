package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/clinicore/report-exporter/internal/model"
	"github.com/clinicore/report-exporter/internal/service"
)

// HistoryHandler handles export history HTTP requests.
type HistoryHandler struct {
	history service.HistoryService
}

func NewHistoryHandler(history service.HistoryService) *HistoryHandler {
	return &HistoryHandler{history: history}
}

// List returns a history page, newest first. Supports ?template_id=,
// ?status=, ?page= and ?size=.
func (h *HistoryHandler) List(c *gin.Context) {
	search := &model.HistorySearch{
		TemplateID: c.Query("template_id"),
		Status:     model.JobStatus(c.Query("status")),
		Page:       queryInt(c, "page", 1),
		Size:       queryInt(c, "size", 20),
	}
	page, err := h.history.List(c.Request.Context(), search)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// JobStatus returns the current status of a job.
func (h *HistoryHandler) JobStatus(c *gin.Context) {
	status, err := h.history.JobStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job_id": c.Param("id"), "status": status})
}

// Download streams a completed job's artifact and counts the access.
func (h *HistoryHandler) Download(c *gin.Context) {
	art, err := h.history.Download(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+art.FileName+`"`)
	c.Data(http.StatusOK, art.Mime, art.Data)
}

func queryInt(c *gin.Context, key string, def int64) int64 {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		return def
	}
	return v
}
