// Package http exposes the export pipeline over a JSON REST API.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/clinicore/report-exporter/internal/errors"
	"github.com/clinicore/report-exporter/internal/service"
)

// NewRouter builds the gin engine with all API routes mounted under /api/v1.
func NewRouter(templates service.TemplateService, history service.HistoryService) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	th := NewTemplateHandler(templates)
	hh := NewHistoryHandler(history)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/templates", th.Create)
		v1.GET("/templates", th.List)
		v1.GET("/templates/scheduled", th.ListScheduled)
		v1.GET("/templates/:id", th.Get)
		v1.POST("/templates/:id/activate", th.Activate)
		v1.POST("/templates/:id/archive", th.Archive)
		v1.POST("/templates/:id/trigger", th.Trigger)

		v1.GET("/history", hh.List)
		v1.GET("/jobs/:id/status", hh.JobStatus)
		v1.GET("/jobs/:id/download", hh.Download)
	}

	return router
}

// writeError maps the error's kind to its HTTP status and renders a JSON
// body. Unknown errors surface as 500 without leaking internals.
func writeError(c *gin.Context, err error) {
	var appErr *errors.AppError
	if errors.As(err, &appErr) {
		c.JSON(appErr.StatusCode(), gin.H{
			"id":    appErr.ID,
			"kind":  string(appErr.Kind),
			"error": appErr.Message,
		})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
}
