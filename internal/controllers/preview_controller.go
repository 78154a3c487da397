package controllers

import (
	"net/http"

	"github.com/osvaldoandrade/pfmea/internal/middleware"
	"github.com/osvaldoandrade/pfmea/internal/services"
	"github.com/osvaldoandrade/pfmea/pkg/domain"

	"github.com/gin-gonic/gin"
)

type previewController struct{ svc services.SessionService }

func NewPreviewController(svc services.SessionService) *previewController {
	return &previewController{svc}
}

// Handle serves the backend-generated report HTML. It is only available while
// the preview is switched on.
func (h *previewController) Handle(c *gin.Context) {
	st, err := h.svc.State(c.Request.Context(), middleware.SessionID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	done, ok := st.(domain.Done)
	if !ok || !done.Result.ShowHTML || done.Result.HTML == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "no preview available"})
		return
	}
	c.Header("Content-Security-Policy", "sandbox")
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(done.Result.HTML))
}
