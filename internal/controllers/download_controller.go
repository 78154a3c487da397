package controllers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/osvaldoandrade/pfmea/internal/middleware"
	"github.com/osvaldoandrade/pfmea/internal/services"

	"github.com/gin-gonic/gin"
)

type downloadController struct{ svc services.SessionService }

func NewDownloadController(svc services.SessionService) *downloadController {
	return &downloadController{svc}
}

func (h *downloadController) Handle(c *gin.Context) {
	rc, ref, err := h.svc.Artifact(c.Request.Context(), middleware.SessionID(c))
	if errors.Is(err, services.ErrNoResult) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no report available"})
		return
	}
	if err != nil {
		middleware.Logger(c).Error("open artifact", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	defer rc.Close()

	c.Header("Content-Type", ref.ContentType)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", services.ReportName))
	http.ServeContent(c.Writer, c.Request, services.ReportName, ref.CreatedAt, rc)
}
