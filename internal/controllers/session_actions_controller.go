package controllers

import (
	"errors"
	"net/http"

	"github.com/osvaldoandrade/pfmea/internal/middleware"
	"github.com/osvaldoandrade/pfmea/internal/services"

	"github.com/gin-gonic/gin"
)

type togglePreviewController struct{ svc services.SessionService }

func NewTogglePreviewController(svc services.SessionService) *togglePreviewController {
	return &togglePreviewController{svc}
}

func (h *togglePreviewController) Handle(c *gin.Context) {
	st, err := h.svc.TogglePreview(c.Request.Context(), middleware.SessionID(c))
	if errors.Is(err, services.ErrNoResult) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no analysis result"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	respondState(c, http.StatusOK, st)
}

type dismissErrorController struct{ svc services.SessionService }

func NewDismissErrorController(svc services.SessionService) *dismissErrorController {
	return &dismissErrorController{svc}
}

func (h *dismissErrorController) Handle(c *gin.Context) {
	st, err := h.svc.DismissError(c.Request.Context(), middleware.SessionID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	respondState(c, http.StatusOK, st)
}

type resetController struct{ svc services.SessionService }

func NewResetController(svc services.SessionService) *resetController {
	return &resetController{svc}
}

func (h *resetController) Handle(c *gin.Context) {
	st, err := h.svc.NewAnalysis(c.Request.Context(), middleware.SessionID(c))
	if errors.Is(err, services.ErrInProgress) {
		c.JSON(http.StatusConflict, gin.H{"error": MsgInProgress})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	respondState(c, http.StatusOK, st)
}
