package controllers

import (
	"net/http"

	"github.com/osvaldoandrade/pfmea/internal/middleware"
	"github.com/osvaldoandrade/pfmea/internal/services"

	"github.com/gin-gonic/gin"
)

type stateController struct{ svc services.SessionService }

func NewStateController(svc services.SessionService) *stateController {
	return &stateController{svc}
}

func (h *stateController) Handle(c *gin.Context) {
	st, err := h.svc.State(c.Request.Context(), middleware.SessionID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, newStateView(st))
}
