package controllers

import (
	"net/http"

	"github.com/osvaldoandrade/pfmea/internal/middleware"
	"github.com/osvaldoandrade/pfmea/internal/services"
	"github.com/osvaldoandrade/pfmea/pkg/domain"

	"github.com/gin-gonic/gin"
)

type formPageController struct{ svc services.SessionService }

func NewFormPageController(svc services.SessionService) *formPageController {
	return &formPageController{svc}
}

func (h *formPageController) Handle(c *gin.Context) {
	st, err := h.svc.State(c.Request.Context(), middleware.SessionID(c))
	if err != nil {
		middleware.Logger(c).Error("load session state", "err", err)
		st = domain.Idle{}
	}
	c.HTML(http.StatusOK, "index.tmpl", gin.H{
		"Options": domain.Options(),
		"State":   newStateView(st),
	})
}
