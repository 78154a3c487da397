package controllers

import (
	"net/http"

	"github.com/osvaldoandrade/pfmea/pkg/domain"

	"github.com/gin-gonic/gin"
)

type optionsController struct{}

func NewOptionsController() *optionsController { return &optionsController{} }

func (h *optionsController) Handle(c *gin.Context) {
	c.JSON(http.StatusOK, domain.Options())
}
