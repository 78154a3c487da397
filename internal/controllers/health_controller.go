package controllers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

type healthController struct{ checks map[string]HealthCheck }

func NewHealthController(checks map[string]HealthCheck) *healthController {
	return &healthController{checks}
}

func (h *healthController) Handle(c *gin.Context) {
	status := http.StatusOK
	deps := gin.H{}
	for name, check := range h.checks {
		if err := check(c.Request.Context()); err != nil {
			status = http.StatusServiceUnavailable
			deps[name] = err.Error()
			continue
		}
		deps[name] = "ok"
	}
	body := gin.H{"status": "ok", "dependencies": deps}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	c.JSON(status, body)
}
