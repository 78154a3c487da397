// Package stubbackend serves a stand-in for the analysis backend: it accepts
// the four pipeline calls, echoes the parameter blob as metadata and returns
// fixed datasets, HTML and a spreadsheet read from disk.
package stubbackend

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/osvaldoandrade/pfmea/internal/backend"
	"github.com/osvaldoandrade/pfmea/internal/middleware"
	"github.com/osvaldoandrade/pfmea/pkg/domain"

	"github.com/gin-gonic/gin"
)

const (
	Version     = "1.0.0"
	DummyHTML   = "<html><body>Dummy HTML Content</body></html>"
	ExportName  = "Final_PFMEA.xlsx"
	maxFormSize = 64 << 20
)

type Config struct {
	// SpreadsheetPath is served by /download_excel; a missing file yields 404.
	SpreadsheetPath string
	// Delay simulates processing time on each analysis endpoint.
	Delay  time.Duration
	Logger *slog.Logger
}

type server struct {
	cfg Config
}

// NewEngine returns a gin engine exposing the stub endpoints.
func NewEngine(cfg Config) *gin.Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &server{cfg: cfg}

	engine := gin.New()
	engine.Use(gin.Recovery(), middleware.RequestIDMiddleware(), middleware.LoggerMiddleware(cfg.Logger))
	engine.POST(backend.PathIngest, s.uploadMBOM)
	engine.POST(backend.PathAnalyze, s.processPFMEA)
	engine.POST(backend.PathRender, s.createHTML)
	engine.POST(backend.PathExport, s.downloadExcel)
	engine.GET(backend.PathHealth, s.health)
	return engine
}

func (s *server) pause(c *gin.Context) bool {
	if s.cfg.Delay <= 0 {
		return true
	}
	t := time.NewTimer(s.cfg.Delay)
	defer t.Stop()
	select {
	case <-c.Request.Context().Done():
		return false
	case <-t.C:
		return true
	}
}

func (s *server) uploadMBOM(c *gin.Context) {
	if err := c.Request.ParseMultipartForm(maxFormSize); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid multipart form"})
		return
	}
	if _, err := c.FormFile("file"); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": []gin.H{{"loc": []string{"body", "file"}, "msg": "field required"}}})
		return
	}
	raw, ok := c.GetPostForm("input_params")
	if !ok {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": []gin.H{{"loc": []string{"body", "input_params"}, "msg": "field required"}}})
		return
	}
	var params map[string]any
	if err := json.Unmarshal([]byte(raw), &params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid input parameters"})
		return
	}
	if !s.pause(c) {
		return
	}
	middleware.Logger(c).Info("stub mbom upload", "pfmea_type", params["pfmea_type"], "has_flow_diagram", hasFile(c, "flow_diagram"))
	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"data": gin.H{
			"missing_severity":           []any{},
			"missing_control_prevention": []any{},
			"missing_recommended_action": []any{},
			"final_data":                 []any{},
			"metadata":                   params,
		},
	})
}

func (s *server) processPFMEA(c *gin.Context) {
	if !s.pause(c) {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":    "FMEA processed successfully (static data)",
		"final_data": []any{},
		"stats": gin.H{
			"severity_generated": 0,
			"controls_generated": 0,
			"actions_generated":  0,
			"high_rpn_count":     0,
		},
	})
}

func (s *server) createHTML(c *gin.Context) {
	if !s.pause(c) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "html": DummyHTML})
}

func (s *server) downloadExcel(c *gin.Context) {
	path := strings.TrimSpace(s.cfg.SpreadsheetPath)
	if path == "" {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Static output file not found"})
		return
	}
	if _, err := os.Stat(path); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Static output file not found"})
		return
	}
	c.Header("Content-Type", domain.SpreadsheetContentType)
	c.FileAttachment(path, ExportName)
}

func (s *server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "version": Version})
}

func hasFile(c *gin.Context, field string) bool {
	_, err := c.FormFile(field)
	return err == nil
}
