package controllers

import (
	"errors"
	"io"
	"net/http"

	"github.com/osvaldoandrade/pfmea/internal/middleware"
	"github.com/osvaldoandrade/pfmea/internal/services"
	"github.com/osvaldoandrade/pfmea/pkg/domain"

	"github.com/gin-gonic/gin"
)

const (
	MsgFileTooLarge = "File too large. Please upload a smaller file."
	MsgInProgress   = "An analysis is already running for this session."
)

type submitController struct {
	svc            services.SessionService
	maxUploadBytes int64
}

func NewSubmitController(svc services.SessionService, maxUploadBytes int64) *submitController {
	return &submitController{svc: svc, maxUploadBytes: maxUploadBytes}
}

func (h *submitController) Handle(c *gin.Context) {
	if c.Request.ContentLength > h.maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": MsgFileTooLarge})
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
	if err := c.Request.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": MsgFileTooLarge})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid multipart form"})
		return
	}

	var form domain.FormState
	if err := c.ShouldBind(&form); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}
	var err error
	if form.MBOMFile, err = formFile(c, "mbomFile"); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable mbomFile"})
		return
	}
	if form.FlowDiagramFile, err = formFile(c, "flowDiagramFile"); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable flowDiagramFile"})
		return
	}

	st, err := h.svc.Submit(c.Request.Context(), middleware.SessionID(c), form)
	switch {
	case err == nil:
		respondState(c, http.StatusAccepted, st)
	case domain.KindOf(err) == domain.KindValidation:
		if c.NegotiateFormat(gin.MIMEJSON, gin.MIMEHTML) == gin.MIMEHTML {
			c.Redirect(http.StatusSeeOther, "/")
			return
		}
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": domain.UserMessage(err), "state": newStateView(st)})
	case errors.Is(err, services.ErrInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": MsgInProgress})
	default:
		middleware.Logger(c).Error("submit failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// formFile reads an optional upload into memory. A missing part yields nil.
func formFile(c *gin.Context, field string) (*domain.File, error) {
	fh, err := c.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	b, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	return &domain.File{Name: fh.Filename, ContentType: fh.Header.Get("Content-Type"), Content: b}, nil
}
