package controllers

import (
	"encoding/json"
	"net/http"

	"github.com/osvaldoandrade/pfmea/pkg/domain"

	"github.com/gin-gonic/gin"
)

type errorView struct {
	Kind    domain.ErrorKind `json:"kind"`
	Message string           `json:"message"`
}

type resultView struct {
	DocumentNumber string          `json:"documentNumber"`
	Variant        string          `json:"variant"`
	ProductionLine string          `json:"productionLine"`
	ShowHTML       bool            `json:"showHtml"`
	HasHTML        bool            `json:"hasHtml"`
	PreviewURL     string          `json:"previewUrl,omitempty"`
	DownloadURL    string          `json:"downloadUrl"`
	DownloadName   string          `json:"downloadName"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
	CompletedAt    string          `json:"completedAt"`
}

// stateView is the JSON and template shape of a session's UI state.
type stateView struct {
	Phase   domain.Phase `json:"phase"`
	Step    domain.Step  `json:"step,omitempty"`
	Caption string       `json:"caption,omitempty"`
	Error   *errorView   `json:"error,omitempty"`
	Result  *resultView  `json:"result,omitempty"`
}

func newStateView(st domain.State) stateView {
	if st == nil {
		st = domain.Idle{}
	}
	v := stateView{Phase: st.Phase()}
	switch s := st.(type) {
	case domain.Processing:
		v.Step = s.Step
		v.Caption = s.Step.Caption()
	case domain.Failed:
		v.Error = &errorView{Kind: s.Kind, Message: s.Message}
	case domain.Done:
		r := s.Result
		rv := &resultView{
			DocumentNumber: r.DocumentNumber(),
			Variant:        r.Variant(),
			ProductionLine: r.ProductionLine(),
			ShowHTML:       r.ShowHTML,
			HasHTML:        r.HTML != "",
			DownloadURL:    "/download",
			DownloadName:   r.Spreadsheet.Name,
			Metadata:       r.Metadata,
			CompletedAt:    r.CompletedAt.Format("2006-01-02 15:04:05 MST"),
		}
		if r.ShowHTML && r.HTML != "" {
			rv.PreviewURL = "/preview"
		}
		v.Result = rv
	}
	return v
}

// respondState answers JSON clients with the state view and sends browsers
// posting plain forms back to the page.
func respondState(c *gin.Context, status int, st domain.State) {
	if c.NegotiateFormat(gin.MIMEJSON, gin.MIMEHTML) == gin.MIMEHTML {
		c.Redirect(http.StatusSeeOther, "/")
		return
	}
	c.JSON(status, newStateView(st))
}
