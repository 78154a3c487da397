package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

const SpreadsheetContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ArtifactRef points at a stored downloadable resource.
type ArtifactRef struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"createdAt"`
}

func (a ArtifactRef) Empty() bool { return a.ID == "" }

// SubmissionResult is the outcome of one successful pipeline run. Everything
// except ShowHTML is fixed once created.
type SubmissionResult struct {
	HTML        string          `json:"html"`
	Spreadsheet ArtifactRef     `json:"spreadsheet"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	ShowHTML    bool            `json:"showHtml"`
	CompletedAt time.Time       `json:"completedAt"`
}

// MetadataField reads a top-level value from the echoed metadata for display.
// Non-string values are rendered with fmt; absent keys yield "".
func (r SubmissionResult) MetadataField(key string) string {
	if len(r.Metadata) == 0 {
		return ""
	}
	var m map[string]any
	if err := json.Unmarshal(r.Metadata, &m); err != nil {
		return ""
	}
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func (r SubmissionResult) DocumentNumber() string { return r.MetadataField("pfmea_number") }
func (r SubmissionResult) Variant() string        { return r.MetadataField("family_code") }
func (r SubmissionResult) ProductionLine() string { return r.MetadataField("workcenter") }
