package domain

import (
	"encoding"
	"strings"
)

type Category string

const (
	CategoryNone       Category = ""
	CategoryPreLaunch  Category = "Pre-Launch PFMEA"
	CategoryProduction Category = "Production PFMEA"
)

var (
	_ encoding.BinaryMarshaler = Category("")
	_ encoding.TextMarshaler   = Category("")
)

func (c Category) MarshalBinary() ([]byte, error) { return []byte(string(c)), nil }
func (c Category) MarshalText() ([]byte, error)   { return []byte(string(c)), nil }

// Valid reports whether c is one of the selectable PFMEA types.
func (c Category) Valid() bool {
	return c == CategoryPreLaunch || c == CategoryProduction
}

// RequiresFlowDiagram is true for categories that cannot be analyzed without
// a process flow diagram.
func (c Category) RequiresFlowDiagram() bool {
	return c == CategoryProduction
}

// File is an uploaded document held in memory for the duration of one submission.
type File struct {
	Name        string
	ContentType string
	Content     []byte
}

func (f *File) Present() bool {
	return f != nil && len(f.Content) > 0
}

// FormState is the wizard input for one submission attempt.
type FormState struct {
	Country               string `json:"country" form:"country"`
	Site                  string `json:"site" form:"site"`
	Model                 string `json:"model" form:"model"`
	Variant               string `json:"variant" form:"variant"`
	ProductionLine        string `json:"productionLine" form:"productionLine"`
	PFMEANumber           string `json:"pfmeaNumber" form:"pfmeaNumber"`
	Revision              string `json:"revision" form:"revision"`
	ProcessResponsibility string `json:"processResponsibility" form:"processResponsibility"`
	CoreTeam              string `json:"coreTeam" form:"coreTeam"`
	PreparedBy            string `json:"preparedBy" form:"preparedBy"`
	ApprovedBy            string `json:"approvedBy" form:"approvedBy"`

	Type Category `json:"pfmeaType" form:"pfmeaType"`

	MBOMFile        *File `json:"-" form:"-"`
	FlowDiagramFile *File `json:"-" form:"-"`
}

// FieldValue pairs a form field name with its current value.
type FieldValue struct {
	Name  string
	Value string
}

// TextFields returns the metadata fields in the order they are validated.
func (f FormState) TextFields() []FieldValue {
	return []FieldValue{
		{"country", f.Country},
		{"site", f.Site},
		{"model", f.Model},
		{"variant", f.Variant},
		{"productionLine", f.ProductionLine},
		{"pfmeaNumber", f.PFMEANumber},
		{"revision", f.Revision},
		{"processResponsibility", f.ProcessResponsibility},
		{"coreTeam", f.CoreTeam},
		{"preparedBy", f.PreparedBy},
		{"approvedBy", f.ApprovedBy},
	}
}

// InputParams is the parameter blob sent with the MBOM upload.
type InputParams struct {
	LCDV16                string   `json:"lcdv16"`
	Plant                 string   `json:"plant"`
	Model                 string   `json:"model"`
	FamilyCode            string   `json:"family_code"`
	Workcenter            string   `json:"workcenter"`
	Country               string   `json:"country"`
	PFMEAType             Category `json:"pfmea_type"`
	PFMEANumber           string   `json:"pfmea_number"`
	Revision              string   `json:"revision"`
	ProcessResponsibility string   `json:"process_responsibility"`
	CoreTeam              string   `json:"core_team"`
	PreparedBy            string   `json:"prepared_by"`
	ApprovedBy            string   `json:"approved_by"`
}

// Params maps the form onto the backend parameter names. The variant doubles
// as both the LCDV16 filter and the family code.
func (f FormState) Params() InputParams {
	return InputParams{
		LCDV16:                f.Variant,
		Plant:                 f.Site,
		Model:                 f.Model,
		FamilyCode:            f.Variant,
		Workcenter:            f.ProductionLine,
		Country:               f.Country,
		PFMEAType:             f.Type,
		PFMEANumber:           f.PFMEANumber,
		Revision:              f.Revision,
		ProcessResponsibility: f.ProcessResponsibility,
		CoreTeam:              f.CoreTeam,
		PreparedBy:            f.PreparedBy,
		ApprovedBy:            f.ApprovedBy,
	}
}

func blank(s string) bool { return strings.TrimSpace(s) == "" }

// MissingFields lists required field names that are blank, MBOM file last.
func (f FormState) MissingFields() []string {
	var missing []string
	for _, fv := range f.TextFields() {
		if blank(fv.Value) {
			missing = append(missing, fv.Name)
		}
	}
	if !f.MBOMFile.Present() {
		missing = append(missing, "mbomFile")
	}
	return missing
}
