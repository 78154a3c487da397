package pipeline

import (
	"strings"

	"github.com/osvaldoandrade/pfmea/pkg/domain"
)

const (
	MsgSelectType          = "Please select PFMEA Type"
	MsgFlowDiagramRequired = "Process Flow Diagram is required for Production PFMEA"
)

// Validate checks the form before any network call. Rules are applied in
// order and only the first violated one is reported; all blank required
// fields are listed together.
func Validate(form domain.FormState) error {
	if missing := form.MissingFields(); len(missing) > 0 {
		return &domain.SubmissionError{
			Kind:    domain.KindValidation,
			Message: "Missing required fields: " + strings.Join(missing, ", "),
		}
	}
	if !form.Type.Valid() {
		return &domain.SubmissionError{Kind: domain.KindValidation, Message: MsgSelectType}
	}
	if form.Type.RequiresFlowDiagram() && !form.FlowDiagramFile.Present() {
		return &domain.SubmissionError{Kind: domain.KindValidation, Message: MsgFlowDiagramRequired}
	}
	return nil
}
