package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/osvaldoandrade/pfmea/internal/backend"
	"github.com/osvaldoandrade/pfmea/pkg/domain"
)

type fakeBackend struct {
	calls []string

	ingest    *backend.IngestData
	ingestErr error
	analyze   *backend.AnalyzeData
	render    *backend.RenderData
	renderErr error
	export    []byte

	gotParams  domain.InputParams
	gotFlow    *domain.File
	gotAnalyze backend.AnalyzeRequest
	gotRender  json.RawMessage
	gotExport  json.RawMessage
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		ingest: &backend.IngestData{
			FinalData:       json.RawMessage(`[{"op":"10"}]`),
			MissingSeverity: json.RawMessage(`[{"op":"20"}]`),
			Metadata:        json.RawMessage(`{"pfmea_number":"PF-2024-001","family_code":"C3_MHEV","workcenter":"Final Line-1"}`),
		},
		analyze: &backend.AnalyzeData{Message: "ok", FinalData: json.RawMessage(`[{"op":"10","s":7}]`)},
		render:  &backend.RenderData{Status: "success", HTML: json.RawMessage(`"<table>report</table>"`)},
		export:  []byte("PK-sheet"),
	}
}

func (f *fakeBackend) Ingest(ctx context.Context, mbom, flow *domain.File, params domain.InputParams) (*backend.IngestData, error) {
	f.calls = append(f.calls, "ingest")
	f.gotParams, f.gotFlow = params, flow
	return f.ingest, f.ingestErr
}

func (f *fakeBackend) Analyze(ctx context.Context, req backend.AnalyzeRequest) (*backend.AnalyzeData, error) {
	f.calls = append(f.calls, "analyze")
	f.gotAnalyze = req
	return f.analyze, nil
}

func (f *fakeBackend) Render(ctx context.Context, dataset json.RawMessage) (*backend.RenderData, error) {
	f.calls = append(f.calls, "render")
	f.gotRender = dataset
	return f.render, f.renderErr
}

func (f *fakeBackend) Export(ctx context.Context, dataset json.RawMessage) ([]byte, error) {
	f.calls = append(f.calls, "export")
	f.gotExport = dataset
	return f.export, nil
}

func validForm() domain.FormState {
	return domain.FormState{
		Country:               "France",
		Site:                  "Poissy",
		Model:                 "C3",
		Variant:               "C3_MHEV",
		ProductionLine:        "Final Line-1",
		PFMEANumber:           "PF-2024-001",
		Revision:              "A",
		ProcessResponsibility: "Assembly",
		CoreTeam:              "Quality",
		PreparedBy:            "Robin",
		ApprovedBy:            "Jordan",
		Type:                  domain.CategoryPreLaunch,
		MBOMFile:              &domain.File{Name: "mbom.xlsx", Content: []byte("mbom")},
	}
}

func recordSteps() (*[]domain.Step, Observer) {
	var steps []domain.Step
	return &steps, func(s domain.Step) { steps = append(steps, s) }
}

func TestRunSuccess(t *testing.T) {
	fb := newFakeBackend()
	steps, observe := recordSteps()

	out, err := New(fb, nil, nil).Run(context.Background(), validForm(), observe)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !reflect.DeepEqual(fb.calls, []string{"ingest", "analyze", "render", "export"}) {
		t.Fatalf("call order = %v", fb.calls)
	}
	wantSteps := []domain.Step{domain.StepPreparing, domain.StepIngest, domain.StepAnalyze, domain.StepRender, domain.StepExport}
	if !reflect.DeepEqual(*steps, wantSteps) {
		t.Fatalf("steps = %v", *steps)
	}
	if out.HTML != "<table>report</table>" || string(out.Spreadsheet) != "PK-sheet" {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if string(out.Metadata) != string(fb.ingest.Metadata) {
		t.Fatalf("metadata must be passed through, got %s", out.Metadata)
	}

	// Analyze receives the ingest datasets with absent ones defaulted.
	if string(fb.gotAnalyze.FinalData) != `[{"op":"10"}]` || string(fb.gotAnalyze.MissingSeverity) != `[{"op":"20"}]` {
		t.Fatalf("analyze request = %+v", fb.gotAnalyze)
	}
	if string(fb.gotAnalyze.MissingControlPrevention) != "[]" || string(fb.gotAnalyze.MissingRecommendedAction) != "[]" {
		t.Fatalf("absent datasets should default to [], got %+v", fb.gotAnalyze)
	}
	if fb.gotAnalyze.SeverityCheckCriteria == nil || len(fb.gotAnalyze.SeverityCheckCriteria) != 0 {
		t.Fatalf("severity criteria should be an empty list")
	}
	// Render and Export both get the analyzed dataset.
	if string(fb.gotRender) != `[{"op":"10","s":7}]` || string(fb.gotExport) != `[{"op":"10","s":7}]` {
		t.Fatalf("render=%s export=%s", fb.gotRender, fb.gotExport)
	}
	if fb.gotParams.LCDV16 != "C3_MHEV" || fb.gotParams.FamilyCode != "C3_MHEV" || fb.gotParams.Plant != "Poissy" {
		t.Fatalf("params = %+v", fb.gotParams)
	}
	if fb.gotFlow != nil {
		t.Fatalf("no flow diagram expected for pre-launch")
	}
}

func TestRunProductionSendsFlowDiagram(t *testing.T) {
	fb := newFakeBackend()
	form := validForm()
	form.Type = domain.CategoryProduction
	form.FlowDiagramFile = &domain.File{Name: "flow.pdf", Content: []byte("pdf")}

	if _, err := New(fb, nil, nil).Run(context.Background(), form, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if fb.gotFlow == nil || fb.gotFlow.Name != "flow.pdf" {
		t.Fatalf("flow diagram not forwarded: %+v", fb.gotFlow)
	}
}

func TestRunValidationMakesNoCalls(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.FormState)
		want   string
	}{
		{"missing fields", func(f *domain.FormState) { f.Site = ""; f.CoreTeam = " "; f.MBOMFile = nil },
			"Missing required fields: site, coreTeam, mbomFile"},
		{"no type", func(f *domain.FormState) { f.Type = domain.CategoryNone }, MsgSelectType},
		{"unknown type", func(f *domain.FormState) { f.Type = "Design FMEA" }, MsgSelectType},
		{"production without flow", func(f *domain.FormState) { f.Type = domain.CategoryProduction }, MsgFlowDiagramRequired},
		{"missing fields win over type", func(f *domain.FormState) { f.Type = domain.CategoryNone; f.Model = "" },
			"Missing required fields: model"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fb := newFakeBackend()
			steps, observe := recordSteps()
			form := validForm()
			tt.mutate(&form)

			_, err := New(fb, nil, nil).Run(context.Background(), form, observe)
			if domain.KindOf(err) != domain.KindValidation || domain.UserMessage(err) != tt.want {
				t.Fatalf("err = %v, want validation %q", err, tt.want)
			}
			if len(fb.calls) != 0 || len(*steps) != 0 {
				t.Fatalf("no calls or steps expected, got %v %v", fb.calls, *steps)
			}
		})
	}
}

func TestRunShapeErrors(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*fakeBackend)
		want      string
		wantCalls int
	}{
		{"nil ingest data", func(f *fakeBackend) { f.ingest = nil }, MsgInvalidIngest, 1},
		{"ingest without final_data", func(f *fakeBackend) { f.ingest.FinalData = nil }, MsgInvalidIngest, 1},
		{"ingest null final_data", func(f *fakeBackend) { f.ingest.FinalData = json.RawMessage("null") }, MsgInvalidIngest, 1},
		{"analyze without final_data", func(f *fakeBackend) { f.analyze.FinalData = nil }, MsgInvalidAnalyze, 2},
		{"render without html", func(f *fakeBackend) { f.render.HTML = nil }, MsgInvalidRender, 3},
		{"render html not a string", func(f *fakeBackend) { f.render.HTML = json.RawMessage(`{"a":1}`) }, MsgInvalidRender, 3},
		{"render empty html", func(f *fakeBackend) { f.render.HTML = json.RawMessage(`""`) }, MsgInvalidRender, 3},
		{"render undecodable", func(f *fakeBackend) {
			f.renderErr = fmt.Errorf("%w: %s: eof", backend.ErrMalformedResponse, backend.PathRender)
		}, MsgInvalidRender, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fb := newFakeBackend()
			tt.mutate(fb)

			out, err := New(fb, nil, nil).Run(context.Background(), validForm(), nil)
			if out != nil {
				t.Fatalf("no outcome expected on failure")
			}
			if domain.KindOf(err) != domain.KindUpstreamShape || domain.UserMessage(err) != tt.want {
				t.Fatalf("err = %v, want shape %q", err, tt.want)
			}
			if len(fb.calls) != tt.wantCalls {
				t.Fatalf("calls = %v, want %d", fb.calls, tt.wantCalls)
			}
		})
	}
}

func TestRunEmptyFinalDataIsPresent(t *testing.T) {
	fb := newFakeBackend()
	fb.ingest.FinalData = json.RawMessage(`[]`)
	if _, err := New(fb, nil, nil).Run(context.Background(), validForm(), nil); err != nil {
		t.Fatalf("empty list is a valid dataset: %v", err)
	}
}

func TestRunServerErrorStopsPipeline(t *testing.T) {
	fb := newFakeBackend()
	fb.ingestErr = &domain.SubmissionError{Kind: domain.KindServer, Message: "Bad MBOM", Status: 400}

	_, err := New(fb, nil, nil).Run(context.Background(), validForm(), nil)
	if domain.KindOf(err) != domain.KindServer || domain.UserMessage(err) != "Bad MBOM" {
		t.Fatalf("err = %v", err)
	}
	if !reflect.DeepEqual(fb.calls, []string{"ingest"}) {
		t.Fatalf("calls = %v", fb.calls)
	}
}

func TestRunTimeoutAgainstSlowBackend(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	client := backend.NewClient(srv.URL, 50*time.Millisecond, srv.Client())
	steps, observe := recordSteps()

	_, err := New(client, nil, nil).Run(context.Background(), validForm(), observe)
	if domain.KindOf(err) != domain.KindTimeout {
		t.Fatalf("err = %v, want timeout", err)
	}
	if domain.UserMessage(err) != backend.MsgTimeout {
		t.Fatalf("message = %q", domain.UserMessage(err))
	}
	if (*steps)[len(*steps)-1] != domain.StepIngest {
		t.Fatalf("run should stop at ingest, steps = %v", *steps)
	}
}

func TestValidateOrder(t *testing.T) {
	form := validForm()
	form.Type = domain.CategoryProduction
	form.FlowDiagramFile = &domain.File{Name: "flow.png"}
	if err := Validate(form); domain.UserMessage(err) != MsgFlowDiagramRequired {
		t.Fatalf("empty flow diagram must be rejected, got %v", err)
	}
	form.FlowDiagramFile.Content = []byte("png")
	if err := Validate(form); err != nil {
		t.Fatalf("valid production form rejected: %v", err)
	}
	var se *domain.SubmissionError
	if err := Validate(domain.FormState{}); !errors.As(err, &se) || se.Kind != domain.KindValidation {
		t.Fatalf("empty form err = %v", err)
	}
}
