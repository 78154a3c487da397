package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/osvaldoandrade/pfmea/internal/backend"
	"github.com/osvaldoandrade/pfmea/internal/metrics"
	"github.com/osvaldoandrade/pfmea/pkg/domain"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	MsgInvalidIngest  = "Invalid response format from server"
	MsgInvalidAnalyze = "Invalid analysis response from server"
	MsgInvalidRender  = "Invalid HTML response from server"
)

// Backend is the set of analysis endpoints the pipeline drives, in call order.
type Backend interface {
	Ingest(ctx context.Context, mbom, flow *domain.File, params domain.InputParams) (*backend.IngestData, error)
	Analyze(ctx context.Context, req backend.AnalyzeRequest) (*backend.AnalyzeData, error)
	Render(ctx context.Context, dataset json.RawMessage) (*backend.RenderData, error)
	Export(ctx context.Context, dataset json.RawMessage) ([]byte, error)
}

// Observer is told which step is about to run.
type Observer func(step domain.Step)

// Outcome is what a successful run hands back to its caller. Metadata is the
// Ingest metadata, untouched.
type Outcome struct {
	HTML        string
	Spreadsheet []byte
	Metadata    json.RawMessage
}

type Pipeline struct {
	backend Backend
	logger  *slog.Logger
	now     func() time.Time
}

func New(b Backend, logger *slog.Logger, now func() time.Time) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Pipeline{backend: b, logger: logger, now: now}
}

// Run validates form and then calls Ingest, Analyze, Render and Export in
// order. The first failure ends the run; nothing from earlier steps is kept.
func (p *Pipeline) Run(ctx context.Context, form domain.FormState, observe Observer) (*Outcome, error) {
	if observe == nil {
		observe = func(domain.Step) {}
	}
	ctx, span := otel.Tracer("pfmea/pipeline").Start(ctx, "pfmea.pipeline.run",
		trace.WithAttributes(attribute.String("pfmea.type", string(form.Type))),
	)
	defer span.End()

	start := p.now()
	out, err := p.run(ctx, form, observe)

	outcome := "done"
	if err != nil {
		outcome = outcomeLabel(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		p.logger.Warn("pipeline failed", "pfmea_type", form.Type, "kind", outcome, "err", err)
	} else {
		p.logger.Info("pipeline completed", "pfmea_type", form.Type, "duration_ms", p.now().Sub(start).Milliseconds())
	}
	metrics.SubmissionsTotal.WithLabelValues(string(form.Type), outcome).Inc()
	if outcome != string(domain.KindValidation) {
		metrics.PipelineDurationSeconds.WithLabelValues(outcome).Observe(p.now().Sub(start).Seconds())
	}
	return out, err
}

func (p *Pipeline) run(ctx context.Context, form domain.FormState, observe Observer) (*Outcome, error) {
	if err := Validate(form); err != nil {
		return nil, err
	}
	observe(domain.StepPreparing)

	var ingest *backend.IngestData
	err := p.stage(ctx, domain.StepIngest, observe, MsgInvalidIngest, func(ctx context.Context) error {
		data, err := p.backend.Ingest(ctx, form.MBOMFile, form.FlowDiagramFile, form.Params())
		if err != nil {
			return err
		}
		if data == nil || absent(data.FinalData) {
			return shapeError(MsgInvalidIngest, nil)
		}
		ingest = data
		return nil
	})
	if err != nil {
		return nil, err
	}

	var analyzed json.RawMessage
	err = p.stage(ctx, domain.StepAnalyze, observe, MsgInvalidAnalyze, func(ctx context.Context) error {
		data, err := p.backend.Analyze(ctx, backend.AnalyzeRequest{
			MissingSeverity:          orEmpty(ingest.MissingSeverity),
			MissingControlPrevention: orEmpty(ingest.MissingControlPrevention),
			MissingRecommendedAction: orEmpty(ingest.MissingRecommendedAction),
			FinalData:                orEmpty(ingest.FinalData),
			SeverityCheckCriteria:    []any{},
		})
		if err != nil {
			return err
		}
		if data == nil || absent(data.FinalData) {
			return shapeError(MsgInvalidAnalyze, nil)
		}
		analyzed = data.FinalData
		return nil
	})
	if err != nil {
		return nil, err
	}

	var html string
	err = p.stage(ctx, domain.StepRender, observe, MsgInvalidRender, func(ctx context.Context) error {
		data, err := p.backend.Render(ctx, analyzed)
		if err != nil {
			return err
		}
		if data == nil || absent(data.HTML) {
			return shapeError(MsgInvalidRender, nil)
		}
		if err := json.Unmarshal(data.HTML, &html); err != nil || html == "" {
			return shapeError(MsgInvalidRender, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var sheet []byte
	err = p.stage(ctx, domain.StepExport, observe, "", func(ctx context.Context) error {
		b, err := p.backend.Export(ctx, analyzed)
		if err != nil {
			return err
		}
		sheet = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &Outcome{HTML: html, Spreadsheet: sheet, Metadata: ingest.Metadata}, nil
}

// stage runs one step with its own span, timing and logging. Undecodable
// responses are reported as shapeMsg.
func (p *Pipeline) stage(ctx context.Context, step domain.Step, observe Observer, shapeMsg string, fn func(context.Context) error) error {
	observe(step)
	ctx, span := otel.Tracer("pfmea/pipeline").Start(ctx, "pfmea.pipeline."+string(step))
	defer span.End()

	start := p.now()
	err := fn(ctx)
	if err != nil && errors.Is(err, backend.ErrMalformedResponse) && shapeMsg != "" {
		err = shapeError(shapeMsg, err)
	}
	elapsed := p.now().Sub(start)

	outcome := "ok"
	if err != nil {
		outcome = outcomeLabel(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	metrics.StepDurationSeconds.WithLabelValues(string(step), outcome).Observe(elapsed.Seconds())
	p.logger.Debug("pipeline step finished", "step", step, "outcome", outcome, "duration_ms", elapsed.Milliseconds())
	return err
}

func shapeError(msg string, cause error) error {
	return &domain.SubmissionError{Kind: domain.KindUpstreamShape, Message: msg, Err: cause}
}

func outcomeLabel(err error) string {
	if k := domain.KindOf(err); k != "" {
		return string(k)
	}
	return "error"
}

var emptyList = json.RawMessage("[]")

func absent(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

func orEmpty(raw json.RawMessage) json.RawMessage {
	if absent(raw) {
		return emptyList
	}
	return raw
}
