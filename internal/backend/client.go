package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/osvaldoandrade/pfmea/internal/metrics"
	"github.com/osvaldoandrade/pfmea/internal/tracing"
	"github.com/osvaldoandrade/pfmea/pkg/domain"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

const (
	PathIngest  = "/upload_MBOM"
	PathAnalyze = "/Process_PFMEA"
	PathRender  = "/Create_HTML"
	PathExport  = "/download_excel"
	PathHealth  = "/health"
)

// ErrMalformedResponse marks a 2xx response whose body could not be decoded.
var ErrMalformedResponse = errors.New("malformed response")

// Client talks to the analysis backend. Every call is bounded by timeout.
type Client struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	limiter    *rate.Limiter
}

func NewClient(baseURL string, timeout time.Duration, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		timeout:    timeout,
		httpClient: httpClient,
	}
}

// WithRateLimit paces outgoing calls to rpm requests per minute with the given
// burst. rpm <= 0 leaves calls unpaced.
func (c *Client) WithRateLimit(rpm, burst int) *Client {
	if rpm <= 0 {
		c.limiter = nil
		return c
	}
	if burst <= 0 {
		burst = 1
	}
	c.limiter = rate.NewLimiter(rate.Limit(float64(rpm)/60.0), burst)
	return c
}

func (c *Client) BaseURL() string { return c.baseURL }

type IngestData struct {
	FinalData                json.RawMessage `json:"final_data"`
	MissingSeverity          json.RawMessage `json:"missing_severity"`
	MissingControlPrevention json.RawMessage `json:"missing_control_prevention"`
	MissingRecommendedAction json.RawMessage `json:"missing_recommended_action"`
	Metadata                 json.RawMessage `json:"metadata"`
}

type ingestResponse struct {
	Status string      `json:"status"`
	Data   *IngestData `json:"data"`
}

type AnalyzeRequest struct {
	MissingSeverity          json.RawMessage `json:"missing_severity_df"`
	MissingControlPrevention json.RawMessage `json:"missing_control_prevention_df"`
	MissingRecommendedAction json.RawMessage `json:"missing_recommended_action_df"`
	FinalData                json.RawMessage `json:"final_df_df"`
	SeverityCheckCriteria    []any           `json:"severity_check_criteria"`
}

type AnalyzeData struct {
	Message   string          `json:"message"`
	FinalData json.RawMessage `json:"final_data"`
	Stats     json.RawMessage `json:"stats,omitempty"`
}

type renderRequest struct {
	FinalDF json.RawMessage `json:"final_df"`
}

type RenderData struct {
	Status string          `json:"status"`
	HTML   json.RawMessage `json:"html"`
}

type HealthStatus struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// Ingest uploads the MBOM (and flow diagram, if any) with the parameter blob.
// A nil Data in the response is returned as nil IngestData.
func (c *Client) Ingest(ctx context.Context, mbom, flow *domain.File, params domain.InputParams) (*IngestData, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := writeFilePart(mw, "file", mbom); err != nil {
		return nil, err
	}
	if flow.Present() {
		if err := writeFilePart(mw, "flow_diagram", flow); err != nil {
			return nil, err
		}
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal input params: %w", err)
	}
	if err := mw.WriteField("input_params", string(paramsJSON)); err != nil {
		return nil, fmt.Errorf("write input params: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart: %w", err)
	}

	body, err := c.do(ctx, http.MethodPost, PathIngest, mw.FormDataContentType(), buf.Bytes())
	if err != nil {
		return nil, err
	}
	var out ingestResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedResponse, PathIngest, err)
	}
	return out.Data, nil
}

func (c *Client) Analyze(ctx context.Context, req AnalyzeRequest) (*AnalyzeData, error) {
	if req.SeverityCheckCriteria == nil {
		req.SeverityCheckCriteria = []any{}
	}
	body, err := c.postJSON(ctx, PathAnalyze, req)
	if err != nil {
		return nil, err
	}
	var out AnalyzeData
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedResponse, PathAnalyze, err)
	}
	return &out, nil
}

func (c *Client) Render(ctx context.Context, dataset json.RawMessage) (*RenderData, error) {
	body, err := c.postJSON(ctx, PathRender, renderRequest{FinalDF: dataset})
	if err != nil {
		return nil, err
	}
	var out RenderData
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedResponse, PathRender, err)
	}
	return &out, nil
}

// Export returns the spreadsheet bytes produced for dataset.
func (c *Client) Export(ctx context.Context, dataset json.RawMessage) ([]byte, error) {
	return c.do(ctx, http.MethodPost, PathExport, "application/json", dataset)
}

func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	body, err := c.do(ctx, http.MethodGet, PathHealth, "", nil)
	if err != nil {
		return nil, err
	}
	var out HealthStatus
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedResponse, PathHealth, err)
	}
	return &out, nil
}

func (c *Client) postJSON(ctx context.Context, path string, v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", path, err)
	}
	return c.do(ctx, http.MethodPost, path, "application/json", b)
}

func (c *Client) do(ctx context.Context, method, path, contentType string, payload []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ctx, span := otel.Tracer("pfmea/backend").Start(ctx, "HTTP "+method+" "+path,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.path", path),
		),
	)
	defer span.End()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			serr := paceError(ctx, err)
			metrics.BackendRequestsTotal.WithLabelValues(path, statusLabel(serr)).Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, string(serr.Kind))
			return nil, serr
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request %s: %w", path, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	tracing.InjectHeaders(ctx, req.Header)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		serr := transportError(err)
		metrics.BackendRequestsTotal.WithLabelValues(path, statusLabel(serr)).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, string(serr.Kind))
		return nil, serr
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		serr := transportError(err)
		metrics.BackendRequestsTotal.WithLabelValues(path, statusLabel(serr)).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, string(serr.Kind))
		return nil, serr
	}

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	metrics.BackendRequestsTotal.WithLabelValues(path, fmt.Sprintf("%dxx", resp.StatusCode/100)).Inc()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		span.SetStatus(codes.Error, http.StatusText(resp.StatusCode))
		return nil, &domain.SubmissionError{
			Kind:    domain.KindServer,
			Message: ServerMessage(resp.StatusCode, body),
			Status:  resp.StatusCode,
		}
	}
	return body, nil
}

func writeFilePart(mw *multipart.Writer, field string, f *domain.File) error {
	name := "upload"
	var content []byte
	if f != nil {
		content = f.Content
		if f.Name != "" {
			name = f.Name
		}
	}
	w, err := mw.CreateFormFile(field, name)
	if err != nil {
		return fmt.Errorf("create %s part: %w", field, err)
	}
	if _, err := w.Write(content); err != nil {
		return fmt.Errorf("write %s part: %w", field, err)
	}
	return nil
}

func statusLabel(err *domain.SubmissionError) string {
	if err.Kind == domain.KindTimeout {
		return "timeout"
	}
	return "error"
}
