package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/osvaldoandrade/pfmea/pkg/domain"
)

const (
	MsgTimeout  = "Request timed out. Please try again."
	MsgNetwork  = "Unable to reach the analysis service. Please try again."
	MsgCanceled = "Request was cancelled."
)

func transportError(err error) *domain.SubmissionError {
	var nerr net.Error
	if errors.Is(err, context.Canceled) {
		return &domain.SubmissionError{Kind: domain.KindNetwork, Message: MsgCanceled, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &nerr) && nerr.Timeout()) {
		return &domain.SubmissionError{Kind: domain.KindTimeout, Message: MsgTimeout, Err: err}
	}
	return &domain.SubmissionError{Kind: domain.KindNetwork, Message: MsgNetwork, Err: err}
}

// paceError maps a rate limiter wait failure. The limiter refuses upfront when
// the wait would outlast the deadline, which is reported as a timeout.
func paceError(ctx context.Context, err error) *domain.SubmissionError {
	if cerr := ctx.Err(); cerr != nil {
		return transportError(cerr)
	}
	return &domain.SubmissionError{Kind: domain.KindTimeout, Message: MsgTimeout, Err: err}
}

// ServerMessage picks the user-facing text for a non-2xx response: the body's
// "detail" or "error" field when present, else a status-specific hint.
func ServerMessage(status int, body []byte) string {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err == nil {
		if msg := fieldMessage(obj["detail"]); msg != "" {
			return msg
		}
		if msg := fieldMessage(obj["error"]); msg != "" {
			return msg
		}
	}
	switch status {
	case http.StatusRequestEntityTooLarge:
		return "File too large. Please upload a smaller file."
	case http.StatusNotFound:
		return "Data not found. Please check your input."
	case http.StatusUnprocessableEntity:
		return "Invalid input data. Please check your form."
	}
	return fmt.Sprintf("Server error: %d", status)
}

// fieldMessage renders a string field as-is and structured values (FastAPI
// validation details are lists) as compact JSON.
func fieldMessage(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
