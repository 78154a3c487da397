package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

type ErrorKind string

const (
	KindValidation    ErrorKind = "ValidationError"
	KindUpstreamShape ErrorKind = "UpstreamShapeError"
	KindTimeout       ErrorKind = "TimeoutError"
	KindServer        ErrorKind = "ServerError"
	KindNetwork       ErrorKind = "NetworkError"
)

// Step identifies a stage of the submission pipeline.
type Step string

const (
	StepPreparing Step = "preparing"
	StepIngest    Step = "ingest"
	StepAnalyze   Step = "analyze"
	StepRender    Step = "render"
	StepExport    Step = "export"
)

// Caption is the progress text shown while the step runs.
func (s Step) Caption() string {
	switch s {
	case StepPreparing:
		return "Preparing data..."
	case StepIngest:
		return "Uploading and processing MBOM..."
	case StepAnalyze:
		return "Analyzing with AI..."
	case StepRender:
		return "Generating HTML report..."
	case StepExport:
		return "Preparing Excel download..."
	}
	return ""
}

type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseProcessing Phase = "processing"
	PhaseDone       Phase = "done"
	PhaseFailed     Phase = "failed"
)

// State is the UI state of one wizard session. Exactly one variant is held
// at a time: Idle, Processing, Done or Failed.
type State interface {
	Phase() Phase
}

type Idle struct{}

type Processing struct {
	Step      Step      `json:"step"`
	StartedAt time.Time `json:"startedAt"`
}

type Done struct {
	Result SubmissionResult `json:"result"`
}

type Failed struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (Idle) Phase() Phase       { return PhaseIdle }
func (Processing) Phase() Phase { return PhaseProcessing }
func (Done) Phase() Phase       { return PhaseDone }
func (Failed) Phase() Phase     { return PhaseFailed }

type stateEnvelope struct {
	Phase      Phase       `json:"phase"`
	Processing *Processing `json:"processing,omitempty"`
	Done       *Done       `json:"done,omitempty"`
	Failed     *Failed     `json:"failed,omitempty"`
}

func MarshalState(s State) ([]byte, error) {
	env := stateEnvelope{Phase: PhaseIdle}
	switch v := s.(type) {
	case nil, Idle:
	case Processing:
		env.Phase, env.Processing = PhaseProcessing, &v
	case Done:
		env.Phase, env.Done = PhaseDone, &v
	case Failed:
		env.Phase, env.Failed = PhaseFailed, &v
	default:
		return nil, fmt.Errorf("unknown state %T", s)
	}
	return json.Marshal(env)
}

func UnmarshalState(b []byte) (State, error) {
	var env stateEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, err
	}
	switch env.Phase {
	case PhaseIdle, "":
		return Idle{}, nil
	case PhaseProcessing:
		if env.Processing == nil {
			return Processing{}, nil
		}
		return *env.Processing, nil
	case PhaseDone:
		if env.Done == nil {
			return nil, fmt.Errorf("done state without result")
		}
		return *env.Done, nil
	case PhaseFailed:
		if env.Failed == nil {
			return nil, fmt.Errorf("failed state without error")
		}
		return *env.Failed, nil
	}
	return nil, fmt.Errorf("unknown phase %q", env.Phase)
}
