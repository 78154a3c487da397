package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/osvaldoandrade/pfmea/internal/metrics"
	"github.com/osvaldoandrade/pfmea/internal/pipeline"
	"github.com/osvaldoandrade/pfmea/internal/providers"
	"github.com/osvaldoandrade/pfmea/internal/repository"
	"github.com/osvaldoandrade/pfmea/internal/tracing"
	"github.com/osvaldoandrade/pfmea/pkg/domain"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	ReportName = "PFMEA_Analysis_Report.xlsx"
	// MsgInterrupted is shown when a run ends without reaching Done or Failed
	// on its own, for example after a restart or during shutdown.
	MsgInterrupted = "Analysis was interrupted. Please submit again."

	finalWriteTimeout = 5 * time.Second
)

var (
	ErrInProgress = repository.ErrInProgress
	ErrNoResult   = errors.New("no analysis result")

	errInterrupted = &domain.SubmissionError{Kind: domain.KindServer, Message: MsgInterrupted}
)

// Runner executes one submission. *pipeline.Pipeline satisfies it.
type Runner interface {
	Run(ctx context.Context, form domain.FormState, observe pipeline.Observer) (*pipeline.Outcome, error)
}

type SessionService interface {
	State(ctx context.Context, sessionID string) (domain.State, error)
	// Submit validates form and, when valid, starts a background run. A
	// validation failure is returned as a *domain.SubmissionError together
	// with the resulting Failed state.
	Submit(ctx context.Context, sessionID string, form domain.FormState) (domain.State, error)
	TogglePreview(ctx context.Context, sessionID string) (domain.State, error)
	DismissError(ctx context.Context, sessionID string) (domain.State, error)
	NewAnalysis(ctx context.Context, sessionID string) (domain.State, error)
	Artifact(ctx context.Context, sessionID string) (io.ReadSeekCloser, domain.ArtifactRef, error)
	// Cancel stops every background run. Each run records Failed before it
	// returns; Wait observes that.
	Cancel()
	// Wait blocks until every background run has finished.
	Wait()
}

type sessionService struct {
	repo     repository.SessionRepository
	store    providers.ArtifactStore
	runner   Runner
	lockTTL  time.Duration
	logger   *slog.Logger
	now      func() time.Time

	runs       context.Context
	cancelRuns context.CancelFunc
	inflight   sync.WaitGroup
}

// NewSessionService wires the session state machine. callTimeout is the
// per-call backend bound; the run lock outlives four of them.
func NewSessionService(repo repository.SessionRepository, store providers.ArtifactStore, runner Runner, callTimeout time.Duration, logger *slog.Logger, now func() time.Time) SessionService {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	runs, cancel := context.WithCancel(context.Background())
	return &sessionService{
		repo:       repo,
		store:      store,
		runner:     runner,
		lockTTL:    4*callTimeout + 30*time.Second,
		logger:     logger,
		now:        now,
		runs:       runs,
		cancelRuns: cancel,
	}
}

// State returns the session state. A Processing state whose run lock is gone
// belongs to a run that no longer exists and is settled as Failed.
func (s *sessionService) State(ctx context.Context, sessionID string) (domain.State, error) {
	st, err := s.repo.Get(ctx, sessionID)
	if err != nil || st.Phase() != domain.PhaseProcessing {
		return st, err
	}

	var unchanged domain.State
	st, err = s.repo.Update(ctx, sessionID, func(cur domain.State) (domain.State, error) {
		stale, err := s.stale(ctx, sessionID, cur)
		if err != nil {
			return nil, err
		}
		if !stale {
			unchanged = cur
			return nil, errUnchanged
		}
		return domain.Failed{Kind: errInterrupted.Kind, Message: errInterrupted.Message}, nil
	})
	if errors.Is(err, errUnchanged) {
		return unchanged, nil
	}
	if err == nil {
		s.logger.Warn("abandoned run settled as failed", "session_id", sessionID)
	}
	return st, err
}

// stale reports whether cur is a Processing state with no run behind it.
// Processing is only ever written while the run lock is held.
func (s *sessionService) stale(ctx context.Context, sessionID string, cur domain.State) (bool, error) {
	if cur.Phase() != domain.PhaseProcessing {
		return false, nil
	}
	held, err := s.repo.Locked(ctx, sessionID)
	if err != nil {
		return false, err
	}
	return !held, nil
}

func (s *sessionService) Submit(ctx context.Context, sessionID string, form domain.FormState) (domain.State, error) {
	ctx, span := otel.Tracer("pfmea/session").Start(ctx, "pfmea.session.submit",
		trace.WithAttributes(
			tracing.AttrSessionID.String(sessionID),
			attribute.String("pfmea.type", string(form.Type)),
		),
	)
	defer span.End()

	token, err := s.repo.Lock(ctx, sessionID, s.lockTTL)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if verr := pipeline.Validate(form); verr != nil {
		metrics.SubmissionsTotal.WithLabelValues(string(form.Type), string(domain.KindValidation)).Inc()
		st, err := s.replace(ctx, sessionID, domain.Failed{Kind: domain.KindValidation, Message: domain.UserMessage(verr)})
		s.unlock(sessionID, token)
		if err != nil {
			return nil, err
		}
		return st, verr
	}

	st, err := s.replace(ctx, sessionID, domain.Processing{Step: domain.StepPreparing, StartedAt: s.now()})
	if err != nil {
		s.unlock(sessionID, token)
		span.RecordError(err)
		return nil, err
	}

	// The run outlives the request but not the service.
	runCtx, cancelRun := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(s.runs, cancelRun)
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		defer s.unlock(sessionID, token)
		defer cancelRun()
		defer stop()
		s.run(runCtx, sessionID, form)
	}()
	return st, nil
}

// replace swaps in next and releases the artifact of a replaced Done state.
func (s *sessionService) replace(ctx context.Context, sessionID string, next domain.State) (domain.State, error) {
	var prev domain.State
	st, err := s.repo.Update(ctx, sessionID, func(cur domain.State) (domain.State, error) {
		prev = cur
		return next, nil
	})
	if err != nil {
		return nil, err
	}
	s.releasePrevious(ctx, sessionID, prev)
	return st, nil
}

func (s *sessionService) releasePrevious(ctx context.Context, sessionID string, prev domain.State) {
	done, ok := prev.(domain.Done)
	if !ok || done.Result.Spreadsheet.Empty() {
		return
	}
	if err := s.store.Release(ctx, sessionID, done.Result.Spreadsheet); err != nil {
		s.logger.Warn("artifact release failed", "session_id", sessionID, "artifact_id", done.Result.Spreadsheet.ID, "err", err)
	}
}

func (s *sessionService) run(ctx context.Context, sessionID string, form domain.FormState) {
	logger := s.logger.With("session_id", sessionID)
	startedAt := s.now()
	observe := func(step domain.Step) {
		if err := s.repo.Save(ctx, sessionID, domain.Processing{Step: step, StartedAt: startedAt}); err != nil {
			logger.Warn("progress update failed", "step", step, "err", err)
		}
	}

	out, err := s.runner.Run(ctx, form, observe)
	if err != nil {
		s.fail(ctx, sessionID, err)
		return
	}

	ref, err := s.store.Put(ctx, sessionID, ReportName, domain.SpreadsheetContentType, out.Spreadsheet)
	if err != nil {
		logger.Error("artifact store failed", "err", err)
		s.fail(ctx, sessionID, err)
		return
	}

	done := domain.Done{Result: domain.SubmissionResult{
		HTML:        out.HTML,
		Spreadsheet: ref,
		Metadata:    out.Metadata,
		ShowHTML:    false,
		CompletedAt: s.now(),
	}}
	if err := s.repo.Save(ctx, sessionID, done); err != nil {
		logger.Error("saving result failed", "err", err)
		s.fail(ctx, sessionID, err)
		if rerr := s.store.Release(context.WithoutCancel(ctx), sessionID, ref); rerr != nil {
			logger.Warn("artifact release failed", "artifact_id", ref.ID, "err", rerr)
		}
		return
	}
	logger.Info("submission completed", "artifact_id", ref.ID, "bytes", ref.Size)
}

// fail records the terminal Failed state. It writes on a fresh deadline so a
// cancelled run still leaves a final state behind.
func (s *sessionService) fail(ctx context.Context, sessionID string, err error) {
	if s.runs.Err() != nil {
		err = errInterrupted
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalWriteTimeout)
	defer cancel()

	kind := domain.KindOf(err)
	if kind == "" {
		kind = domain.KindServer
	}
	if serr := s.repo.Save(ctx, sessionID, domain.Failed{Kind: kind, Message: domain.UserMessage(err)}); serr != nil {
		s.logger.Error("saving failure failed", "session_id", sessionID, "err", serr)
	}
}

func (s *sessionService) unlock(sessionID, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), finalWriteTimeout)
	defer cancel()
	if err := s.repo.Unlock(ctx, sessionID, token); err != nil {
		s.logger.Warn("run lock release failed", "session_id", sessionID, "err", err)
	}
}

func (s *sessionService) TogglePreview(ctx context.Context, sessionID string) (domain.State, error) {
	return s.repo.Update(ctx, sessionID, func(cur domain.State) (domain.State, error) {
		done, ok := cur.(domain.Done)
		if !ok {
			return nil, ErrNoResult
		}
		done.Result.ShowHTML = !done.Result.ShowHTML
		return done, nil
	})
}

// DismissError clears a Failed state. Any other state is returned unchanged.
func (s *sessionService) DismissError(ctx context.Context, sessionID string) (domain.State, error) {
	var unchanged domain.State
	st, err := s.repo.Update(ctx, sessionID, func(cur domain.State) (domain.State, error) {
		if cur.Phase() != domain.PhaseFailed {
			unchanged = cur
			return nil, errUnchanged
		}
		return domain.Idle{}, nil
	})
	if errors.Is(err, errUnchanged) {
		return unchanged, nil
	}
	return st, err
}

var errUnchanged = errors.New("unchanged")

func (s *sessionService) NewAnalysis(ctx context.Context, sessionID string) (domain.State, error) {
	var prev domain.State
	st, err := s.repo.Update(ctx, sessionID, func(cur domain.State) (domain.State, error) {
		stale, err := s.stale(ctx, sessionID, cur)
		if err != nil {
			return nil, err
		}
		if cur.Phase() == domain.PhaseProcessing && !stale {
			return nil, ErrInProgress
		}
		prev = cur
		return domain.Idle{}, nil
	})
	if err != nil {
		return nil, err
	}
	s.releasePrevious(ctx, sessionID, prev)
	return st, nil
}

func (s *sessionService) Artifact(ctx context.Context, sessionID string) (io.ReadSeekCloser, domain.ArtifactRef, error) {
	st, err := s.repo.Get(ctx, sessionID)
	if err != nil {
		return nil, domain.ArtifactRef{}, err
	}
	done, ok := st.(domain.Done)
	if !ok || done.Result.Spreadsheet.Empty() {
		return nil, domain.ArtifactRef{}, ErrNoResult
	}
	rc, err := s.store.Open(ctx, sessionID, done.Result.Spreadsheet)
	if errors.Is(err, providers.ErrArtifactNotFound) {
		return nil, domain.ArtifactRef{}, ErrNoResult
	}
	if err != nil {
		return nil, domain.ArtifactRef{}, err
	}
	return rc, done.Result.Spreadsheet, nil
}

func (s *sessionService) Cancel() { s.cancelRuns() }

func (s *sessionService) Wait() { s.inflight.Wait() }
