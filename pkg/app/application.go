package app

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/osvaldoandrade/pfmea/internal/backend"
	"github.com/osvaldoandrade/pfmea/internal/metrics"
	"github.com/osvaldoandrade/pfmea/internal/middleware"
	"github.com/osvaldoandrade/pfmea/internal/pipeline"
	"github.com/osvaldoandrade/pfmea/internal/providers"
	"github.com/osvaldoandrade/pfmea/internal/ratelimit"
	"github.com/osvaldoandrade/pfmea/internal/repository"
	"github.com/osvaldoandrade/pfmea/internal/services"
	"github.com/osvaldoandrade/pfmea/internal/tracing"
	"github.com/osvaldoandrade/pfmea/pkg/config"
	"github.com/osvaldoandrade/pfmea/web"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
)

type Application struct {
	Config          *config.Config
	Engine          *gin.Engine
	Redis           *redis.Client
	Backend         *backend.Client
	Sessions        services.SessionService
	Logger          *slog.Logger
	TZ              *time.Location
	RateLimiter     ratelimit.Limiter
	TracingShutdown func(context.Context) error
}

// ApplicationOption configures the Application
type ApplicationOption func(*Application) error

// WithHTTPClient sets the client used to reach the analysis backend.
func WithHTTPClient(hc *http.Client) ApplicationOption {
	return func(app *Application) error {
		app.Backend = app.newBackend(hc)
		return nil
	}
}

// WithRedisClient replaces the Redis client built from config.
func WithRedisClient(rdb *redis.Client) ApplicationOption {
	return func(app *Application) error {
		app.Redis = rdb
		return nil
	}
}

func (app *Application) newBackend(hc *http.Client) *backend.Client {
	pace := app.Config.RateLimit.Backend
	return backend.NewClient(app.Config.APIBaseURL, app.requestTimeout(), hc).
		WithRateLimit(pace.RequestsPerMinute, pace.BurstSize)
}

func (app *Application) requestTimeout() time.Duration {
	return time.Duration(app.Config.RequestTimeoutSeconds) * time.Second
}

func NewLogger(cfg *config.Config) *slog.Logger {
	level := new(slog.LevelVar)
	switch cfg.LogLevel {
	case "debug":
		level.Set(slog.LevelDebug)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	default:
		level.Set(slog.LevelInfo)
	}
	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler).With("service", "pfmea", "env", cfg.Env)
}

func NewApplication(cfg *config.Config, opts ...ApplicationOption) (*Application, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		loc = time.FixedZone("UTC", 0)
	}

	logger := NewLogger(cfg)
	slog.SetDefault(logger)

	app := &Application{
		Config: cfg,
		Logger: logger,
		TZ:     loc,
	}
	// Apply options
	for _, opt := range opts {
		if err := opt(app); err != nil {
			return nil, err
		}
	}
	if app.Redis == nil {
		app.Redis = providers.NewRedisProvider(cfg.RedisAddr, cfg.RedisPassword)
	}
	if app.Backend == nil {
		app.Backend = app.newBackend(nil)
	}

	shutdown, err := tracing.Setup(context.Background(), tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		ServiceName:  cfg.Tracing.ServiceName,
		Environment:  cfg.Env,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		OTLPInsecure: cfg.Tracing.OTLPInsecure,
		SampleRatio:  cfg.Tracing.SampleRatio,
	}, logger)
	if err != nil {
		return nil, err
	}
	app.TracingShutdown = shutdown

	metrics.RegisterRedisCollector(app.Redis, logger)
	app.RateLimiter = ratelimit.NewTokenBucketLimiter(app.Redis)

	now := func() time.Time { return time.Now().In(loc) }
	runner := pipeline.New(app.Backend, logger, now)
	repo := repository.NewSessionRepository(app.Redis, time.Duration(cfg.SessionTTLSeconds)*time.Second)
	store := providers.NewLocalArtifactStore(cfg.LocalArtifactsDir)
	app.Sessions = services.NewSessionService(repo, store, runner, app.requestTimeout(), logger, now)

	tmpl, err := web.ParseTemplates()
	if err != nil {
		return nil, err
	}
	engine := gin.New()
	engine.SetHTMLTemplate(tmpl)
	engine.Use(
		gin.Recovery(),
		middleware.RequestIDMiddleware(),
		middleware.LoggerMiddleware(logger),
		middleware.TracingMiddleware(cfg.Tracing.ServiceName),
	)
	app.Engine = engine

	return app, nil
}

// runSettleTimeout bounds how long cancelled runs get to record Failed.
const runSettleTimeout = 5 * time.Second

// Shutdown gives in-flight submissions until ctx expires, then cancels the
// rest so each records Failed, and flushes the trace exporter.
func (app *Application) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		app.Sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		app.Logger.Warn("cancelling submissions still running at shutdown")
		app.Sessions.Cancel()
		select {
		case <-done:
		case <-time.After(runSettleTimeout):
			app.Logger.Error("submissions did not settle after cancellation")
		}
	}
	if app.TracingShutdown != nil {
		flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), runSettleTimeout)
		defer cancel()
		return app.TracingShutdown(flushCtx)
	}
	return nil
}
