package app

import (
	"context"

	"github.com/osvaldoandrade/pfmea/internal/controllers"
	"github.com/osvaldoandrade/pfmea/internal/middleware"
	"github.com/osvaldoandrade/pfmea/internal/providers"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func SetupMappings(app *Application) {
	app.Engine.GET("/healthz", controllers.NewHealthController(map[string]controllers.HealthCheck{
		"redis": func(ctx context.Context) error { return providers.PingRedis(ctx, app.Redis) },
	}).Handle)
	app.Engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	app.Engine.GET("/options", controllers.NewOptionsController().Handle)

	ttl := app.Config.SessionTTLSeconds
	wizard := app.Engine.Group("", middleware.SessionMiddleware(ttl, app.Config.CookieSecure))
	{
		wizard.GET("/", controllers.NewFormPageController(app.Sessions).Handle)
		wizard.GET("/state", controllers.NewStateController(app.Sessions).Handle)
		wizard.POST("/submit",
			middleware.RateLimitSubmit(app.RateLimiter, app.Config),
			controllers.NewSubmitController(app.Sessions, app.Config.MaxUploadBytes).Handle,
		)
		wizard.POST("/preview/toggle", controllers.NewTogglePreviewController(app.Sessions).Handle)
		wizard.POST("/error/dismiss", controllers.NewDismissErrorController(app.Sessions).Handle)
		wizard.POST("/reset", controllers.NewResetController(app.Sessions).Handle)
		wizard.GET("/preview", controllers.NewPreviewController(app.Sessions).Handle)
		wizard.GET("/download", controllers.NewDownloadController(app.Sessions).Handle)
	}
}
