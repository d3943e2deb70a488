package api

import (
	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/msgvault/msgvault/internal/api/controllers"
	"github.com/msgvault/msgvault/internal/app"
)

func RegisterRoutes(e *echo.Echo, appCtx *app.Context) {

	// Middleware: Request Logger
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c *echo.Context, v middleware.RequestLoggerValues) error {
			appCtx.Logger.Info("%s %s | %d | %s", v.Method, v.URI, v.Status, v.Latency)
			return nil
		},
	}))

	tasks := &controllers.TasksController{App: appCtx}
	pool := &controllers.PoolController{App: appCtx}

	e.GET("/api/tasks", tasks.List)
	e.POST("/api/uploads", tasks.AddUploads)
	e.POST("/api/downloads", tasks.AddDownloads)
	e.POST("/api/tasks/:id/pause", tasks.Pause)
	e.POST("/api/tasks/:id/resume", tasks.Resume)
	e.POST("/api/tasks/:id/cancel", tasks.Cancel)

	e.GET("/api/pool/stats", pool.Stats)
	e.POST("/api/pool/stats/reset", pool.ResetStats)
}
