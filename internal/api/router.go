package api

import (
	"github.com/datallboy/gonzbd/internal/api/controllers"
	"github.com/datallboy/gonzbd/internal/app"
	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
)

func RegisterRoutes(e *echo.Echo, app *app.Context) {

	// Middleware: Request Logger
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c *echo.Context, v middleware.RequestLoggerValues) error {
			app.Logger.Info("%s %s | %d | %s", v.Method, v.URI, v.Status, v.Latency)
			return nil
		},
	}))

	queueCtrl := &controllers.QueueController{App: app}

	// Queue control surface (what the CLI talks to)
	e.GET("/api/queue", queueCtrl.List)
	e.POST("/api/queue", queueCtrl.Enqueue)
	e.DELETE("/api/queue/:ids", queueCtrl.Dequeue)
	e.POST("/api/queue/:id/front", queueCtrl.MoveToFront)
	e.POST("/api/queue/:id/back", queueCtrl.MoveToBack)
	e.POST("/api/queue/:id/index/:index", queueCtrl.MoveToIndex)
	e.POST("/api/queue/:id/up", queueCtrl.MoveUp)
	e.POST("/api/queue/:id/down", queueCtrl.MoveDown)

	e.POST("/api/pause", queueCtrl.Pause)
	e.POST("/api/resume", queueCtrl.Resume)

	e.GET("/api/history", queueCtrl.History)
}
