package server

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// RegisterRoutes registers all API routes with the Echo instance
func RegisterRoutes(e *echo.Echo, h *Handler) {
	api := e.Group("/api")
	api.GET("/health", h.HandleHealth)

	api.POST("/ingest", h.HandleIngest)
	api.GET("/queue", h.HandleQueue)

	api.GET("/documents", h.HandleDocuments)
	api.DELETE("/documents/:id", h.HandleDeleteDocument)

	api.GET("/runs", h.HandleRuns)
	api.GET("/runs/:id", h.HandleRun)
}

// SetupMiddleware configures common middleware
func SetupMiddleware(e *echo.Echo, debug bool) {
	e.HTTPErrorHandler = NewErrorHandler(debug)

	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("1M"))
	if debug {
		e.Use(middleware.Logger())
	}
}

// New builds a configured Echo instance serving h
func New(h *Handler, debug bool) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	SetupMiddleware(e, debug)
	RegisterRoutes(e, h)
	return e
}
