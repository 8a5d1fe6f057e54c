// Package http provides the internal HTTP server for the relay.
package http

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/xiaot623/gogo/relay/internal/hub"
	"github.com/xiaot623/gogo/relay/internal/logging"
	"github.com/xiaot623/gogo/relay/internal/protocol"
)

// Server is the internal HTTP server for the relay.
type Server struct {
	echo   *echo.Echo
	hub    *hub.Hub
	logger zerolog.Logger
}

// NewServer creates a new internal HTTP server.
func NewServer(h *hub.Hub, logger zerolog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(logging.RequestLogger(logger))
	e.Use(middleware.Recover())

	s := &Server{
		echo:   e,
		hub:    h,
		logger: logger.With().Str("component", "http").Logger(),
	}

	// Register routes
	e.GET("/health", s.handleHealth)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.POST("/internal/send", s.handleInternalSend)

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":      "healthy",
		"connections": s.hub.Count(),
		"keys":        s.hub.Keys(),
	})
}

// SendRequest represents the request body for POST /internal/send.
type SendRequest struct {
	Target   string          `json:"target"`
	Envelope json.RawMessage `json:"envelope"`
}

// SendResponse represents the response for POST /internal/send.
type SendResponse struct {
	OK        bool `json:"ok"`
	Delivered bool `json:"delivered"`
}

// handleInternalSend pushes a server-originated envelope to one endpoint.
func (s *Server) handleInternalSend(c echo.Context) error {
	var req SendRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	if req.Target == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "target is required"})
	}

	if len(req.Envelope) == 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "envelope is required"})
	}

	env, err := protocol.Parse(req.Envelope)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "envelope must be a JSON object"})
	}

	if err := s.hub.Route(protocol.ServerSender, req.Target, env); err != nil {
		s.logger.Debug().Err(err).Str("target", req.Target).Msg("internal send not delivered")
		return c.JSON(http.StatusOK, SendResponse{OK: true, Delivered: false})
	}

	s.logger.Info().Str("target", req.Target).Str("type", env.Kind()).Msg("internal send delivered")

	return c.JSON(http.StatusOK, SendResponse{
		OK:        true,
		Delivered: true,
	})
}
