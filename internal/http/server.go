// Package http provides the supportd HTTP API: chat (plain and streamed),
// conversation cancel, the agent catalog and health.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/supportd/internal/chat"
	"github.com/fyrsmithlabs/supportd/internal/events"
	"github.com/fyrsmithlabs/supportd/internal/logging"
	"github.com/fyrsmithlabs/supportd/internal/registry"
	"github.com/fyrsmithlabs/supportd/internal/telemetry"
)

// Agents is the provider catalog the server exposes.
type Agents interface {
	List() []*registry.Connection
	Register(ctx context.Context, address, name string) (*registry.Connection, error)
}

// Subscriber delivers conversation events for streaming.
type Subscriber interface {
	Subscribe(conversationID string) (*events.Subscription, error)
	Connected() bool
}

// Server provides HTTP endpoints for supportd.
type Server struct {
	echo    *echo.Echo
	chat    *chat.Service
	agents  Agents
	events  Subscriber
	logger  *logging.Logger
	config  *Config
	metrics *HTTPMetrics
}

// Config holds HTTP server configuration.
type Config struct {
	Host    string
	Port    int
	Version string
	// StreamGrace bounds how long a stream waits for the done event after
	// the chat handler returned.
	StreamGrace time.Duration
	// Heartbeat is the SSE keep-alive interval.
	Heartbeat time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithEvents enables event-bus backed streaming. Without it streams
// report only the final message.
func WithEvents(s Subscriber) Option {
	return func(srv *Server) { srv.events = s }
}

// WithTelemetry records HTTP metrics on tel.
func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(srv *Server) { srv.metrics = NewHTTPMetrics(tel, srv.logger) }
}

// NewServer creates a new HTTP server.
func NewServer(svc *chat.Service, agents Agents, logger *logging.Logger, cfg *Config, opts ...Option) (*Server, error) {
	if svc == nil {
		return nil, fmt.Errorf("chat service cannot be nil")
	}
	if agents == nil {
		return nil, fmt.Errorf("agent catalog cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{Host: "localhost", Port: 8080}
	}
	if cfg.StreamGrace <= 0 {
		cfg.StreamGrace = 2 * time.Second
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 30 * time.Second
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:   e,
		chat:   svc,
		agents: agents,
		logger: logger,
		config: cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = NewHTTPMetrics(nil, logger)
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.metrics.MetricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			reqID := c.Response().Header().Get(echo.HeaderXRequestID)
			ctx := logging.WithRequestID(c.Request().Context(), reqID)
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)

			logger.Info(ctx, "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
			)
			return err
		}
	})

	s.registerRoutes()
	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := s.echo.Group("/api")
	api.POST("/chat", s.handleChat)
	api.GET("/chat/stream", s.handleStream)
	api.POST("/chat/stream", s.handleStream)
	api.DELETE("/chat/:conversation_id", s.handleCancel)
	api.GET("/agents", s.handleAgents)
	api.POST("/agents/register", s.handleRegister)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.echo }

func (s *Server) handleHealth(c echo.Context) error {
	conns := s.agents.List()
	names := make([]string, len(conns))
	for i, conn := range conns {
		names[i] = conn.Name
	}
	resp := HealthResponse{
		Status:               "ok",
		Version:              s.config.Version,
		AgentsConnectedCount: len(conns),
		AgentNames:           names,
		ActiveConversations:  len(s.chat.Sessions().List()),
	}
	if len(conns) == 0 {
		resp.Status = "degraded"
	}
	if s.events != nil {
		resp.EventBus = "connected"
		if !s.events.Connected() {
			resp.EventBus = "disconnected"
			resp.Status = "degraded"
		}
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleChat(c echo.Context) error {
	var req chat.Request
	if err := c.Bind(&req); err != nil {
		s.logger.Warn(c.Request().Context(), "invalid chat request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	resp, err := s.chat.Handle(c.Request().Context(), req)
	if resp == nil {
		return chatError(err)
	}
	return c.JSON(statusFor(err), resp)
}

// chatError maps errors that come without a chat response.
func chatError(err error) error {
	switch {
	case errors.Is(err, chat.ErrInvalidConversation):
		return echo.NewHTTPError(http.StatusBadRequest, "invalid conversation_id")
	case errors.Is(err, events.ErrSessionActive):
		return echo.NewHTTPError(http.StatusConflict, "conversation already has an active request")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "chat request failed")
	}
}

// statusFor picks the HTTP status for a chat response. Rejections and
// escalations are answers to the user and return 200.
func statusFor(err error) int {
	if errors.Is(err, chat.ErrUnavailable) {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

func (s *Server) handleCancel(c echo.Context) error {
	id := c.Param("conversation_id")
	if !events.ValidConversationID(id) {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid conversation_id")
	}
	if !s.chat.Cancel(id) {
		return echo.NewHTTPError(http.StatusNotFound, "no active request for conversation")
	}
	return c.JSON(http.StatusOK, CancelResponse{Success: true, ConversationID: id})
}

func (s *Server) handleAgents(c echo.Context) error {
	conns := s.agents.List()
	out := make([]AgentInfo, len(conns))
	for i, conn := range conns {
		out[i] = AgentInfo{Name: conn.Name, Description: conn.Description(), Address: conn.Address}
		for _, skill := range conn.Card.Skills {
			out[i].Skills = append(out[i].Skills, skill.Name)
		}
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleRegister(c echo.Context) error {
	var req RegisterRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Address == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "address field is required")
	}

	conn, err := s.agents.Register(c.Request().Context(), req.Address, req.Name)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, registry.ErrInvalidAddress) || errors.Is(err, registry.ErrInvalidName) {
			status = http.StatusBadRequest
		}
		s.logger.Warn(c.Request().Context(), "agent registration failed",
			zap.String("address", req.Address), zap.Error(err))
		return c.JSON(status, RegisterResponse{Address: req.Address, Error: err.Error()})
	}
	return c.JSON(http.StatusOK, RegisterResponse{Success: true, AgentName: conn.Name, Address: conn.Address})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
