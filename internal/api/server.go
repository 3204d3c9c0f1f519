package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/omnirouter/internal/api/auth"
	apimw "github.com/omnirouter/internal/api/middleware"
	"github.com/omnirouter/internal/capture"
	"github.com/omnirouter/internal/conversation"
	"github.com/omnirouter/internal/core_processor"
	"github.com/omnirouter/internal/logging"
	"github.com/omnirouter/internal/providers"
)

// DeliverySubmitter accepts verified webhook deliveries for background processing.
type DeliverySubmitter interface {
	Submit(d core_processor.Delivery) error
}

// AgentReplier sends a human agent's reply on a conversation.
type AgentReplier interface {
	SendAgentReply(ctx context.Context, conversationID, text string) error
}

// Options configure the HTTP surface.
type Options struct {
	Port            int
	BodyLimit       string // echo size notation, default "1M"
	ShutdownTimeout time.Duration
	JWTSecret       string // agent reply endpoint is disabled when empty
}

// Dependencies are the collaborators behind the handlers.
type Dependencies struct {
	Adapters      *providers.Registry
	Integrations  conversation.IntegrationRepo
	Conversations conversation.ConversationRepo
	Deliveries    DeliverySubmitter
	Replies       AgentReplier
	Recorder      *capture.Recorder
	Logger        logging.Logger
	Now           func() time.Time
}

// Server represents the API server
type Server struct {
	echo   *echo.Echo
	opts   Options
	deps   Dependencies
	logger logging.Logger
}

// NewServer creates a new API server
func NewServer(opts Options, deps Dependencies) *Server {
	if opts.BodyLimit == "" {
		opts.BodyLimit = "1M"
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.RequestID())
	e.Use(apimw.RequestLogger(deps.Logger))
	e.Use(middleware.Recover())

	server := &Server{
		echo:   e,
		opts:   opts,
		deps:   deps,
		logger: logging.Component(deps.Logger, "api"),
	}

	server.setupRoutes()

	return server
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// setupRoutes configures all API endpoints
func (s *Server) setupRoutes() {
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status": "healthy",
		})
	})

	hooks := s.echo.Group("/webhooks", middleware.BodyLimit(s.opts.BodyLimit))
	hooks.GET("/:platform/:org_id", s.handleHandshake)
	hooks.POST("/:platform/:org_id", s.handleDelivery)

	if s.opts.JWTSecret == "" {
		s.logger.Info().Msg("agent reply endpoint disabled, no jwt secret configured")
		return
	}
	tokens := auth.NewTokenService(s.opts.JWTSecret)
	v1 := s.echo.Group("/api/v1", auth.RequireAuth(tokens))
	v1.POST("/conversations/:id/replies", s.handleAgentReply)
}

// Start serves until ctx is cancelled, then shuts down gracefully within the configured
// timeout.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Int("port", s.opts.Port).Msg("http server listening")
		if err := s.echo.Start(fmt.Sprintf(":%d", s.opts.Port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	s.logger.Info().Msg("shutting down http server")
	return s.echo.Shutdown(shutdownCtx)
}
