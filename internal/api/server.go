// Package api exposes the assistant over HTTP: a chat endpoint, a streamed
// variant, and the Atlassian connection flow.
package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/atlathelper/internal/agent"
	"github.com/atlathelper/internal/logging"
	"github.com/atlathelper/internal/token"
)

var log = logging.Component("api")

// Server is the assistant's HTTP server.
type Server struct {
	echo     *echo.Echo
	port     int
	agent    *agent.Supervisor
	tokens   token.Store
	loginURL string
}

// NewServer creates the API server. loginURL is the auth proxy's /login
// endpoint; the connect flow redirects there.
func NewServer(port int, sup *agent.Supervisor, tokens token.Store, loginURL string) *Server {
	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	server := &Server{
		echo:     e,
		port:     port,
		agent:    sup,
		tokens:   tokens,
		loginURL: loginURL,
	}
	server.setupRoutes()
	return server
}

func (s *Server) setupRoutes() {
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
	})
	s.echo.GET("/", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"service": "atlathelper",
			"chat":    "POST /agent/chat",
			"stream":  "POST /agent/chat/stream",
			"connect": "GET /auth/atlassian/login",
		})
	})

	s.echo.POST("/agent/chat", s.chat)
	s.echo.POST("/agent/chat/stream", s.chatStream)

	s.echo.GET("/auth/atlassian/login", s.authLogin)
	s.echo.GET("/auth/atlassian/callback", s.authCallback)
	s.echo.GET("/auth/atlassian/status", s.authStatus)
}

// Handler exposes the route tree for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start runs the server until interrupted, then shuts down gracefully.
func (s *Server) Start() error {
	go func() {
		log.Info().Int("port", s.port).Msg("API server listening")
		if err := s.echo.Start(fmt.Sprintf(":%d", s.port)); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("API server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.echo.Shutdown(ctx)
}
