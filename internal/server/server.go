package server

import (
	"context"
	"log/slog"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/replyflow/replyflow/internal/auth"
	"github.com/replyflow/replyflow/internal/handlers"
)

type Server struct {
	echo *echo.Echo
	addr string
}

func NewServer(
	log *slog.Logger,
	addr string,
	jwtSecret string,
	pingHandler *handlers.PingHandler,
	authHandler *handlers.AuthHandler,
	webhookHandler *handlers.WebhookHandler,
	dispatchHandler *handlers.DispatchHandler,
	trainingHandler *handlers.TrainingHandler,
) *Server {
	if log == nil {
		log = slog.Default()
	}
	if addr == "" {
		addr = ":8080"
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus: true,
		LogURI:    true,
		LogMethod: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log.Info("request",
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
				slog.String("remote_ip", c.RealIP()),
			)
			return nil
		},
	}))
	e.Use(auth.JWTMiddleware(jwtSecret, func(c echo.Context) bool {
		return shouldSkipJWT(c.Request().URL.Path)
	}))

	if pingHandler != nil {
		pingHandler.Register(e)
	}
	if authHandler != nil {
		authHandler.Register(e)
	}
	if webhookHandler != nil {
		webhookHandler.Register(e)
	}
	if dispatchHandler != nil {
		dispatchHandler.Register(e)
	}
	if trainingHandler != nil {
		trainingHandler.Register(e)
	}

	return &Server{
		echo: e,
		addr: addr,
	}
}

// shouldSkipJWT exempts provider webhooks and the public surface from
// dashboard auth. Webhook authenticity is checked per provider (Meta
// verification handshake); JWT would break upstream delivery.
func shouldSkipJWT(path string) bool {
	if path == "/ping" || path == "/health" || path == "/auth/login" {
		return true
	}
	return strings.HasPrefix(path, "/webhooks/")
}

func (s *Server) Start() error {
	return s.echo.Start(s.addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
