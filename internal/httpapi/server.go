package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"dogechat/server/internal/core"
	"dogechat/server/internal/metrics"
	"dogechat/server/internal/protocol"
	"dogechat/server/internal/ws"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Hub is what the HTTP layer needs from core.Hub.
type Hub interface {
	ws.Hub
	Rooms(ctx context.Context) ([]protocol.RoomSummary, error)
	Stats() core.Stats
}

// Server is the Echo application.
type Server struct {
	echo *echo.Echo
	hub  Hub
}

// New constructs an Echo app with the websocket, status and metrics routes.
func New(hub Hub) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		HandleError: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			slog.Debug("[http]", "method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency)
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.Use(recordMetrics)

	s := &Server{echo: e, hub: hub}
	s.registerRoutes()
	return s
}

// Echo exposes the underlying Echo instance for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/api/state", s.handleState)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	ws.NewHandler(s.hub).Register(s.echo)
}

// Run starts Echo and blocks until ctx cancellation or startup failure.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		err := s.echo.Start(addr)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.echo.Shutdown(shutCtx)
		return nil
	}
}

// recordMetrics counts requests by route template so path parameters never
// become label values. Websocket upgrades are skipped; their duration is the
// lifetime of the connection.
func recordMetrics(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if c.Path() == ws.Path {
			return next(c)
		}
		start := time.Now()
		err := next(c)

		status := c.Response().Status
		var httpErr *echo.HTTPError
		if errors.As(err, &httpErr) {
			status = httpErr.Code
		}
		path := c.Path()
		if path == "" {
			path = "unmatched"
		}
		method := c.Request().Method
		metrics.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
		return err
	}
}

type healthResponse struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
	Rooms       int    `json:"rooms"`
}

func (s *Server) handleHealth(c echo.Context) error {
	stats := s.hub.Stats()
	return c.JSON(http.StatusOK, healthResponse{
		Status:      "ok",
		Connections: stats.Connections,
		Rooms:       stats.Rooms,
	})
}

type stateResponse struct {
	Rooms []protocol.RoomSummary `json:"rooms"`
}

func (s *Server) handleState(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	rooms, err := s.hub.Rooms(ctx)
	if err != nil {
		if errors.Is(err, core.ErrHubStopped) {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "server is shutting down")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if rooms == nil {
		rooms = []protocol.RoomSummary{}
	}
	return c.JSON(http.StatusOK, stateResponse{Rooms: rooms})
}
