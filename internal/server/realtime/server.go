package realtime

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"nhooyr.io/websocket"

	"github.com/creat233/finderid/internal/common"
	"github.com/creat233/finderid/internal/logging"
	"github.com/creat233/finderid/internal/server/auth"
)

// HealthCheck reports whether a dependency of the server is usable.
type HealthCheck func(ctx context.Context) error

type Options struct {
	Address   string
	JWTSecret []byte
	Hub       *Hub
	Health    HealthCheck
	// OriginPatterns are the extra websocket origins accepted besides the
	// request host.
	OriginPatterns []string
}

type Server struct {
	opts   Options
	app    *echo.Echo
	logger logging.Logger
}

func NewServer(opts Options, logger logging.Logger) *Server {
	s := &Server{
		opts:   opts,
		app:    echo.New(),
		logger: logger.With("module", "http_server"),
	}
	s.setup()
	return s
}

func (s *Server) setup() {
	s.app.HideBanner = true
	s.app.HidePort = true
	s.app.Pre(middleware.RemoveTrailingSlash())
	s.app.Use(middleware.Recover())

	s.app.GET("/healthz", s.health)
	s.app.GET("/realtime", s.realtime)
}

func (s *Server) health(c echo.Context) error {
	if s.opts.Health != nil {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		if err := s.opts.Health(ctx); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		}
	}
	return c.JSON(http.StatusOK, map[string]any{"status": "ok", "peers": s.opts.Hub.Peers()})
}

// realtime upgrades the request. An access token is optional; an invalid
// one is rejected before the upgrade.
func (s *Server) realtime(c echo.Context) error {
	var userID string
	if token := c.QueryParam(common.AccessTokenHeaderName); token != "" {
		id, err := auth.GetUserIDFromToken(token, s.opts.JWTSecret)
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
		}
		userID = id
	}

	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		OriginPatterns: s.opts.OriginPatterns,
	})
	if err != nil {
		return nil
	}
	defer conn.CloseNow()

	ctx := c.Request().Context()
	s.logger.Debug(ctx, "realtime peer connected", "user_id", userID)
	s.opts.Hub.serve(ctx, conn, userID)
	s.logger.Debug(ctx, "realtime peer left", "user_id", userID)
	return nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.app.ServeHTTP(w, r)
}

// Run serves until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info(ctx, "Starting HTTP server", "address", s.opts.Address)
		errCh <- s.app.Start(s.opts.Address)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info(ctx, "Stopping HTTP server...")
	s.opts.Hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.app.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
