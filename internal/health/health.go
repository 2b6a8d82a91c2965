// Package health serves liveness and feed watermark status over HTTP.
package health

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/samber/lo"

	"github.com/0x0BSoD/chess-bot/internal/model"
)

type FeedLister interface {
	List(ctx context.Context) ([]model.FeedRecord, error)
}

type feedStatus struct {
	ID          string    `json:"id"`
	LastUpdated time.Time `json:"last_updated"`
}

type Server struct {
	echo  *echo.Echo
	addr  string
	feeds FeedLister
}

func New(addr string, feeds FeedLister) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{echo: e, addr: addr, feeds: feeds}

	e.GET("/healthz", s.healthz)
	e.GET("/feeds", s.listFeeds)

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves until ctx is done, then shuts the server down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("health server listening", "addr", s.addr)
		errCh <- s.echo.Start(s.addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	}
}

func (s *Server) healthz(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

func (s *Server) listFeeds(c echo.Context) error {
	records, err := s.feeds.List(c.Request().Context())
	if err != nil {
		slog.Error("failed to list feeds", "err", err)
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "storage unavailable"})
	}

	return c.JSON(http.StatusOK, lo.Map(records, func(r model.FeedRecord, _ int) feedStatus {
		return feedStatus{ID: r.ID, LastUpdated: r.LastUpdatedTime()}
	}))
}
