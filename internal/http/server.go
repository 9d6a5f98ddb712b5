// Package http provides the HTTP API for pdcad.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/pdcad/internal/board"
	"github.com/fyrsmithlabs/pdcad/internal/jobs"
	"github.com/fyrsmithlabs/pdcad/internal/ledger"
	"github.com/fyrsmithlabs/pdcad/internal/orchestrator"
	"github.com/fyrsmithlabs/pdcad/internal/phase"
	"github.com/fyrsmithlabs/pdcad/internal/team"
)

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// Server provides HTTP endpoints for pdcad.
type Server struct {
	echo    *echo.Echo
	orch    *orchestrator.Orchestrator
	ledger  *ledger.Store
	board   *board.Board
	teamDir *team.Directory
	logger  *zap.Logger
	config  *Config
}

// NewServer creates a new HTTP server.
func NewServer(
	cfg *Config,
	orch *orchestrator.Orchestrator,
	ledgerStore *ledger.Store,
	taskBoard *board.Board,
	teamDir *team.Directory,
	logger *zap.Logger,
) (*Server, error) {
	if orch == nil || ledgerStore == nil || taskBoard == nil || teamDir == nil {
		return nil, fmt.Errorf("all services are required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 9292,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:    e,
		orch:    orch,
		ledger:  ledgerStore,
		board:   taskBoard,
		teamDir: teamDir,
		logger:  logger,
		config:  cfg,
	}

	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)

	v1 := s.echo.Group("/api/v1")
	v1.GET("/jobs/:id", s.handleJobStatus)
	v1.POST("/phase", s.handlePhaseUpdate)
	v1.GET("/phase", s.handlePhaseState)
	v1.GET("/team", s.handleTeam)
	v1.GET("/board", s.handleBoard)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleJobStatus(c echo.Context) error {
	res, err := s.orch.Status(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "job not found")
		}
		return err
	}
	return c.JSON(http.StatusOK, res)
}

// PhaseUpdateRequest is the request body for POST /api/v1/phase.
type PhaseUpdateRequest struct {
	Feature  string `json:"feature,omitempty"`
	Phase    string `json:"phase"`
	Document string `json:"document,omitempty"`
	Override bool   `json:"override,omitempty"`
}

// PhaseUpdateResponse is the response body for POST /api/v1/phase.
type PhaseUpdateResponse struct {
	Feature string `json:"feature"`
	Phase   string `json:"phase"`
}

func (s *Server) handlePhaseUpdate(c echo.Context) error {
	var req PhaseUpdateRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid phase update request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Phase == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "phase field is required")
	}

	p, err := phase.Parse(req.Phase)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx := c.Request().Context()
	snap, err := s.ledger.Get(ctx)
	if err != nil {
		return err
	}
	resolved, err := snap.ApplyPhaseTransition(req.Feature, p, ledger.SourceManual, ledger.TransitionOptions{Override: req.Override})
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrNoFeature):
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		case errors.Is(err, ledger.ErrPhaseSkip), errors.Is(err, ledger.ErrPhaseRegression):
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return err
	}
	if req.Document != "" {
		if _, err := snap.ApplyDocument(resolved, phase.DocTypeForPhase(p), req.Document); err != nil {
			return err
		}
	}
	if err := s.ledger.Save(ctx, snap); err != nil {
		return err
	}

	return c.JSON(http.StatusOK, PhaseUpdateResponse{
		Feature: resolved,
		Phase:   string(snap.Features[resolved].Phase),
	})
}

func (s *Server) handlePhaseState(c echo.Context) error {
	snap, err := s.ledger.Get(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, snap)
}

func (s *Server) handleTeam(c echo.Context) error {
	list, err := s.teamDir.List(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, list)
}

func (s *Server) handleBoard(c echo.Context) error {
	items, err := s.board.List(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, items)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
