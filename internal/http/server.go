// Package http provides the recalld HTTP API.
package http

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/assembler"
	"github.com/fyrsmithlabs/recalld/internal/chat"
	"github.com/fyrsmithlabs/recalld/internal/coordinator"
	"github.com/fyrsmithlabs/recalld/internal/generation"
	"github.com/fyrsmithlabs/recalld/internal/logging"
)

// Ingester applies message writes.
type Ingester interface {
	Create(ctx context.Context, in chat.Inbound) (coordinator.Result, error)
	CreateBatch(ctx context.Context, batch []chat.Inbound) (coordinator.BatchResult, error)
	Update(ctx context.Context, id, content string, editedAt time.Time) (coordinator.Result, error)
	Delete(ctx context.Context, id string) error
}

// Records is the read side of the relational store.
type Records interface {
	GetMessage(ctx context.Context, id string) (*chat.Message, error)
	GetUser(ctx context.Context, id string) (*chat.User, error)
	GetAllUsers(ctx context.Context) ([]chat.User, error)
	UpdateUser(ctx context.Context, id string, patch chat.UserPatch) error
	Ping(ctx context.Context) error
}

// ContextBuilder assembles retrieval context.
type ContextBuilder interface {
	Build(ctx context.Context, req assembler.Request) (*assembler.Context, error)
}

// Deps are the services behind the API. Generator is optional.
type Deps struct {
	Ingester  Ingester
	Records   Records
	Assembler ContextBuilder
	Generator generation.Generator
}

// Config holds HTTP server configuration.
type Config struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`

	// Persona is the preamble of every rendered prompt.
	Persona string `koanf:"persona"`

	// MaxBatchSize caps POST /api/v1/messages/batch.
	// Default: 500
	MaxBatchSize int `koanf:"max_batch_size"`
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 9090
	}
	if c.MaxBatchSize == 0 {
		c.MaxBatchSize = 500
	}
}

// Server provides HTTP endpoints for recalld.
type Server struct {
	echo    *echo.Echo
	deps    Deps
	logger  *zap.Logger
	config  *Config
	metrics *HTTPMetrics
}

// NewServer creates a new HTTP server.
func NewServer(deps Deps, logger *zap.Logger, cfg *Config) (*Server, error) {
	if deps.Ingester == nil || deps.Records == nil || deps.Assembler == nil {
		return nil, errors.New("ingester, records and assembler are required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.ApplyDefaults()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:    e,
		deps:    deps,
		logger:  logger,
		config:  cfg,
		metrics: NewHTTPMetrics(logger),
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.metrics.MetricsMiddleware())
	requestLog := logging.Wrap(logger)
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			ctx := logging.WithRequestID(req.Context(), c.Response().Header().Get(echo.HeaderXRequestID))
			c.SetRequest(req.WithContext(ctx))

			if err := next(c); err != nil {
				c.Error(err)
			}
			requestLog.Info(ctx, "http request",
				zap.String("method", req.Method),
				zap.String("uri", req.RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
			)
			return nil
		}
	})

	s.registerRoutes()
	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/messages", s.handleCreateMessage)
	v1.POST("/messages/batch", s.handleCreateBatch)
	v1.GET("/messages/:id", s.handleGetMessage)
	v1.PUT("/messages/:id", s.handleUpdateMessage)
	v1.DELETE("/messages/:id", s.handleDeleteMessage)

	v1.GET("/users", s.handleListUsers)
	v1.GET("/users/:id", s.handleGetUser)
	v1.PATCH("/users/:id", s.handleUpdateUser)

	v1.POST("/context", s.handleContext)
}

// Handler exposes the router, for tests and embedding.
func (s *Server) Handler() *echo.Echo {
	return s.echo
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
