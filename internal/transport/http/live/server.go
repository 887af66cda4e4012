// Package livehttp serves the operator API: agent control, ledger queries,
// manual orders and the auto-trade switch.
package livehttp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"roboai/internal/agent"
	"roboai/internal/execution"
	"roboai/internal/logger"
	"roboai/internal/metrics"

	"github.com/gin-gonic/gin"
)

type Server struct {
	addr   string
	router *gin.Engine
	log    *slog.Logger
}

type ServerConfig struct {
	Addr       string
	Registry   *agent.Registry
	Core       *execution.Core
	Ledger     Ledger
	Switch     AutoTradeSwitch
	Connection ConnectionFunc
	Logger     *slog.Logger
}

func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Registry == nil || cfg.Core == nil {
		return nil, errors.New("http server requires the agent registry and execution core")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9991"
	}
	log := logger.Component(cfg.Logger, "http")
	schema, err := compileOrderSchema()
	if err != nil {
		return nil, fmt.Errorf("order schema: %w", err)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(log))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "mode": cfg.Core.Mode()})
	})
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := &Router{
		Registry:    cfg.Registry,
		Core:        cfg.Core,
		Ledger:      cfg.Ledger,
		Switch:      cfg.Switch,
		Connection:  cfg.Connection,
		orderSchema: schema,
		log:         log,
	}
	api.Register(router.Group("/api"))

	return &Server{addr: cfg.Addr, router: router, log: log}, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

func requestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if q := c.Request.URL.RawQuery; q != "" {
			path += "?" + q
		}
		c.Next()
		log.Debug("http request",
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"ip", c.ClientIP(),
			"dur", time.Since(start),
		)
	}
}

func (s *Server) Addr() string {
	if s == nil {
		return ""
	}
	return s.addr
}

// Start serves until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	srv := &http.Server{Addr: s.addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.log.Info("http server listening", "addr", s.addr)

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
