package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Server struct {
	http   *http.Server
	logger *slog.Logger
}

// NewRouter builds the control API. Every route except /ping and /metrics
// requires the X-Agent-Secret header.
func NewRouter(secret string, h *Handler, logger *slog.Logger) *gin.Engine {
	router := gin.New()
	router.Use(RecoveryMiddleware(logger))
	router.Use(LoggingMiddleware(logger))
	router.Use(AuthMiddleware(secret))

	router.GET("/ping", h.Ping)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/stats", h.Stats)
	router.POST("/benchmark", h.StartBenchmark)
	router.GET("/benchmark", h.LastBenchmark)
	router.POST("/mining", h.StartMining)
	router.DELETE("/mining", h.StopMining)

	return router
}

func New(port int, secret string, h *Handler, logger *slog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &http.Server{
		Addr:              fmt.Sprintf("0.0.0.0:%d", port),
		Handler:           NewRouter(secret, h, logger),
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return &Server{http: s, logger: logger}
}

// Start blocks until the server stops. A graceful Shutdown is not an error.
func (s *Server) Start() error {
	s.logger.Info("control API listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
