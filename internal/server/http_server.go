package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/blinkdate/matchmaking/internal/app"
	"github.com/blinkdate/matchmaking/internal/metrics"
)

// Server owns the HTTP engine and its lifecycle.
type Server struct {
	appCtx *app.AppContext
	httpd  *http.Server
	engine *gin.Engine
}

// New builds the gin engine, installs the shared middleware and mounts
// every registrar's routes.
func New(appCtx *app.AppContext, registrars ...Registrar) *Server {
	if appCtx.Config.App.ENV == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	e := gin.New()
	e.Use(gin.Recovery())
	e.Use(HTTPMetrics())
	e.Use(NewRateLimiter(20, 40).Handler())

	corsCfg := cors.DefaultConfig()
	if len(appCtx.Config.HTTP.CORSOrigins) == 1 && appCtx.Config.HTTP.CORSOrigins[0] == "*" {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = appCtx.Config.HTTP.CORSOrigins
	}
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization")
	e.Use(cors.New(corsCfg))

	e.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	e.GET("/metrics", gin.WrapH(metrics.Handler()))

	for _, r := range registrars {
		r.Register(e)
	}

	addr := net.JoinHostPort(appCtx.Config.HTTP.Host, appCtx.Config.HTTP.Port)
	return &Server{
		appCtx: appCtx,
		engine: e,
		httpd: &http.Server{
			Addr:              addr,
			Handler:           e,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Engine exposes the underlying gin engine, mainly for tests.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.appCtx.Logger.Info("http server listening", "addr", s.httpd.Addr)
	if err := s.httpd.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.appCtx.Logger.Info("http server shutting down")
	return s.httpd.Shutdown(ctx)
}
