package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzhttp"
	"go.uber.org/zap"

	httpapi "github.com/GriffinCanCode/AgentOS/preview/internal/api/http"
	"github.com/GriffinCanCode/AgentOS/preview/internal/api/middleware"
	"github.com/GriffinCanCode/AgentOS/preview/internal/api/ws"
	"github.com/GriffinCanCode/AgentOS/preview/internal/app"
	"github.com/GriffinCanCode/AgentOS/preview/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/preview/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/preview/internal/infrastructure/tracing"
)

const wsPrefix = "/ws/"

// Server wraps the HTTP server and dependencies
type Server struct {
	app       *app.App
	router    *gin.Engine
	handler   http.Handler
	wsHandler *ws.Handler
	http      *http.Server
	config    *config.Config
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config, opts ...app.Option) (*Server, error) {
	a, err := app.New(cfg, opts...)
	if err != nil {
		return nil, err
	}
	logger := a.Logger

	logger.Info("Initializing preview server",
		zap.String("port", cfg.Server.Port),
		zap.Bool("remote_boundaries", cfg.Session.BoundaryURL != ""),
		zap.Bool("generator", a.Generator != nil),
	)

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(logger.Component("http")))
	router.Use(tracing.HTTPMiddleware(a.Tracer))
	router.Use(monitoring.Middleware(a.Metrics))

	cors := middleware.DefaultCORSConfig()
	if len(cfg.Server.AllowedOrigins) > 0 {
		cors.AllowOrigins = cfg.Server.AllowedOrigins
	}
	router.Use(middleware.CORS(cors))

	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	apiOpts := []httpapi.Option{
		httpapi.WithMetrics(a.Metrics),
		httpapi.WithLogger(logger.Component("api")),
		httpapi.WithLimits(httpapi.Limits{
			MaxSourceBytes: cfg.Sandbox.MaxSourceBytes,
			RenderTimeout:  renderTimeout(cfg),
		}),
	}
	if a.Generator != nil {
		apiOpts = append(apiOpts, httpapi.WithGenerator(a.Generator))
	}
	handlers := httpapi.NewHandlers(a.Controller, apiOpts...)
	handlers.Register(router)

	wsHandler := ws.NewHandler(a.Controller, a.Sandbox,
		ws.WithLogger(logger.Component("ws")),
		ws.WithMetrics(a.Metrics),
		ws.WithSanitizer(handlers.Sanitize),
		ws.WithCheckOrigin(originChecker(cfg.Server.AllowedOrigins)),
	)
	router.GET(wsPrefix+"boundary", wsHandler.HandleBoundary)
	router.GET(wsPrefix+"sessions/:id", wsHandler.HandleSession)

	s := &Server{
		app:       a,
		router:    router,
		handler:   router,
		wsHandler: wsHandler,
		config:    cfg,
	}
	if cfg.Server.Gzip {
		s.handler = compressed(router)
	}
	s.http = &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server initialized successfully")
	return s, nil
}

// App returns the services behind the server
func (s *Server) App() *app.App {
	return s.app
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.app.Logger.Info("Starting HTTP server", zap.String("addr", s.http.Addr))
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout.Std())
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown stops accepting connections, closes WebSocket streams, then
// destroys every session
func (s *Server) Shutdown(ctx context.Context) error {
	s.app.Logger.Info("Shutting down server...")
	s.wsHandler.Close()
	err := s.http.Shutdown(ctx)
	s.Close()
	return err
}

// Close releases the server's resources without waiting for requests
func (s *Server) Close() {
	s.wsHandler.Close()
	s.app.Close()
}

// renderTimeout bounds a waiting render: the ready window plus the
// engine's own deadline, with slack for the round trip
func renderTimeout(cfg *config.Config) time.Duration {
	return cfg.Session.ReadyTimeout.Std() + cfg.Sandbox.ExecTimeout.Std() + 5*time.Second
}

// compressed gzips API responses; WebSocket upgrades bypass the wrapper
// since they need the raw connection
func compressed(next http.Handler) http.Handler {
	gz := gzhttp.GzipHandler(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, wsPrefix) {
			next.ServeHTTP(w, r)
			return
		}
		gz.ServeHTTP(w, r)
	})
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}
