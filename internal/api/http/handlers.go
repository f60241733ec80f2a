package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/preview/internal/domain/preview"
	"github.com/GriffinCanCode/AgentOS/preview/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/preview/internal/infrastructure/resilience"
)

const (
	service = "preview"
	version = "0.3.0"
)

// Generator produces component source from a prompt
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	BreakerState() resilience.State
}

// Limits bounds what a single request may ask for
type Limits struct {
	MaxSourceBytes int
	RenderTimeout  time.Duration
}

// DefaultLimits returns the default request limits
func DefaultLimits() Limits {
	return Limits{
		MaxSourceBytes: 512 << 10,
		RenderTimeout:  30 * time.Second,
	}
}

// Handlers contains all HTTP handlers
type Handlers struct {
	controller *preview.Controller
	generator  Generator
	metrics    *monitoring.Metrics
	logger     *zap.Logger
	sanitizer  *bluemonday.Policy
	limits     Limits
}

// Option configures Handlers
type Option func(*Handlers)

// WithGenerator enables POST /generate
func WithGenerator(g Generator) Option {
	return func(h *Handlers) { h.generator = g }
}

// WithMetrics exposes metrics on /health and /metrics
func WithMetrics(m *monitoring.Metrics) Option {
	return func(h *Handlers) { h.metrics = m }
}

// WithLogger sets the handler logger
func WithLogger(l *zap.Logger) Option {
	return func(h *Handlers) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithLimits overrides the request limits
func WithLimits(l Limits) Option {
	return func(h *Handlers) { h.limits = l }
}

// NewHandlers creates a new handler set
func NewHandlers(controller *preview.Controller, opts ...Option) *Handlers {
	h := &Handlers{
		controller: controller,
		logger:     zap.NewNop(),
		sanitizer:  newSanitizer(),
		limits:     DefaultLimits(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.limits.MaxSourceBytes <= 0 {
		h.limits.MaxSourceBytes = DefaultLimits().MaxSourceBytes
	}
	if h.limits.RenderTimeout <= 0 {
		h.limits.RenderTimeout = DefaultLimits().RenderTimeout
	}
	return h
}

// Register mounts every route on r
func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/", h.Root)
	r.GET("/health", h.Health)
	r.GET("/metrics", h.Metrics)

	sessions := r.Group("/sessions")
	sessions.POST("", h.CreateSession)
	sessions.GET("", h.ListSessions)
	sessions.GET("/:id", h.GetSession)
	sessions.DELETE("/:id", h.DeleteSession)
	sessions.POST("/:id/render", h.RenderSession)
	sessions.GET("/:id/frame", h.GetFrame)

	r.POST("/preview", h.Preview)
	r.POST("/preview/upload", h.Upload)
	r.POST("/generate", h.Generate)
}

// newSanitizer allows the markup components normally render and nothing
// that can script the embedding page
func newSanitizer() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowStyling()
	p.AllowDataAttributes()
	p.AllowAttrs("role", "aria-label", "aria-hidden", "aria-pressed", "aria-expanded").Globally()
	p.AllowElements("section", "article", "header", "footer", "nav", "main", "aside", "button", "label")
	p.AllowAttrs("type", "value", "placeholder", "disabled", "checked", "name", "for").Globally()
	p.AllowElements("input", "textarea", "select", "option", "form")
	return p
}

// Sanitize filters rendered markup through the frame policy
func (h *Handlers) Sanitize(markup string) string {
	return h.sanitizer.Sanitize(markup)
}

// Root identifies the service
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": service,
		"version": version,
	})
}

// Health reports liveness and a metrics summary
func (h *Handlers) Health(c *gin.Context) {
	resp := gin.H{
		"status":   "healthy",
		"sessions": h.controller.Count(),
	}
	if h.metrics != nil {
		resp["metrics"] = h.metrics.Snapshot()
	}
	if h.generator != nil {
		resp["generator"] = gin.H{"enabled": true, "breaker": h.generator.BreakerState().String()}
	} else {
		resp["generator"] = gin.H{"enabled": false}
	}
	c.JSON(http.StatusOK, resp)
}

// Metrics serves the Prometheus exposition
func (h *Handlers) Metrics(c *gin.Context) {
	if h.metrics == nil {
		c.Status(http.StatusNotFound)
		return
	}
	h.metrics.Handler().ServeHTTP(c.Writer, c.Request)
}
