package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/preview/internal/domain/boundary"
	"github.com/GriffinCanCode/AgentOS/preview/internal/domain/preview"
	"github.com/GriffinCanCode/AgentOS/preview/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/preview/internal/providers/sandbox"
	"github.com/GriffinCanCode/AgentOS/preview/internal/shared/channel"
	"github.com/GriffinCanCode/AgentOS/preview/internal/shared/id"
)

// Handler manages WebSocket connections
type Handler struct {
	controller *preview.Controller
	config     sandbox.Config
	logger     *zap.Logger
	metrics    *monitoring.Metrics
	sanitize   func(string) string
	upgrader   websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Handler
type Option func(*Handler)

// WithLogger sets the handler logger
func WithLogger(logger *zap.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithMetrics counts connections and messages
func WithMetrics(metrics *monitoring.Metrics) Option {
	return func(h *Handler) { h.metrics = metrics }
}

// WithSanitizer filters frame markup pushed to browsers
func WithSanitizer(fn func(string) string) Option {
	return func(h *Handler) { h.sanitize = fn }
}

// WithCheckOrigin overrides the upgrade origin check
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(h *Handler) { h.upgrader.CheckOrigin = fn }
}

// NewHandler creates a WebSocket handler. Boundaries it hosts use config.
func NewHandler(controller *preview.Controller, config sandbox.Config, opts ...Option) *Handler {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Handler{
		controller: controller,
		config:     config,
		logger:     zap.NewNop(),
		sanitize:   func(s string) string { return s },
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Close ends every open connection and waits for their handlers
func (h *Handler) Close() {
	h.cancel()
	h.wg.Wait()
}

// HandleBoundary upgrades the connection and runs an isolation boundary on
// it until either side closes
func (h *Handler) HandleBoundary(c *gin.Context) {
	endpoint, ok := h.upgrade(c)
	if !ok {
		return
	}
	defer h.release(endpoint)

	log := h.logger.With(
		zap.String("session_id", c.GetHeader(preview.SessionHeader)),
		zap.String("remote", c.ClientIP()),
	)
	log.Debug("Boundary connection opened")

	b := boundary.New(endpoint, h.config, boundary.WithLogger(log), boundary.WithMetrics(h.metrics))
	if err := b.Run(h.ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Boundary exited", zap.Error(err))
		return
	}
	log.Debug("Boundary connection closed")
}

// HandleSession streams one session's events and accepts render requests
func (h *Handler) HandleSession(c *gin.Context) {
	session, ok := h.controller.Get(id.SessionID(c.Param("id")))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	endpoint, ok := h.upgrade(c)
	if !ok {
		return
	}
	defer h.release(endpoint)

	log := h.logger.With(zap.String("session_id", session.ID().String()))
	s := newSubscriber(endpoint, h.sanitize, log)

	unsubscribe := session.Subscribe(s.push)
	defer unsubscribe()

	info := session.Info()
	s.send(stateMessage(info))
	if info.State == preview.StateDestroyed {
		return
	}

	for {
		select {
		case data, ok := <-endpoint.Receive():
			if !ok {
				return
			}
			s.handle(session, data)
		case <-s.gone:
			return
		case <-h.ctx.Done():
			return
		}
	}
}

func (h *Handler) upgrade(c *gin.Context) (*metered, bool) {
	select {
	case <-h.ctx.Done():
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "shutting down"})
		return nil, false
	default:
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return nil, false
	}

	h.wg.Add(1)
	if h.metrics != nil {
		h.metrics.IncWSConnections()
	}
	return newMetered(channel.NewWebSocket(conn), h.metrics), true
}

func (h *Handler) release(endpoint *metered) {
	_ = endpoint.Close()
	if h.metrics != nil {
		h.metrics.DecWSConnections()
	}
	h.wg.Done()
}
