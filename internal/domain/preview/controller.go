package preview

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/preview/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/preview/internal/shared/id"
)

// Config controls session behaviour
type Config struct {
	ReadyTimeout time.Duration
	MaxSessions  int // zero means unbounded
}

// DefaultConfig returns the default session settings
func DefaultConfig() Config {
	return Config{
		ReadyTimeout: 5 * time.Second,
		MaxSessions:  64,
	}
}

// Controller creates sessions and keeps track of the live ones
type Controller struct {
	mu       sync.RWMutex
	sessions map[id.SessionID]*Session // Protected by mu
	closed   bool                      // Protected by mu

	launcher Launcher
	config   Config
	ids      *id.Generator
	logger   *zap.Logger
	metrics  *monitoring.Metrics
}

// NewController creates a controller launching boundaries with launcher
func NewController(launcher Launcher, config Config) *Controller {
	return &Controller{
		sessions: make(map[id.SessionID]*Session),
		launcher: launcher,
		config:   config,
		ids:      id.Default(),
		logger:   zap.NewNop(),
	}
}

// WithLogger sets the controller logger
func (c *Controller) WithLogger(logger *zap.Logger) *Controller {
	if logger != nil {
		c.logger = logger
	}
	return c
}

// WithMetrics adds metrics tracking to the controller
func (c *Controller) WithMetrics(metrics *monitoring.Metrics) *Controller {
	c.metrics = metrics
	return c
}

// Create launches a boundary and returns a session waiting for its ready
// signal. Each call yields an independent session.
func (c *Controller) Create(ctx context.Context) (*Session, error) {
	if err := c.admit(); err != nil {
		return nil, err
	}

	sid := id.SessionID(c.ids.GenerateWithPrefix(id.SessionPrefix))
	endpoint, err := c.launcher.Launch(ctx, sid)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLaunchFailed, err)
	}

	session := newSession(sid, endpoint, c.logger, c.metrics)
	session.onDestroy = c.forget

	c.mu.Lock()
	if c.closed || c.full() {
		c.mu.Unlock()
		_ = endpoint.Close()
		if c.closed {
			return nil, ErrControllerClosed
		}
		return nil, ErrSessionLimit
	}
	c.sessions[sid] = session
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.SessionCreated()
	}
	session.start(c.config.ReadyTimeout)
	c.logger.Info("Preview session created", zap.String("session_id", sid.String()))
	return session, nil
}

func (c *Controller) admit() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrControllerClosed
	}
	if c.full() {
		return ErrSessionLimit
	}
	return nil
}

// full reports whether the session limit is reached. Caller holds mu.
func (c *Controller) full() bool {
	return c.config.MaxSessions > 0 && len(c.sessions) >= c.config.MaxSessions
}

// Get retrieves a live session by ID
func (c *Controller) Get(sid id.SessionID) (*Session, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.sessions[sid]
	return s, ok
}

// List returns live sessions, oldest first
func (c *Controller) List() []Info {
	c.mu.RLock()
	sessions := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		sessions = append(sessions, s)
	}
	c.mu.RUnlock()

	infos := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].ID < infos[j].ID
	})
	return infos
}

// Count returns the number of live sessions
func (c *Controller) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sessions)
}

// Destroy destroys a session by ID
func (c *Controller) Destroy(sid id.SessionID) bool {
	s, ok := c.Get(sid)
	if !ok {
		return false
	}
	s.Destroy()
	return true
}

// Close destroys every session and rejects further Create calls
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	sessions := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		sessions = append(sessions, s)
	}
	c.mu.Unlock()

	for _, s := range sessions {
		s.Destroy()
	}
}

func (c *Controller) forget(sid id.SessionID) {
	c.mu.Lock()
	delete(c.sessions, sid)
	c.mu.Unlock()
	c.logger.Info("Preview session destroyed", zap.String("session_id", sid.String()))
}
