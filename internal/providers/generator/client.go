package generator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/AgentOS/preview/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/preview/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/AgentOS/preview/internal/infrastructure/tracing"
)

const userAgent = "AgentOS-Preview/1.0"

var (
	ErrNotConfigured = errors.New("generation service URL is not configured")
	ErrEmptyPrompt   = errors.New("prompt must not be empty")
	ErrRejected      = errors.New("generation service rejected the request")
	ErrUpstream      = errors.New("generation service failed")
	ErrUnavailable   = errors.New("generation service unavailable")
	ErrMalformed     = errors.New("generation service returned a malformed response")
)

// Config configures the client
type Config struct {
	URL          string
	Timeout      time.Duration
	Retries      int
	RPS          float64
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.Retries < 0 {
		c.Retries = 0
	}
	if c.RetryWaitMin <= 0 {
		c.RetryWaitMin = 250 * time.Millisecond
	}
	if c.RetryWaitMax < c.RetryWaitMin {
		c.RetryWaitMax = 8 * c.RetryWaitMin
	}
	c.URL = strings.TrimRight(c.URL, "/")
	return c
}

type generateRequest struct {
	Prompt string `json:"prompt"`
}

type generateResponse struct {
	Source *string `json:"source"`
}

// Client talks to the generation service
type Client struct {
	config  Config
	resty   *resty.Client
	limiter *rate.Limiter
	breaker *resilience.Breaker
	logger  *zap.Logger
	metrics *monitoring.Metrics
	mu      sync.RWMutex
}

// Option configures a Client
type Option func(*Client)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics records every call
func WithMetrics(metrics *monitoring.Metrics) Option {
	return func(c *Client) { c.metrics = metrics }
}

// New builds a client. It fails with ErrNotConfigured when cfg has no URL.
func New(cfg Config, opts ...Option) (*Client, error) {
	cfg = cfg.withDefaults()
	if cfg.URL == "" {
		return nil, ErrNotConfigured
	}

	c := &Client{
		config: cfg,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.Retries
	retryClient.RetryWaitMin = cfg.RetryWaitMin
	retryClient.RetryWaitMax = cfg.RetryWaitMax
	retryClient.Logger = retryLogger{c.logger.Sugar()}
	// keep the final response so its status can be classified
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	c.resty = resty.NewWithClient(retryClient.StandardClient()).
		SetBaseURL(cfg.URL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(0).
		SetHeader("User-Agent", userAgent).
		SetHeader("Content-Type", "application/json").
		SetJSONMarshaler(sonic.Marshal).
		SetJSONUnmarshaler(sonic.Unmarshal).
		OnBeforeRequest(func(_ *resty.Client, r *resty.Request) error {
			tracing.Inject(r.Context(), r.Header)
			return nil
		})

	c.breaker = resilience.New("generator", resilience.Settings{
		Probes:   1,
		Window:   60 * time.Second,
		Cooldown: 30 * time.Second,
		Trip: func(counts resilience.Counts) bool {
			return counts.FailureStreak >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrRejected) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to resilience.State) {
			c.logger.Warn("Circuit breaker changed state",
				zap.String("breaker", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to))
		},
	})

	c.SetRateLimit(cfg.RPS)
	return c, nil
}

// SetRateLimit caps outgoing requests per second; zero or less removes the cap
func (c *Client) SetRateLimit(rps float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rps <= 0 {
		c.limiter = rate.NewLimiter(rate.Inf, 0)
		return
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
}

// BreakerState reports the circuit breaker state
func (c *Client) BreakerState() resilience.State {
	return c.breaker.State()
}

// Generate asks the service for component source matching prompt
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", ErrEmptyPrompt
	}

	start := time.Now()
	source, err := c.generate(ctx, prompt)
	c.record(err, time.Since(start))
	if err != nil {
		c.logger.Warn("Generation failed", zap.Error(err), zap.Duration("duration", time.Since(start)))
		return "", err
	}
	c.logger.Debug("Generated component source", zap.Int("bytes", len(source)), zap.Duration("duration", time.Since(start)))
	return source, nil
}

func (c *Client) generate(ctx context.Context, prompt string) (string, error) {
	c.mu.RLock()
	limiter := c.limiter
	c.mu.RUnlock()

	if err := limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit: %w", err)
	}

	source, err := resilience.Execute(c.breaker, func() (string, error) {
		return c.post(ctx, prompt)
	})
	if errors.Is(err, resilience.ErrCircuitOpen) || errors.Is(err, resilience.ErrTooManyRequests) {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return source, err
}

func (c *Client) post(ctx context.Context, prompt string) (string, error) {
	resp, err := c.resty.R().
		SetContext(ctx).
		SetBody(generateRequest{Prompt: prompt}).
		Post("/generate")
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	status := resp.StatusCode()
	switch {
	case status == http.StatusTooManyRequests || status >= 500:
		return "", fmt.Errorf("%w: status %d", ErrUpstream, status)
	case status >= 400:
		return "", fmt.Errorf("%w: status %d: %s", ErrRejected, status, truncate(resp.String(), 200))
	case status != http.StatusOK:
		return "", fmt.Errorf("%w: unexpected status %d", ErrMalformed, status)
	}

	var out generateResponse
	if err := sonic.Unmarshal(resp.Body(), &out); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if out.Source == nil {
		return "", fmt.Errorf("%w: missing source field", ErrMalformed)
	}
	return *out.Source, nil
}

func (c *Client) record(err error, d time.Duration) {
	if c.metrics == nil {
		return
	}
	status := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrRejected):
		status = "rejected"
	case errors.Is(err, ErrUnavailable):
		status = "open"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = "canceled"
	default:
		status = "error"
	}
	c.metrics.RecordGeneratorCall(status, d)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// retryLogger adapts zap to retryablehttp.LeveledLogger
type retryLogger struct {
	s *zap.SugaredLogger
}

func (l retryLogger) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }
func (l retryLogger) Info(msg string, kv ...interface{})  { l.s.Debugw(msg, kv...) }
func (l retryLogger) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l retryLogger) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }
