// Package boundary hosts the isolation boundary: the only place untrusted
// component source is compiled and executed.
//
// A Boundary owns one sandbox engine and talks to its host exclusively
// through encoded protocol messages on a channel.Endpoint. It announces
// readiness once, then answers every render request with exactly one outcome
// carrying the request's sequence, followed by a frame when the render
// succeeded.
package boundary

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/preview/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/preview/internal/providers/sandbox"
	"github.com/GriffinCanCode/AgentOS/preview/internal/shared/channel"
	"github.com/GriffinCanCode/AgentOS/preview/internal/shared/protocol"
)

// Boundary runs the render loop for one session
type Boundary struct {
	endpoint channel.Endpoint
	config   sandbox.Config
	logger   *zap.Logger
	metrics  *monitoring.Metrics
	engine   *sandbox.Engine
}

// Option configures a Boundary
type Option func(*Boundary)

// WithLogger sets the boundary logger
func WithLogger(logger *zap.Logger) Option {
	return func(b *Boundary) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithMetrics records pipeline stage durations
func WithMetrics(metrics *monitoring.Metrics) Option {
	return func(b *Boundary) {
		b.metrics = metrics
	}
}

// New creates a boundary speaking over endpoint
func New(endpoint channel.Endpoint, config sandbox.Config, opts ...Option) *Boundary {
	b := &Boundary{
		endpoint: endpoint,
		config:   config,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Run starts the engine, signals readiness and serves render requests until
// the channel closes or ctx is done. A boundary whose engine fails to start
// never signals readiness.
func (b *Boundary) Run(ctx context.Context) error {
	if b.metrics != nil {
		b.metrics.IncBoundaries()
		defer b.metrics.DecBoundaries()
	}

	engine, err := sandbox.NewEngine(b.config, b.logger)
	if err != nil {
		b.logger.Error("Sandbox engine failed to start", zap.Error(err))
		return fmt.Errorf("start engine: %w", err)
	}
	b.engine = engine

	if err := b.send(protocol.NewReady()); err != nil {
		return err
	}
	b.logger.Debug("Boundary ready")

	inbox := b.endpoint.Receive()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-inbox:
			if !ok {
				b.logger.Debug("Channel closed, boundary stopping")
				return nil
			}
			if err := b.handle(ctx, data); err != nil {
				if errors.Is(err, channel.ErrClosed) {
					return nil
				}
				return err
			}
		}
	}
}

// Engine returns the running engine, or nil before Run has started it
func (b *Boundary) Engine() *sandbox.Engine {
	return b.engine
}

func (b *Boundary) handle(ctx context.Context, data []byte) error {
	msg, err := protocol.Decode(data)
	if err != nil {
		b.logger.Warn("Dropping undecodable message", zap.Error(err), zap.Int("bytes", len(data)))
		return nil
	}

	req, ok := msg.(protocol.RenderRequest)
	if !ok {
		b.logger.Debug("Ignoring non-render message", zap.String("type", fmt.Sprintf("%T", msg)))
		return nil
	}

	return b.render(ctx, req)
}

func (b *Boundary) render(ctx context.Context, req protocol.RenderRequest) error {
	log := b.logger.With(zap.Int64("sequence", req.Sequence))

	result, err := b.engine.Render(ctx, req.SourceText)
	if result != nil {
		b.observe(result)
		for _, entry := range result.Console {
			log.Debug("Component console", zap.String("level", entry.Level), zap.String("message", entry.Message))
		}
	}

	if err != nil {
		failure := sandbox.Normalize(err, protocol.PhaseRuntime)
		log.Info("Render failed",
			zap.String("phase", string(failure.Phase)),
			zap.String("message", failure.Message))
		return b.send(protocol.Failure(req.Sequence, failure.Phase, failure.Message))
	}

	if err := b.send(protocol.Success(req.Sequence)); err != nil {
		return err
	}

	markup, err := b.engine.Root().HTML()
	if err != nil {
		log.Warn("Could not serialize render root", zap.Error(err))
		return nil
	}
	log.Debug("Render succeeded", zap.Duration("duration", result.Duration))
	return b.send(protocol.NewFrame(req.Sequence, markup))
}

func (b *Boundary) observe(result *sandbox.Result) {
	if b.metrics == nil {
		return
	}
	b.metrics.ObserveRenderStage("compile", result.CompileDuration)
	b.metrics.ObserveRenderStage("execute", result.ExecuteDuration)
	b.metrics.ObserveRenderStage("total", result.Duration)
}

func (b *Boundary) send(msg any) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	if err := b.endpoint.Send(data); err != nil {
		return fmt.Errorf("send to host: %w", err)
	}
	return nil
}
