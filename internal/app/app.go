package app

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/preview/internal/domain/preview"
	"github.com/GriffinCanCode/AgentOS/preview/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/preview/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/preview/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/preview/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/AgentOS/preview/internal/providers/generator"
	"github.com/GriffinCanCode/AgentOS/preview/internal/providers/sandbox"
)

// App holds the services shared by the server and the CLI
type App struct {
	Config     *config.Config
	Logger     *logging.Logger
	Metrics    *monitoring.Metrics
	Tracer     *tracing.Tracer
	Sandbox    sandbox.Config
	Controller *preview.Controller
	Generator  *generator.Client // nil unless a generator URL is set
}

// Option configures New
type Option func(*options)

type options struct {
	logger *logging.Logger
}

// WithLogger uses logger instead of building one from the config
func WithLogger(logger *logging.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// New builds an App from cfg
func New(cfg *config.Config, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		var err error
		logger, err = logging.New(logging.Config{
			Level:       cfg.Logging.Level,
			Development: cfg.Logging.Development,
		})
		if err != nil {
			return nil, err
		}
	}

	metrics := monitoring.NewMetrics()
	tracer := tracing.New("preview", logger.Component("tracing"))
	sandboxCfg := SandboxConfig(cfg.Sandbox)

	var launcher preview.Launcher
	if url := cfg.Session.BoundaryURL; url != "" {
		launcher = preview.NewRemoteLauncher(url, nil)
		logger.Info("Using remote boundaries", zap.String("url", url))
	} else {
		launcher = preview.NewLocalLauncher(sandboxCfg).
			WithLogger(logger.Component("boundary")).
			WithMetrics(metrics)
	}

	controller := preview.NewController(launcher, preview.Config{
		ReadyTimeout: cfg.Session.ReadyTimeout.Std(),
		MaxSessions:  cfg.Session.MaxSessions,
	}).WithLogger(logger.Component("controller")).WithMetrics(metrics)

	a := &App{
		Config:     cfg,
		Logger:     logger,
		Metrics:    metrics,
		Tracer:     tracer,
		Sandbox:    sandboxCfg,
		Controller: controller,
	}

	if cfg.Generator.URL != "" {
		client, err := generator.New(generator.Config{
			URL:     cfg.Generator.URL,
			Timeout: cfg.Generator.Timeout.Std(),
			Retries: cfg.Generator.Retries,
			RPS:     cfg.Generator.RPS,
		}, generator.WithLogger(logger.Component("generator")), generator.WithMetrics(metrics))
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("generator client: %w", err)
		}
		a.Generator = client
		logger.Info("Generator configured", zap.String("url", cfg.Generator.URL))
	}

	return a, nil
}

// SandboxConfig converts the configured limits into engine settings
func SandboxConfig(cfg config.SandboxConfig) sandbox.Config {
	out := sandbox.DefaultConfig()
	out.Timeout = cfg.ExecTimeout.Std()
	out.MaxSourceBytes = cfg.MaxSourceBytes
	out.MaxDepth = cfg.MaxDepth
	out.EnableConsole = cfg.Console
	return out
}

// Close destroys live sessions and flushes the tracer and logger
func (a *App) Close() {
	a.Controller.Close()
	a.Tracer.Close()
	_ = a.Logger.Sync()
}
