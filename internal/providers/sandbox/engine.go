package sandbox

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/preview/internal/shared/protocol"
)

const warmupSource = `export default function Warmup() { return <div />; }`

// Engine runs the compile, execute and mount pipeline against one render
// root. It is not safe for concurrent Render calls; the owning boundary
// serializes them.
type Engine struct {
	config   Config
	compiler *Compiler
	root     *RenderRoot
	logger   *zap.Logger
}

// NewEngine loads the compiler and runtime and verifies both by compiling
// and evaluating a trivial component. The render root stays empty.
func NewEngine(config Config, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Engine{
		config:   config.withDefaults(),
		compiler: NewCompiler(),
		root:     NewRenderRoot(),
		logger:   logger,
	}

	module, err := e.compiler.Compile(warmupSource)
	if err != nil {
		return nil, fmt.Errorf("warm up compiler: %w", err)
	}
	rt, err := New(e.config)
	if err != nil {
		return nil, fmt.Errorf("warm up runtime: %w", err)
	}
	defer rt.Close()
	if _, err := rt.Execute(context.Background(), module); err != nil {
		return nil, fmt.Errorf("warm up runtime: %w", err)
	}

	return e, nil
}

// Root returns the engine's render root
func (e *Engine) Root() *RenderRoot {
	return e.root
}

// Render compiles source, executes it in a fresh runtime and mounts the
// output. Failures are returned as *Failure and leave the root untouched.
func (e *Engine) Render(ctx context.Context, source string) (*Result, error) {
	start := time.Now()
	result := &Result{}

	if err := e.validate(source); err != nil {
		result.Duration = time.Since(start)
		return result, err
	}

	module, err := e.compiler.Compile(source)
	result.CompileDuration = time.Since(start)
	if err != nil {
		result.Duration = time.Since(start)
		return result, Normalize(err, protocol.PhaseCompile)
	}
	for _, w := range module.Warnings {
		e.logger.Debug("Compiler warning", zap.String("warning", w))
	}

	rt, err := New(e.config)
	if err != nil {
		result.Duration = time.Since(start)
		return result, Normalize(err, protocol.PhaseRuntime)
	}
	defer rt.Close()

	execStart := time.Now()
	tree, err := rt.Execute(ctx, module)
	result.ExecuteDuration = time.Since(execStart)
	result.Console = rt.Console()
	result.Duration = time.Since(start)
	if err != nil {
		return result, Normalize(err, protocol.PhaseRuntime)
	}

	e.root.Replace(tree)
	return result, nil
}

func (e *Engine) validate(source string) error {
	if len(source) > e.config.MaxSourceBytes {
		return &Failure{
			Phase:   protocol.PhaseCompile,
			Message: fmt.Sprintf("%s (%d > %d bytes)", ErrSourceTooLarge, len(source), e.config.MaxSourceBytes),
			Cause:   ErrSourceTooLarge,
		}
	}
	if !utf8.ValidString(source) {
		return &Failure{Phase: protocol.PhaseCompile, Message: ErrInvalidUTF8.Error(), Cause: ErrInvalidUTF8}
	}
	return nil
}
