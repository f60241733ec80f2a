package sandbox

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	"golang.org/x/net/html"

	"github.com/GriffinCanCode/AgentOS/preview/internal/shared/protocol"
)

//go:embed prelude.js
var preludeSource string

var preludeProgram = goja.MustCompile("prelude.js", preludeSource, false)

// Runtime wraps a goja VM holding one evaluation scope. A Runtime serves a
// single render cycle and is discarded afterwards.
type Runtime struct {
	vm     *goja.Runtime
	config Config
	mu     sync.Mutex

	react      *goja.Object
	jsxRuntime *goja.Object
	vnode      goja.Value
	fragment   goja.Value

	console   []LogEntry
	consoleMu sync.Mutex
}

// New creates a new sandboxed runtime with the prelude loaded
func New(config Config) (*Runtime, error) {
	config = config.withDefaults()
	vm := goja.New()
	vm.SetMaxCallStackSize(config.MaxCallStackSize)

	r := &Runtime{
		vm:      vm,
		config:  config,
		console: []LogEntry{},
	}

	if err := r.setupGlobals(); err != nil {
		return nil, err
	}
	if err := r.loadPrelude(); err != nil {
		return nil, err
	}
	return r, nil
}

// setupGlobals configures global objects and security
func (r *Runtime) setupGlobals() error {
	for _, name := range []string{"require", "process", "module", "exports", "fetch", "XMLHttpRequest", "WebSocket"} {
		if err := r.vm.Set(name, goja.Undefined()); err != nil {
			return err
		}
	}

	console := r.vm.NewObject()
	for _, level := range []string{"log", "warn", "error", "info", "debug"} {
		if err := console.Set(level, r.makeConsoleFunc(level)); err != nil {
			return err
		}
	}
	if err := r.vm.Set("console", console); err != nil {
		return err
	}

	// Timers never fire: rendering is a single synchronous pass.
	inert := func(call goja.FunctionCall) goja.Value { return goja.Undefined() }
	for _, name := range []string{"setTimeout", "setInterval", "clearTimeout", "clearInterval", "queueMicrotask", "requestAnimationFrame"} {
		if err := r.vm.Set(name, inert); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runtime) loadPrelude() error {
	val, err := r.vm.RunProgram(preludeProgram)
	if err != nil {
		return fmt.Errorf("load runtime prelude: %w", err)
	}
	exports := val.ToObject(r.vm)
	r.react = exports.Get("React").ToObject(r.vm)
	r.jsxRuntime = exports.Get("jsxRuntime").ToObject(r.vm)
	r.vnode = exports.Get("VNODE")
	r.fragment = exports.Get("Fragment")
	return nil
}

// makeConsoleFunc creates a console function
func (r *Runtime) makeConsoleFunc(level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		if !r.config.EnableConsole {
			return goja.Undefined()
		}
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}

		r.consoleMu.Lock()
		r.console = append(r.console, LogEntry{
			Level:   level,
			Message: strings.Join(parts, " "),
			Time:    time.Now(),
		})
		r.consoleMu.Unlock()

		return goja.Undefined()
	}
}

// require resolves the only modules a component may import
func (r *Runtime) require(call goja.FunctionCall) goja.Value {
	name := call.Argument(0).String()
	switch name {
	case "react", "react-dom", "preact/compat":
		return r.react
	case "react/jsx-runtime", "react/jsx-dev-runtime":
		return r.jsxRuntime
	}
	panic(r.vm.NewTypeError("module %q is not available in the preview sandbox", name))
}

// Execute evaluates a compiled module, renders its default export and
// returns a detached container holding the output. Errors are *Failure.
func (r *Runtime) Execute(ctx context.Context, module *Module) (tree *html.Node, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Go-side property reads on component values run getters and proxy
	// traps, which throw by panicking.
	defer func() {
		if rec := recover(); rec != nil {
			tree, err = nil, recovered(rec)
		}
	}()

	if r.vm == nil {
		return nil, &Failure{Phase: protocol.PhaseRuntime, Message: "runtime is closed"}
	}

	timer := time.NewTimer(r.config.Timeout)
	defer timer.Stop()
	stop := make(chan struct{})
	defer close(stop)

	vm := r.vm
	go func() {
		select {
		case <-timer.C:
			vm.Interrupt(ErrTimeout)
		case <-ctx.Done():
			vm.Interrupt(ctx.Err())
		case <-stop:
		}
	}()

	component, loadErr := r.load(module)
	if loadErr != nil {
		return nil, loadErr
	}

	container := &html.Node{Type: html.ElementNode, Data: "div"}
	rn := &renderer{vm: r.vm, vnode: r.vnode, fragment: r.fragment, maxDepth: r.config.MaxDepth}
	root, rootErr := r.createRoot(component)
	if rootErr != nil {
		return nil, Normalize(rootErr, protocol.PhaseRuntime)
	}
	if renderErr := rn.render(root, container, 0); renderErr != nil {
		return nil, Normalize(renderErr, protocol.PhaseRuntime)
	}
	return container, nil
}

func recovered(rec any) *Failure {
	if err, ok := rec.(error); ok {
		return Normalize(err, protocol.PhaseRuntime)
	}
	return &Failure{Phase: protocol.PhaseRuntime, Message: fmt.Sprint(rec)}
}

// load evaluates the module in its own scope and extracts the component
func (r *Runtime) load(module *Module) (*goja.Object, error) {
	wrapped := "(function (exports, module, require, React) {\n" + module.Code + "\n})"
	program, err := goja.Compile(sourceFile, wrapped, false)
	if err != nil {
		return nil, Normalize(err, protocol.PhaseCompile)
	}

	factory, err := r.vm.RunProgram(program)
	if err != nil {
		return nil, Normalize(err, protocol.PhaseCompile)
	}
	fn, ok := goja.AssertFunction(factory)
	if !ok {
		return nil, &Failure{Phase: protocol.PhaseCompile, Message: "module wrapper did not evaluate to a function"}
	}

	exports := r.vm.NewObject()
	mod := r.vm.NewObject()
	if err := mod.Set("exports", exports); err != nil {
		return nil, Normalize(err, protocol.PhaseRuntime)
	}
	if _, err := fn(goja.Undefined(), exports, mod, r.vm.ToValue(r.require), r.react); err != nil {
		return nil, Normalize(err, protocol.PhaseRuntime)
	}

	return r.extract(mod)
}

// extract picks the default export, falling back to a callable module.exports
func (r *Runtime) extract(mod *goja.Object) (*goja.Object, error) {
	exported := mod.Get("exports")
	if isNullish(exported) {
		return nil, &Failure{Phase: protocol.PhaseMount, Message: ErrExportMissing.Error(), Cause: ErrExportMissing}
	}

	obj, ok := exported.(*goja.Object)
	if !ok {
		return nil, &Failure{Phase: protocol.PhaseMount, Message: ErrExportMissing.Error(), Cause: ErrExportMissing}
	}

	candidate := obj.Get("default")
	if isNullish(candidate) {
		if _, callable := goja.AssertFunction(obj); callable {
			return obj, nil
		}
		return nil, &Failure{Phase: protocol.PhaseMount, Message: ErrExportMissing.Error(), Cause: ErrExportMissing}
	}

	component, ok := candidate.(*goja.Object)
	if !ok {
		return nil, &Failure{Phase: protocol.PhaseMount, Message: ErrNotComponent.Error(), Cause: ErrNotComponent}
	}
	if _, callable := goja.AssertFunction(component); !callable {
		return nil, &Failure{Phase: protocol.PhaseMount, Message: ErrNotComponent.Error(), Cause: ErrNotComponent}
	}
	return component, nil
}

// createRoot wraps the component in an element so defaultProps apply
func (r *Runtime) createRoot(component *goja.Object) (goja.Value, error) {
	createElement, ok := goja.AssertFunction(r.react.Get("createElement"))
	if !ok {
		return nil, fmt.Errorf("runtime createElement is missing")
	}
	return createElement(goja.Undefined(), component, goja.Null())
}

// Console returns a copy of the captured console output
func (r *Runtime) Console() []LogEntry {
	r.consoleMu.Lock()
	defer r.consoleMu.Unlock()
	return append([]LogEntry{}, r.console...)
}

// Close releases resources
func (r *Runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.vm = nil
	r.react = nil
	r.jsxRuntime = nil
	return nil
}

func isNullish(v goja.Value) bool {
	return v == nil || goja.IsUndefined(v) || goja.IsNull(v)
}
