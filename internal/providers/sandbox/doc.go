/*
Package sandbox compiles and executes untrusted UI component source.

# Overview

A component arrives as TSX text. The engine runs it through three stages:

 1. Compile: esbuild rewrites markup into React.createElement calls and strips
    type annotations. Nothing is type-checked.
 2. Execute: the compiled module runs inside a private module scope in a
    fresh goja VM. The default export is extracted and rendered.
 3. Mount: the rendered tree replaces the contents of the engine's single
    render root.

Any failure is reported as a *Failure tagged with the phase that produced it
(compile, mount or runtime). A failed cycle leaves the render root untouched,
so the last good preview stays visible.

# Security Model

Each render cycle gets a new VM. Sandboxed code sees only ECMAScript
built-ins, a console that is captured rather than printed, no-op timers and a
React-shaped runtime object. There is no require beyond the React aliases, no
filesystem, no network and no access to host memory. Execution time and
component nesting depth are bounded.

# Usage Example

	engine, err := sandbox.NewEngine(sandbox.DefaultConfig(), logger)
	if err != nil {
		return err
	}

	result, err := engine.Render(ctx, source)
	var failure *sandbox.Failure
	if errors.As(err, &failure) {
		log.Printf("%s failed: %s", failure.Phase, failure.Message)
	}
	html, _ := engine.Root().HTML()
*/
package sandbox
