// Package providers groups the engines and clients the preview service
// depends on.
//
// Providers:
//   - sandbox: compiles TSX/JSX with esbuild, runs it in a fresh goja VM
//     and mounts the output into an HTML render root
//   - generator: HTTP client for the component generation service
package providers
