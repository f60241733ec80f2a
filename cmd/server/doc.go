// Package main is the entry point for the live preview server.
//
// The server renders TSX/JSX component source inside isolated boundaries
// and serves the results over REST and WebSocket:
//
//	Browser/Editor → Preview server → Boundary (in-process or remote)
//
// Configuration:
//   - Environment variables (12-factor)
//   - PREVIEW_CONFIG_FILE or -config (TOML, YAML, JSON)
//   - CLI flags (override both)
//
// Usage:
//
//	# Production mode
//	./server -port 8000
//
//	# Development mode (console logs, debug level)
//	./server -dev
//
//	# Boundaries hosted by another instance
//	PREVIEW_BOUNDARY_URL=ws://sandbox-host:8000/ws/boundary ./server
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
