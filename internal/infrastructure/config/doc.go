// Package config provides 12-factor configuration for the preview service.
//
// Configuration is loaded from environment variables with sensible defaults.
// An optional file (PREVIEW_CONFIG_FILE, .toml, .yaml/.yml or .json) is
// overlaid on top; keys it leaves out keep their environment value.
//
// Configuration Sections:
//   - Server: HTTP listener, shutdown grace, compression, CORS origins
//   - Logging: log level and output format
//   - RateLimit: per-IP rate limiting
//   - Sandbox: render time, source size and nesting limits
//   - Session: readiness timeout, session cap, remote boundary host
//   - Generator: component generation service client
//
// Durations are written in Go notation ("750ms", "5s") everywhere.
//
// Example Usage:
//
//	cfg, err := config.Load()
//	if err != nil {
//		return err
//	}
//	fmt.Printf("Server running on %s:%s\n", cfg.Server.Host, cfg.Server.Port)
package config
