// Package app wires the preview service together from configuration.
//
// It builds the long-lived pieces every entry point needs:
//   - Logger and Metrics
//   - Tracer for request spans
//   - Controller with a local or remote boundary launcher
//   - Generator client when a generation service is configured
//
// Example Usage:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	a, err := app.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer a.Close()
//	result, err := a.Controller.Preview(ctx, source)
package app
