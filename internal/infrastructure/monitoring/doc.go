/*
Package monitoring provides Prometheus metrics for the preview service.

# Overview

Every Metrics value owns a private registry, so tests and embedded
controllers can create as many as they like without colliding on the
default registerer.

# Metrics

  - HTTP request metrics (latency, throughput, size)
  - Render outcomes by phase, stale and coalesced renders
  - Session lifecycle and readiness timeouts
  - Running boundaries and WebSocket traffic
  - Component generator calls

# Usage

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	metrics.ObserveRenderStage("compile", result.CompileDuration)
*/
package monitoring
