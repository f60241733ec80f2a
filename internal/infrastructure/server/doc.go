// Package server assembles the preview HTTP service.
//
// NewServer builds the App, mounts the REST and WebSocket handlers behind
// the middleware stack (recovery, request IDs, access logs, tracing,
// metrics, CORS, rate limiting) and optionally gzips responses.
//
// Example Usage:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	srv, err := server.NewServer(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer stop()
//	if err := srv.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
package server
