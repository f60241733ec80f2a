/*
Package tracing provides lightweight request tracing.

Each inbound HTTP request gets a span. The trace continues across process
boundaries through two headers:

  - X-Trace-ID identifies the whole request flow
  - X-Span-ID identifies the calling operation

Outbound calls (the generation service, remote boundary hosts) carry the
same headers via Inject. Finished spans are buffered and written to the log
by a single collector goroutine.

# Usage

	tracer := tracing.New("preview", logger)
	defer tracer.Close()

	router.Use(tracing.HTTPMiddleware(tracer))

	span, ctx := tracer.StartSpan(ctx, "generate")
	defer func() {
		span.Finish()
		tracer.Submit(span)
	}()
*/
package tracing
