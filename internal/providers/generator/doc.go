/*
Package generator fetches component source from the upstream generation
service.

The service is asked with POST {url}/generate and a JSON body {"prompt": ...};
it answers {"source": ...}. The returned text is handed to a preview session
as-is. Nothing about it is assumed to be well formed.

# Resilience

Requests pass through three layers, outermost first:

  - a token bucket (golang.org/x/time/rate) that spaces calls out
  - a circuit breaker that fails fast while the service is unhealthy
  - go-retryablehttp, which retries connection errors, 5xx and 429

Client errors (4xx) are returned as ErrRejected and never trip the breaker.

# Usage

	client, err := generator.New(generator.Config{URL: "http://localhost:8001"},
		generator.WithLogger(logger))
	if err != nil {
		return err
	}
	source, err := client.Generate(ctx, "a todo list with three items")
*/
package generator
