/*
Package resilience provides a circuit breaker for calls to upstream services.

The preview service uses it around the component generation client, so a
failing generator is answered with 503 immediately instead of tying up
request goroutines in retries.

	breaker := resilience.New("generator", resilience.Settings{
		Cooldown: 30 * time.Second,
		Trip: func(c resilience.Counts) bool {
			return c.FailureStreak >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, generator.ErrRejected)
		},
	})

	source, err := resilience.Execute(breaker, func() (string, error) {
		return post(ctx, prompt)
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		// fail fast
	}

A closed breaker opens when Trip approves the current counts. After Cooldown
it turns half-open and admits Probes calls. That many consecutive successes
close it again and any failure reopens it.
*/
package resilience
