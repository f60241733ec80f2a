package preview

import (
	"context"

	"github.com/GriffinCanCode/AgentOS/preview/internal/shared/protocol"
)

// Result is the answer to a render that also wants the markup
type Result struct {
	Outcome protocol.Outcome `json:"outcome"`
	HTML    string           `json:"html,omitempty"`
}

// RenderFrame sends source and waits for its outcome and, on success, for the
// frame carrying the rendered markup. ErrSuperseded is returned when a newer
// request resolves before the frame arrives.
func (s *Session) RenderFrame(ctx context.Context, source string) (Result, error) {
	changed := make(chan struct{}, 1)
	unsubscribe := s.Subscribe(func(e Event) {
		if e.Kind != EventFrame && e.Kind != EventOutcome {
			return
		}
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	outcome, err := s.Render(ctx, source)
	if err != nil {
		return Result{}, err
	}
	if !outcome.OK {
		return Result{Outcome: outcome}, nil
	}

	for {
		if frame, ok := s.Frame(); ok && frame.Sequence >= outcome.Sequence {
			if frame.Sequence > outcome.Sequence {
				return Result{Outcome: outcome}, ErrSuperseded
			}
			return Result{Outcome: outcome, HTML: frame.HTML}, nil
		}
		if last, ok := s.LastOutcome(); ok && last.Sequence > outcome.Sequence {
			return Result{Outcome: outcome}, ErrSuperseded
		}

		select {
		case <-changed:
		case <-s.Done():
			return Result{Outcome: outcome}, ErrSessionDestroyed
		case <-ctx.Done():
			return Result{Outcome: outcome}, ctx.Err()
		}
	}
}

// Preview renders source once in a throwaway session
func (c *Controller) Preview(ctx context.Context, source string) (Result, error) {
	session, err := c.Create(ctx)
	if err != nil {
		return Result{}, err
	}
	defer session.Destroy()

	return session.RenderFrame(ctx, source)
}
