/*
Package preview implements the host side of the live preview: sessions,
each bound to exactly one isolation boundary, and the controller that owns
them.

# Session lifecycle

	Initializing --ready--> Ready --send--> Rendering --success--> Ready
	                                            |
	                                            +--failure--> RenderError --send--> Rendering

Any state moves to Destroyed on Destroy; Destroyed is terminal.

# Ordering

Sequences are allocated per session starting at 1. Requests sent before the
boundary is ready occupy a single buffer slot, so only the newest survives.
An outcome whose sequence is not above the highest already resolved is
stale and discarded; frames follow the same rule. Callers that need the
answer to their own request use Session.Render, which waits on a
sequence-keyed correlation table.

# Usage

	ctrl := preview.NewController(preview.NewLocalLauncher(sandbox.DefaultConfig()), preview.DefaultConfig())
	defer ctrl.Close()

	session, err := ctrl.Create(ctx)
	if err != nil {
		return err
	}
	outcome, err := session.Render(ctx, source)
*/
package preview
