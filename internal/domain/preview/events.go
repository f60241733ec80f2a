package preview

import (
	"github.com/GriffinCanCode/AgentOS/preview/internal/shared/id"
	"github.com/GriffinCanCode/AgentOS/preview/internal/shared/protocol"
)

// EventKind identifies what happened to a session
type EventKind int

const (
	EventReady EventKind = iota
	EventOutcome
	EventFrame
	EventTimeout
	EventDestroyed
)

func (k EventKind) String() string {
	switch k {
	case EventReady:
		return "ready"
	case EventOutcome:
		return "outcome"
	case EventFrame:
		return "frame"
	case EventTimeout:
		return "timeout"
	case EventDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Event is delivered to session listeners on the session loop
type Event struct {
	Kind      EventKind
	SessionID id.SessionID
	Sequence  int64
	Outcome   *protocol.Outcome
	HTML      string
	Err       error
}

// Listener observes session events. Listeners must not block.
type Listener func(Event)
