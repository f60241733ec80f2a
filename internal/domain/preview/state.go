package preview

import "fmt"

// State is a session's position in its lifecycle
type State int

const (
	StateInitializing State = iota
	StateReady
	StateRendering
	StateRenderError
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateRendering:
		return "rendering"
	case StateRenderError:
		return "render_error"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON responses
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name
func (s *State) UnmarshalText(text []byte) error {
	for candidate := StateInitializing; candidate <= StateDestroyed; candidate++ {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown session state %q", text)
}
