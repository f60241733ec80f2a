package protocol

import (
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
)

var (
	ErrUnknownType = errors.New("unknown message type")
	ErrMalformed   = errors.New("malformed message")
)

var api = sonic.ConfigStd

type envelope struct {
	Type Type `json:"type"`
}

// Encode serializes a message for the channel
func Encode(msg any) ([]byte, error) {
	data, err := api.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return data, nil
}

// Decode parses a wire message and returns one of RenderRequest, Ready,
// Outcome or Frame.
func Decode(data []byte) (any, error) {
	var env envelope
	if err := api.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch env.Type {
	case TypeRender:
		var msg RenderRequest
		if err := api.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if msg.Sequence <= 0 {
			return nil, fmt.Errorf("%w: render sequence must be positive", ErrMalformed)
		}
		return msg, nil
	case TypeReady:
		return NewReady(), nil
	case TypeOutcome:
		var msg Outcome
		if err := api.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if !msg.OK && !msg.Phase.Valid() {
			return nil, fmt.Errorf("%w: failed outcome with phase %q", ErrMalformed, msg.Phase)
		}
		return msg, nil
	case TypeFrame:
		var msg Frame
		if err := api.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return msg, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

// Peek returns the type of a wire message without decoding its body
func Peek(data []byte) (Type, error) {
	var env envelope
	if err := api.Unmarshal(data, &env); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return env.Type, nil
}
