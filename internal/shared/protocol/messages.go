// Package protocol defines the messages exchanged between a host controller
// and an isolation boundary.
//
// Every message is a JSON object discriminated by its "type" field:
//
//	{"type":"render","sequence":3,"sourceText":"export default ..."}   host -> boundary
//	{"type":"ready"}                                                 boundary -> host
//	{"type":"outcome","sequence":3,"ok":false,"phase":"compile","message":"..."}
//	{"type":"frame","sequence":3,"html":"<div>Hi</div>"}
//
// Messages only ever cross the channel in encoded form; the two sides share
// no memory.
package protocol

import "fmt"

// Type discriminates wire messages
type Type string

const (
	TypeRender  Type = "render"
	TypeReady   Type = "ready"
	TypeOutcome Type = "outcome"
	TypeFrame   Type = "frame"
)

// Phase names the pipeline stage that produced a failure
type Phase string

const (
	PhaseCompile Phase = "compile"
	PhaseMount   Phase = "mount"
	PhaseRuntime Phase = "runtime"
)

// Valid reports whether p is one of the known phases
func (p Phase) Valid() bool {
	switch p {
	case PhaseCompile, PhaseMount, PhaseRuntime:
		return true
	}
	return false
}

// RenderRequest asks the boundary to compile and mount a component
type RenderRequest struct {
	Type       Type   `json:"type"`
	Sequence   int64  `json:"sequence"`
	SourceText string `json:"sourceText"`
}

// NewRenderRequest builds a render request for the given sequence
func NewRenderRequest(seq int64, source string) RenderRequest {
	return RenderRequest{Type: TypeRender, Sequence: seq, SourceText: source}
}

// Ready is emitted exactly once per boundary, before any request is processed
type Ready struct {
	Type Type `json:"type"`
}

// NewReady builds the readiness signal
func NewReady() Ready {
	return Ready{Type: TypeReady}
}

// Outcome answers a render request. Phase and Message are set only on failure.
type Outcome struct {
	Type     Type   `json:"type"`
	Sequence int64  `json:"sequence"`
	OK       bool   `json:"ok"`
	Phase    Phase  `json:"phase,omitempty"`
	Message  string `json:"message,omitempty"`
}

// Success builds a successful outcome
func Success(seq int64) Outcome {
	return Outcome{Type: TypeOutcome, Sequence: seq, OK: true}
}

// Failure builds a failed outcome
func Failure(seq int64, phase Phase, message string) Outcome {
	return Outcome{Type: TypeOutcome, Sequence: seq, Phase: phase, Message: message}
}

// Err returns the outcome as an error, or nil on success
func (o Outcome) Err() error {
	if o.OK {
		return nil
	}
	return &OutcomeError{Sequence: o.Sequence, Phase: o.Phase, Message: o.Message}
}

// Frame carries the serialized render root after a successful mount
type Frame struct {
	Type     Type   `json:"type"`
	Sequence int64  `json:"sequence"`
	HTML     string `json:"html"`
}

// NewFrame builds a frame message
func NewFrame(seq int64, html string) Frame {
	return Frame{Type: TypeFrame, Sequence: seq, HTML: html}
}

// OutcomeError is a failed outcome seen from the host side
type OutcomeError struct {
	Sequence int64
	Phase    Phase
	Message  string
}

func (e *OutcomeError) Error() string {
	return fmt.Sprintf("render %d failed in %s phase: %s", e.Sequence, e.Phase, e.Message)
}
