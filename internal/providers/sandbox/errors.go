package sandbox

import (
	"errors"
	"fmt"

	"github.com/dop251/goja"

	"github.com/GriffinCanCode/AgentOS/preview/internal/shared/protocol"
)

var (
	ErrExportMissing  = errors.New("no component export found")
	ErrNotComponent   = errors.New("default export is not a component")
	ErrTimeout        = errors.New("execution timeout exceeded")
	ErrDepthExceeded  = errors.New("maximum component depth exceeded")
	ErrSourceTooLarge = errors.New("source text exceeds size limit")
	ErrInvalidUTF8    = errors.New("source text is not valid UTF-8")
)

// Failure is a normalized compile, mount or runtime error
type Failure struct {
	Phase   protocol.Phase
	Message string
	Cause   error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Phase, f.Message)
}

func (f *Failure) Unwrap() error {
	return f.Cause
}

// Normalize converts any error raised while handling a phase into a
// *Failure. Existing failures keep their own phase.
func Normalize(err error, phase protocol.Phase) *Failure {
	if err == nil {
		return nil
	}

	var failure *Failure
	if errors.As(err, &failure) {
		return failure
	}

	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return &Failure{Phase: protocol.PhaseRuntime, Message: fmt.Sprint(interrupted.Value()), Cause: err}
	}

	var syntax *goja.CompilerSyntaxError
	if errors.As(err, &syntax) {
		return &Failure{Phase: protocol.PhaseCompile, Message: syntax.Error(), Cause: err}
	}

	var exception *goja.Exception
	if errors.As(err, &exception) {
		return &Failure{Phase: phase, Message: exceptionMessage(exception), Cause: err}
	}

	return &Failure{Phase: phase, Message: err.Error(), Cause: err}
}

// exceptionMessage prefers the thrown value's message property, so
// `throw new Error("boom")` reports "boom" rather than "Error: boom at ...".
func exceptionMessage(exception *goja.Exception) (msg string) {
	defer func() {
		if recover() != nil {
			msg = "uncaught exception"
		}
	}()
	val := exception.Value()
	if val == nil {
		return exception.Error()
	}
	if obj, ok := val.(*goja.Object); ok {
		if msg := obj.Get("message"); msg != nil && !goja.IsUndefined(msg) && !goja.IsNull(msg) {
			return msg.String()
		}
	}
	return val.String()
}
