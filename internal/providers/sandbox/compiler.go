package sandbox

import (
	"fmt"
	"strings"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/GriffinCanCode/AgentOS/preview/internal/shared/protocol"
)

// sourceFile names the component in diagnostics
const sourceFile = "component.tsx"

// Module is compiled component code ready for the execution stage.
// It is owned by a single render cycle and dropped afterwards.
type Module struct {
	Code     string
	Warnings []string
}

// Compiler performs the syntactic TSX to JavaScript transform
type Compiler struct {
	options api.TransformOptions
}

// NewCompiler creates a compiler emitting CommonJS with classic JSX calls
func NewCompiler() *Compiler {
	return &Compiler{
		options: api.TransformOptions{
			Loader:      api.LoaderTSX,
			Format:      api.FormatCommonJS,
			Target:      api.ES2017,
			JSX:         api.JSXTransform,
			JSXFactory:  "React.createElement",
			JSXFragment: "React.Fragment",
			Sourcefile:  sourceFile,
			LogLevel:    api.LogLevelSilent,
			Charset:     api.CharsetUTF8,
		},
	}
}

// Compile transforms component source. Syntax errors come back as a compile
// *Failure naming the first diagnostic and its position.
func (c *Compiler) Compile(source string) (*Module, error) {
	result := api.Transform(source, c.options)

	if len(result.Errors) > 0 {
		return nil, &Failure{
			Phase:   protocol.PhaseCompile,
			Message: diagnostics(result.Errors),
		}
	}

	module := &Module{Code: string(result.Code)}
	for _, w := range result.Warnings {
		module.Warnings = append(module.Warnings, formatMessage(w))
	}
	return module, nil
}

func diagnostics(errs []api.Message) string {
	msg := formatMessage(errs[0])
	if extra := len(errs) - 1; extra > 0 {
		msg += fmt.Sprintf(" (and %d more)", extra)
	}
	return msg
}

func formatMessage(m api.Message) string {
	text := strings.TrimSpace(m.Text)
	if m.Location == nil {
		return text
	}
	return fmt.Sprintf("%s (%d:%d)", text, m.Location.Line, m.Location.Column+1)
}
