package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/AgentOS/preview/internal/app"
	"github.com/GriffinCanCode/AgentOS/preview/internal/providers/sandbox"
	"github.com/GriffinCanCode/AgentOS/preview/internal/shared/protocol"
)

type renderOptions struct {
	html  bool
	json  bool
	query string
	xpath string
}

type renderReport struct {
	Outcome    protocol.Outcome   `json:"outcome"`
	HTML       string             `json:"html,omitempty"`
	Console    []sandbox.LogEntry `json:"console,omitempty"`
	DurationMS int64              `json:"duration_ms"`
}

func newRenderCmd(g *globalOptions) *cobra.Command {
	opts := &renderOptions{}
	cmd := &cobra.Command{
		Use:   "render FILE",
		Short: "Render one component and report the outcome",
		Long: `Compiles and renders FILE ("-" reads standard input) in a fresh sandbox.
Exits non-zero when the render fails.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := readSource(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			return runRender(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), g, opts, args[0], source)
		},
	}
	cmd.Flags().BoolVar(&opts.html, "html", false, "Print the rendered markup")
	cmd.Flags().BoolVar(&opts.json, "json", false, "Print a JSON report instead of text")
	cmd.Flags().StringVar(&opts.query, "query", "", "Print the text of elements matching a CSS selector")
	cmd.Flags().StringVar(&opts.xpath, "xpath", "", "Print the text of nodes matching an XPath expression")
	return cmd
}

func readSource(stdin io.Reader, path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("read source: %w", err)
	}
	return string(data), nil
}

func runRender(ctx context.Context, stdout, stderr io.Writer, g *globalOptions, o *renderOptions, name, source string) error {
	cfg, err := g.config()
	if err != nil {
		return err
	}
	logger := g.logger()
	defer logger.Sync()

	engine, err := sandbox.NewEngine(app.SandboxConfig(cfg.Sandbox), logger.Component("engine"))
	if err != nil {
		return err
	}

	result, err := engine.Render(ctx, source)
	outcome := protocol.Success(1)
	if err != nil {
		failure := sandbox.Normalize(err, protocol.PhaseRuntime)
		outcome = protocol.Failure(1, failure.Phase, failure.Message)
	}

	if o.json {
		report := renderReport{Outcome: outcome, Console: result.Console, DurationMS: result.Duration.Milliseconds()}
		if outcome.OK {
			if report.HTML, err = engine.Root().HTML(); err != nil {
				return err
			}
		}
		data, err := sonic.ConfigStd.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, string(data))
		if !outcome.OK {
			return errRenderFailed
		}
		return nil
	}

	for _, entry := range result.Console {
		fmt.Fprintf(stderr, "console.%s: %s\n", entry.Level, entry.Message)
	}
	printOutcome(stdout, name, outcome, result.Duration)
	if !outcome.OK {
		return errRenderFailed
	}

	if o.html {
		markup, err := engine.Root().HTML()
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, markup)
	}
	if o.query != "" {
		for _, text := range engine.Root().Query(o.query) {
			fmt.Fprintln(stdout, text)
		}
	}
	if o.xpath != "" {
		texts, err := engine.Root().XPath(o.xpath)
		if err != nil {
			return err
		}
		for _, text := range texts {
			fmt.Fprintln(stdout, text)
		}
	}
	return nil
}
