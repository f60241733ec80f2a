package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/AgentOS/preview/internal/providers/generator"
)

type generateOptions struct {
	url  string
	out  string
	html bool
}

func newGenerateCmd(g *globalOptions) *cobra.Command {
	opts := &generateOptions{}
	cmd := &cobra.Command{
		Use:   "generate PROMPT",
		Short: "Generate a component from a prompt and render it",
		Long: `Asks the generation service for component source, prints it (or writes it
to --out) and renders it in the sandbox. Exits non-zero if the render fails.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(cmd.Context(), cmd.OutOrStdout(), g, opts, args[0])
		},
	}
	cmd.Flags().StringVar(&opts.url, "url", "", "Generation service URL (overrides GENERATOR_URL)")
	cmd.Flags().StringVarP(&opts.out, "out", "o", "", "Write the generated source to a file instead of stdout")
	cmd.Flags().BoolVar(&opts.html, "html", false, "Print the rendered markup")
	return cmd
}

func runGenerate(ctx context.Context, w io.Writer, g *globalOptions, o *generateOptions, prompt string) error {

	cfg, err := g.config()
	if err != nil {
		return err
	}
	if o.url != "" {
		cfg.Generator.URL = o.url
	}
	if cfg.Generator.URL == "" {
		return generator.ErrNotConfigured
	}

	a, err := g.app(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	source, err := a.Generator.Generate(ctx, prompt)
	if err != nil {
		return err
	}
	if o.out != "" {
		if err := os.WriteFile(o.out, []byte(source), 0o644); err != nil {
			return fmt.Errorf("write source: %w", err)
		}
	} else {
		fmt.Fprintln(w, source)
	}

	start := time.Now()
	result, err := a.Controller.Preview(ctx, source)
	if err != nil {
		return err
	}
	printOutcome(w, "generated component", result.Outcome, time.Since(start))
	if !result.Outcome.OK {
		return errRenderFailed
	}
	if o.html {
		fmt.Fprintln(w, result.HTML)
	}
	return nil
}
