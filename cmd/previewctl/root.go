package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/AgentOS/preview/internal/app"
	"github.com/GriffinCanCode/AgentOS/preview/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/preview/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/preview/internal/shared/protocol"
)

// errRenderFailed makes the process exit non-zero after a failed outcome
var errRenderFailed = errors.New("render failed")

type globalOptions struct {
	configFile string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "previewctl",
		Short: "Render UI components in the preview sandbox",
		Long: `previewctl compiles TSX/JSX component source, runs it in an isolated
sandbox and reports the outcome, without starting the preview server.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "Config file (TOML, YAML or JSON) overlaid on the environment")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log to stderr at debug level")

	root.AddCommand(newRenderCmd(opts), newCheckCmd(opts), newGenerateCmd(opts))
	return root
}

func (o *globalOptions) config() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if o.configFile != "" {
		if err := cfg.Overlay(o.configFile); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (o *globalOptions) logger() *logging.Logger {
	level := "warn"
	if o.verbose {
		level = "debug"
	}
	logger, err := logging.New(logging.Config{
		Level:       level,
		Development: true,
		OutputPaths: []string{"stderr"},
	})
	if err != nil {
		return logging.NewNop()
	}
	return logger
}

func (o *globalOptions) app(cfg *config.Config) (*app.App, error) {
	return app.New(cfg, app.WithLogger(o.logger()))
}

// printOutcome writes one result line: "ok" or "FAIL" with the failure
func printOutcome(w io.Writer, name string, outcome protocol.Outcome, d time.Duration) {
	if outcome.OK {
		fmt.Fprintf(w, "ok    %s (%s)\n", name, d.Round(time.Millisecond))
		return
	}
	fmt.Fprintf(w, "FAIL  %s: %s error: %s\n", name, outcome.Phase, outcome.Message)
}
