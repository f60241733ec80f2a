package main

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charlievieth/fastwalk"
	"github.com/spf13/cobra"
)

type checkOptions struct {
	pattern string
	timeout time.Duration
}

func newCheckCmd(g *globalOptions) *cobra.Command {
	opts := &checkOptions{}
	cmd := &cobra.Command{
		Use:   "check DIR",
		Short: "Render every matching component under DIR",
		Long: `Walks DIR and renders each file matching --pattern through a single
preview session, one after another. Exits non-zero if any render fails.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd.Context(), cmd.OutOrStdout(), g, opts, args[0])
		},
	}
	cmd.Flags().StringVar(&opts.pattern, "pattern", "**/*.tsx", "Glob of files to render, relative to DIR")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "Per-file render timeout")
	return cmd
}

func runCheck(ctx context.Context, w io.Writer, g *globalOptions, o *checkOptions, dir string) error {
	if !doublestar.ValidatePattern(o.pattern) {
		return fmt.Errorf("invalid pattern %q", o.pattern)
	}

	files, err := findSources(ctx, dir, o.pattern)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		fmt.Fprintf(w, "no files match %s in %s\n", o.pattern, dir)
		return nil
	}

	cfg, err := g.config()
	if err != nil {
		return err
	}
	a, err := g.app(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	session, err := a.Controller.Create(ctx)
	if err != nil {
		return err
	}
	defer session.Destroy()

	failed := 0
	for _, file := range files {
		source, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(file)))
		if err != nil {
			return fmt.Errorf("read %s: %w", file, err)
		}

		renderCtx, cancel := context.WithTimeout(ctx, o.timeout)
		start := time.Now()
		outcome, err := session.Render(renderCtx, string(source))
		cancel()
		if err != nil {
			return fmt.Errorf("render %s: %w", file, err)
		}

		printOutcome(w, file, outcome, time.Since(start))
		if !outcome.OK {
			failed++
		}
	}

	fmt.Fprintf(w, "%d checked, %d failed\n", len(files), failed)
	if failed > 0 {
		return fmt.Errorf("%w: %d of %d components", errRenderFailed, failed, len(files))
	}
	return nil
}

// findSources returns slash-separated paths under root matching pattern,
// sorted. Hidden directories and node_modules are skipped.
func findSources(ctx context.Context, root, pattern string) ([]string, error) {
	var (
		mu      sync.Mutex
		matches []string
	)

	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, root, func(p string, d fs.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if rel != "." && (strings.HasPrefix(d.Name(), ".") || d.Name() == "node_modules") {
				return filepath.SkipDir
			}
			return nil
		}

		if ok, _ := doublestar.Match(pattern, rel); ok {
			mu.Lock()
			matches = append(matches, rel)
			mu.Unlock()
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}

	sort.Strings(matches)
	return matches, nil
}
