// Package main implements mock-core, a stand-in for the Quantomatic core
// that speaks the line protocol on stdin/stdout. It is meant for running
// the quanto CLI without a real core installed.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/quantomatic/quanto-client/pkg/core/coretest"
)

const version = "1.0.0"

func main() {
	var (
		empty  bool
		graphs []string
		hang   []string
		die    map[string]int
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:           "mock-core",
		Short:         "Serve an in-memory Quantomatic core over stdio",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			core := coretest.Seeded()
			if empty {
				core = coretest.New()
			}
			for _, path := range graphs {
				data, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("failed to preload graph: %w", err)
				}
				name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
				core.AddGraph(name, &coretest.Graph{XML: strings.TrimSpace(string(data))})
			}

			for _, verb := range hang {
				core.FailOn(verb, coretest.Fault{Hang: true, ExitCode: 1})
			}
			for verb, code := range die {
				core.FailOn(verb, coretest.Fault{ExitCode: code})
			}

			ctx := cmd.Context()
			if ttl > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, ttl)
				defer cancel()
			}

			code, err := core.Serve(os.Stdin, os.Stdout, ctx.Done())
			if err != nil {
				fmt.Fprintf(os.Stderr, "mock-core: %v\n", err)
			}
			os.Exit(code)
			return nil
		},
	}
	cmd.Flags().BoolVar(&empty, "empty", false, "start without the seeded graph and rules")
	cmd.Flags().StringSliceVar(&graphs, "graph", nil, "graph files to preload (repeatable)")
	cmd.Flags().StringSliceVar(&hang, "hang", nil, "verbs that never get an answer")
	cmd.Flags().StringToIntVar(&die, "die", nil, "verbs that make the core exit, as verb=status")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "give up on hanging verbs after this long")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "mock-core: %v\n", err)
		os.Exit(1)
	}
}
