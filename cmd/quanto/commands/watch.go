package commands

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/quantomatic/quanto-client/pkg/config"
	"github.com/quantomatic/quanto-client/pkg/core/protocol"
	"github.com/quantomatic/quanto-client/pkg/policy"
)

// graphWatch keeps the core's copy of local graph files current.
type graphWatch struct {
	s        *session
	out      io.Writer
	rewrites bool

	mu    sync.Mutex
	names map[string]string // file -> core name
}

func newWatchCommand(a *app) *cobra.Command {
	var (
		delay    time.Duration
		rewrites bool
	)

	cmd := &cobra.Command{
		Use:   "watch FILE...",
		Short: "Load graph files and reload them into the core when they change",
		Long: `Load graph files into one long-lived core and reload each file whenever
it changes on disk. The stale copy is killed before the new one is
loaded. With --rewrites the number of applicable rewrites is reported
after each load.

Runs until interrupted.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := ctx
			a.source = policy.SourceWatch
			return a.withSession(ctx, func(ctx context.Context, s *session) error {
				gw := &graphWatch{
					s:        s,
					out:      cmd.OutOrStdout(),
					rewrites: rewrites,
					names:    make(map[string]string, len(args)),
				}
				for _, f := range args {
					if err := gw.reload(ctx, f); err != nil {
						return err
					}
				}

				w := config.NewWatcher(s.logger.Zerolog(), delay)
				if err := w.Watch(ctx, args, func(path string) error {
					return gw.reload(ctx, path)
				}); err != nil {
					return err
				}

				<-ctx.Done()
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&delay, "delay", config.DefaultReloadDelay, "wait this long for a file to settle")
	cmd.Flags().BoolVar(&rewrites, "rewrites", false, "report attached rewrites after each load")
	return cmd
}

// reload replaces the core's copy of file. The watcher reports absolute
// paths; the first load uses the path as given.
func (gw *graphWatch) reload(ctx context.Context, file string) error {
	gw.mu.Lock()
	defer gw.mu.Unlock()

	key := absPath(file)
	if old, ok := gw.names[key]; ok {
		if err := gw.s.core.KillGraph(ctx, old); err != nil && protocol.CodeOf(err) != "NOSUCHGRAPH" {
			return err
		}
	}

	names, err := gw.s.loadFiles(ctx, []string{file})
	if err != nil {
		return err
	}
	name := names[0]
	gw.names[key] = name

	if !gw.rewrites {
		fmt.Fprintf(gw.out, "%s\t%s\n", file, name)
		return nil
	}
	n, err := gw.s.core.AttachRewrites(ctx, name)
	if err != nil {
		return err
	}
	fmt.Fprintf(gw.out, "%s\t%s\t%d rewrites\n", file, name, n)
	return nil
}
