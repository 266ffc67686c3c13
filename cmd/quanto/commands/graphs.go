package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quantomatic/quanto-client/pkg/core"
	"github.com/quantomatic/quanto-client/pkg/model"
	"github.com/quantomatic/quanto-client/pkg/transports/ssh"
)

func newGraphsCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "graphs",
		Short: "Load, inspect and save graphs",
		Long: `Each invocation starts a fresh core. Graphs given with --file are
loaded before the command runs; a configured core may also come up with
graphs of its own. Use "quanto script" for multi-step edits.`,
	}

	cmd.AddCommand(newGraphsListCommand(a))
	cmd.AddCommand(newGraphsShowCommand(a))
	cmd.AddCommand(newGraphsLoadCommand(a))
	cmd.AddCommand(newGraphsSaveCommand(a))

	return cmd
}

func newGraphsListCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List graph names",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd.Context(), func(ctx context.Context, s *session) error {
				names, err := s.core.ListGraphs(ctx)
				if err != nil {
					return err
				}
				if a.jsonOutput {
					return printJSON(cmd.OutOrStdout(), map[string]interface{}{"graphs": nonNil(names)})
				}
				printLines(cmd.OutOrStdout(), names)
				return nil
			})
		},
	}
}

func newGraphsShowCommand(a *app) *cobra.Command {
	var (
		files []string
		raw   bool
	)

	cmd := &cobra.Command{
		Use:   "show [NAME...]",
		Short: "Decode and print graphs",
		Long: `Fetch graphs from the core and print their vertices, edges and user data.

With --file the graph files are loaded first and the names the core gave
them are shown. --raw prints the XML exactly as the core sent it.`,
		Example: `  # Show a graph the core already holds
  quanto graphs show g1

  # Load a file into a fresh core and show it
  quanto graphs show --file examples/bialgebra.graph`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && len(files) == 0 {
				return fmt.Errorf("give at least one graph name or --file")
			}
			return a.withSession(cmd.Context(), func(ctx context.Context, s *session) error {
				loaded, err := s.loadFiles(ctx, files)
				if err != nil {
					return err
				}
				names := append(append([]string(nil), args...), loaded...)

				out := cmd.OutOrStdout()
				var views []graphView
				for _, name := range names {
					if raw {
						lines, err := s.core.Raw(ctx, "graph_xml", name)
						if err != nil {
							return err
						}
						printLines(out, lines)
						continue
					}
					view, err := core.Materialize[graphView](ctx, s.core, name, core.GraphFactoryFunc[graphView](func(name string, g *model.Graph) (graphView, error) {
						return newGraphView(name, g), nil
					}))
					if err != nil {
						return err
					}
					if a.jsonOutput {
						views = append(views, view)
						continue
					}
					printGraph(out, view)
				}
				if a.jsonOutput && !raw {
					return printJSON(out, views)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&files, "file", "f", nil, "graph files to load first (repeatable)")
	cmd.Flags().BoolVar(&raw, "raw", false, "print the XML as received")
	return cmd
}

func newGraphsLoadCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "load PATH...",
		Short: "Load graph files and print the names they were given",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd.Context(), func(ctx context.Context, s *session) error {
				names, err := s.loadFiles(ctx, args)
				if err != nil {
					return err
				}
				for i, name := range names {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", args[i], name)
				}
				return nil
			})
		},
	}
}

func newGraphsSaveCommand(a *app) *cobra.Command {
	var files []string

	cmd := &cobra.Command{
		Use:   "save NAME PATH",
		Short: "Save a graph to a file",
		Long: `Ask the core to save a graph. For a remote core the graph is saved in
the stage directory and then downloaded to PATH.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, dest := args[0], args[1]
			return a.withSession(cmd.Context(), func(ctx context.Context, s *session) error {
				if _, err := s.loadFiles(ctx, files); err != nil {
					return err
				}
				if s.stager == nil {
					return s.core.SaveGraph(ctx, name, dest)
				}
				remote := ssh.StagePath(s.cfg.Remote.StageDir, dest)
				if err := s.core.SaveGraph(ctx, name, remote); err != nil {
					return err
				}
				return s.stager.Fetch(ctx, remote, dest)
			})
		},
	}

	cmd.Flags().StringSliceVarP(&files, "file", "f", nil, "graph files to load first (repeatable)")
	return cmd
}

func nonNil(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}
