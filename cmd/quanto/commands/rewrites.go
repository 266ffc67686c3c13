package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

type rewriteView struct {
	Index    int    `json:"index"`
	Rule     string `json:"rule"`
	Vertices int    `json:"vertices"`
	Edges    int    `json:"edges"`
}

func newRewritesCommand(a *app) *cobra.Command {
	var (
		files    []string
		vertices []string
		apply    int
	)

	cmd := &cobra.Command{
		Use:   "rewrites GRAPH",
		Short: "Attach and list the rewrites that apply to a graph",
		Long: `Ask the core for every rewrite of GRAPH, optionally restricted to a set
of vertices, and list them with the size of the graph each would produce.

With --apply the rewrite at that index is applied and the resulting graph
printed.`,
		Example: `  # List rewrites of g1
  quanto rewrites g1

  # Only rewrites touching v0 and v1, then apply the first
  quanto rewrites g1 --vertex v0 --vertex v1 --apply 0`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			graph := args[0]
			return a.withSession(cmd.Context(), func(ctx context.Context, s *session) error {
				out := cmd.OutOrStdout()
				if _, err := s.loadFiles(ctx, files); err != nil {
					return err
				}

				if _, err := s.core.AttachRewrites(ctx, graph, vertices...); err != nil {
					return err
				}
				rewrites, err := s.core.ShowRewrites(ctx, graph)
				if err != nil {
					return err
				}

				if apply >= 0 {
					if apply >= len(rewrites) {
						return fmt.Errorf("graph %s has %d rewrites, no index %d", graph, len(rewrites), apply)
					}
					if err := s.core.ApplyRewrite(ctx, graph, apply); err != nil {
						return err
					}
					g, err := s.core.GraphXML(ctx, graph)
					if err != nil {
						return err
					}
					view := newGraphView(graph, g)
					if a.jsonOutput {
						return printJSON(out, view)
					}
					printGraph(out, view)
					return nil
				}

				views := make([]rewriteView, 0, len(rewrites))
				for _, rw := range rewrites {
					v := rewriteView{Index: rw.Index, Rule: rw.Rule.Name}
					if rw.NewGraph != nil {
						v.Vertices = len(rw.NewGraph.Vertices)
						v.Edges = len(rw.NewGraph.Edges)
					}
					views = append(views, v)
				}
				if a.jsonOutput {
					return printJSON(out, views)
				}
				for _, v := range views {
					fmt.Fprintf(out, "%d\t%s\t%d vertices, %d edges\n", v.Index, v.Rule, v.Vertices, v.Edges)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&files, "file", "f", nil, "graph files to load first (repeatable)")
	cmd.Flags().StringSliceVar(&vertices, "vertex", nil, "restrict matching to these vertices (repeatable)")
	cmd.Flags().IntVar(&apply, "apply", -1, "apply the rewrite at this index")
	return cmd
}
