package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newRulesCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect the rules loaded in the core",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List rule names",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd.Context(), func(ctx context.Context, s *session) error {
				names, err := s.core.ListRules(ctx)
				if err != nil {
					return err
				}
				if a.jsonOutput {
					return printJSON(cmd.OutOrStdout(), map[string]interface{}{"rules": nonNil(names)})
				}
				printLines(cmd.OutOrStdout(), names)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show NAME",
		Short: "Print both sides of a rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd.Context(), func(ctx context.Context, s *session) error {
				r, err := s.core.Rule(ctx, args[0])
				if err != nil {
					return err
				}
				lhs := newGraphView("lhs", r.LHS)
				rhs := newGraphView("rhs", r.RHS)
				out := cmd.OutOrStdout()
				if a.jsonOutput {
					return printJSON(out, map[string]interface{}{
						"name":      r.Name,
						"lhs":       lhs,
						"rhs":       rhs,
						"user_data": r.Annotations.Map(),
					})
				}
				fmt.Fprintf(out, "rule %s\n", r.Name)
				printMap(out, "  ", r.Annotations.Map())
				printGraph(out, lhs)
				printGraph(out, rhs)
				return nil
			})
		},
	})

	return cmd
}
