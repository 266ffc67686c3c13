package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newUserDataCommand(a *app) *cobra.Command {
	var files []string

	cmd := &cobra.Command{
		Use:     "userdata",
		Aliases: []string{"ud"},
		Short:   "Read and write graph user data",
		Long: `Graph user data is a string map the core keeps alongside each graph,
used for layout positions and notes. A missing key is not an error for
"get": it prints nothing and exits 0 unless --require is given.`,
	}
	cmd.PersistentFlags().StringSliceVarP(&files, "file", "f", nil, "graph files to load first (repeatable)")

	var require bool
	get := &cobra.Command{
		Use:   "get GRAPH KEY",
		Short: "Print the value stored under KEY",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd.Context(), func(ctx context.Context, s *session) error {
				if _, err := s.loadFiles(ctx, files); err != nil {
					return err
				}
				value, ok, err := s.core.GraphUserData(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				if !ok && require {
					return fmt.Errorf("graph %s has no user data %q", args[0], args[1])
				}
				if a.jsonOutput {
					return printJSON(cmd.OutOrStdout(), map[string]interface{}{"key": args[1], "value": value, "present": ok})
				}
				if ok {
					fmt.Fprintln(cmd.OutOrStdout(), value)
				}
				return nil
			})
		},
	}
	get.Flags().BoolVar(&require, "require", false, "fail when the key is missing")
	cmd.AddCommand(get)

	cmd.AddCommand(&cobra.Command{
		Use:   "set GRAPH KEY VALUE...",
		Short: "Store VALUE under KEY; the words of VALUE are joined by spaces",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd.Context(), func(ctx context.Context, s *session) error {
				if _, err := s.loadFiles(ctx, files); err != nil {
					return err
				}
				return s.core.SetGraphUserData(ctx, args[0], args[1], strings.Join(args[2:], " "))
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete GRAPH KEY",
		Short: "Remove KEY",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd.Context(), func(ctx context.Context, s *session) error {
				if _, err := s.loadFiles(ctx, files); err != nil {
					return err
				}
				return s.core.DeleteGraphUserData(ctx, args[0], args[1])
			})
		},
	})

	return cmd
}
