package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newHelloCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "hello",
		Short: "Start the core and print its greeting",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd.Context(), func(_ context.Context, s *session) error {
				if a.jsonOutput {
					return printJSON(cmd.OutOrStdout(), map[string]string{"greeting": s.greeting})
				}
				fmt.Fprintln(cmd.OutOrStdout(), s.greeting)
				return nil
			})
		},
	}
}
