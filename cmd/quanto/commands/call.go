package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/quantomatic/quanto-client/pkg/core/protocol"
)

func newCallCommand(a *app) *cobra.Command {
	var text string

	cmd := &cobra.Command{
		Use:   "call VERB [ARG...]",
		Short: "Send one raw command and print the payload",
		Long: `Send one command to the core and print the payload lines as received.

Arguments must be single tokens. Free text that may contain spaces goes
after the arguments with --text, the way set_graph_user_data takes its
value.`,
		Example: `  # List graphs
  quanto call list_graphs

  # Store user data with spaces in it
  quanto call set_graph_user_data g1 note --text "needs review"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			command := protocol.NewCommand(args[0], args[1:]...)
			if text != "" {
				command = command.WithTrailing(text)
			}
			return a.withSession(cmd.Context(), func(ctx context.Context, s *session) error {
				lines, err := s.core.Send(ctx, command)
				if err != nil {
					return err
				}
				if a.jsonOutput {
					return printJSON(cmd.OutOrStdout(), map[string]interface{}{"lines": nonNil(lines)})
				}
				printLines(cmd.OutOrStdout(), lines)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&text, "text", "", "free-text tail of the command")
	return cmd
}
