package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/quantomatic/quanto-client/pkg/stores"
)

func newTranscriptCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transcript",
		Short: "Inspect recorded core sessions",
		Long: `Sessions are recorded when transcript.enabled is set in the config.
Each session lists every command sent to the core, the lines that came
back and how the exchange ended.`,
	}

	cmd.AddCommand(newTranscriptListCommand(a))
	cmd.AddCommand(newTranscriptShowCommand(a))
	cmd.AddCommand(newTranscriptDeleteCommand(a))
	cmd.AddCommand(newTranscriptPruneCommand(a))

	return cmd
}

// withStore opens the configured transcript database without starting a
// core.
func (a *app) withStore(ctx context.Context, fn func(*stores.SQLiteStore) error) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	path, err := cfg.TranscriptPath()
	if err != nil {
		return err
	}
	store, err := stores.Open(ctx, stores.Config{Path: path})
	if err != nil {
		return fmt.Errorf("failed to open transcript: %w", err)
	}
	defer store.Close()
	return fn(store)
}

func newTranscriptListCommand(a *app) *cobra.Command {
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd.Context(), func(store *stores.SQLiteStore) error {
				sessions, err := store.ListSessions(cmd.Context(), limit, offset)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if a.jsonOutput {
					return printJSON(out, sessions)
				}
				for _, s := range sessions {
					status := "running"
					if s.EndedAt != nil {
						status = "ended"
					}
					if s.Error != nil {
						status = "failed"
					}
					fmt.Fprintf(out, "%s\t%s\t%s\t%s\n", s.ID, s.StartedAt.Local().Format(time.RFC3339), status, s.Target)
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum sessions to list (0 for all)")
	cmd.Flags().IntVar(&offset, "offset", 0, "sessions to skip")
	return cmd
}

func newTranscriptShowCommand(a *app) *cobra.Command {
	var (
		filter stores.ExchangeFilter
		full   bool
	)

	cmd := &cobra.Command{
		Use:   "show SESSION",
		Short: "Print the exchanges of a session",
		Example: `  # Only failed exchanges
  quanto transcript show 5f0c... --outcome structured_error

  # Everything the core sent for graph_xml
  quanto transcript show 5f0c... --verb graph_xml --full`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd.Context(), func(store *stores.SQLiteStore) error {
				ctx := cmd.Context()
				session, err := store.GetSession(ctx, args[0])
				if err != nil {
					return err
				}
				exchanges, err := store.ListExchanges(ctx, session.ID, filter)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if a.jsonOutput {
					return printJSON(out, map[string]interface{}{
						"session":   session,
						"exchanges": exchanges,
					})
				}

				fmt.Fprintf(out, "session %s on %s\n", session.ID, session.Target)
				if session.Greeting != "" {
					fmt.Fprintf(out, "  greeting: %s\n", session.Greeting)
				}
				if session.ExitCode != nil {
					fmt.Fprintf(out, "  exit status: %d\n", *session.ExitCode)
				}
				if session.Error != nil {
					fmt.Fprintf(out, "  error: %s\n", *session.Error)
				}
				for _, ex := range exchanges {
					fmt.Fprintf(out, "%4d %-16s %-32s %d lines %s\n", ex.Seq, ex.Outcome, ex.Command, len(ex.Lines), ex.Duration)
					if ex.Error != "" {
						fmt.Fprintf(out, "     ! %s\n", ex.Error)
					}
					if full {
						for _, line := range ex.Lines {
							fmt.Fprintf(out, "     | %s\n", line)
						}
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&filter.Verb, "verb", "", "only exchanges for this verb")
	cmd.Flags().StringVar(&filter.Outcome, "outcome", "", "only exchanges with this outcome (ok, structured_error, parse_error, transport_error)")
	cmd.Flags().IntVar(&filter.Limit, "limit", 0, "maximum exchanges to print (0 for all)")
	cmd.Flags().BoolVar(&full, "full", false, "print the response lines")
	return cmd
}

func newTranscriptDeleteCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete SESSION...",
		Short: "Delete sessions and their exchanges",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd.Context(), func(store *stores.SQLiteStore) error {
				for _, id := range args {
					if err := store.DeleteSession(cmd.Context(), id); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}

func newTranscriptPruneCommand(a *app) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete sessions older than a cutoff",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}
			return a.withStore(cmd.Context(), func(store *stores.SQLiteStore) error {
				n, err := store.PruneSessions(cmd.Context(), time.Now().Add(-olderThan))
				if err != nil {
					return err
				}
				noun := "sessions"
				if n == 1 {
					noun = strings.TrimSuffix(noun, "s")
				}
				fmt.Fprintf(cmd.OutOrStdout(), "pruned %d %s\n", n, noun)
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "age of the oldest session kept")
	return cmd
}
