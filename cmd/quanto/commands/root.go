package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/quantomatic/quanto-client/pkg/core/client"
	"github.com/quantomatic/quanto-client/pkg/core/protocol"
	"github.com/quantomatic/quanto-client/pkg/policy"
)

// Exit codes beyond the generic failure.
const (
	exitFailure   = 1
	exitCoreError = 2
	exitTransport = 3
	exitDenied    = 4
)

// app holds the global flags. launcher replaces the configured launcher
// when set.
type app struct {
	configPath string
	corePath   string
	remote     string
	timeout    time.Duration
	verbose    bool
	jsonOutput bool
	readOnly   bool
	policies   []string

	// source tells policies which command family issued a command.
	source   string
	launcher client.Launcher
}

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(&app{}, version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

// ExitCode maps a command error to the process exit status: 2 when the
// core reported an error, 3 when the channel to it failed, 4 when a
// policy blocked a command.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, policy.ErrDenied):
		return exitDenied
	case protocol.IsTransportError(err):
		return exitTransport
	case errors.As(err, new(*protocol.StructuredError)):
		return exitCoreError
	default:
		return exitFailure
	}
}

func newRootCommand(a *app, version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "quanto",
		Short: "Drive a Quantomatic core from the command line",
		Long: `quanto starts a Quantomatic core (locally, or on a remote host over SSH)
and talks to it over the core's line protocol.

Graphs, rules and attached rewrites are fetched as XML and decoded into
typed values. Every exchange can be kept in a SQLite transcript, and
commands can be checked against Rego policies before they are sent.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&a.corePath, "core", "", "core executable (overrides config)")
	rootCmd.PersistentFlags().StringVar(&a.remote, "remote", "", "run the core on user@host[:port]")
	rootCmd.PersistentFlags().DurationVar(&a.timeout, "timeout", 0, "per-command timeout (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&a.jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&a.readOnly, "read-only", false, "refuse commands that change core state")
	rootCmd.PersistentFlags().StringSliceVar(&a.policies, "policy", nil, "Rego policy file or directory (repeatable)")

	rootCmd.AddCommand(newHelloCommand(a))
	rootCmd.AddCommand(newCallCommand(a))
	rootCmd.AddCommand(newGraphsCommand(a))
	rootCmd.AddCommand(newRewritesCommand(a))
	rootCmd.AddCommand(newRulesCommand(a))
	rootCmd.AddCommand(newUserDataCommand(a))
	rootCmd.AddCommand(newScriptCommand(a))
	rootCmd.AddCommand(newWatchCommand(a))
	rootCmd.AddCommand(newTranscriptCommand(a))
	rootCmd.AddCommand(newPolicyCommand(a))

	return rootCmd
}
