package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quantomatic/quanto-client/pkg/config"
	"github.com/quantomatic/quanto-client/pkg/core/protocol"
	"github.com/quantomatic/quanto-client/pkg/policy"
	"github.com/quantomatic/quanto-client/pkg/telemetry"
)

func newPolicyCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect command policies",
		Long: `Commands are checked against Rego policies when --read-only or --policy
is given, or when the config has a policy section. A policy denies a
command by adding to its deny set; the input document holds the verb,
args, text, source and mode of the command.`,
	}

	cmd.AddCommand(newPolicyListCommand(a))
	cmd.AddCommand(newPolicyCheckCommand(a))

	return cmd
}

// withPolicies loads the configured policies without starting a core.
func (a *app) withPolicies(ctx context.Context, fn func(*config.Config, *policy.Engine) error) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	logger, err := telemetry.NewLogger(cfg.Telemetry.Logging)
	if err != nil {
		return err
	}
	engine, err := policyEngine(ctx, cfg, logger.Zerolog())
	if err != nil {
		return err
	}
	return fn(cfg, engine)
}

func newPolicyListCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List built-in and loaded policies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withPolicies(cmd.Context(), func(_ *config.Config, engine *policy.Engine) error {
				policies := engine.ListPolicies()
				out := cmd.OutOrStdout()
				if a.jsonOutput {
					return printJSON(out, map[string]interface{}{"policies": policies})
				}
				for _, p := range policies {
					source := p.Source
					if source == "" {
						source = "built-in"
					}
					fmt.Fprintf(out, "%s\t%s\t%s\n", p.Name, p.Severity, source)
				}
				return nil
			})
		},
	}
}

func newPolicyCheckCommand(a *app) *cobra.Command {
	var (
		text   string
		source string
	)

	cmd := &cobra.Command{
		Use:   "check VERB [ARG...]",
		Short: "Evaluate a command against the policies without sending it",
		Example: `  # Would kill_graph be allowed in a read-only session?
  quanto --read-only policy check kill_graph g1`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withPolicies(cmd.Context(), func(cfg *config.Config, engine *policy.Engine) error {
				mode := policy.ModeReadWrite
				if cfg.Policy.ReadOnly {
					mode = policy.ModeReadOnly
				}
				command := protocol.NewCommand(args[0], args[1:]...).WithTrailing(text)
				decision, err := engine.Evaluate(cmd.Context(), policy.NewInput(command, source, mode))
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if a.jsonOutput {
					if err := printJSON(out, decision); err != nil {
						return err
					}
				} else {
					for _, v := range decision.Violations {
						fmt.Fprintf(out, "deny\t%s\n", v)
					}
					for _, w := range decision.Warnings {
						fmt.Fprintf(out, "warn\t%s\n", w)
					}
					if decision.Allowed {
						fmt.Fprintf(out, "allowed: %s\n", strings.TrimSpace(command.String()))
					}
				}
				if !decision.Allowed {
					return &policy.DeniedError{Verb: command.Verb, Violations: decision.Violations}
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&text, "text", "", "free-text final field")
	cmd.Flags().StringVar(&source, "source", policy.SourceCLI, "source the command is described as (cli, script, watch)")
	return cmd
}
