package commands

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/quantomatic/quanto-client/pkg/console"
	"github.com/quantomatic/quanto-client/pkg/policy"
)

func newScriptCommand(a *app) *cobra.Command {
	var (
		vars  map[string]string
		files []string
	)

	cmd := &cobra.Command{
		Use:   "script FILE",
		Short: "Run a Starlark script against the core",
		Long: `Run a Starlark script with the core bound to builtins:

  hello() graphs() rules() graph(name) rule(name)
  rewrites(graph) apply(graph, index)
  user_data(graph, key) set_user_data(graph, key, value)
  call(verb, *args) try_call(verb, *args)

A core error aborts the script with the error code. try_call returns a
struct with ok, code, message and lines instead. Public globals left by
the script are printed when it finishes.`,
		Example: `  # Run a script with an input variable
  quanto script simplify.star --set graph=g1`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read script: %w", err)
			}
			input := make(map[string]interface{}, len(vars))
			for k, v := range vars {
				input[k] = scriptValue(v)
			}

			a.source = policy.SourceScript
			return a.withSession(cmd.Context(), func(ctx context.Context, s *session) error {
				loaded, err := s.loadFiles(ctx, files)
				if err != nil {
					return err
				}
				if len(loaded) > 0 {
					input["loaded"] = loaded
				}

				c := console.New(s.core, s.cfg.Console.Timeout, s.tel.Logger)
				result, err := c.Run(ctx, args[0], string(src), input)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if a.jsonOutput {
					return printJSON(out, map[string]interface{}{
						"output":  result.Output,
						"printed": nonNil(result.Printed),
					})
				}
				printLines(out, result.Printed)
				keys := make([]string, 0, len(result.Output))
				for k := range result.Output {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				for _, k := range keys {
					fmt.Fprintf(out, "%s = %v\n", k, result.Output[k])
				}
				s.logger.WithField("duration", result.ExecutionTime.String()).Debug("script finished")
				return nil
			})
		},
	}

	cmd.Flags().StringToStringVar(&vars, "set", nil, "predeclare a global, as name=value (repeatable)")
	cmd.Flags().StringSliceVarP(&files, "file", "f", nil, "graph files to load first; their names are in 'loaded'")
	return cmd
}

// scriptValue types a --set value: integers and booleans are converted,
// everything else stays a string.
func scriptValue(s string) interface{} {
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s
}
