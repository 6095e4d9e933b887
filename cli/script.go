package cli

import (
	"fmt"
	"os/signal"
	"syscall"

	"adbdesk/script"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func (o *options) runner() *script.Runner {
	return script.NewRunner(o.cfg.Python.Interpreter, o.cfg.Python.Timeout,
		script.WithInteractiveTimeout(o.cfg.Python.InteractiveTimeout))
}

func newScriptCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "script",
		Short: "Run Python helper scripts",
	}
	cmd.AddCommand(newScriptRunCmd(opts), newScriptCheckCmd(opts), newScriptInstallCmd(opts))
	return cmd
}

func newScriptRunCmd(opts *options) *cobra.Command {
	var follow bool
	cmd := &cobra.Command{
		Use:   "run <script.py> [args...]",
		Short: "Run a script and print its output",
		Long: `Run a script with the configured interpreter. The script's directory is its
working directory.

Without --follow the script is bounded by python.timeout and its output is
printed when it exits. With --follow output is streamed as it arrives.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runner := opts.runner()
			if !follow {
				result := runner.RunScript(contextOf(cmd), args[0], args[1:])
				return printResult(cmd, result.CommandResult)
			}

			ctx, stop := signal.NotifyContext(contextOf(cmd), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			closed := make(chan int, 1)
			_, err := runner.RunScriptInteractive(ctx, args[0], args[1:],
				func(stream script.Stream, data string) {
					if stream == script.Stderr {
						fmt.Fprint(cmd.ErrOrStderr(), data)
						return
					}
					fmt.Fprint(cmd.OutOrStdout(), data)
				},
				func(code int) { closed <- code },
			)
			if err != nil {
				return err
			}
			if code := <-closed; code != 0 {
				return &ExitError{Code: code}
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "stream output while the script runs")
	cmd.Flags().SetInterspersed(false)
	return cmd
}

func newScriptCheckCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check that the Python interpreter is available",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			runner := opts.runner()
			version, err := runner.Version(contextOf(cmd))
			if err != nil {
				return errors.Wrapf(err, "python interpreter %q is not available", runner.Interpreter())
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", version, runner.Interpreter())
			return nil
		},
	}
}

func newScriptInstallCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "install <requirements.txt>",
		Short: "Install script dependencies with pip",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result := opts.runner().InstallDependencies(contextOf(cmd), args[0])
			return printResult(cmd, result.CommandResult)
		},
	}
}
