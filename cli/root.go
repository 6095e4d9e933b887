// Package cli implements the adbdesk command line.
package cli

import (
	"fmt"
	"os"

	"adbdesk/config"
	"adbdesk/logger"

	"github.com/spf13/cobra"
)

// ExitError carries the exit code of a command that ran and failed.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit code %d", e.Code)
}

type options struct {
	configPath string
	logLevel   string

	cfg     config.Config
	logFile *os.File
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "adbdesk",
		Short: "Android device desk over adb",
		Long: `adbdesk lists Android devices attached through adb, runs adb and shell
commands against them, runs Python helper scripts and hosts a small plugin
catalog. "adbdesk serve" exposes all of it over HTTP and WebSocket for a UI.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.logFile != nil {
				opts.logFile.Close()
			}
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	root.AddCommand(
		newServeCmd(opts),
		newDevicesCmd(opts),
		newDetailsCmd(opts),
		newExecCmd(opts),
		newShellCmd(opts),
		newScriptCmd(opts),
		newPluginsCmd(opts),
		newHistoryCmd(opts),
	)
	return root
}

// Execute runs the CLI with os.Args.
func Execute() error {
	return NewRootCmd().Execute()
}

// load reads the config and sets up logging. Only the server logs to a file.
func (o *options) load(cmd *cobra.Command) error {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	o.cfg = cfg

	logOpts := logger.Options{Level: cfg.Log.Level}
	if cmd.Name() == "serve" {
		logOpts.Dir = cfg.Log.Dir
	} else if o.logLevel == "" {
		logOpts.Level = "warn"
	}
	file, err := logger.Init(logOpts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: file logging disabled: %v\n", err)
	}
	o.logFile = file
	return nil
}
