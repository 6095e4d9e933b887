package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"adbdesk/adb"
	"adbdesk/config"
	"adbdesk/service"
	"adbdesk/store"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// openHistory opens the history store when enabled. The returned func closes it.
func (o *options) openHistory() (*store.HistoryStore, func(), error) {
	if !o.cfg.History.Enabled {
		return nil, func() {}, nil
	}
	db, err := config.InitDatabase(o.cfg.History.Path)
	if err != nil {
		return nil, nil, err
	}
	return store.NewHistoryStore(db), func() { db.Close() }, nil
}

func (o *options) commandService() (*service.CommandService, func(), error) {
	history, closeFn, err := o.openHistory()
	if err != nil {
		return nil, nil, err
	}
	client := adb.NewClient(o.cfg.ADB.Path, o.cfg.ADB.CommandTimeout)
	if history == nil {
		return service.NewCommandService(client, nil), closeFn, nil
	}
	return service.NewCommandService(client, history), closeFn, nil
}

func newExecCmd(opts *options) *cobra.Command {
	var serial string
	cmd := &cobra.Command{
		Use:   "exec [-s serial] <adb args...>",
		Short: "Run an adb command",
		Long: `Run "adb [-s serial] <args>" and print its output. The arguments are joined
and split again with shell quoting rules, so quoted arguments survive.

  adbdesk exec -s emulator-5554 shell getprop ro.product.model`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeFn, err := opts.commandService()
			if err != nil {
				return err
			}
			defer closeFn()
			return printResult(cmd, svc.Execute(contextOf(cmd), serial, quoteArgs(args)))
		},
	}
	cmd.Flags().StringVarP(&serial, "serial", "s", "", "target device serial")
	cmd.Flags().SetInterspersed(false)
	return cmd
}

func newShellCmd(opts *options) *cobra.Command {
	var serial string
	cmd := &cobra.Command{
		Use:   "shell [-s serial] <command...>",
		Short: "Run a command in the device shell",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := adb.NewClient(opts.cfg.ADB.Path, opts.cfg.ADB.CommandTimeout)
			return printResult(cmd, client.ExecuteShell(contextOf(cmd), serial, strings.Join(args, " ")))
		},
	}
	cmd.Flags().StringVarP(&serial, "serial", "s", "", "target device serial")
	cmd.Flags().SetInterspersed(false)
	return cmd
}

func newHistoryCmd(opts *options) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recently executed commands",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			history, closeFn, err := opts.openHistory()
			if err != nil {
				return err
			}
			defer closeFn()
			if history == nil {
				return errors.New("command history is disabled")
			}

			entries, err := history.Recent(contextOf(cmd), limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tDEVICE\tEXIT\tDURATION\tCOMMAND")
			for _, e := range entries {
				device := e.DeviceID
				if device == "" {
					device = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%dms\t%s\n",
					e.StartedAt.Local().Format("2006-01-02 15:04:05"), device, e.ExitCode, e.DurationMs, e.Command)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", store.DefaultRecentLimit, "number of entries")
	return cmd
}

// quoteArgs joins args so that shlex splits them back into the same list.
func quoteArgs(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		if a != "" && !strings.ContainsAny(a, " \t\n'\"\\") {
			quoted[i] = a
			continue
		}
		quoted[i] = "'" + strings.ReplaceAll(a, "'", `'"'"'`) + "'"
	}
	return strings.Join(quoted, " ")
}
