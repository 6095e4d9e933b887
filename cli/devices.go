package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"adbdesk/adb"
	"adbdesk/models"
	"adbdesk/service"

	"github.com/spf13/cobra"
)

func newDevicesCmd(opts *options) *cobra.Command {
	var watch, asJSON bool
	cmd := &cobra.Command{
		Use:     "devices",
		Aliases: []string{"ls"},
		Short:   "List attached devices",
		Long: `List the devices adb reports, one per line.

With --watch the list is polled at monitor.interval and reprinted on every poll
until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := adb.NewClient(opts.cfg.ADB.Path, opts.cfg.ADB.CommandTimeout)
			registry := service.NewDeviceRegistry(client, opts.cfg.Monitor.Interval)
			out := cmd.OutOrStdout()
			show := func(devices []models.Device) {
				if asJSON {
					printJSON(out, devices)
					return
				}
				printDevices(out, devices)
			}

			if !watch {
				devices, err := registry.GetDevices(contextOf(cmd))
				if err != nil {
					return err
				}
				show(devices)
				return nil
			}

			ctx, stop := signal.NotifyContext(contextOf(cmd), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			registry.StartMonitoring(show)
			<-ctx.Done()
			registry.StopMonitoring()
			return nil
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "keep polling and print every update")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func newDetailsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "details <serial>",
		Short: "Show Android version, resolution and battery of a device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := adb.NewClient(opts.cfg.ADB.Path, opts.cfg.ADB.CommandTimeout)
			details, err := client.DeviceDetails(contextOf(cmd), args[0])
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "SERIAL\t%s\n", details.ID)
			fmt.Fprintf(w, "ANDROID\t%s\n", details.AndroidVersion)
			fmt.Fprintf(w, "RESOLUTION\t%s\n", details.Resolution)
			battery := "unknown"
			if details.Battery >= 0 {
				battery = fmt.Sprintf("%d%%", details.Battery)
			}
			fmt.Fprintf(w, "BATTERY\t%s\n", battery)
			return w.Flush()
		},
	}
}

func printDevices(out io.Writer, devices []models.Device) {
	if len(devices) == 0 {
		fmt.Fprintln(out, "No devices attached.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SERIAL\tSTATE\tNAME\tMODEL\tTRANSPORT")
	for _, d := range devices {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", d.ID, d.State, d.Name, d.Model, d.TransportID)
	}
	w.Flush()
}

func printJSON(out io.Writer, v any) {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

// printResult writes a command's output and turns a failure into an ExitError.
func printResult(cmd *cobra.Command, result models.CommandResult) error {
	if result.Stdout != "" {
		fmt.Fprint(cmd.OutOrStdout(), withNewline(result.Stdout))
	}
	if result.Stderr != "" {
		fmt.Fprint(cmd.ErrOrStderr(), withNewline(result.Stderr))
	}
	if !result.Success {
		code := result.ExitCode
		if code == 0 {
			code = 1
		}
		return &ExitError{Code: code}
	}
	return nil
}

func withNewline(s string) string {
	if strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}

func contextOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
