package cli

import (
	"fmt"
	"text/tabwriter"

	"adbdesk/plugin"

	"github.com/spf13/cobra"
)

func (o *options) catalog() (*plugin.Catalog, error) {
	return plugin.NewCatalog(o.cfg.Plugins.Dir, o.runner())
}

func newPluginsCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "plugins",
		Aliases: []string{"plugin"},
		Short:   "Manage the plugin catalog",
	}
	cmd.AddCommand(newPluginsListCmd(opts), newPluginsNewCmd(opts), newPluginsRunCmd(opts))
	return cmd
}

func newPluginsListCmd(opts *options) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Scan the plugins directory and list what loads",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := opts.catalog()
			if err != nil {
				return err
			}
			catalog.ScanAndLoad()
			plugins := catalog.Plugins()

			if asJSON {
				printJSON(cmd.OutOrStdout(), plugins)
				return nil
			}
			if len(plugins) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No plugins in %s.\n", catalog.Root())
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tVERSION\tPYTHON\tVIEWS")
			for _, p := range plugins {
				python := "-"
				if p.Manifest.Python != nil {
					python = p.Manifest.Python.Script
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n", p.Manifest.ID, p.Manifest.Name, p.Manifest.Version, python, len(p.Views))
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func newPluginsNewCmd(opts *options) *cobra.Command {
	var withPython bool
	cmd := &cobra.Command{
		Use:   "new <name>",
		Short: "Create a plugin skeleton in the plugins directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := opts.catalog()
			if err != nil {
				return err
			}
			dir, err := catalog.CreateTemplate(args[0], plugin.TemplateOptions{WithPython: withPython})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", dir)
			return nil
		},
	}
	cmd.Flags().BoolVar(&withPython, "python", false, "include a python script")
	return cmd
}

func newPluginsRunCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <plugin-id> <script> [args...]",
		Short: "Run one of a plugin's python scripts",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := opts.catalog()
			if err != nil {
				return err
			}
			catalog.ScanAndLoad()
			result, err := catalog.ExecuteScript(contextOf(cmd), args[0], args[1], args[2:])
			if err != nil {
				return err
			}
			return printResult(cmd, result.CommandResult)
		},
	}
	cmd.Flags().SetInterspersed(false)
	return cmd
}
