// Command conduit-log views and analyzes protocol event logs produced by
// conduit-listen and conduit-dial.
//
// Usage:
//
//	conduit-log <command> [flags] <file.clog>
//
// Commands:
//
//	view     View log file in human-readable format
//	export   Export log file to JSON or CSV format
//	filter   Filter log file and write to new file
//	stats    Show statistics about the log file
package main

import (
	"fmt"
	"os"

	"github.com/conduitmesh/conduit/cmd/conduit-log/commands"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "conduit-log",
		Short:         "View and analyze conduit protocol event logs",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(newViewCmd(), newExportCmd(), newFilterCmd(), newStatsCmd())
	return root
}

func newViewCmd() *cobra.Command {
	var layer, direction, category, kind string

	cmd := &cobra.Command{
		Use:   "view <file.clog>",
		Short: "View log file in human-readable format",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var filter commands.ViewFilter

			if layer != "" {
				l, err := commands.ParseLayerFlag(layer)
				if err != nil {
					return err
				}
				filter.Layer = &l
			}
			if direction != "" {
				d, err := commands.ParseDirectionFlag(direction)
				if err != nil {
					return err
				}
				filter.Direction = &d
			}
			if category != "" {
				c, err := commands.ParseCategoryFlag(category)
				if err != nil {
					return err
				}
				filter.Category = &c
			}
			if kind != "" {
				k, err := commands.ParseKindFlag(kind)
				if err != nil {
					return err
				}
				filter.Kind = &k
			}

			return commands.RunView(args[0], filter, os.Stdout)
		},
	}

	cmd.Flags().StringVar(&layer, "layer", "", "filter by layer (endpoint, transport, session)")
	cmd.Flags().StringVar(&direction, "direction", "", "filter by direction (in, out)")
	cmd.Flags().StringVar(&category, "category", "", "filter by category (control, state, error)")
	cmd.Flags().StringVar(&kind, "kind", "", "filter by endpoint kind (bound, connected)")
	return cmd
}

func newExportCmd() *cobra.Command {
	var format, output string

	cmd := &cobra.Command{
		Use:   "export <file.clog>",
		Short: "Export log file to JSON or CSV format",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return commands.RunExport(args[0], format, output)
		},
	}

	cmd.Flags().StringVar(&format, "format", "jsonl", "output format (jsonl, csv)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default: stdout)")
	return cmd
}

func newFilterCmd() *cobra.Command {
	opts := commands.FilterOptions{}

	cmd := &cobra.Command{
		Use:   "filter <file.clog>",
		Short: "Filter log file and write matching events to a new file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Output == "" {
				return fmt.Errorf("output file (-o) required")
			}
			return commands.RunFilter(args[0], opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file (required)")
	cmd.Flags().StringVar(&opts.ConnID, "conn-id", "", "filter by connection ID")
	cmd.Flags().StringVar(&opts.TimeStart, "time-start", "", "filter by start time (RFC3339)")
	cmd.Flags().StringVar(&opts.TimeEnd, "time-end", "", "filter by end time (RFC3339)")
	cmd.Flags().StringVar(&opts.Layer, "layer", "", "filter by layer (endpoint, transport, session)")
	cmd.Flags().StringVar(&opts.Direction, "direction", "", "filter by direction (in, out)")
	cmd.Flags().StringVar(&opts.Category, "category", "", "filter by category (control, state, error)")
	cmd.Flags().StringVar(&opts.Kind, "kind", "", "filter by endpoint kind (bound, connected)")
	return cmd
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats <file.clog>",
		Short: "Show statistics about the log file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return commands.RunStats(args[0], os.Stdout)
		},
	}
}
