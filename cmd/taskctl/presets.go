package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"tasksync/client"
	"tasksync/domain"
)

func presetsCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "presets",
		Short: "Manage saved filter presets",
	}
	cmd.AddCommand(presetsListCmd(opts), presetsSaveCmd(opts))
	return cmd
}

func presetsListCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved presets in save order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			kv, err := client.OpenSQLiteKV(cmd.Context(), opts.statePath)
			if err != nil {
				return fmt.Errorf("open state: %w", err)
			}
			defer kv.Close()
			presets, err := client.NewPresetStore(kv).List(cmd.Context())
			if err != nil {
				return err
			}
			printPresets(cmd.OutOrStdout(), presets)
			return nil
		},
	}
}

func presetsSaveCmd(opts *options) *cobra.Command {
	var f domain.Filter
	cmd := &cobra.Command{
		Use:   "save <name>",
		Short: "Save a filter set under a name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := f.Validate(); err != nil {
				return err
			}
			kv, err := client.OpenSQLiteKV(cmd.Context(), opts.statePath)
			if err != nil {
				return fmt.Errorf("open state: %w", err)
			}
			defer kv.Close()
			return client.NewPresetStore(kv).Save(cmd.Context(), args[0], f)
		},
	}
	filterFlags(cmd, &f)
	return cmd
}

func loadPreset(ctx context.Context, opts *options, name string) (domain.Filter, error) {
	kv, err := client.OpenSQLiteKV(ctx, opts.statePath)
	if err != nil {
		return domain.Filter{}, fmt.Errorf("open state: %w", err)
	}
	defer kv.Close()
	p, ok, err := client.NewPresetStore(kv).Find(ctx, name)
	if err != nil {
		return domain.Filter{}, err
	}
	if !ok {
		return domain.Filter{}, fmt.Errorf("no preset named %q", name)
	}
	return p.Filters, nil
}

func printPresets(w io.Writer, presets []client.Preset) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSEARCH\tSTATUS\tPRIORITY")
	for _, p := range presets {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.Name, p.Filters.Search, orAny(string(p.Filters.Status)), orAny(string(p.Filters.Priority)))
	}
	_ = tw.Flush()
}
