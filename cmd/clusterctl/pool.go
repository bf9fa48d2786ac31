package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/clusterd/scheduler/internal/cliutil/output"
)

func newPoolCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pool",
		Short: "Show worker pool occupancy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			status, err := newClient().Pool(ctx)
			if err != nil {
				return err
			}
			output.PrintPool(os.Stdout, status, noColor)
			return nil
		},
	}
}

func newCommandsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "commands",
		Short: "List the registered command manifest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			entries, err := newClient().Commands(ctx)
			if err != nil {
				return err
			}
			output.PrintCommands(os.Stdout, entries, noColor)
			return nil
		},
	}
}
