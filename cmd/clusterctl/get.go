package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/clusterd/scheduler/internal/cliutil/output"
)

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <task-ident>",
		Short: "Get a task's current snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			snap, err := newClient().GetTask(ctx, args[0])
			if err != nil {
				return err
			}
			output.PrintTask(os.Stdout, snap, noColor)
			return nil
		},
	}
}
