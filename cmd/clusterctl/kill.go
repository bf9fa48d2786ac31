package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newKillCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kill <task-ident>",
		Short: "Request cancellation of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			if err := newClient().KillTask(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("kill requested for %s\n", args[0])
			return nil
		},
	}
}
