package main

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/clusterd/scheduler/internal/apiclient"
	"github.com/clusterd/scheduler/internal/cliutil/output"
)

func newWaitCmd() *cobra.Command {
	var waitTimeout time.Duration

	cmd := &cobra.Command{
		Use:   "wait <task-ident>",
		Short: "Block until a task reaches FINISHED",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// The wait request must be allowed to outlive the generic
			// --timeout flag's client-side deadline: the client is rebuilt
			// with a widened (or absent) deadline since http.Client.Timeout
			// would otherwise still cap the request.
			ctx := context.Background()
			reqTimeout := time.Duration(0)
			if waitTimeout > 0 {
				reqTimeout = waitTimeout + 5*time.Second
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, reqTimeout)
				defer cancel()
			}

			c := apiclient.New(serverAddr, apiKey, reqTimeout)
			snap, err := c.WaitTask(ctx, args[0], waitTimeout)
			if err != nil {
				return err
			}
			output.PrintTask(os.Stdout, snap, noColor)
			return nil
		},
	}

	cmd.Flags().DurationVar(&waitTimeout, "wait-timeout", 0, "give up waiting after this long (0 = wait indefinitely)")
	return cmd
}
