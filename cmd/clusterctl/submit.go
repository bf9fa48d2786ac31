package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/clusterd/scheduler/internal/task"
)

func newSubmitCmd() *cobra.Command {
	var (
		params         []string
		paramsJSON     string
		requestTimeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "submit <command-name>",
		Short: "Submit a new task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := buildParams(params, paramsJSON)
			if err != nil {
				return err
			}

			c := task.Command{Name: args[0], Params: p}
			if requestTimeout > 0 {
				c.Options.RequestTimeout = &requestTimeout
			}

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			ident, err := newClient().SubmitTask(ctx, c)
			if err != nil {
				return err
			}
			fmt.Println(ident)
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&params, "param", nil, "task parameter as key=value (repeatable)")
	cmd.Flags().StringVar(&paramsJSON, "params-json", "", "task parameters as a raw JSON object, overrides --param")
	cmd.Flags().DurationVar(&requestTimeout, "request-timeout", 0, "per-task completion timeout hint")
	return cmd
}

// buildParams assembles the params map from --param key=value pairs, or
// decodes --params-json directly when given.
func buildParams(pairs []string, rawJSON string) (map[string]any, error) {
	if rawJSON != "" {
		var out map[string]any
		if err := json.Unmarshal([]byte(rawJSON), &out); err != nil {
			return nil, fmt.Errorf("invalid --params-json: %w", err)
		}
		return out, nil
	}

	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --param %q, expected key=value", p)
		}
		out[k] = v
	}
	return out, nil
}
