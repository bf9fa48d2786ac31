// Command clusterctl is the operator CLI in front of a running clusterd
// daemon's HTTP facade: submit/get/wait/kill a task, and inspect pool
// occupancy and the registered command manifest.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/clusterd/scheduler/internal/apiclient"
)

var (
	serverAddr string
	apiKey     string
	noColor    bool
	timeout    time.Duration
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "clusterctl",
		Short:         "Operator CLI for the clusterd task scheduler",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	}

	root.PersistentFlags().StringVar(&serverAddr, "server", "http://localhost:8080", "clusterd HTTP address")
	root.PersistentFlags().StringVar(&apiKey, "api-key", "", "API key, if the daemon requires one")
	root.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "HTTP request timeout")

	_ = viper.BindPFlag("server", root.PersistentFlags().Lookup("server"))
	_ = viper.BindPFlag("api_key", root.PersistentFlags().Lookup("api-key"))

	root.AddCommand(newSubmitCmd())
	root.AddCommand(newGetCmd())
	root.AddCommand(newWaitCmd())
	root.AddCommand(newKillCmd())
	root.AddCommand(newPoolCmd())
	root.AddCommand(newCommandsCmd())

	return root
}

// initConfig lets CLUSTERCTL_SERVER / CLUSTERCTL_API_KEY override the
// --server/--api-key flag defaults, mirroring the daemon's own
// CLUSTERD_-prefixed environment convention in internal/config.
func initConfig() error {
	viper.SetEnvPrefix("CLUSTERCTL")
	viper.AutomaticEnv()
	if viper.IsSet("server") {
		serverAddr = viper.GetString("server")
	}
	if viper.IsSet("api_key") {
		apiKey = viper.GetString("api_key")
	}
	return nil
}

func newClient() *apiclient.Client {
	return apiclient.New(serverAddr, apiKey, timeout)
}
