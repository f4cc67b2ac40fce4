// Command rtlink is a command-line client for the realtime channel.
//
// Usage:
//
//	rtlink listen  --config rtlink.yaml
//	rtlink send    --config rtlink.yaml '{"type":"ping"}'
//	rtlink console --config rtlink.yaml
//	rtlink version
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	var opts globalOptions

	rootCmd := &cobra.Command{
		Use:   "rtlink",
		Short: "Resilient client for the realtime WebSocket channel",
		Long: `rtlink connects to the backend's realtime channel, authenticates with a
bearer token and keeps the connection alive, reconnecting with exponential
backoff when it drops.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "rtlink.yaml", "path to config file")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log.level (debug, info, warn, error)")

	rootCmd.AddCommand(
		listenCmd(&opts),
		sendCmd(&opts),
		consoleCmd(&opts),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", describe(err))
		os.Exit(1)
	}
}
