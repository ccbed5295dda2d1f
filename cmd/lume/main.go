package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "lume",
		Short: "Poll-driven HTTP server for cooperative main loops",
		Long: `Lume is an HTTP/1.1 server that never takes over your process.

The application owns the loop and calls Poll whenever it has a
moment; each call advances every connection one non-blocking step.
Routing, auth, Server-Sent Events and WebSocket channels all run
inside that single-threaded loop.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
