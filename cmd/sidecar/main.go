package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/orris-inc/sidecar/internal/interfaces/cli/credentials"
	"github.com/orris-inc/sidecar/internal/interfaces/cli/migrate"
	"github.com/orris-inc/sidecar/internal/interfaces/cli/nodes"
	"github.com/orris-inc/sidecar/internal/interfaces/cli/server"
	"github.com/orris-inc/sidecar/internal/shared/version"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "sidecar",
		Short:   "Sidecar - bridge remote nodes over HTTP gateways",
		Long:    `Sidecar runs a local service broker that reaches remote nodes through HTTP gateways, with node store, migration and credential tools.`,
		Version: version.Current(),
	}

	rootCmd.AddCommand(
		server.NewCommand(),
		migrate.NewCommand(),
		nodes.NewCommand(),
		credentials.NewCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
