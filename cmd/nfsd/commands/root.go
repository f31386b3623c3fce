// Package commands implements nfsd's cobra command tree: serve runs the
// RPC server, init scaffolds a config file, show-config and
// show-exports inspect the resolved configuration, stats reads the
// last snapshot a running server wrote on SIGUSR2, and version prints
// build metadata. Grounded on the teacher's cmd/dfs/commands tree,
// trimmed to the subcommands this simpler daemon needs.
package commands

import (
	"github.com/spf13/cobra"
)

// Version is set via ldflags at build time.
var Version = "dev"

var configFile string

var rootCmd = &cobra.Command{
	Use:   "nfsd",
	Short: "A user-space ONC-RPC/NFS file server",
	Long: `nfsd serves NFSv2, NFSv3, and NFSv4 over TCP and UDP, plus the
portmapper that lets older clients locate it.

Run "nfsd init" to scaffold a config file, then "nfsd serve" to start
the server.`,
	Version: Version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to config file (default: ./config.yaml or /etc/nfsd/config.yaml)")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
