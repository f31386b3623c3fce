package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print the last statistics snapshot",
	Long: `stats prints the most recent point-in-time statistics snapshot
a running server wrote in response to SIGUSR2.

It does not query a live server: send it SIGUSR2 first
("kill -USR2 $(cat nfsd.pid)"), then run this command.`,
	RunE: runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(_ *cobra.Command, _ []string) error {
	data, err := os.ReadFile(statsSnapshotPath())
	if err != nil {
		if os.IsNotExist(err) {
			return ConfigError(fmt.Errorf("no stats snapshot found at %s -- send the running server SIGUSR2 first", statsSnapshotPath()))
		}
		return RuntimeFatal(fmt.Errorf("read stats snapshot: %w", err))
	}
	_, err = os.Stdout.Write(data)
	return err
}
