package commands

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nfsd/nfsd/internal/cli/output"
	"github.com/nfsd/nfsd/internal/config"
)

var showExportsCmd = &cobra.Command{
	Use:   "show-exports",
	Short: "List configured exports",
	Long:  `show-exports loads the config file and prints each export's path, allowed clients, and options.`,
	RunE:  runShowExports,
}

func init() {
	rootCmd.AddCommand(showExportsCmd)
}

func runShowExports(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return ConfigError(err)
	}

	exports := cfg.Exports
	if len(exports) == 0 {
		exports = []config.Export{{Name: "/", Path: "/"}}
	}

	table := output.NewTableData("NAME", "PATH", "CLIENTS", "OPTIONS", "COMMENT")
	for _, e := range exports {
		clients := strings.Join(e.Clients, ",")
		if clients == "" {
			clients = "*"
		}
		table.AddRow(e.Name, e.Path, clients, strings.Join(e.Options, ","), e.Comment)
	}

	return output.PrintTable(os.Stdout, table)
}
