package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nfsd/nfsd/internal/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a sample configuration file",
	Long: `init writes a default configuration file with the root path and
enabled NFS versions a new install needs, then exits.

By default the file is written to ./config.yaml. Use --config to pick
a different path.`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing config file")
	rootCmd.AddCommand(initCmd)
}

func runInit(_ *cobra.Command, _ []string) error {
	path := configFile
	if path == "" {
		path = "config.yaml"
	}

	if !initForce {
		if _, err := os.Stat(path); err == nil {
			return ConfigError(fmt.Errorf("%s already exists, use --force to overwrite", path))
		}
	}

	cfg := &config.Config{RootPath: "/srv/nfs"}
	config.ApplyDefaults(cfg)
	cfg.Exports = []config.Export{{Name: "/", Path: "/srv/nfs", Comment: "default export"}}

	if err := config.Save(cfg, path); err != nil {
		return ConfigError(fmt.Errorf("write config: %w", err))
	}

	fmt.Printf("Configuration file created at: %s\n", path)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Edit root_path and exports to match your setup")
	fmt.Printf("  2. Start the server with: nfsd serve --config %s\n", path)
	return nil
}
