package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nfsd/nfsd/internal/config"
)

var showConfigCmd = &cobra.Command{
	Use:   "show-config",
	Short: "Print the resolved configuration as YAML",
	Long: `show-config loads the config file, applies defaults, validates it,
and prints the result -- the same configuration serve would run with.`,
	RunE: runShowConfig,
}

func init() {
	rootCmd.AddCommand(showConfigCmd)
}

func runShowConfig(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return ConfigError(err)
	}

	out, err := yaml.Marshal(cfg)
	if err != nil {
		return RuntimeFatal(fmt.Errorf("marshal config: %w", err))
	}

	_, err = os.Stdout.Write(out)
	return err
}
