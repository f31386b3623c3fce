package commands

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// Commit and Date are set via ldflags at build time, alongside Version.
var (
	Commit = "unknown"
	Date   = "unknown"
)

var versionShort bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Long:  `Display the nfsd version, build information, and system details.`,
	Run: func(_ *cobra.Command, _ []string) {
		if versionShort {
			fmt.Println(Version)
			return
		}

		fmt.Printf("nfsd %s\n", Version)
		fmt.Printf("  Commit:     %s\n", Commit)
		fmt.Printf("  Built:      %s\n", Date)
		fmt.Printf("  Go version: %s\n", runtime.Version())
		fmt.Printf("  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	versionCmd.Flags().BoolVar(&versionShort, "short", false, "show only the version number")
	rootCmd.AddCommand(versionCmd)
}
