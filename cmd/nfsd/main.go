// Command nfsd is the user-space NFS server's entry point. Flags,
// environment variables, and signal handling follow the teacher's
// cmd/dfs daemon launcher (cobra root command, XDG-rooted default PID/
// log paths, SIGINT/SIGTERM-driven graceful shutdown).
package main

import (
	"fmt"
	"os"

	"github.com/nfsd/nfsd/cmd/nfsd/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(commands.ExitCodeFor(err))
	}
}
