//go:build windows

package commands

import "fmt"

// startDaemon is not supported on Windows.
func startDaemon() error {
	return ConfigError(fmt.Errorf("daemon mode is not supported on Windows, use --foreground"))
}
