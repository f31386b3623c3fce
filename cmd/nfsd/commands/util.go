package commands

import (
	"os"
	"path/filepath"
	"runtime"
)

// GetDefaultStateDir returns the default directory for the PID file and
// daemon-mode log file: $XDG_STATE_HOME/nfsd on Linux/BSD, or
// %LOCALAPPDATA%\nfsd on Windows.
func GetDefaultStateDir() string {
	if runtime.GOOS == "windows" {
		if localAppData := os.Getenv("LOCALAPPDATA"); localAppData != "" {
			return filepath.Join(localAppData, "nfsd")
		}
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(os.TempDir(), "nfsd")
		}
		return filepath.Join(homeDir, "AppData", "Local", "nfsd")
	}

	stateDir := os.Getenv("XDG_STATE_HOME")
	if stateDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(os.TempDir(), "nfsd")
		}
		stateDir = filepath.Join(homeDir, ".local", "state")
	}
	return filepath.Join(stateDir, "nfsd")
}

// GetDefaultPidFile returns the default PID file path for daemon mode.
func GetDefaultPidFile() string {
	return filepath.Join(GetDefaultStateDir(), "nfsd.pid")
}

// GetDefaultLogFile returns the default log file path for daemon mode.
func GetDefaultLogFile() string {
	return filepath.Join(GetDefaultStateDir(), "nfsd.log")
}
