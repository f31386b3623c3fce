//go:build windows

package commands

import (
	"os"
	"syscall"
)

// lifecycleSignals on Windows is limited to what os/signal actually
// delivers there; config reload, log rotation, and stats snapshots
// have no SIGHUP/SIGUSR1/SIGUSR2 equivalent and are unavailable.
var lifecycleSignals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}

func isReloadSignal(sig os.Signal) bool { return false }
func isRotateSignal(sig os.Signal) bool { return false }
func isStatsSignal(sig os.Signal) bool  { return false }
