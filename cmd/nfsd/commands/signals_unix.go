//go:build !windows

package commands

import (
	"os"
	"syscall"
)

// lifecycleSignals are the signals serve listens for: SIGINT/SIGTERM
// for graceful shutdown, SIGHUP for config reload, SIGUSR1 for log
// rotation, SIGUSR2 for a stats snapshot.
var lifecycleSignals = []os.Signal{
	syscall.SIGINT, syscall.SIGTERM,
	syscall.SIGHUP, syscall.SIGUSR1, syscall.SIGUSR2,
}

func isReloadSignal(sig os.Signal) bool { return sig == syscall.SIGHUP }
func isRotateSignal(sig os.Signal) bool { return sig == syscall.SIGUSR1 }
func isStatsSignal(sig os.Signal) bool  { return sig == syscall.SIGUSR2 }
