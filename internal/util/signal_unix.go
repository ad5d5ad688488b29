//go:build !windows

package util

import (
	"os"
	"syscall"
)

// ShutdownSignals returns the signals that end a recording session.
func ShutdownSignals() []os.Signal {
	return []os.Signal{syscall.SIGINT, syscall.SIGTERM}
}

// GracefulSignal asks a capture process to flush and exit.
func GracefulSignal(p *os.Process) error {
	return p.Signal(syscall.SIGINT)
}
