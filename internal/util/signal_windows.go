//go:build windows

package util

import (
	"io"
	"os"
)

// ShutdownSignals returns the signals that end a recording session.
func ShutdownSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}

// GracefulSignal is a no-op on Windows; capture processes are stopped via StopViaStdin.
func GracefulSignal(_ *os.Process) error {
	return nil
}

// StopViaStdin sends FFmpeg's quit command and closes its stdin.
func StopViaStdin(stdin io.WriteCloser) error {
	if stdin == nil {
		return nil
	}
	_, _ = stdin.Write([]byte("q"))
	return stdin.Close()
}
