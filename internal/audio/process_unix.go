//go:build !windows

package audio

import (
	"io"
	"os/exec"

	"github.com/huddlehq/huddle-recorder/internal/util"
)

func inputArgs() []string {
	return []string{"-nostdin", "-hide_banner", "-loglevel", "warning"}
}

// interruptCapture asks FFmpeg to stop reading the device and exit.
func interruptCapture(cmd *exec.Cmd, _ io.WriteCloser) error {
	return util.GracefulSignal(cmd.Process)
}
