//go:build windows

package audio

import (
	"io"
	"os/exec"

	"github.com/huddlehq/huddle-recorder/internal/util"
)

// -nostdin is omitted so FFmpeg accepts the 'q' quit command.
func inputArgs() []string {
	return []string{"-hide_banner", "-loglevel", "warning"}
}

// interruptCapture asks FFmpeg to stop reading the device and exit.
func interruptCapture(_ *exec.Cmd, stdin io.WriteCloser) error {
	return util.StopViaStdin(stdin)
}
