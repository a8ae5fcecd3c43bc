//go:build !windows

package worker

import (
	"os/exec"

	"golang.org/x/sys/unix"
)

// terminateGroup signals the worker's whole process group. The PTY start makes
// the worker a session leader, so its pid is also the group id.
func terminateGroup(cmd *exec.Cmd) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	if err := unix.Kill(-cmd.Process.Pid, unix.SIGTERM); err != nil {
		_ = cmd.Process.Kill()
	}
}
