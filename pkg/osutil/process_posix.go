//go:build unix

// Package osutil holds the platform specific bits of spawning skill processes.
package osutil

import (
	"io/fs"
	"os/exec"
	"syscall"
	"time"
)

// GracefulShutdownDelay is how long a process group gets between SIGTERM and SIGKILL.
const GracefulShutdownDelay = 2 * time.Second

// SetProcessGroup runs the command in its own process group so that helpers
// a skill spawns (dev servers, package manager audits) die with it.
func SetProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// SetProcessGroupKill makes context cancellation terminate the whole process
// group: SIGTERM first, SIGKILL after GracefulShutdownDelay.
// Must be called after SetProcessGroup and before cmd.Start().
func SetProcessGroupKill(cmd *exec.Cmd) {
	cmd.Cancel = func() error {
		pgid := -cmd.Process.Pid
		if err := syscall.Kill(pgid, syscall.SIGTERM); err != nil {
			if err == syscall.ESRCH {
				return nil
			}
			return syscall.Kill(pgid, syscall.SIGKILL)
		}
		time.AfterFunc(GracefulShutdownDelay, func() {
			_ = syscall.Kill(pgid, syscall.SIGKILL)
		})
		return nil
	}
	cmd.WaitDelay = GracefulShutdownDelay + time.Second
}

// IsExecutable reports whether the file mode carries any execute bit.
func IsExecutable(path string, mode fs.FileMode) bool {
	return mode.IsRegular() && mode&0o111 != 0
}
