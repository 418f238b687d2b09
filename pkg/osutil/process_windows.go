//go:build windows

// Package osutil holds the platform specific bits of spawning skill processes.
package osutil

import (
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

// GracefulShutdownDelay mirrors the unix constant; Windows kills immediately.
const GracefulShutdownDelay = 2 * time.Second

// SetProcessGroup starts the command in a new process group.
func SetProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP}
}

// SetProcessGroupKill terminates the process on cancellation. Children of the
// skill may survive since Windows has no unix-style process groups.
func SetProcessGroupKill(cmd *exec.Cmd) {
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Kill)
	}
	cmd.WaitDelay = GracefulShutdownDelay
}

// IsExecutable on Windows is decided by extension since there are no mode bits.
func IsExecutable(path string, mode fs.FileMode) bool {
	if !mode.IsRegular() {
		return false
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".exe", ".bat", ".cmd", ".ps1", "":
		return true
	}
	return false
}
