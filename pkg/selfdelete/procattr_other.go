//go:build !windows

package selfdelete

import (
	"os/exec"
	"syscall"
)

// setDetached puts the helper in its own session so it outlives the
// uninstaller and its terminal.
func setDetached(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
