//go:build windows

// pkg/runner/procattr_windows.go - process group handling for Windows.

package runner

import (
	"os"
	"os/exec"
	"strconv"
	"syscall"

	"golang.org/x/sys/windows"

	"github.com/windowsadmins/lexsetup/pkg/logging"
)

func setProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		HideWindow:    true,
		CreationFlags: windows.CREATE_NEW_PROCESS_GROUP,
	}
}

// terminate sends CTRL_BREAK to the child's console group, then asks
// taskkill to close the tree without forcing.
func terminate(p *os.Process) error {
	if err := windows.GenerateConsoleCtrlEvent(windows.CTRL_BREAK_EVENT, uint32(p.Pid)); err == nil {
		return nil
	}
	return exec.Command("taskkill", "/T", "/PID", strconv.Itoa(p.Pid)).Run()
}

// kill terminates the process and all its children.
func kill(p *os.Process) error {
	killCmd := exec.Command("taskkill", "/F", "/T", "/PID", strconv.Itoa(p.Pid))
	killCmd.SysProcAttr = &syscall.SysProcAttr{HideWindow: true}
	if err := killCmd.Run(); err != nil {
		logging.Debug("taskkill failed, falling back to Process.Kill", "pid", p.Pid, "error", err)
		return p.Kill()
	}
	return nil
}
