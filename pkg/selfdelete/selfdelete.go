// pkg/selfdelete/selfdelete.go - removes files that are still in use by the
// running uninstaller, after it has exited.

package selfdelete

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/windowsadmins/lexsetup/pkg/logging"
)

// Plan lists what the helper deletes once PID has exited.
type Plan struct {
	PID       int
	Files     []string // deleted individually
	Trees     []string // deleted recursively
	EmptyDirs []string // deleted only when empty, in order
}

// Empty reports whether the plan has nothing to delete.
func (p Plan) Empty() bool {
	return len(p.Files) == 0 && len(p.Trees) == 0 && len(p.EmptyDirs) == 0
}

// Scheduler arranges for a Plan to run after this process exits.
type Scheduler interface {
	Schedule(p Plan) error
}

// Helper runs a Plan through a detached shell script.
type Helper struct {
	// TempDir holds the Windows script; defaults to os.TempDir().
	TempDir string
}

// Schedule starts the detached helper and returns without waiting for it.
func (h *Helper) Schedule(p Plan) error {
	if p.Empty() {
		return nil
	}
	if p.PID <= 0 {
		p.PID = os.Getpid()
	}

	cmd, err := h.command(p)
	if err != nil {
		return err
	}
	setDetached(cmd)

	logging.Info("Scheduling deferred cleanup", "pid", p.PID, "files", p.Files, "trees", p.Trees, "dirs", p.EmptyDirs)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting cleanup helper: %w", err)
	}
	logging.Debug("Cleanup helper started", "helper_pid", cmd.Process.Pid)

	if err := cmd.Process.Release(); err != nil {
		logging.Warn("Failed to release cleanup helper", "error", err)
	}
	return nil
}

func (h *Helper) command(p Plan) (*exec.Cmd, error) {
	if runtime.GOOS != "windows" {
		return exec.Command("/bin/sh", "-c", PosixScript(p)), nil
	}

	dir := h.TempDir
	if dir == "" {
		dir = os.TempDir()
	}
	f, err := os.CreateTemp(dir, "lexsetup-cleanup-*.cmd")
	if err != nil {
		return nil, fmt.Errorf("creating cleanup script: %w", err)
	}
	if _, err := f.WriteString(WindowsScript(p)); err != nil {
		f.Close()
		return nil, fmt.Errorf("writing cleanup script: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, err
	}
	return exec.Command("cmd.exe", "/C", f.Name()), nil
}

// PosixScript renders the plan as a /bin/sh program.
func PosixScript(p Plan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "while kill -0 %d 2>/dev/null; do sleep 1; done\n", p.PID)
	for _, f := range p.Files {
		fmt.Fprintf(&b, "rm -f -- %s\n", shellQuote(f))
	}
	for _, t := range p.Trees {
		fmt.Fprintf(&b, "rm -rf -- %s\n", shellQuote(t))
	}
	for _, d := range p.EmptyDirs {
		fmt.Fprintf(&b, "rmdir -- %s 2>/dev/null\n", shellQuote(d))
	}
	b.WriteString("exit 0\n")
	return b.String()
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// WindowsScript renders the plan as a batch file that deletes itself last.
func WindowsScript(p Plan) string {
	var b strings.Builder
	b.WriteString("@echo off\r\n")
	b.WriteString(":wait\r\n")
	fmt.Fprintf(&b, "tasklist /FI \"PID eq %d\" 2>NUL | find \"%d\" >NUL\r\n", p.PID, p.PID)
	b.WriteString("if not errorlevel 1 (\r\n")
	b.WriteString("  timeout /t 1 /nobreak >NUL\r\n")
	b.WriteString("  goto wait\r\n")
	b.WriteString(")\r\n")
	for _, f := range p.Files {
		fmt.Fprintf(&b, "del /f /q %s >NUL 2>&1\r\n", batchQuote(f))
	}
	for _, t := range p.Trees {
		fmt.Fprintf(&b, "rmdir /s /q %s >NUL 2>&1\r\n", batchQuote(t))
	}
	for _, d := range p.EmptyDirs {
		fmt.Fprintf(&b, "rmdir %s >NUL 2>&1\r\n", batchQuote(d))
	}
	b.WriteString("(goto) 2>NUL & del \"%~f0\"\r\n")
	return b.String()
}

func batchQuote(s string) string {
	return `"` + strings.ReplaceAll(s, "%", "%%") + `"`
}
