package selfdelete

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPosixScript(t *testing.T) {
	script := PosixScript(Plan{
		PID:       4242,
		Files:     []string{"/opt/Lex/lexuninstall"},
		Trees:     []string{"/opt/Lex/logs"},
		EmptyDirs: []string{"/opt/It's Lex"},
	})

	lines := strings.Split(strings.TrimSpace(script), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "while kill -0 4242 2>/dev/null; do sleep 1; done", lines[0])
	assert.Equal(t, "rm -f -- '/opt/Lex/lexuninstall'", lines[1])
	assert.Equal(t, "rm -rf -- '/opt/Lex/logs'", lines[2])
	assert.Equal(t, `rmdir -- '/opt/It'\''s Lex' 2>/dev/null`, lines[3])
	assert.Equal(t, "exit 0", lines[4])
}

func TestWindowsScript(t *testing.T) {
	script := WindowsScript(Plan{
		PID:       77,
		Files:     []string{`C:\Lex\lexuninstall.exe`},
		Trees:     []string{`C:\Lex\logs`},
		EmptyDirs: []string{`C:\100%Lex`},
	})

	assert.True(t, strings.HasPrefix(script, "@echo off\r\n"))
	assert.Contains(t, script, `tasklist /FI "PID eq 77"`)
	assert.Contains(t, script, `del /f /q "C:\Lex\lexuninstall.exe"`)
	assert.Contains(t, script, `rmdir /s /q "C:\Lex\logs"`)
	assert.Contains(t, script, `rmdir "C:\100%%Lex"`)

	// Removal happens only after the wait loop, and the script deletes itself last.
	assert.Less(t, strings.Index(script, "goto wait"), strings.Index(script, "del /f /q"))
	assert.True(t, strings.HasSuffix(script, "del \"%~f0\"\r\n"))
}

func TestPlanEmpty(t *testing.T) {
	assert.True(t, Plan{PID: 1}.Empty())
	assert.False(t, Plan{EmptyDirs: []string{"x"}}.Empty())

	// An empty plan never spawns anything.
	require.NoError(t, (&Helper{}).Schedule(Plan{}))
}

func TestScheduleRunsAfterProcessExits(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("exercised through the batch script builder on Windows")
	}

	root := filepath.Join(t.TempDir(), "Lex")
	logs := filepath.Join(root, "logs")
	require.NoError(t, os.MkdirAll(logs, 0o755))
	exe := filepath.Join(root, "lexuninstall")
	require.NoError(t, os.WriteFile(exe, []byte("bin"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(logs, "run.log"), []byte("log"), 0o644))

	waiter := exec.Command("sleep", "1")
	require.NoError(t, waiter.Start())
	exited := make(chan struct{})
	go func() {
		_ = waiter.Wait()
		close(exited)
	}()

	err := (&Helper{}).Schedule(Plan{
		PID:       waiter.Process.Pid,
		Files:     []string{exe},
		Trees:     []string{logs},
		EmptyDirs: []string{root},
	})
	require.NoError(t, err)

	// The helper must not act while the process is alive.
	assert.FileExists(t, exe)

	<-exited
	assert.Eventually(t, func() bool {
		_, err := os.Stat(root)
		return os.IsNotExist(err)
	}, 10*time.Second, 100*time.Millisecond)
}

func TestScheduleKeepsNonEmptyDir(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("posix helper only")
	}

	root := t.TempDir()
	exe := filepath.Join(root, "lexuninstall")
	keep := filepath.Join(root, "user-data.txt")
	require.NoError(t, os.WriteFile(exe, []byte("bin"), 0o755))
	require.NoError(t, os.WriteFile(keep, []byte("mine"), 0o644))

	waiter := exec.Command("true")
	require.NoError(t, waiter.Run())

	require.NoError(t, (&Helper{}).Schedule(Plan{
		PID:       waiter.Process.Pid,
		Files:     []string{exe},
		EmptyDirs: []string{root},
	}))

	assert.Eventually(t, func() bool {
		_, err := os.Stat(exe)
		return os.IsNotExist(err)
	}, 10*time.Second, 100*time.Millisecond)
	assert.FileExists(t, keep)
}
