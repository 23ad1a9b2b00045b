// pkg/runner/runner.go - spawns external commands, streams their combined
// output line by line and escalates cancellation from terminate to kill.

package runner

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/windowsadmins/lexsetup/pkg/logging"
)

// DefaultGracePeriod bounds the wait between terminate and kill.
const DefaultGracePeriod = 10 * time.Second

const defaultTailLines = 40

// ErrCancelled is returned by Wait when the process was stopped through
// Cancel or its context.
var ErrCancelled = errors.New("process cancelled")

// SpawnError means the command could not be started at all (missing
// executable, permission denied). It is more severe than a non-zero exit.
type SpawnError struct {
	Path string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to start %s: %v", e.Path, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// Command describes one external invocation.
type Command struct {
	Path string
	Args []string
	Dir  string
	Env  []string // appended to the current environment
}

// CommandFactory builds a Command for an executable and its arguments.
// Provisioners take one so tests can substitute the executable.
type CommandFactory func(path string, args ...string) Command

// NewCommand is the default CommandFactory.
func NewCommand(path string, args ...string) Command {
	return Command{Path: path, Args: args}
}

func (c Command) String() string {
	return strings.TrimSpace(c.Path + " " + strings.Join(c.Args, " "))
}

// Result is the outcome of a process that ran to completion.
type Result struct {
	ExitCode int
	Tail     []string // last lines of combined output
	Duration time.Duration
}

// Success reports a zero exit status.
func (r Result) Success() bool { return r.ExitCode == 0 }

// Runner starts processes with a shared cancellation policy.
type Runner struct {
	GracePeriod time.Duration
	TailLines   int
}

// New returns a Runner using grace as the terminate -> kill window.
func New(grace time.Duration) *Runner {
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	return &Runner{GracePeriod: grace, TailLines: defaultTailLines}
}

// Handle is a running process. It is owned by the Start call that created it.
type Handle struct {
	cmd       *exec.Cmd
	name      string
	grace     time.Duration
	started   time.Time
	done      chan struct{}
	result    Result
	err       error
	cancelled atomic.Bool
	stopOnce  sync.Once

	tailMu sync.Mutex
	tail   []string
	tailN  int
}

// Run starts c, delivers each output line to onLine (which may be nil) and
// blocks until the process exits or is stopped. A non-zero exit is reported
// through Result, not as an error.
func (r *Runner) Run(ctx context.Context, c Command, onLine func(string)) (Result, error) {
	h, err := r.Start(ctx, c, onLine)
	if err != nil {
		return Result{ExitCode: -1}, err
	}
	return h.Wait()
}

// Start spawns c. onLine is called from a reader goroutine, in output order.
// When ctx is done the process is cancelled as if Cancel had been called.
func (r *Runner) Start(ctx context.Context, c Command, onLine func(string)) (*Handle, error) {
	if ctx.Err() != nil {
		return nil, ErrCancelled
	}

	cmd := exec.Command(c.Path, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	setProcAttr(cmd)

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw
	cmd.WaitDelay = r.GracePeriod

	tailN := r.TailLines
	if tailN <= 0 {
		tailN = defaultTailLines
	}
	h := &Handle{
		cmd:   cmd,
		name:  filepath.Base(c.Path),
		grace: r.GracePeriod,
		done:  make(chan struct{}),
		tailN: tailN,
	}

	logging.Debug("Starting process", "command", c.String(), "dir", c.Dir)
	if err := cmd.Start(); err != nil {
		pw.Close()
		pr.Close()
		logging.Error("Failed to start process", "command", c.Path, "error", err)
		return nil, &SpawnError{Path: c.Path, Err: err}
	}
	h.started = time.Now()

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		h.read(pr, onLine)
	}()

	go func() {
		waitErr := cmd.Wait()
		pw.Close()
		<-readerDone
		h.finish(waitErr)
	}()

	go func() {
		select {
		case <-ctx.Done():
			h.Cancel()
		case <-h.done:
		}
	}()

	return h, nil
}

// scanLines splits on \n and on bare \r so progress bars that redraw with
// carriage returns still produce discrete lines.
func scanLines(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func (h *Handle) read(r io.Reader, onLine func(string)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	scanner.Split(scanLines)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), " \t")
		if strings.TrimSpace(line) == "" {
			continue
		}
		h.remember(line)
		logging.LogSubprocessLine(h.name, line)
		if onLine != nil {
			onLine(line)
		}
	}
	if err := scanner.Err(); err != nil {
		logging.Warn("Stopped reading process output", "command", h.name, "error", err)
	}
	// keep the pipe drained so the child never blocks on a full buffer
	_, _ = io.Copy(io.Discard, r)
}

func (h *Handle) remember(line string) {
	h.tailMu.Lock()
	defer h.tailMu.Unlock()
	h.tail = append(h.tail, line)
	if len(h.tail) > h.tailN {
		h.tail = h.tail[len(h.tail)-h.tailN:]
	}
}

func (h *Handle) finish(waitErr error) {
	h.tailMu.Lock()
	tail := append([]string(nil), h.tail...)
	h.tailMu.Unlock()

	h.result = Result{
		ExitCode: -1,
		Tail:     tail,
		Duration: time.Since(h.started),
	}
	if h.cmd.ProcessState != nil {
		h.result.ExitCode = h.cmd.ProcessState.ExitCode()
	}

	var exitErr *exec.ExitError
	switch {
	case h.cancelled.Load():
		h.err = ErrCancelled
	case waitErr == nil, errors.As(waitErr, &exitErr):
		h.err = nil
	case errors.Is(waitErr, exec.ErrWaitDelay):
		// the process exited; only an orphaned grandchild held the pipe
		h.err = nil
	default:
		h.err = fmt.Errorf("waiting for %s: %w", h.name, waitErr)
	}

	logging.Debug("Process exited", "command", h.name, "exit_code", h.result.ExitCode,
		"duration", h.result.Duration.Round(time.Millisecond), "cancelled", h.cancelled.Load())
	close(h.done)
}

// Pid returns the operating-system process id.
func (h *Handle) Pid() int {
	return h.cmd.Process.Pid
}

// Done is closed once the process has exited and its output is drained.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the process has exited and all output was delivered.
func (h *Handle) Wait() (Result, error) {
	<-h.done
	return h.result, h.err
}

// Cancel asks the process to terminate, waits up to the grace period and
// then kills it. It returns once the process is gone or the kill was issued
// and a second grace period elapsed.
func (h *Handle) Cancel() {
	h.cancelled.Store(true)
	h.stopOnce.Do(func() {
		select {
		case <-h.done:
			return
		default:
		}

		logging.Info("Terminating process", "command", h.name, "pid", h.Pid())
		if err := terminate(h.cmd.Process); err != nil {
			logging.Debug("Graceful terminate failed", "command", h.name, "error", err)
		}

		select {
		case <-h.done:
			return
		case <-time.After(h.grace):
		}

		logging.Warn("Process ignored terminate request, killing", "command", h.name, "pid", h.Pid(), "grace", h.grace)
		if err := kill(h.cmd.Process); err != nil {
			logging.Error("Failed to kill process", "command", h.name, "error", err)
		}
	})

	select {
	case <-h.done:
	case <-time.After(h.grace):
	}
}
