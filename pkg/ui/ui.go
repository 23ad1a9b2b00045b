// pkg/ui/ui.go - renders pipeline progress for a terminal or a plain log stream.

package ui

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/term"

	"github.com/windowsadmins/lexsetup/pkg/progress"
)

// IsInteractive reports whether stdin and stdout are both terminals.
func IsInteractive() bool {
	return term.IsTerminal(int(os.Stdout.Fd())) && term.IsTerminal(int(os.Stdin.Fd()))
}

// RunPlain writes progress to w line by line until the DoneEvent arrives. If
// ctx ends first, cancel is called once and RunPlain keeps draining so the
// pipeline's final event is still reported.
func RunPlain(ctx context.Context, w io.Writer, q *progress.Queue, interval time.Duration, cancel func()) progress.DoneEvent {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	done := ctx.Done()
	for {
		for _, ev := range q.Drain() {
			switch e := ev.(type) {
			case progress.StageEvent:
				fmt.Fprintf(w, "[%s] %s\n", e.Stage, e.Status)
			case progress.TaskEvent:
				if e.Status != progress.StatusPending {
					fmt.Fprintf(w, "  %-9s %s\n", e.Status, e.Label)
				}
			case progress.LogEvent:
				fmt.Fprintf(w, "    %s\n", e.Line)
			case progress.DoneEvent:
				return e
			}
		}

		select {
		case <-done:
			fmt.Fprintln(w, "Cancelling...")
			if cancel != nil {
				cancel()
			}
			done = nil
		case <-q.Notify():
		case <-ticker.C:
		}
	}
}

// PrintSummary writes the final result and any warnings.
func PrintSummary(w io.Writer, done progress.DoneEvent) {
	if done.Success {
		fmt.Fprintln(w, doneStyle.Render("✓ "+done.Message))
	} else {
		label := "✗ Failed"
		if done.Stage != "" {
			label += " during " + done.Stage
		}
		fmt.Fprintln(w, failStyle.Render(label))
		fmt.Fprintln(w, done.Message)
	}
	for _, warning := range done.Warnings {
		fmt.Fprintln(w, warnStyle.Render("! "+warning))
	}
}
