// pkg/assets/assets.go - downloads the application's data assets through the runtime.

package assets

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/windowsadmins/lexsetup/pkg/failure"
	"github.com/windowsadmins/lexsetup/pkg/logging"
	"github.com/windowsadmins/lexsetup/pkg/progress"
	"github.com/windowsadmins/lexsetup/pkg/retry"
	"github.com/windowsadmins/lexsetup/pkg/runner"
)

// TaskAssets is the ledger entry for the asset download.
const TaskAssets = "download-assets"

// Task returns the ledger entry registered by the orchestrator.
func Task() progress.Task {
	return progress.Task{Name: TaskAssets, Label: "Downloading language data"}
}

// Action is what the downloader reported doing with one asset.
type Action string

const (
	ActionPresent     Action = "present"
	ActionDownloading Action = "downloading"
	ActionRemoving    Action = "removing"
)

// assetName is a single model identifier. pip prints lines that start with
// the same verbs ("Found existing installation: x", "Downloading x.whl (2 MB)")
// and those carry spaces, colons or URLs.
const assetName = `[A-Za-z0-9][A-Za-z0-9_.\-]*`

var markers = []struct {
	re     *regexp.Regexp
	action Action
	label  string
}{
	{regexp.MustCompile(`^\s*Found\s+(` + assetName + `)\s*$`), ActionPresent, "Already present: "},
	{regexp.MustCompile(`^\s*Downloading\s+(` + assetName + `)\s*$`), ActionDownloading, "Downloading: "},
	{regexp.MustCompile(`^\s*Removing\s+(` + assetName + `)\s*$`), ActionRemoving, "Removing: "},
}

// Event is one recognised marker line.
type Event struct {
	Action Action
	Name   string
}

// ParseMarker recognises a downloader output line.
func ParseMarker(line string) (Event, bool) {
	for _, m := range markers {
		if sub := m.re.FindStringSubmatch(line); sub != nil && !isPackageFile(sub[1]) {
			return Event{Action: m.action, Name: sub[1]}, true
		}
	}
	return Event{}, false
}

func isPackageFile(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range []string{".whl", ".tar.gz", ".zip"} {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// Status renders an event as a user-facing status line.
func (e Event) Status() string {
	for _, m := range markers {
		if m.action == e.Action {
			return m.label + e.Name
		}
	}
	return e.Name
}

// Result summarises a run.
type Result struct {
	Events      []Event
	NothingToDo bool
	Attempts    int
}

// Provisioner invokes the asset sub-command of the runtime.
type Provisioner struct {
	Runner   *runner.Runner
	Command  runner.CommandFactory
	Args     []string
	Retries  int           // extra attempts after the first failure
	Backoff  time.Duration // first retry delay
	Ledger   *progress.Ledger
	Reporter *progress.Reporter
}

// Provision runs `<exe> <Args...>` until it succeeds, the retries are used
// up, or ctx is cancelled. Cancellation is never retried.
func (p *Provisioner) Provision(ctx context.Context, exe string) (Result, error) {
	var res Result
	p.setStatus(progress.StatusRunning)

	backoff := p.Backoff
	if backoff <= 0 {
		backoff = 2 * time.Second
	}
	cfg := retry.RetryConfig{
		MaxRetries:      p.Retries + 1,
		InitialInterval: backoff,
		Multiplier:      2,
	}

	var lastExit runner.Result
	err := retry.Retry(ctx, cfg, func() error {
		res.Attempts++
		res.Events = nil

		runRes, events, err := p.runOnce(ctx, exe)
		res.Events = events
		lastExit = runRes
		if err != nil {
			if errors.Is(err, runner.ErrCancelled) || ctx.Err() != nil {
				return retry.NonRetryableError{Err: err}
			}
			var spawn *runner.SpawnError
			if errors.As(err, &spawn) {
				return retry.NonRetryableError{Err: err}
			}
			return err
		}
		if !runRes.Success() {
			p.log(fmt.Sprintf("Asset download exited with code %d (attempt %d)", runRes.ExitCode, res.Attempts))
			return fmt.Errorf("asset download exited with code %d", runRes.ExitCode)
		}
		return nil
	})

	if err != nil {
		p.setStatus(progress.StatusFailed)
		if errors.Is(err, runner.ErrCancelled) || ctx.Err() != nil {
			logging.Info("Asset download cancelled")
			return res, failure.New(failure.KindUserCancelled, "Installation was cancelled.", err)
		}
		logging.Error("Asset download failed", "attempts", res.Attempts, "exit_code", lastExit.ExitCode, "error", err)
		cause := fmt.Sprintf("Downloading language data failed after %d attempt(s). Check your internet connection and try again.", res.Attempts)
		var spawn *runner.SpawnError
		if errors.As(err, &spawn) {
			cause = fmt.Sprintf("Could not start the asset downloader: %v", spawn.Err)
		}
		return res, failure.New(failure.KindAssetDownloadFailed, cause, err)
	}

	res.NothingToDo = len(res.Events) == 0
	if res.NothingToDo {
		p.log("All language data is already up to date")
	}
	p.setStatus(progress.StatusSucceeded)
	logging.Info("Assets provisioned", "events", len(res.Events), "attempts", res.Attempts)
	return res, nil
}

func (p *Provisioner) runOnce(ctx context.Context, exe string) (runner.Result, []Event, error) {
	factory := p.Command
	if factory == nil {
		factory = runner.NewCommand
	}
	cmd := factory(exe, p.Args...)
	cmd.Env = append(cmd.Env, "PYTHONNOUSERSITE=1", "PYTHONUTF8=1")
	if cmd.Dir == "" {
		cmd.Dir = filepath.Dir(exe)
	}

	r := p.Runner
	if r == nil {
		r = runner.New(runner.DefaultGracePeriod)
	}

	var mu sync.Mutex
	var events []Event
	p.log("> " + filepath.Base(exe) + " " + strings.Join(p.Args, " "))
	res, err := r.Run(ctx, cmd, func(line string) {
		p.log(line)
		if ev, ok := ParseMarker(line); ok {
			mu.Lock()
			events = append(events, ev)
			mu.Unlock()
			p.detail(ev.Status())
		}
	})

	mu.Lock()
	defer mu.Unlock()
	return res, events, err
}

func (p *Provisioner) setStatus(status progress.Status) {
	if p.Ledger == nil {
		return
	}
	if err := p.Ledger.SetStatus(TaskAssets, status); err != nil {
		logging.Debug("Ledger update rejected", "task", TaskAssets, "error", err)
	}
}

func (p *Provisioner) log(line string) {
	if p.Reporter != nil {
		p.Reporter.Log(line)
	}
}

func (p *Provisioner) detail(text string) {
	if p.Reporter != nil {
		p.Reporter.Detail(text)
	}
}
