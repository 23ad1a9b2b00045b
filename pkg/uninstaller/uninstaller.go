// pkg/uninstaller/uninstaller.go - removes everything an installation created, and nothing else.

package uninstaller

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/windowsadmins/lexsetup/pkg/blocking"
	"github.com/windowsadmins/lexsetup/pkg/config"
	"github.com/windowsadmins/lexsetup/pkg/failure"
	"github.com/windowsadmins/lexsetup/pkg/layout"
	"github.com/windowsadmins/lexsetup/pkg/logging"
	"github.com/windowsadmins/lexsetup/pkg/progress"
	"github.com/windowsadmins/lexsetup/pkg/registrar"
	"github.com/windowsadmins/lexsetup/pkg/retry"
	"github.com/windowsadmins/lexsetup/pkg/selfdelete"
)

const pipelineName = "uninstall"

// Stages reported to the progress consumer.
const (
	StageChecking = "CheckingRunningInstances"
	StageRemoving = "Removing"
)

// Ledger entries.
const (
	TaskCheckRunning = "check-running"
	TaskShortcuts    = "remove-shortcuts"
	TaskRegistration = "remove-registration"
	TaskFiles        = "remove-files"
	TaskDeferred     = "schedule-cleanup"
)

// osRemoveAll is replaced in tests to simulate locked files.
var osRemoveAll = os.RemoveAll

// Outcome is the result of one Run.
type Outcome struct {
	Success  bool
	Running  []blocking.ProcessInfo
	Removed  []string
	Deferred []string
	Leftover []string
	Warnings []string
	Err      error
}

// Uninstaller removes one installation rooted at Layout.Root.
type Uninstaller struct {
	Config    *config.Configuration
	Layout    layout.Layout
	Registrar registrar.Registrar
	Shortcuts registrar.Shortcuts
	Lister    blocking.Lister
	Scheduler selfdelete.Scheduler
	Reporter  *progress.Reporter

	KeepLogs  bool
	SelfPath  string // the running uninstaller executable
	ActiveLog string // the log file this run writes to
	Retry     retry.RetryConfig

	ledger *progress.Ledger
}

// New prepares an uninstaller for the installation at target.
func New(cfg *config.Configuration, target string, reg registrar.Registrar, shortcuts registrar.Shortcuts, reporter *progress.Reporter) *Uninstaller {
	if reporter == nil {
		reporter = progress.NewReporter(progress.NewQueue())
	}
	self, err := os.Executable()
	if err != nil {
		logging.Debug("Cannot resolve own executable", "error", err)
	}
	l := layout.New(target, cfg.LauncherName, cfg.UninstallerName)
	l.IconName = cfg.IconName()
	l.RuntimeExecutable = cfg.RuntimeExecutable

	return &Uninstaller{
		Config:    cfg,
		Layout:    l,
		Registrar: reg,
		Shortcuts: shortcuts,
		Lister:    blocking.SystemLister{},
		Scheduler: &selfdelete.Helper{},
		Reporter:  reporter,
		KeepLogs:  cfg.PreserveLogs,
		SelfPath:  self,
		ActiveLog: logging.CurrentLogFile(),
		Retry:     retry.DefaultConfig,
		ledger:    progress.NewLedger(reporter),
	}
}

// ResolveTarget picks the installation to remove: an explicit path, then the
// registered install location, then the directory holding the running
// uninstaller if it looks like an install, then the configured default.
func ResolveTarget(explicit string, reg registrar.Registrar, self string, cfg *config.Configuration) string {
	if explicit != "" {
		return explicit
	}
	if reg != nil {
		if rec, found, err := reg.Lookup(); err == nil && found && rec.InstallLocation != "" {
			return rec.InstallLocation
		}
	}
	if self != "" {
		dir := filepath.Dir(self)
		l := layout.New(dir, cfg.LauncherName, cfg.UninstallerName)
		if _, err := os.Stat(l.InfoPath()); err == nil {
			return dir
		}
		if _, err := os.Stat(l.RuntimePath()); err == nil {
			return dir
		}
	}
	return cfg.InstallPath
}

// Ledger exposes the task list for display.
func (u *Uninstaller) Ledger() *progress.Ledger { return u.ledger }

// Run removes the installation. A running instance aborts before anything is
// touched; afterwards every step is best-effort and only leftover owned items
// fail the run.
func (u *Uninstaller) Run(ctx context.Context) Outcome {
	var out Outcome
	root := u.Layout.Root
	logging.Info("Starting uninstall", "app", u.Config.AppName, "target", root, "keep_logs", u.KeepLogs)

	if err := u.ledger.Register(
		progress.Task{Name: TaskCheckRunning, Label: "Checking for running instances"},
		progress.Task{Name: TaskShortcuts, Label: "Removing shortcuts"},
		progress.Task{Name: TaskRegistration, Label: "Removing registration"},
		progress.Task{Name: TaskFiles, Label: "Removing application files"},
		progress.Task{Name: TaskDeferred, Label: "Scheduling final cleanup"},
	); err != nil {
		logging.Warn("Ledger registration failed", "error", err)
	}

	u.Reporter.Stage(StageChecking, progress.StatusRunning)
	logging.LogStageStart(pipelineName, StageChecking)
	if err := u.checkRunning(&out); err != nil {
		return u.finish(out, StageChecking, err)
	}
	u.Reporter.Stage(StageChecking, progress.StatusSucceeded)

	start := time.Now()
	u.Reporter.Stage(StageRemoving, progress.StatusRunning)
	logging.LogStageStart(pipelineName, StageRemoving)

	rec, found := u.lookup()
	u.removeShortcuts(rec, found)
	u.removeRegistration()
	u.removeFiles(ctx, &out)
	u.scheduleDeferred(&out)

	if len(out.Leftover) > 0 {
		err := failure.Newf(failure.KindPartialRemovalFailure, nil,
			"Some items could not be removed: %s. Manual cleanup required: delete them from %s.",
			strings.Join(out.Leftover, ", "), root)
		return u.finish(out, StageRemoving, err)
	}

	logging.LogStageComplete(pipelineName, StageRemoving, time.Since(start))
	u.Reporter.Stage(StageRemoving, progress.StatusSucceeded)
	return u.finish(out, "", nil)
}

func (u *Uninstaller) finish(out Outcome, stage string, err error) Outcome {
	out.Warnings = u.Reporter.Warnings()
	if err != nil {
		out.Err = failure.WithStage(err, stage)
		u.Reporter.Stage(stage, progress.StatusFailed)
		logging.LogStageFailed(pipelineName, stage, err)
		u.Reporter.Done(progress.DoneEvent{Success: false, Stage: stage, Message: failure.CauseOf(err)})
		return out
	}
	out.Success = true
	logging.Info("Uninstall completed", "target", u.Layout.Root, "removed", len(out.Removed), "deferred", len(out.Deferred))
	u.Reporter.Done(progress.DoneEvent{
		Success: true,
		Message: fmt.Sprintf("%s was removed from %s.", u.Config.AppName, u.Layout.Root),
	})
	return out
}

// checkRunning refuses the uninstall while the application is running from
// the target. A failed scan is logged and does not block.
func (u *Uninstaller) checkRunning(out *Outcome) error {
	u.setTask(TaskCheckRunning, progress.StatusRunning)

	names := []string{u.Layout.LauncherName}
	for _, c := range layout.RuntimeCandidates() {
		names = appendUnique(names, filepath.Base(c))
	}

	running, err := blocking.Find(u.Lister, blocking.Criteria{Names: names, InstallPath: u.Layout.Root})
	if err != nil {
		u.warn("Could not check for running instances", err)
		u.setTask(TaskCheckRunning, progress.StatusSucceeded)
		return nil
	}
	if len(running) == 0 {
		u.setTask(TaskCheckRunning, progress.StatusSucceeded)
		return nil
	}

	out.Running = running
	lines := make([]string, 0, len(running))
	for _, p := range running {
		lines = append(lines, p.String())
		u.Reporter.Log("Running: " + p.String())
	}
	u.setTask(TaskCheckRunning, progress.StatusFailed)
	logging.Warn("Uninstall blocked by running instances", "count", len(running))
	return failure.Newf(failure.KindApplicationRunning, nil,
		"%s is still running. Close it and try again.\n%s", u.Config.AppName, strings.Join(lines, "\n"))
}

func (u *Uninstaller) lookup() (registrar.Record, bool) {
	if u.Registrar == nil {
		return registrar.Record{}, false
	}
	rec, found, err := u.Registrar.Lookup()
	if err != nil {
		u.warn("Could not read the registration record", err)
		return registrar.Record{}, false
	}
	if !found {
		logging.Info("No registration record found")
		return rec, false
	}
	if rec.Stale() {
		logging.Info("Registration record is stale", "install_location", rec.InstallLocation)
	}
	return rec, true
}

func (u *Uninstaller) removeShortcuts(rec registrar.Record, found bool) {
	u.setTask(TaskShortcuts, progress.StatusRunning)
	if u.Shortcuts == nil {
		u.setTask(TaskShortcuts, progress.StatusSucceeded)
		return
	}

	paths := rec.ShortcutPaths()
	if !found || len(paths) == 0 {
		paths = u.Shortcuts.Canonical(u.Config.AppName)
		logging.Debug("Using canonical shortcut locations", "paths", paths)
	}
	if err := u.Shortcuts.Remove(paths); err != nil {
		u.warn("Some shortcuts could not be removed", err)
		u.setTask(TaskShortcuts, progress.StatusFailed)
		return
	}
	for _, p := range paths {
		u.Reporter.Log("Removed shortcut " + p)
	}
	u.setTask(TaskShortcuts, progress.StatusSucceeded)
}

func (u *Uninstaller) removeRegistration() {
	u.setTask(TaskRegistration, progress.StatusRunning)
	if u.Registrar == nil {
		u.setTask(TaskRegistration, progress.StatusSucceeded)
		return
	}

	var result *multierror.Error
	if err := u.Registrar.Delete(); err != nil {
		result = multierror.Append(result, fmt.Errorf("registration record: %w", err))
	}
	if err := u.Registrar.DeleteSettings(); err != nil {
		result = multierror.Append(result, fmt.Errorf("application settings: %w", err))
	}
	if err := result.ErrorOrNil(); err != nil {
		u.warn("The registration could not be fully removed", err)
		u.setTask(TaskRegistration, progress.StatusFailed)
		return
	}
	u.Reporter.Log("Removed registration")
	u.setTask(TaskRegistration, progress.StatusSucceeded)
}

// removeFiles deletes owned top-level entries. The running uninstaller and
// the logs tree holding the active log are deferred to the helper.
func (u *Uninstaller) removeFiles(ctx context.Context, out *Outcome) {
	u.setTask(TaskFiles, progress.StatusRunning)
	root := u.Layout.Root

	entries, err := os.ReadDir(root)
	if errors.Is(err, os.ErrNotExist) {
		u.Reporter.Log("Installation folder is already gone: " + root)
		u.setTask(TaskFiles, progress.StatusSucceeded)
		return
	}
	if err != nil {
		u.warn("Could not read the installation folder", err)
		out.Leftover = append(out.Leftover, root)
		u.setTask(TaskFiles, progress.StatusFailed)
		return
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var result *multierror.Error
	for _, e := range entries {
		name := e.Name()
		path := filepath.Join(root, name)

		if !u.Layout.IsOwned(name) {
			logging.Info("Keeping item not created by the installer", "path", path)
			u.Reporter.Log("Keeping " + name)
			continue
		}

		switch {
		case samePath(path, u.SelfPath):
			out.Deferred = append(out.Deferred, path)
			logging.Debug("Deferring removal of running uninstaller", "path", path)
			continue
		case sameName(name, layout.LogsDir) && u.KeepLogs:
			logging.Info("Keeping logs", "path", path)
			u.Reporter.Log("Keeping logs in " + path)
			continue
		case sameName(name, layout.LogsDir) && within(u.ActiveLog, path):
			out.Deferred = append(out.Deferred, path)
			logging.Debug("Deferring removal of active log directory", "path", path)
			continue
		case samePath(path, u.ActiveLog):
			out.Deferred = append(out.Deferred, path)
			continue
		}

		u.Reporter.Detail("Removing " + name)
		err := retry.Retry(ctx, u.Retry, func() error {
			return osRemoveAll(path)
		})
		if err != nil {
			logging.Error("Failed to remove owned item", "path", path, "error", err)
			result = multierror.Append(result, fmt.Errorf("%s: %w", name, err))
			out.Leftover = append(out.Leftover, name)
			continue
		}
		out.Removed = append(out.Removed, path)
		u.Reporter.Log("Removed " + name)
	}

	if err := result.ErrorOrNil(); err != nil {
		u.Reporter.Log(err.Error())
		u.setTask(TaskFiles, progress.StatusFailed)
		return
	}
	u.setTask(TaskFiles, progress.StatusSucceeded)
}

// scheduleDeferred hands deferred items and the then-empty install folder to
// the detached helper.
func (u *Uninstaller) scheduleDeferred(out *Outcome) {
	u.setTask(TaskDeferred, progress.StatusRunning)
	root := u.Layout.Root

	plan := selfdelete.Plan{PID: os.Getpid()}
	for _, p := range out.Deferred {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			plan.Trees = append(plan.Trees, p)
		} else {
			plan.Files = append(plan.Files, p)
		}
	}

	if plan.Empty() {
		if err := os.Remove(root); err == nil {
			u.Reporter.Log("Removed " + root)
		} else if !errors.Is(err, os.ErrNotExist) {
			logging.Info("Installation folder kept", "path", root, "reason", err)
		}
		u.setTask(TaskDeferred, progress.StatusSucceeded)
		return
	}

	plan.EmptyDirs = []string{root}
	if u.Scheduler == nil {
		u.warn("Final cleanup is not available", errors.New("no scheduler"))
		u.setTask(TaskDeferred, progress.StatusFailed)
		return
	}
	if err := u.Scheduler.Schedule(plan); err != nil {
		u.warn("Final cleanup could not be scheduled; remove the remaining files manually", err)
		u.setTask(TaskDeferred, progress.StatusFailed)
		return
	}
	u.Reporter.Log(fmt.Sprintf("Scheduled removal of %d item(s) after exit", len(out.Deferred)))
	u.setTask(TaskDeferred, progress.StatusSucceeded)
}

func (u *Uninstaller) warn(msg string, err error) {
	logging.LogWarning(pipelineName, StageRemoving, fmt.Sprintf("%s: %v", msg, err))
	u.Reporter.Warn(fmt.Sprintf("%s: %v", msg, err))
}

func (u *Uninstaller) setTask(name string, status progress.Status) {
	if err := u.ledger.SetStatus(name, status); err != nil {
		logging.Debug("Ledger update rejected", "task", name, "error", err)
	}
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}

func sameName(a, b string) bool {
	if runtime.GOOS == "windows" {
		return strings.EqualFold(a, b)
	}
	return a == b
}

func samePath(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return sameName(filepath.Clean(a), filepath.Clean(b))
}

// within reports whether path lies inside dir.
func within(path, dir string) bool {
	if path == "" || dir == "" {
		return false
	}
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	if runtime.GOOS == "windows" && !strings.EqualFold(filepath.VolumeName(path), filepath.VolumeName(dir)) {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
