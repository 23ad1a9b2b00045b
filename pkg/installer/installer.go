// pkg/installer/installer.go - sequences the install stages from detection to registration.

package installer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/windowsadmins/lexsetup/pkg/assets"
	"github.com/windowsadmins/lexsetup/pkg/config"
	"github.com/windowsadmins/lexsetup/pkg/environment"
	"github.com/windowsadmins/lexsetup/pkg/failure"
	"github.com/windowsadmins/lexsetup/pkg/layout"
	"github.com/windowsadmins/lexsetup/pkg/logging"
	"github.com/windowsadmins/lexsetup/pkg/progress"
	"github.com/windowsadmins/lexsetup/pkg/registrar"
	"github.com/windowsadmins/lexsetup/pkg/runner"
	"github.com/windowsadmins/lexsetup/pkg/version"
)

const pipelineName = "install"

// State is the orchestrator's position in the install lifecycle.
type State string

const (
	StateIdle        State = "Idle"
	StateDetecting   State = "DetectingExisting"
	StateEnvironment State = "ProvisioningEnvironment"
	StateAssets      State = "ProvisioningAssets"
	StateRegistering State = "Registering"
	StateCompleted   State = "Completed"
)

// Ledger entries owned by the registration stage.
const (
	TaskShortcuts = "create-shortcuts"
	TaskRegister  = "register-application"
)

// Outcome is the result of one Run.
type Outcome struct {
	Success           bool
	Mode              layout.Mode
	Stage             State // stage that failed
	RuntimeExecutable string
	Warnings          []string
	Err               error
}

// Installer drives one installation into Layout.Root.
type Installer struct {
	Config    *config.Configuration
	Layout    layout.Layout
	Registrar registrar.Registrar
	Shortcuts registrar.Shortcuts // nil disables shortcut creation
	Command   runner.CommandFactory
	Reporter  *progress.Reporter
	Cleanup   *ProcessCleanup

	ledger *progress.Ledger
	runner *runner.Runner

	mu        sync.Mutex
	state     State
	cancel    context.CancelFunc
	cancelled bool
	ran       bool
}

// New prepares an installer for cfg. Target overrides cfg.InstallPath when set.
func New(cfg *config.Configuration, target string, reg registrar.Registrar, shortcuts registrar.Shortcuts, reporter *progress.Reporter) *Installer {
	if target == "" {
		target = cfg.InstallPath
	}
	if reporter == nil {
		reporter = progress.NewReporter(progress.NewQueue())
	}
	l := layout.New(target, cfg.LauncherName, cfg.UninstallerName)
	l.IconName = cfg.IconName()
	l.RuntimeExecutable = cfg.RuntimeExecutable

	return &Installer{
		Config:    cfg,
		Layout:    l,
		Registrar: reg,
		Shortcuts: shortcuts,
		Reporter:  reporter,
		Cleanup:   NewProcessCleanup(),
		ledger:    progress.NewLedger(reporter),
		runner:    runner.New(time.Duration(cfg.ProcessGraceSeconds) * time.Second),
		state:     StateIdle,
	}
}

// Ledger exposes the task list for display.
func (in *Installer) Ledger() *progress.Ledger { return in.ledger }

// State returns the current lifecycle state.
func (in *Installer) State() State {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.state
}

func (in *Installer) setState(s State) {
	in.mu.Lock()
	prev := in.state
	in.state = s
	in.mu.Unlock()
	logging.Debug("Installer state change", "from", prev, "to", s)
}

// Cancel asks the running stage to stop. The active subprocess is terminated
// and Run completes with failure.UserCancelled. Safe to call at any time.
func (in *Installer) Cancel() {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.cancelled {
		return
	}
	in.cancelled = true
	logging.Info("Installation cancel requested", "state", in.state)
	if in.cancel != nil {
		in.cancel()
	}
}

func (in *Installer) isCancelled() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.cancelled
}

// Run executes every stage in order and publishes the terminal DoneEvent.
// Failed installs are left in place. Run may only be called once.
func (in *Installer) Run(ctx context.Context) Outcome {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	in.mu.Lock()
	if in.ran {
		in.mu.Unlock()
		return Outcome{Err: errors.New("installer already ran")}
	}
	in.ran = true
	in.cancel = cancel
	if in.cancelled {
		cancel()
	}
	in.mu.Unlock()

	start := time.Now()
	out := Outcome{}
	logging.Info("Starting installation", "app", in.Config.AppName, "version", in.appVersion(), "target", in.Layout.Root)

	err := in.pipeline(ctx, &out)
	out.Warnings = in.Reporter.Warnings()
	in.setState(StateCompleted)

	if err != nil {
		out.Err = err
		msg := failure.CauseOf(err)
		logging.Error("Installation failed", "stage", out.Stage, "kind", failure.KindOf(err), "error", err)
		in.Reporter.Done(progress.DoneEvent{Success: false, Stage: string(out.Stage), Message: msg})
		return out
	}

	out.Success = true
	logging.Info("Installation completed", "target", in.Layout.Root, "mode", out.Mode,
		"duration", time.Since(start).Round(time.Millisecond), "warnings", len(out.Warnings))
	in.Reporter.Done(progress.DoneEvent{
		Success:           true,
		Message:           in.successMessage(out.Mode),
		RuntimeExecutable: out.RuntimeExecutable,
	})
	return out
}

func (in *Installer) pipeline(ctx context.Context, out *Outcome) error {
	var existing layout.Existing
	if err := in.stage(ctx, StateDetecting, out, func(context.Context) error {
		existing = in.detect()
		return nil
	}); err != nil {
		return err
	}
	out.Mode = existing.Mode

	var env environment.Result
	if err := in.stage(ctx, StateEnvironment, out, func(sctx context.Context) error {
		var err error
		env, err = in.provisionEnvironment(sctx, existing.Mode)
		return err
	}); err != nil {
		return err
	}
	out.RuntimeExecutable = env.RuntimeExecutable

	if err := in.stage(ctx, StateAssets, out, func(sctx context.Context) error {
		return in.provisionAssets(sctx, env.RuntimeExecutable)
	}); err != nil {
		return err
	}

	return in.stage(ctx, StateRegistering, out, func(context.Context) error {
		in.register(existing.Mode, env.RuntimeExecutable)
		return nil
	})
}

// stage runs fn on its own worker goroutine and waits for it to join. After a
// cancel, a worker that does not return within CancelAbandonSeconds is
// abandoned and any interpreter it left behind is killed.
func (in *Installer) stage(ctx context.Context, s State, out *Outcome, fn func(context.Context) error) error {
	if ctx.Err() != nil || in.isCancelled() {
		out.Stage = s
		return cancelledError(ctx.Err())
	}

	in.setState(s)
	in.Reporter.Stage(string(s), progress.StatusRunning)
	logging.LogStageStart(pipelineName, string(s))
	start := time.Now()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("stage %s panicked: %v", s, r)
			}
		}()
		done <- fn(ctx)
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		abandon := time.Duration(in.Config.CancelAbandonSeconds) * time.Second
		select {
		case err = <-done:
		case <-time.After(abandon):
			task := ""
			if cur, ok := in.ledger.Current(); ok {
				task = cur.Name
			}
			logging.Warn("Stage worker did not stop after cancel, abandoning it", "stage", s, "task", task, "waited", abandon)
			if in.Cleanup != nil {
				in.Cleanup.ReapRuntime(in.Layout)
			}
			err = cancelledError(ctx.Err())
		}
	}

	if err != nil {
		if (in.isCancelled() || ctx.Err() != nil) && failure.KindOf(err) != failure.KindUserCancelled {
			err = failure.New(failure.KindUserCancelled, "Installation was cancelled.", err)
		}
		out.Stage = s
		in.Reporter.Stage(string(s), progress.StatusFailed)
		logging.LogStageFailed(pipelineName, string(s), err)
		return failure.WithStage(err, string(s))
	}

	in.Reporter.Stage(string(s), progress.StatusSucceeded)
	logging.LogStageComplete(pipelineName, string(s), time.Since(start))
	return nil
}

func cancelledError(err error) error {
	if err == nil {
		err = context.Canceled
	}
	return failure.New(failure.KindUserCancelled, "Installation was cancelled.", err)
}

// detect chooses Fresh or Upgrade and registers the ledger tasks for it.
func (in *Installer) detect() layout.Existing {
	existing := in.Layout.DetectExisting()

	switch {
	case existing.Mode == layout.ModeFresh:
		in.Reporter.Log("No existing installation found in " + in.Layout.Root)
	case existing.Info != nil:
		in.Reporter.Log(fmt.Sprintf("Found %s %s in %s", in.Config.AppName, existing.Info.Version, in.Layout.Root))
		switch version.Compare(in.appVersion(), existing.Info.Version) {
		case 1:
			logging.Info("Upgrading existing installation", "from", existing.Info.Version, "to", in.appVersion())
		case 0:
			logging.Info("Reinstalling same version", "version", existing.Info.Version)
		default:
			logging.Warn("Installing an older version over a newer one", "installed", existing.Info.Version, "new", in.appVersion())
		}
	default:
		in.Reporter.Log("Found an existing installation in " + in.Layout.Root)
		logging.Info("Existing installation has no install-info marker", "target", in.Layout.Root)
	}

	if in.Registrar != nil {
		if rec, found, err := in.Registrar.Lookup(); err != nil {
			logging.Debug("Registry lookup failed", "error", err)
		} else if found && !samePath(rec.InstallLocation, in.Layout.Root) {
			logging.Warn("Registered installation points elsewhere and will be replaced",
				"registered", rec.InstallLocation, "target", in.Layout.Root)
		}
	}

	tasks := environment.Tasks(existing.Mode)
	tasks = append(tasks, assets.Task())
	if in.Shortcuts != nil {
		tasks = append(tasks, progress.Task{Name: TaskShortcuts, Label: "Creating shortcuts"})
	}
	tasks = append(tasks, progress.Task{Name: TaskRegister, Label: "Registering application"})
	if err := in.ledger.Register(tasks...); err != nil {
		logging.Warn("Ledger registration failed", "error", err)
	}

	logging.Info("Installation mode selected", "mode", existing.Mode, "target", in.Layout.Root)
	return existing
}

func (in *Installer) provisionEnvironment(ctx context.Context, mode layout.Mode) (environment.Result, error) {
	cfg := in.Config
	p := &environment.Provisioner{
		Runner:   in.runner,
		Command:  in.Command,
		Ledger:   in.ledger,
		Reporter: in.Reporter,
	}
	res, err := p.Provision(ctx, environment.Request{
		Layout:         in.Layout,
		Mode:           mode,
		RuntimeArchive: cfg.PayloadPath(cfg.RuntimeArchive),
		RuntimeSHA256:  cfg.RuntimeArchiveSHA256,
		Bootstrap:      cfg.PayloadPath(cfg.BootstrapScript),
		Manifest:       cfg.PayloadPath(cfg.Manifest),
		SourceDir:      cfg.PayloadPath(cfg.SourceDir),
		Binaries:       in.bundledFiles(),
	})
	for _, w := range res.Warnings {
		logging.LogWarning(pipelineName, string(StateEnvironment), w)
	}
	return res, err
}

// bundledFiles lists the payload files copied into the target root. The
// icon is optional and only copied when the payload carries it.
func (in *Installer) bundledFiles() []string {
	cfg := in.Config
	files := []string{
		cfg.PayloadPath(cfg.LauncherName),
		cfg.PayloadPath(cfg.UninstallerName),
	}
	if cfg.IconPath != "" {
		icon := cfg.PayloadPath(cfg.IconPath)
		if _, err := os.Stat(icon); err == nil {
			files = append(files, icon)
		} else {
			logging.Debug("No icon in payload, using the launcher icon", "icon", icon)
		}
	}
	return files
}

// iconPath prefers the installed icon file and falls back to the launcher,
// whose embedded icon Windows shows for shortcuts and the Apps list.
func (in *Installer) iconPath() string {
	if icon := in.Layout.IconPath(); icon != "" {
		if _, err := os.Stat(icon); err == nil {
			return icon
		}
	}
	return in.Layout.LauncherPath()
}

func (in *Installer) provisionAssets(ctx context.Context, exe string) error {
	if len(in.Config.AssetArgs) == 0 {
		in.Reporter.Log("No asset download configured")
		in.setTask(assets.TaskAssets, progress.StatusRunning)
		in.setTask(assets.TaskAssets, progress.StatusSucceeded)
		return nil
	}
	p := &assets.Provisioner{
		Runner:   in.runner,
		Command:  in.Command,
		Args:     in.Config.AssetArgs,
		Retries:  in.Config.AssetRetries,
		Ledger:   in.ledger,
		Reporter: in.Reporter,
	}
	_, err := p.Provision(ctx, exe)
	return err
}

// register records the install with the host. Every failure here is a
// warning; the installation itself already succeeded.
func (in *Installer) register(mode layout.Mode, exe string) {
	cfg := in.Config
	l := in.Layout

	rec := registrar.Record{
		DisplayName:      cfg.AppName,
		DisplayVersion:   in.appVersion(),
		Publisher:        cfg.Publisher,
		InstallLocation:  l.Root,
		UninstallCommand: quoteCommand(l.UninstallerPath()),
		DisplayIcon:      in.iconPath(),
	}

	if in.Shortcuts != nil {
		in.setTask(TaskShortcuts, progress.StatusRunning)
		desktop, menu, err := in.Shortcuts.Create(registrar.Shortcut{
			Target:     l.LauncherPath(),
			Name:       cfg.AppName,
			Icon:       in.iconPath(),
			WorkingDir: l.Root,
			Desktop:    cfg.DesktopShortcut,
			StartMenu:  cfg.StartMenuShortcut,
		})
		rec.DesktopShortcutPath = desktop
		rec.StartMenuShortcutPath = menu
		if err != nil {
			in.warn("Some shortcuts could not be created", err)
			in.setTask(TaskShortcuts, progress.StatusFailed)
		} else {
			in.setTask(TaskShortcuts, progress.StatusSucceeded)
		}
	}

	in.setTask(TaskRegister, progress.StatusRunning)
	registered := true
	if in.Registrar == nil {
		registered = false
		logging.Debug("No registrar configured, skipping registration")
	} else if err := in.Registrar.Register(rec); err != nil {
		registered = false
		in.warn("The application could not be registered with the system", err)
	}

	info := layout.InstallInfo{
		AppID:       cfg.AppID,
		Version:     in.appVersion(),
		Mode:        mode,
		InstalledAt: time.Now().UTC(),
		Runtime:     exe,
		SessionID:   logging.SessionID(),
	}
	if err := l.WriteInfo(info); err != nil {
		registered = false
		in.warn("The installation marker could not be written", err)
	}

	if registered {
		in.setTask(TaskRegister, progress.StatusSucceeded)
		in.Reporter.Log("Registered " + cfg.AppName + " " + in.appVersion())
	} else {
		in.setTask(TaskRegister, progress.StatusFailed)
	}
}

func (in *Installer) warn(msg string, err error) {
	w := failure.New(failure.KindRegistrationWarning, msg, err)
	logging.LogWarning(pipelineName, string(StateRegistering), fmt.Sprintf("%s: %v", msg, err))
	in.Reporter.Warn(w.Error())
}

func (in *Installer) setTask(name string, status progress.Status) {
	if err := in.ledger.SetStatus(name, status); err != nil {
		logging.Debug("Ledger update rejected", "task", name, "error", err)
	}
}

func (in *Installer) appVersion() string {
	if in.Config.Version != "" {
		return in.Config.Version
	}
	return version.Version().Version
}

func (in *Installer) successMessage(mode layout.Mode) string {
	if mode == layout.ModeUpgrade {
		return fmt.Sprintf("%s was updated to version %s.", in.Config.AppName, in.appVersion())
	}
	return fmt.Sprintf("%s %s was installed to %s.", in.Config.AppName, in.appVersion(), in.Layout.Root)
}

func quoteCommand(path string) string {
	return `"` + path + `"`
}

func samePath(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return filepath.Clean(a) == filepath.Clean(b)
}
