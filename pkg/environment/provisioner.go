// pkg/environment/provisioner.go - builds the isolated runtime environment inside an install target.

package environment

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/windowsadmins/lexsetup/pkg/extract"
	"github.com/windowsadmins/lexsetup/pkg/failure"
	"github.com/windowsadmins/lexsetup/pkg/layout"
	"github.com/windowsadmins/lexsetup/pkg/logging"
	"github.com/windowsadmins/lexsetup/pkg/progress"
	"github.com/windowsadmins/lexsetup/pkg/runner"
	"github.com/windowsadmins/lexsetup/pkg/utils"
)

// Task names registered in the ledger.
const (
	TaskValidate     = "validate-target"
	TaskExtract      = "extract-runtime"
	TaskConfigure    = "configure-runtime"
	TaskBootstrap    = "bootstrap-pip"
	TaskDependencies = "install-dependencies"
	TaskSource       = "copy-source"
	TaskBinaries     = "copy-binaries"
)

// Tasks returns the ledger entries for a provisioning run in mode.
func Tasks(mode layout.Mode) []progress.Task {
	tasks := []progress.Task{{Name: TaskValidate, Label: "Checking installation folder"}}
	if mode == layout.ModeFresh {
		tasks = append(tasks,
			progress.Task{Name: TaskExtract, Label: "Extracting runtime"},
			progress.Task{Name: TaskConfigure, Label: "Configuring runtime"},
			progress.Task{Name: TaskBootstrap, Label: "Installing package manager"},
		)
	}
	return append(tasks,
		progress.Task{Name: TaskDependencies, Label: "Installing dependencies"},
		progress.Task{Name: TaskSource, Label: "Copying application files"},
		progress.Task{Name: TaskBinaries, Label: "Copying launcher"},
	)
}

// Request is everything one provisioning run needs.
type Request struct {
	Layout         layout.Layout
	Mode           layout.Mode
	RuntimeArchive string
	RuntimeSHA256  string
	Bootstrap      string // empty or missing = ensurepip
	Manifest       string
	SourceDir      string
	Binaries       []string // copied into the target root by base name
}

// Result is the outcome of a successful run.
type Result struct {
	Mode              layout.Mode
	RuntimeExecutable string
	Warnings          []string
}

// Provisioner runs the provisioning steps. Ledger and Reporter may be nil.
type Provisioner struct {
	Runner   *runner.Runner
	Command  runner.CommandFactory
	Ledger   *progress.Ledger
	Reporter *progress.Reporter
}

// runtimeEnv keeps the embedded interpreter away from user site-packages.
var runtimeEnv = []string{
	"PYTHONNOUSERSITE=1",
	"PYTHONUTF8=1",
	"PIP_DISABLE_PIP_VERSION_CHECK=1",
	"PIP_NO_INPUT=1",
}

// Provision runs every step for req.Mode. Failures are *failure.Error values;
// cancellation surfaces as failure.UserCancelled. Nothing is rolled back.
func (p *Provisioner) Provision(ctx context.Context, req Request) (Result, error) {
	res := Result{Mode: req.Mode}
	l := req.Layout

	logging.Info("Provisioning environment", "target", l.Root, "mode", req.Mode)

	if err := p.step(ctx, TaskValidate, func() error {
		if err := layout.ValidateTarget(l.Root); err != nil {
			return failure.New(failure.KindPathInvalid, err.Error(), err)
		}
		return nil
	}); err != nil {
		return res, err
	}

	if req.Mode == layout.ModeUpgrade {
		exe, err := l.FindRuntimeExecutable()
		if err != nil {
			logging.Error("Existing runtime missing during upgrade", "target", l.Root, "error", err)
			return res, failure.New(failure.KindExtractionFailed,
				"The existing runtime is missing. Remove the installation and install again.", err)
		}
		res.RuntimeExecutable = exe
		p.log("Existing runtime found: " + exe)
	} else {
		exe, err := p.freshRuntime(ctx, req)
		if err != nil {
			return res, err
		}
		res.RuntimeExecutable = exe
	}

	if err := p.step(ctx, TaskDependencies, func() error {
		return p.installDependencies(ctx, res.RuntimeExecutable, req.Manifest)
	}); err != nil {
		return res, err
	}

	if err := p.step(ctx, TaskSource, func() error {
		return p.copySource(req.SourceDir, l.SourcePath())
	}); err != nil {
		return res, err
	}

	if err := p.step(ctx, TaskBinaries, func() error {
		res.Warnings = append(res.Warnings, p.copyBinaries(req.Binaries, l.Root)...)
		return nil
	}); err != nil {
		return res, err
	}

	logging.Info("Environment provisioned", "target", l.Root, "runtime", res.RuntimeExecutable, "warnings", len(res.Warnings))
	return res, nil
}

func (p *Provisioner) freshRuntime(ctx context.Context, req Request) (string, error) {
	l := req.Layout

	if err := p.step(ctx, TaskExtract, func() error {
		return p.extractRuntime(ctx, req)
	}); err != nil {
		return "", err
	}

	exe, err := l.FindRuntimeExecutable()
	if err != nil {
		logging.Error("Runtime executable not found after extraction", "runtime", l.RuntimePath(), "error", err)
		return "", failure.New(failure.KindExtractionFailed, "The runtime archive does not contain a Python interpreter.", err)
	}

	if err := p.step(ctx, TaskConfigure, func() error {
		patched, err := PatchSearchPaths(l.RuntimePath())
		if err != nil {
			return failure.New(failure.KindExtractionFailed, "Could not configure the runtime search paths.", err)
		}
		for _, f := range patched {
			p.log("Configured " + filepath.Base(f))
		}
		return nil
	}); err != nil {
		return "", err
	}

	if err := p.step(ctx, TaskBootstrap, func() error {
		return p.bootstrap(ctx, exe, req.Bootstrap)
	}); err != nil {
		return "", err
	}
	return exe, nil
}

func (p *Provisioner) extractRuntime(ctx context.Context, req Request) error {
	archive := req.RuntimeArchive
	if _, err := os.Stat(archive); err != nil {
		logging.Error("Runtime archive not found", "archive", archive, "error", err)
		return failure.Newf(failure.KindExtractionFailed, err, "The runtime archive %s is missing from the installer.", filepath.Base(archive))
	}
	if err := utils.VerifySHA256(archive, req.RuntimeSHA256); err != nil {
		logging.Error("Runtime archive failed verification", "archive", archive, "error", err)
		return failure.New(failure.KindExtractionFailed, "The runtime archive is corrupt (checksum mismatch).", err)
	}

	dest := req.Layout.RuntimePath()
	if _, err := os.Stat(dest); err == nil {
		logging.Info("Removing leftover runtime directory", "path", dest)
		if err := os.RemoveAll(dest); err != nil {
			return failure.New(failure.KindExtractionFailed, "Could not clear the previous runtime directory.", err)
		}
	}

	files := 0
	err := extract.Archive(ctx, archive, dest, extract.Options{
		StripSingleRoot: true,
		OnEntry: func(name string) {
			files++
			if files%200 == 0 {
				p.detail(fmt.Sprintf("Extracted %d files", files))
			}
		},
	})
	if err != nil {
		if ctx.Err() != nil {
			return cancelled(err)
		}
		logging.Error("Runtime extraction failed", "archive", archive, "error", err)
		return failure.New(failure.KindExtractionFailed, "The runtime archive could not be extracted.", err)
	}
	p.log(fmt.Sprintf("Extracted %d runtime files", files))
	return nil
}

func (p *Provisioner) bootstrap(ctx context.Context, exe, script string) error {
	args := []string{"-m", "ensurepip", "--upgrade"}
	if script != "" {
		if _, err := os.Stat(script); err == nil {
			args = []string{script, "--no-warn-script-location"}
		} else {
			logging.Warn("Bootstrap script not found, falling back to ensurepip", "script", script)
		}
	}

	res, err := p.python(ctx, exe, args...)
	if perr := processError(ctx, failure.KindDependencyInstallFailed, "the package manager bootstrap", err); perr != nil {
		return perr
	}
	if !res.Success() {
		logging.Error("Package manager bootstrap failed", "exit_code", res.ExitCode)
		return failure.Newf(failure.KindDependencyInstallFailed, nil,
			"Installing the package manager failed (exit code %d).", res.ExitCode)
	}
	return nil
}

func (p *Provisioner) installDependencies(ctx context.Context, exe, manifest string) error {
	if manifest == "" {
		p.log("No dependency manifest configured")
		return nil
	}
	reqs, err := ReadManifest(manifest)
	if errors.Is(err, os.ErrNotExist) {
		logging.Warn("Dependency manifest not found, skipping", "manifest", manifest)
		p.log("Dependency manifest not found: " + manifest)
		return nil
	}
	if err != nil {
		return failure.New(failure.KindDependencyInstallFailed, "The dependency manifest could not be read.", err)
	}
	if len(reqs) == 0 {
		p.log("Dependency manifest is empty")
		return nil
	}
	logging.Info("Installing dependencies", "manifest", manifest, "count", len(reqs))

	res, err := p.python(ctx, exe, "-m", "pip", "install", "--no-warn-script-location", "-r", manifest)
	if perr := processError(ctx, failure.KindDependencyInstallFailed, "the package installer", err); perr != nil {
		return perr
	}
	if res.Success() {
		return nil
	}

	pkg := FailingPackage(res.Tail)
	logging.Error("Dependency installation failed", "exit_code", res.ExitCode, "package", pkg)
	if pkg != "" {
		return failure.Newf(failure.KindDependencyInstallFailed, nil, "Failed to install package '%s'.", pkg)
	}
	return failure.Newf(failure.KindDependencyInstallFailed, nil,
		"Installing dependencies failed (exit code %d).", res.ExitCode)
}

func (p *Provisioner) copySource(src, dst string) error {
	if info, err := os.Stat(src); err != nil || !info.IsDir() {
		logging.Error("Application source missing from payload", "source", src)
		return failure.Newf(failure.KindExtractionFailed, err, "The application files are missing from the installer (%s).", src)
	}
	if err := os.RemoveAll(dst); err != nil {
		return failure.New(failure.KindExtractionFailed, "Could not replace the previous application files.", err)
	}
	n, err := copyTree(src, dst, excludedFromSource)
	if err != nil {
		logging.Error("Copying application source failed", "source", src, "destination", dst, "error", err)
		return failure.New(failure.KindExtractionFailed, "Copying the application files failed.", err)
	}
	p.log(fmt.Sprintf("Copied %d application files", n))
	return nil
}

// copyBinaries returns warnings; a missing or busy binary never fails the install.
func (p *Provisioner) copyBinaries(binaries []string, root string) []string {
	var warnings []string
	for _, bin := range binaries {
		if bin == "" {
			continue
		}
		dst := filepath.Join(root, filepath.Base(bin))
		if _, err := os.Stat(bin); err != nil {
			msg := fmt.Sprintf("%s was not found in the installer and was not copied", filepath.Base(bin))
			logging.Warn("Bundled binary missing", "path", bin)
			p.warn(msg)
			warnings = append(warnings, msg)
			continue
		}
		if sameFile(bin, dst) {
			continue
		}
		if _, err := copyFile(bin, dst, 0o755); err != nil {
			msg := fmt.Sprintf("could not copy %s: %v", filepath.Base(bin), err)
			logging.Warn("Copying bundled binary failed", "path", bin, "error", err)
			p.warn(msg)
			warnings = append(warnings, msg)
			continue
		}
		p.log("Installed " + filepath.Base(dst))
	}
	return warnings
}

func (p *Provisioner) python(ctx context.Context, exe string, args ...string) (runner.Result, error) {
	factory := p.Command
	if factory == nil {
		factory = runner.NewCommand
	}
	cmd := factory(exe, args...)
	cmd.Env = append(cmd.Env, runtimeEnv...)
	if cmd.Dir == "" {
		cmd.Dir = filepath.Dir(exe)
	}

	r := p.Runner
	if r == nil {
		r = runner.New(runner.DefaultGracePeriod)
	}
	p.log("> " + filepath.Base(exe) + " " + strings.Join(args, " "))
	return r.Run(ctx, cmd, p.onLine)
}

func (p *Provisioner) onLine(line string) {
	p.log(line)
	if m := collectingPattern.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
		p.detail("Installing: " + RequirementName(m[1]))
	}
}

// step runs fn as the ledger task name.
func (p *Provisioner) step(ctx context.Context, name string, fn func() error) error {
	if ctx.Err() != nil {
		return cancelled(ctx.Err())
	}
	p.setStatus(name, progress.StatusRunning)
	start := time.Now()

	if err := fn(); err != nil {
		p.setStatus(name, progress.StatusFailed)
		logging.Warn("Provisioning step failed", "task", name, "error", err)
		return err
	}
	p.setStatus(name, progress.StatusSucceeded)
	logging.Debug("Provisioning step finished", "task", name, "duration", time.Since(start).Round(time.Millisecond))
	return nil
}

func (p *Provisioner) setStatus(name string, status progress.Status) {
	if p.Ledger == nil {
		return
	}
	if err := p.Ledger.SetStatus(name, status); err != nil {
		logging.Debug("Ledger update rejected", "task", name, "error", err)
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

func (p *Provisioner) warn(text string) {
	if p.Reporter != nil {
		p.Reporter.Warn(text)
	}
}

func cancelled(err error) error {
	return failure.New(failure.KindUserCancelled, "Installation was cancelled.", err)
}

// processError classifies a runner error; nil means the process ran to exit.
func processError(ctx context.Context, kind failure.Kind, what string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, runner.ErrCancelled) || ctx.Err() != nil {
		return cancelled(err)
	}
	var spawn *runner.SpawnError
	if errors.As(err, &spawn) {
		logging.Error("Could not start process", "path", spawn.Path, "error", spawn.Err)
		return failure.Newf(kind, err, "Could not start %s: %v", what, spawn.Err)
	}
	logging.Error("Process failed", "what", what, "error", err)
	return failure.Newf(kind, err, "Running %s failed: %v", what, err)
}
