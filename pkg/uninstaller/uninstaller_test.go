package uninstaller

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windowsadmins/lexsetup/pkg/blocking"
	"github.com/windowsadmins/lexsetup/pkg/config"
	"github.com/windowsadmins/lexsetup/pkg/failure"
	"github.com/windowsadmins/lexsetup/pkg/layout"
	"github.com/windowsadmins/lexsetup/pkg/progress"
	"github.com/windowsadmins/lexsetup/pkg/registrar"
	"github.com/windowsadmins/lexsetup/pkg/retry"
	"github.com/windowsadmins/lexsetup/pkg/selfdelete"
)

type fakeLister struct {
	procs []blocking.ProcessInfo
	err   error
}

func (f fakeLister) Processes([]string) ([]blocking.ProcessInfo, error) {
	return f.procs, f.err
}

type recordingScheduler struct {
	plans []selfdelete.Plan
	err   error
}

func (r *recordingScheduler) Schedule(p selfdelete.Plan) error {
	r.plans = append(r.plans, p)
	return r.err
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

type fixture struct {
	u         *Uninstaller
	l         layout.Layout
	reg       *registrar.Memory
	shortcuts *registrar.DirShortcuts
	scheduler *recordingScheduler
	record    registrar.Record
}

// newFixture lays out a complete installation next to unrelated user files.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	base := t.TempDir()
	root := filepath.Join(base, "Lex")

	cfg := config.GetDefaultConfig()
	cfg.LauncherName = "lex"
	cfg.UninstallerName = "lexuninstall"
	l := layout.New(root, cfg.LauncherName, cfg.UninstallerName)

	writeFile(t, filepath.Join(l.RuntimePath(), layout.RuntimeCandidates()[0]), "interpreter")
	writeFile(t, filepath.Join(l.SourcePath(), "lex", "__init__.py"), "")
	writeFile(t, l.LauncherPath(), "launcher")
	writeFile(t, l.UninstallerPath(), "uninstaller")
	writeFile(t, filepath.Join(l.LogsPath(), "lexuninstall.log"), "log")
	writeFile(t, l.InfoPath(), "version: 1.0.0\n")
	writeFile(t, filepath.Join(root, "notes.txt"), "mine")
	writeFile(t, filepath.Join(root, "projects", "corpus.txt"), "mine")

	shortcuts := &registrar.DirShortcuts{
		DesktopDir: filepath.Join(base, "Desktop"),
		MenuDir:    filepath.Join(base, "Menu"),
		Ext:        ".desktop",
		Write:      registrar.WriteDesktopEntry,
	}
	desktop, menu, err := shortcuts.Create(registrar.Shortcut{
		Target: l.LauncherPath(), Name: cfg.AppName, WorkingDir: root, Desktop: true, StartMenu: true,
	})
	require.NoError(t, err)

	reg := registrar.NewMemory()
	rec := registrar.Record{
		DisplayName:           cfg.AppName,
		InstallLocation:       root,
		DesktopShortcutPath:   desktop,
		StartMenuShortcutPath: menu,
	}
	require.NoError(t, reg.Register(rec))

	scheduler := &recordingScheduler{}
	u := New(cfg, root, reg, shortcuts, progress.NewReporter(progress.NewQueue()))
	u.Lister = fakeLister{}
	u.Scheduler = scheduler
	u.SelfPath = l.UninstallerPath()
	u.ActiveLog = filepath.Join(l.LogsPath(), "lexuninstall.log")
	u.Retry = retry.RetryConfig{MaxRetries: 2, InitialInterval: 10 * time.Millisecond}

	return &fixture{u: u, l: l, reg: reg, shortcuts: shortcuts, scheduler: scheduler, record: rec}
}

func TestUninstallRemovesOwnedItemsOnly(t *testing.T) {
	fx := newFixture(t)

	out := fx.u.Run(context.Background())
	require.NoError(t, out.Err)
	assert.True(t, out.Success)

	assert.NoDirExists(t, fx.l.RuntimePath())
	assert.NoDirExists(t, fx.l.SourcePath())
	assert.NoFileExists(t, fx.l.LauncherPath())
	assert.NoFileExists(t, fx.l.InfoPath())
	assert.FileExists(t, filepath.Join(fx.l.Root, "notes.txt"))
	assert.FileExists(t, filepath.Join(fx.l.Root, "projects", "corpus.txt"))

	// The running uninstaller and the active log are left to the helper.
	assert.FileExists(t, fx.l.UninstallerPath())
	require.Len(t, fx.scheduler.plans, 1)
	plan := fx.scheduler.plans[0]
	assert.Equal(t, os.Getpid(), plan.PID)
	assert.Equal(t, []string{fx.l.UninstallerPath()}, plan.Files)
	assert.Equal(t, []string{fx.l.LogsPath()}, plan.Trees)
	assert.Equal(t, []string{fx.l.Root}, plan.EmptyDirs)

	_, found, err := fx.reg.Lookup()
	require.NoError(t, err)
	assert.False(t, found)
	assert.False(t, fx.reg.HasSettings())
	assert.NoFileExists(t, fx.record.DesktopShortcutPath)
	assert.NoFileExists(t, fx.record.StartMenuShortcutPath)

	for _, task := range fx.u.Ledger().Snapshot() {
		assert.Equal(t, progress.StatusSucceeded, task.Status, task.Name)
	}
}

func TestUninstallKeepLogs(t *testing.T) {
	fx := newFixture(t)
	fx.u.KeepLogs = true

	out := fx.u.Run(context.Background())
	require.NoError(t, out.Err)
	assert.DirExists(t, fx.l.LogsPath())
	require.Len(t, fx.scheduler.plans, 1)
	assert.Empty(t, fx.scheduler.plans[0].Trees)
}

func TestUninstallRefusesWhileRunning(t *testing.T) {
	fx := newFixture(t)
	fx.u.Lister = fakeLister{procs: []blocking.ProcessInfo{
		{PID: 4321, Name: "lex", Exe: fx.l.LauncherPath()},
	}}

	out := fx.u.Run(context.Background())
	require.Error(t, out.Err)
	assert.ErrorIs(t, out.Err, failure.ApplicationRunning)
	assert.Contains(t, failure.CauseOf(out.Err), "pid 4321")
	require.Len(t, out.Running, 1)

	// Nothing was touched.
	assert.DirExists(t, fx.l.RuntimePath())
	assert.FileExists(t, fx.l.LauncherPath())
	assert.FileExists(t, fx.record.DesktopShortcutPath)
	_, found, _ := fx.reg.Lookup()
	assert.True(t, found)
	assert.Empty(t, fx.scheduler.plans)
}

func TestUninstallProceedsWhenScanFails(t *testing.T) {
	fx := newFixture(t)
	fx.u.Lister = fakeLister{err: errors.New("access denied")}

	out := fx.u.Run(context.Background())
	require.NoError(t, out.Err)
	assert.NotEmpty(t, out.Warnings)
}

func TestUninstallPartialRemoval(t *testing.T) {
	fx := newFixture(t)

	orig := osRemoveAll
	defer func() { osRemoveAll = orig }()
	locked := fx.l.SourcePath()
	osRemoveAll = func(path string) error {
		if path == locked {
			return errors.New("file in use")
		}
		return orig(path)
	}

	out := fx.u.Run(context.Background())
	require.Error(t, out.Err)
	assert.ErrorIs(t, out.Err, failure.PartialRemovalFailure)
	assert.Equal(t, []string{layout.SourceDir}, out.Leftover)
	assert.Contains(t, failure.CauseOf(out.Err), "Manual cleanup required")

	// The other steps still ran.
	assert.NoDirExists(t, fx.l.RuntimePath())
	_, found, _ := fx.reg.Lookup()
	assert.False(t, found)
}

func TestUninstallRetriesTransientLock(t *testing.T) {
	fx := newFixture(t)

	orig := osRemoveAll
	defer func() { osRemoveAll = orig }()
	failures := 1
	osRemoveAll = func(path string) error {
		if path == fx.l.SourcePath() && failures > 0 {
			failures--
			return errors.New("sharing violation")
		}
		return orig(path)
	}

	out := fx.u.Run(context.Background())
	require.NoError(t, out.Err)
	assert.NoDirExists(t, fx.l.SourcePath())
}

func TestUninstallMissingTarget(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, os.RemoveAll(fx.l.Root))
	assert.True(t, fx.record.Stale())

	out := fx.u.Run(context.Background())
	require.NoError(t, out.Err)
	_, found, _ := fx.reg.Lookup()
	assert.False(t, found)
	assert.Empty(t, fx.scheduler.plans)
}

func TestUninstallFallsBackToCanonicalShortcuts(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.reg.Register(registrar.Record{InstallLocation: fx.l.Root}))

	out := fx.u.Run(context.Background())
	require.NoError(t, out.Err)
	for _, p := range fx.shortcuts.Canonical(fx.u.Config.AppName) {
		assert.NoFileExists(t, p)
	}
}

func TestUninstallRemovesEmptyRootWithoutHelper(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, os.Remove(filepath.Join(fx.l.Root, "notes.txt")))
	require.NoError(t, os.RemoveAll(filepath.Join(fx.l.Root, "projects")))
	require.NoError(t, os.RemoveAll(fx.l.LogsPath()))
	fx.u.SelfPath = filepath.Join(t.TempDir(), "lexuninstall")
	fx.u.ActiveLog = ""

	out := fx.u.Run(context.Background())
	require.NoError(t, out.Err)
	assert.Empty(t, fx.scheduler.plans)
	assert.NoDirExists(t, fx.l.Root)
}

func TestResolveTarget(t *testing.T) {
	cfg := config.GetDefaultConfig()
	cfg.LauncherName = "lex"
	cfg.UninstallerName = "lexuninstall"
	reg := registrar.NewMemory()

	assert.Equal(t, "/explicit", ResolveTarget("/explicit", reg, "", cfg))
	assert.Equal(t, cfg.InstallPath, ResolveTarget("", reg, "", cfg))

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, layout.InfoFile), "")
	assert.Equal(t, dir, ResolveTarget("", reg, filepath.Join(dir, "lexuninstall"), cfg))

	require.NoError(t, reg.Register(registrar.Record{InstallLocation: "/registered"}))
	assert.Equal(t, "/registered", ResolveTarget("", reg, filepath.Join(dir, "lexuninstall"), cfg))
}

func TestWithin(t *testing.T) {
	dir := filepath.Join("a", "logs")
	assert.True(t, within(filepath.Join(dir, "x.log"), dir))
	assert.False(t, within(dir, dir))
	assert.False(t, within(filepath.Join("a", "logs-old", "x.log"), dir))
	assert.False(t, within("", dir))
}
