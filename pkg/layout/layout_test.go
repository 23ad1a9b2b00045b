package layout

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o755))
}

func TestOwnedNames(t *testing.T) {
	l := New(t.TempDir(), "lex", "lexuninstall")

	assert.Equal(t, []string{"runtime", "app-src", "lex", "lexuninstall", "logs", "install-info.yaml"}, l.OwnedNames())
	assert.True(t, l.IsOwned("runtime"))
	assert.True(t, l.IsOwned("install-info.yaml"))
	assert.False(t, l.IsOwned("Documents"))
	assert.False(t, l.IsOwned("runtime.bak"))
	assert.Equal(t, runtime.GOOS == "windows", l.IsOwned("RUNTIME"))
}

func TestOwnedNamesWithIcon(t *testing.T) {
	root := t.TempDir()
	l := New(root, "lex", "lexuninstall")
	assert.Empty(t, l.IconPath())

	l.IconName = "lex.ico"
	assert.Equal(t, filepath.Join(root, "lex.ico"), l.IconPath())
	assert.True(t, l.IsOwned("lex.ico"))
	assert.Equal(t, []string{"runtime", "app-src", "lex", "lexuninstall", "lex.ico", "logs", "install-info.yaml"}, l.OwnedNames())
}

func TestDetectExisting(t *testing.T) {
	testMatrix := []struct {
		name   string
		setup  func(l Layout)
		expect Mode
	}{
		{name: "empty target", setup: func(Layout) {}, expect: ModeFresh},
		{
			name:   "runtime without source",
			setup:  func(l Layout) { touch(t, filepath.Join(l.RuntimePath(), RuntimeCandidates()[0])) },
			expect: ModeFresh,
		},
		{
			name:   "source without runtime",
			setup:  func(l Layout) { require.NoError(t, os.MkdirAll(l.SourcePath(), 0o755)) },
			expect: ModeFresh,
		},
		{
			name: "prior install",
			setup: func(l Layout) {
				touch(t, filepath.Join(l.RuntimePath(), RuntimeCandidates()[0]))
				require.NoError(t, os.MkdirAll(l.SourcePath(), 0o755))
			},
			expect: ModeUpgrade,
		},
	}

	for _, tc := range testMatrix {
		t.Run(tc.name, func(t *testing.T) {
			l := New(t.TempDir(), "lex", "lexuninstall")
			tc.setup(l)

			existing := l.DetectExisting()
			assert.Equal(t, tc.expect, existing.Mode)
			if tc.expect == ModeUpgrade {
				assert.Equal(t, filepath.Join(l.RuntimePath(), RuntimeCandidates()[0]), existing.RuntimeExecutable)
			}
		})
	}
}

func TestFindRuntimeExecutableHonoursOverride(t *testing.T) {
	l := New(t.TempDir(), "lex", "lexuninstall")
	l.RuntimeExecutable = filepath.Join("custom", "py")
	touch(t, filepath.Join(l.RuntimePath(), "custom", "py"))

	exe, err := l.FindRuntimeExecutable()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(l.RuntimePath(), "custom", "py"), exe)

	l.RuntimeExecutable = "missing"
	_, err = l.FindRuntimeExecutable()
	assert.ErrorIs(t, err, ErrRuntimeMissing)
}

func TestInstallInfoRoundTrip(t *testing.T) {
	l := New(t.TempDir(), "lex", "lexuninstall")
	touch(t, filepath.Join(l.RuntimePath(), RuntimeCandidates()[0]))
	require.NoError(t, os.MkdirAll(l.SourcePath(), 0o755))

	written := InstallInfo{AppID: "Lex", Version: "1.2.0", Mode: ModeFresh, InstalledAt: time.Now().UTC().Truncate(time.Second)}
	require.NoError(t, l.WriteInfo(written))

	existing := l.DetectExisting()
	require.NotNil(t, existing.Info)
	assert.Equal(t, "1.2.0", existing.Info.Version)
	assert.True(t, written.InstalledAt.Equal(existing.Info.InstalledAt))
}

func TestValidateTarget(t *testing.T) {
	root := t.TempDir()

	assert.NoError(t, ValidateTarget(filepath.Join(root, "new", "dir")))
	assert.DirExists(t, filepath.Join(root, "new", "dir"))

	assert.Error(t, ValidateTarget(""))
	assert.Error(t, ValidateTarget("relative/path"))

	file := filepath.Join(root, "file")
	touch(t, file)
	assert.ErrorContains(t, ValidateTarget(file), "is a file")
}
