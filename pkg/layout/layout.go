// pkg/layout/layout.go - on-disk layout of an installation target and the
// allow-list of names the tools may create or delete inside it.

package layout

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	RuntimeDir = "runtime"
	SourceDir  = "app-src"
	LogsDir    = "logs"
	InfoFile   = "install-info.yaml"
)

// Mode is the provisioning mode chosen for a target.
type Mode string

const (
	ModeFresh   Mode = "fresh"
	ModeUpgrade Mode = "upgrade"
)

// Layout describes one installation target.
type Layout struct {
	Root            string
	LauncherName    string
	UninstallerName string
	IconName        string // optional icon file in the root
	// RuntimeExecutable, when set, is the interpreter path relative to the
	// runtime directory. Otherwise well-known locations are probed.
	RuntimeExecutable string
}

// New builds a layout rooted at root.
func New(root, launcher, uninstaller string) Layout {
	return Layout{Root: root, LauncherName: launcher, UninstallerName: uninstaller}
}

func (l Layout) RuntimePath() string     { return filepath.Join(l.Root, RuntimeDir) }
func (l Layout) SourcePath() string      { return filepath.Join(l.Root, SourceDir) }
func (l Layout) LogsPath() string        { return filepath.Join(l.Root, LogsDir) }
func (l Layout) InfoPath() string        { return filepath.Join(l.Root, InfoFile) }
func (l Layout) LauncherPath() string    { return filepath.Join(l.Root, l.LauncherName) }
func (l Layout) UninstallerPath() string { return filepath.Join(l.Root, l.UninstallerName) }

// IconPath is the installed icon, or "" when the layout has none.
func (l Layout) IconPath() string {
	if l.IconName == "" {
		return ""
	}
	return filepath.Join(l.Root, l.IconName)
}

// OwnedNames lists the top-level entries this application may delete.
func (l Layout) OwnedNames() []string {
	names := []string{RuntimeDir, SourceDir}
	if l.LauncherName != "" {
		names = append(names, l.LauncherName)
	}
	if l.UninstallerName != "" {
		names = append(names, l.UninstallerName)
	}
	if l.IconName != "" {
		names = append(names, l.IconName)
	}
	return append(names, LogsDir, InfoFile)
}

// IsOwned reports whether a top-level name belongs to the application.
// Names compare case-insensitively on Windows.
func (l Layout) IsOwned(name string) bool {
	for _, owned := range l.OwnedNames() {
		if sameName(owned, name) {
			return true
		}
	}
	return false
}

func sameName(a, b string) bool {
	if runtime.GOOS == "windows" {
		return strings.EqualFold(a, b)
	}
	return a == b
}

// RuntimeCandidates lists interpreter locations probed inside the runtime dir.
func RuntimeCandidates() []string {
	if runtime.GOOS == "windows" {
		return []string{"python.exe", filepath.Join("Scripts", "python.exe"), filepath.Join("bin", "python.exe")}
	}
	return []string{filepath.Join("bin", "python3"), filepath.Join("bin", "python"), "python3", "python"}
}

// ErrRuntimeMissing means no interpreter was found in the runtime dir.
var ErrRuntimeMissing = errors.New("runtime executable not found")

// FindRuntimeExecutable returns the interpreter inside the runtime dir.
func (l Layout) FindRuntimeExecutable() (string, error) {
	candidates := RuntimeCandidates()
	if l.RuntimeExecutable != "" {
		candidates = []string{l.RuntimeExecutable}
	}
	for _, c := range candidates {
		p := filepath.Join(l.RuntimePath(), c)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w in %s", ErrRuntimeMissing, l.RuntimePath())
}

// Existing describes what detection found in a target.
type Existing struct {
	Mode              Mode
	RuntimeExecutable string
	Info              *InstallInfo // nil when no marker was found
}

// DetectExisting chooses Upgrade when a runtime executable and the
// application source directory are both present, Fresh otherwise.
func (l Layout) DetectExisting() Existing {
	exe, err := l.FindRuntimeExecutable()
	if err != nil {
		return Existing{Mode: ModeFresh}
	}
	if info, err := os.Stat(l.SourcePath()); err != nil || !info.IsDir() {
		return Existing{Mode: ModeFresh}
	}

	existing := Existing{Mode: ModeUpgrade, RuntimeExecutable: exe}
	if info, err := ReadInfo(l.InfoPath()); err == nil {
		existing.Info = info
	}
	return existing
}

// InstallInfo is the marker written after a successful install.
type InstallInfo struct {
	AppID       string    `yaml:"app_id"`
	Version     string    `yaml:"version"`
	Mode        Mode      `yaml:"mode"`
	InstalledAt time.Time `yaml:"installed_at"`
	Runtime     string    `yaml:"runtime_executable"`
	SessionID   string    `yaml:"session_id,omitempty"`
}

// ReadInfo loads an install-info marker.
func ReadInfo(path string) (*InstallInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var info InstallInfo
	if err := yaml.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &info, nil
}

// WriteInfo stores the marker in the target.
func (l Layout) WriteInfo(info InstallInfo) error {
	data, err := yaml.Marshal(info)
	if err != nil {
		return fmt.Errorf("serializing install info: %w", err)
	}
	return os.WriteFile(l.InfoPath(), data, 0o644)
}

// ValidateTarget checks that root is absolute and writable, creating it if
// needed. It returns a user-facing cause on failure.
func ValidateTarget(root string) error {
	if strings.TrimSpace(root) == "" {
		return errors.New("installation path is empty")
	}
	if !filepath.IsAbs(root) {
		return fmt.Errorf("installation path %q is not absolute", root)
	}
	if info, err := os.Stat(root); err == nil && !info.IsDir() {
		return fmt.Errorf("installation path %s is a file", root)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("cannot create installation path %s: %w", root, err)
	}

	probe, err := os.CreateTemp(root, ".write-test-*")
	if err != nil {
		return fmt.Errorf("installation path %s is not writable: %w", root, err)
	}
	name := probe.Name()
	probe.Close()
	_ = os.Remove(name)
	return nil
}
