// pkg/registrar/registrar.go - records the installation with the host OS and
// manages desktop and start-menu shortcuts.

package registrar

import (
	"errors"
	"os"
	"sync"
)

// Record is the uninstall entry an installation leaves with the host.
type Record struct {
	DisplayName           string `yaml:"display_name"`
	DisplayVersion        string `yaml:"display_version"`
	Publisher             string `yaml:"publisher"`
	InstallLocation       string `yaml:"install_location"`
	UninstallCommand      string `yaml:"uninstall_command"`
	DisplayIcon           string `yaml:"display_icon,omitempty"`
	DesktopShortcutPath   string `yaml:"desktop_shortcut_path,omitempty"`
	StartMenuShortcutPath string `yaml:"start_menu_shortcut_path,omitempty"`
}

// Stale reports whether the recorded install location no longer exists.
func (r Record) Stale() bool {
	if r.InstallLocation == "" {
		return true
	}
	info, err := os.Stat(r.InstallLocation)
	return err != nil || !info.IsDir()
}

// ShortcutPaths returns the non-empty shortcut paths stored in the record.
func (r Record) ShortcutPaths() []string {
	var paths []string
	for _, p := range []string{r.DesktopShortcutPath, r.StartMenuShortcutPath} {
		if p != "" {
			paths = append(paths, p)
		}
	}
	return paths
}

// Registrar persists the Record. Absence of a record is a normal state.
type Registrar interface {
	Register(rec Record) error
	Lookup() (Record, bool, error)
	Delete() error
	// DeleteSettings removes the application's own settings store.
	DeleteSettings() error
}

// Shortcut describes one launcher shortcut.
type Shortcut struct {
	Target     string
	Name       string
	Icon       string
	WorkingDir string
	Desktop    bool
	StartMenu  bool
}

// Shortcuts creates and removes shortcut files.
type Shortcuts interface {
	// Create writes the requested shortcuts, replacing existing ones at the
	// canonical locations, and returns the paths written.
	Create(s Shortcut) (desktop, startMenu string, err error)
	Remove(paths []string) error
	// Canonical returns where Create would place shortcuts for name.
	Canonical(name string) []string
}

// ErrInjected is returned by Memory when a failure is configured.
var ErrInjected = errors.New("injected registrar failure")

// Memory is an in-process Registrar.
type Memory struct {
	mu       sync.Mutex
	record   *Record
	settings bool

	FailRegister bool
	FailDelete   bool
}

// NewMemory returns an empty Memory registrar.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Register(rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailRegister {
		return ErrInjected
	}
	m.record = &rec
	m.settings = true
	return nil
}

func (m *Memory) Lookup() (Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.record == nil {
		return Record{}, false, nil
	}
	return *m.record, true, nil
}

func (m *Memory) Delete() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailDelete {
		return ErrInjected
	}
	m.record = nil
	return nil
}

func (m *Memory) DeleteSettings() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings = false
	return nil
}

// HasSettings reports whether settings exist; used by tests.
func (m *Memory) HasSettings() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings
}
