// pkg/registrar/shortcuts.go - shortcut placement shared by all platforms.

package registrar

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/windowsadmins/lexsetup/pkg/logging"
)

// LinkWriter writes one shortcut file at path.
type LinkWriter func(path string, s Shortcut) error

// DirShortcuts places shortcuts in a desktop and a menu directory.
type DirShortcuts struct {
	DesktopDir string
	MenuDir    string
	Ext        string
	Write      LinkWriter
}

func (d *DirShortcuts) path(dir, name string) string {
	return filepath.Join(dir, name+d.Ext)
}

func (d *DirShortcuts) Canonical(name string) []string {
	var paths []string
	if d.DesktopDir != "" {
		paths = append(paths, d.path(d.DesktopDir, name))
	}
	if d.MenuDir != "" {
		paths = append(paths, d.path(d.MenuDir, name))
	}
	return paths
}

func (d *DirShortcuts) Create(s Shortcut) (desktop, startMenu string, err error) {
	var result *multierror.Error

	place := func(dir string) string {
		if dir == "" {
			result = multierror.Append(result, errors.New("shortcut directory unknown"))
			return ""
		}
		p := d.path(dir, s.Name)
		if err := removeIfExists(p); err != nil {
			result = multierror.Append(result, fmt.Errorf("replacing %s: %w", p, err))
			return ""
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			result = multierror.Append(result, err)
			return ""
		}
		if err := d.Write(p, s); err != nil {
			result = multierror.Append(result, fmt.Errorf("creating shortcut %s: %w", p, err))
			return ""
		}
		logging.Info("Shortcut created", "path", p)
		return p
	}

	if s.Desktop {
		desktop = place(d.DesktopDir)
	}
	if s.StartMenu {
		startMenu = place(d.MenuDir)
	}
	return desktop, startMenu, result.ErrorOrNil()
}

func (d *DirShortcuts) Remove(paths []string) error {
	var result *multierror.Error
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := removeIfExists(p); err != nil {
			result = multierror.Append(result, fmt.Errorf("removing shortcut %s: %w", p, err))
			continue
		}
		logging.Debug("Shortcut removed", "path", p)
	}
	return result.ErrorOrNil()
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// WriteDesktopEntry writes a freedesktop.org launcher file.
func WriteDesktopEntry(path string, s Shortcut) error {
	var b strings.Builder
	b.WriteString("[Desktop Entry]\n")
	b.WriteString("Type=Application\n")
	fmt.Fprintf(&b, "Name=%s\n", s.Name)
	fmt.Fprintf(&b, "Exec=%s\n", quoteExec(s.Target))
	if s.WorkingDir != "" {
		fmt.Fprintf(&b, "Path=%s\n", s.WorkingDir)
	}
	if s.Icon != "" {
		fmt.Fprintf(&b, "Icon=%s\n", s.Icon)
	}
	b.WriteString("Terminal=false\n")
	b.WriteString("Categories=Office;TextTools;\n")
	return os.WriteFile(path, []byte(b.String()), 0o755)
}

func quoteExec(target string) string {
	if !strings.ContainsAny(target, " \t\"") {
		return target
	}
	return `"` + strings.ReplaceAll(target, `"`, `\"`) + `"`
}
