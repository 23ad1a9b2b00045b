//go:build !windows

package registrar

import (
	"os"
	"path/filepath"
)

// NewShortcuts returns freedesktop.org shortcut placement for the current user.
func NewShortcuts() (*DirShortcuts, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	desktop := os.Getenv("XDG_DESKTOP_DIR")
	if desktop == "" {
		desktop = filepath.Join(home, "Desktop")
	}
	data := os.Getenv("XDG_DATA_HOME")
	if data == "" {
		data = filepath.Join(home, ".local", "share")
	}

	return &DirShortcuts{
		DesktopDir: desktop,
		MenuDir:    filepath.Join(data, "applications"),
		Ext:        ".desktop",
		Write:      WriteDesktopEntry,
	}, nil
}
