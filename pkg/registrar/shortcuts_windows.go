//go:build windows

// pkg/registrar/shortcuts_windows.go - .lnk shortcuts through the WScript.Shell COM object.

package registrar

import (
	"fmt"
	"runtime"

	ole "github.com/go-ole/go-ole"
	"github.com/go-ole/go-ole/oleutil"
	"golang.org/x/sys/windows"
)

const sFalse = 0x00000001

// NewShortcuts returns .lnk placement in the user's Desktop and Start Menu
// Programs folders.
func NewShortcuts() (*DirShortcuts, error) {
	desktop, err := windows.KnownFolderPath(windows.FOLDERID_Desktop, 0)
	if err != nil {
		return nil, fmt.Errorf("resolving Desktop folder: %w", err)
	}
	programs, err := windows.KnownFolderPath(windows.FOLDERID_Programs, 0)
	if err != nil {
		return nil, fmt.Errorf("resolving Start Menu folder: %w", err)
	}
	return &DirShortcuts{
		DesktopDir: desktop,
		MenuDir:    programs,
		Ext:        ".lnk",
		Write:      writeLnk,
	}, nil
}

func writeLnk(path string, s Shortcut) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := ole.CoInitializeEx(0, ole.COINIT_APARTMENTTHREADED|ole.COINIT_SPEED_OVER_MEMORY); err != nil {
		oleErr, ok := err.(*ole.OleError)
		if !ok || (oleErr.Code() != ole.S_OK && oleErr.Code() != sFalse) {
			return fmt.Errorf("initializing COM: %w", err)
		}
	}
	defer ole.CoUninitialize()

	unknown, err := oleutil.CreateObject("WScript.Shell")
	if err != nil {
		return fmt.Errorf("creating WScript.Shell: %w", err)
	}
	defer unknown.Release()

	shell, err := unknown.QueryInterface(ole.IID_IDispatch)
	if err != nil {
		return err
	}
	defer shell.Release()

	created, err := oleutil.CallMethod(shell, "CreateShortcut", path)
	if err != nil {
		return fmt.Errorf("CreateShortcut: %w", err)
	}
	link := created.ToIDispatch()
	defer link.Release()

	props := map[string]string{
		"TargetPath":       s.Target,
		"WorkingDirectory": s.WorkingDir,
		"Description":      s.Name,
	}
	if s.Icon != "" {
		props["IconLocation"] = s.Icon + ",0"
	}
	for name, value := range props {
		if _, err := oleutil.PutProperty(link, name, value); err != nil {
			return fmt.Errorf("setting %s: %w", name, err)
		}
	}
	if _, err := oleutil.CallMethod(link, "Save"); err != nil {
		return fmt.Errorf("saving shortcut: %w", err)
	}
	return nil
}
