//go:build windows

// pkg/registrar/registry_windows.go - uninstall entry under HKCU.

package registrar

import (
	"errors"
	"fmt"

	"golang.org/x/sys/windows/registry"

	"github.com/windowsadmins/lexsetup/pkg/logging"
)

const uninstallRoot = `Software\Microsoft\Windows\CurrentVersion\Uninstall`

// RegistryRegistrar writes the Record as a per-user uninstall entry so it
// shows up in Apps & Features.
type RegistryRegistrar struct {
	AppID     string
	AppName   string
	Publisher string
}

// NewDefault returns the registrar for this platform.
func NewDefault(appID, appName, publisher string) (Registrar, error) {
	return &RegistryRegistrar{AppID: appID, AppName: appName, Publisher: publisher}, nil
}

func (r *RegistryRegistrar) keyPath() string {
	return uninstallRoot + `\` + r.AppID
}

func (r *RegistryRegistrar) settingsPath() string {
	return `Software\` + r.Publisher + `\` + r.AppName
}

func recordValues(rec Record) [][2]string {
	return [][2]string{
		{"DisplayName", rec.DisplayName},
		{"DisplayVersion", rec.DisplayVersion},
		{"Publisher", rec.Publisher},
		{"InstallLocation", rec.InstallLocation},
		{"UninstallString", rec.UninstallCommand},
		{"DisplayIcon", rec.DisplayIcon},
		{"DesktopShortcutPath", rec.DesktopShortcutPath},
		{"StartMenuShortcutPath", rec.StartMenuShortcutPath},
	}
}

func (r *RegistryRegistrar) Register(rec Record) error {
	k, _, err := registry.CreateKey(registry.CURRENT_USER, r.keyPath(), registry.SET_VALUE)
	if err != nil {
		return fmt.Errorf("creating registry key %s: %w", r.keyPath(), err)
	}
	defer k.Close()

	for _, v := range recordValues(rec) {
		if v[1] == "" {
			_ = k.DeleteValue(v[0])
			continue
		}
		if err := k.SetStringValue(v[0], v[1]); err != nil {
			return fmt.Errorf("writing registry value %s: %w", v[0], err)
		}
	}
	for _, flag := range []string{"NoModify", "NoRepair"} {
		if err := k.SetDWordValue(flag, 1); err != nil {
			logging.Warn("Failed to set registry flag", "value", flag, "error", err)
		}
	}
	logging.Debug("Uninstall entry written", "key", `HKCU\`+r.keyPath())
	return nil
}

func (r *RegistryRegistrar) Lookup() (Record, bool, error) {
	k, err := registry.OpenKey(registry.CURRENT_USER, r.keyPath(), registry.QUERY_VALUE)
	if errors.Is(err, registry.ErrNotExist) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("opening registry key %s: %w", r.keyPath(), err)
	}
	defer k.Close()

	get := func(name string) string {
		v, _, err := k.GetStringValue(name)
		if err != nil {
			return ""
		}
		return v
	}
	return Record{
		DisplayName:           get("DisplayName"),
		DisplayVersion:        get("DisplayVersion"),
		Publisher:             get("Publisher"),
		InstallLocation:       get("InstallLocation"),
		UninstallCommand:      get("UninstallString"),
		DisplayIcon:           get("DisplayIcon"),
		DesktopShortcutPath:   get("DesktopShortcutPath"),
		StartMenuShortcutPath: get("StartMenuShortcutPath"),
	}, true, nil
}

func (r *RegistryRegistrar) Delete() error {
	return deleteKeyTree(registry.CURRENT_USER, r.keyPath())
}

func (r *RegistryRegistrar) DeleteSettings() error {
	if err := deleteKeyTree(registry.CURRENT_USER, r.settingsPath()); err != nil {
		return err
	}
	// the publisher key goes too once it has no other products
	publisher := `Software\` + r.Publisher
	if k, err := registry.OpenKey(registry.CURRENT_USER, publisher, registry.ENUMERATE_SUB_KEYS); err == nil {
		names, _ := k.ReadSubKeyNames(-1)
		k.Close()
		if len(names) == 0 {
			_ = registry.DeleteKey(registry.CURRENT_USER, publisher)
		}
	}
	return nil
}

// deleteKeyTree removes path and all its subkeys. A missing key is not an error.
func deleteKeyTree(root registry.Key, path string) error {
	k, err := registry.OpenKey(root, path, registry.ENUMERATE_SUB_KEYS)
	if errors.Is(err, registry.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("opening registry key %s: %w", path, err)
	}
	children, err := k.ReadSubKeyNames(-1)
	k.Close()
	if err != nil {
		return fmt.Errorf("listing registry key %s: %w", path, err)
	}
	for _, child := range children {
		if err := deleteKeyTree(root, path+`\`+child); err != nil {
			return err
		}
	}
	if err := registry.DeleteKey(root, path); err != nil && !errors.Is(err, registry.ErrNotExist) {
		return fmt.Errorf("deleting registry key %s: %w", path, err)
	}
	logging.Debug("Registry key deleted", "key", path)
	return nil
}
