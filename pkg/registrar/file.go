// pkg/registrar/file.go - YAML record store used where no system registry exists.

package registrar

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/windowsadmins/lexsetup/pkg/logging"
)

// FileRegistrar stores the Record as a YAML document.
type FileRegistrar struct {
	Path        string // record file
	SettingsDir string // application settings removed by DeleteSettings
}

// NewFileRegistrar places the record under the user config directory.
func NewFileRegistrar(appID, appName string) (*FileRegistrar, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("locating user config dir: %w", err)
	}
	return &FileRegistrar{
		Path:        filepath.Join(base, "lexsetup", appID+".yaml"),
		SettingsDir: filepath.Join(base, appName),
	}, nil
}

func (f *FileRegistrar) Register(rec Record) error {
	data, err := yaml.Marshal(rec)
	if err != nil {
		return fmt.Errorf("serializing install record: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o755); err != nil {
		return fmt.Errorf("creating record directory: %w", err)
	}
	if err := os.WriteFile(f.Path, data, 0o644); err != nil {
		return fmt.Errorf("writing install record: %w", err)
	}
	logging.Debug("Install record written", "path", f.Path)
	return nil
}

func (f *FileRegistrar) Lookup() (Record, bool, error) {
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("reading install record: %w", err)
	}
	var rec Record
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return Record{}, false, fmt.Errorf("parsing install record %s: %w", f.Path, err)
	}
	return rec, true, nil
}

func (f *FileRegistrar) Delete() error {
	if err := os.Remove(f.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("deleting install record: %w", err)
	}
	// drop the shared directory once the last record is gone
	_ = os.Remove(filepath.Dir(f.Path))
	return nil
}

func (f *FileRegistrar) DeleteSettings() error {
	if f.SettingsDir == "" {
		return nil
	}
	if err := os.RemoveAll(f.SettingsDir); err != nil {
		return fmt.Errorf("deleting settings: %w", err)
	}
	return nil
}
