// pkg/config/config.go - configuration settings for lexsetup.

package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigFileName is looked up next to the installer executable when no
// explicit path is given.
const ConfigFileName = "lexsetup.yaml"

// Configuration holds the configurable options for lexsetup in YAML format
type Configuration struct {
	AppName   string `yaml:"AppName"`
	AppID     string `yaml:"AppID"`
	Publisher string `yaml:"Publisher"`
	Version   string `yaml:"Version"` // empty = installer build version

	InstallPath string `yaml:"InstallPath"`

	// Payload locations; relative paths resolve against PayloadDir, which
	// itself resolves against the installer executable's directory.
	PayloadDir           string `yaml:"PayloadDir"`
	RuntimeArchive       string `yaml:"RuntimeArchive"`
	RuntimeArchiveSHA256 string `yaml:"RuntimeArchiveSHA256"`
	RuntimeExecutable    string `yaml:"RuntimeExecutable"` // relative to the runtime dir; empty = probe
	BootstrapScript      string `yaml:"BootstrapScript"`
	Manifest             string `yaml:"Manifest"`
	SourceDir            string `yaml:"SourceDir"`
	IconPath             string `yaml:"IconPath"` // optional; installed into the target root
	LauncherName         string `yaml:"LauncherName"`
	UninstallerName      string `yaml:"UninstallerName"`

	AssetArgs    []string `yaml:"AssetArgs"`
	AssetRetries int      `yaml:"AssetRetries"`

	DesktopShortcut   bool `yaml:"DesktopShortcut"`
	StartMenuShortcut bool `yaml:"StartMenuShortcut"`

	ProcessGraceSeconds  int `yaml:"ProcessGraceSeconds"`  // terminate -> kill window
	CancelAbandonSeconds int `yaml:"CancelAbandonSeconds"` // wait for a cancelled worker
	PollIntervalMillis   int `yaml:"PollIntervalMillis"`   // UI queue polling

	LogLevel     string `yaml:"LogLevel"`
	LogDir       string `yaml:"LogDir"` // empty = <InstallPath>/logs
	PreserveLogs bool   `yaml:"PreserveLogs"`
}

// GetDefaultConfig provides default configuration values.
func GetDefaultConfig() *Configuration {
	return &Configuration{
		AppName:              "Lex",
		AppID:                "Lex",
		Publisher:            "Lex Project",
		InstallPath:          defaultInstallPath("Lex"),
		PayloadDir:           "payload",
		RuntimeArchive:       "runtime.zip",
		BootstrapScript:      "get-pip.py",
		Manifest:             "requirements.txt",
		SourceDir:            "app",
		IconPath:             "lex.ico",
		LauncherName:         exeName("lex"),
		UninstallerName:      exeName("lexuninstall"),
		AssetArgs:            []string{"-m", "lex.assets", "download"},
		AssetRetries:         2,
		DesktopShortcut:      true,
		StartMenuShortcut:    true,
		ProcessGraceSeconds:  10,
		CancelAbandonSeconds: 15,
		PollIntervalMillis:   100,
		LogLevel:             "INFO",
	}
}

func exeName(base string) string {
	if runtime.GOOS == "windows" {
		return base + ".exe"
	}
	return base
}

func defaultInstallPath(app string) string {
	if runtime.GOOS == "windows" {
		if local := os.Getenv("LOCALAPPDATA"); local != "" {
			return filepath.Join(local, "Programs", app)
		}
	}
	if data := os.Getenv("XDG_DATA_HOME"); data != "" {
		return filepath.Join(data, strings.ToLower(app))
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), strings.ToLower(app))
	}
	return filepath.Join(home, ".local", "share", strings.ToLower(app))
}

// DefaultConfigPath returns the configuration file next to the running executable.
func DefaultConfigPath() string {
	exe, err := os.Executable()
	if err != nil {
		return ConfigFileName
	}
	return filepath.Join(filepath.Dir(exe), ConfigFileName)
}

// LoadConfig loads the configuration from a YAML file. If the file doesn't
// exist, defaults are used with any registry policy values layered on top.
func LoadConfig(path string) (*Configuration, error) {
	if path == "" {
		path = DefaultConfigPath()
	}

	cfg := GetDefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		log.Printf("Configuration file does not exist: %s, using defaults", path)
		if perr := loadPolicyOverrides(cfg); perr != nil {
			log.Printf("No policy overrides loaded: %v", perr)
		}
	case err != nil:
		return nil, fmt.Errorf("reading configuration file %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing configuration file %s: %w", path, err)
		}
	}

	if !filepath.IsAbs(cfg.PayloadDir) {
		cfg.PayloadDir = filepath.Join(filepath.Dir(path), cfg.PayloadDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file.
func SaveConfig(cfg *Configuration, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("serializing configuration: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating configuration directory: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// Validate rejects configurations the pipelines cannot run with.
func (c *Configuration) Validate() error {
	var problems []string
	if strings.TrimSpace(c.AppName) == "" {
		problems = append(problems, "AppName is empty")
	}
	if strings.TrimSpace(c.AppID) == "" {
		problems = append(problems, "AppID is empty")
	}
	if c.LauncherName == "" || c.UninstallerName == "" {
		problems = append(problems, "LauncherName and UninstallerName are required")
	}
	if strings.ContainsAny(c.LauncherName+c.UninstallerName, `/\`) {
		problems = append(problems, "LauncherName and UninstallerName must be plain file names")
	}
	if c.ProcessGraceSeconds <= 0 {
		problems = append(problems, "ProcessGraceSeconds must be positive")
	}
	if c.CancelAbandonSeconds <= 0 {
		problems = append(problems, "CancelAbandonSeconds must be positive")
	}
	if c.PollIntervalMillis <= 0 {
		problems = append(problems, "PollIntervalMillis must be positive")
	}
	if c.AssetRetries < 0 {
		problems = append(problems, "AssetRetries must not be negative")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// IconName is the file name the icon is installed under, or "" when no icon
// is configured.
func (c *Configuration) IconName() string {
	if c.IconPath == "" {
		return ""
	}
	return filepath.Base(c.IconPath)
}

// PayloadPath resolves a payload entry against PayloadDir.
func (c *Configuration) PayloadPath(name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.PayloadDir, name)
}

// ResolvedLogDir returns the directory log files are written to.
func (c *Configuration) ResolvedLogDir() string {
	if c.LogDir != "" {
		return c.LogDir
	}
	return filepath.Join(c.InstallPath, "logs")
}
