//go:build windows

package config

import (
	"fmt"
	"log"
	"strconv"
	"strings"

	"golang.org/x/sys/windows/registry"
)

// policyKeyPath is where administrators can pre-seed installer settings.
func policyKeyPath(cfg *Configuration) string {
	return fmt.Sprintf(`SOFTWARE\%s\%s\Setup`, cfg.Publisher, cfg.AppName)
}

// loadPolicyOverrides layers HKCU then HKLM policy values over cfg.
func loadPolicyOverrides(cfg *Configuration) error {
	path := policyKeyPath(cfg)
	loaded := false
	for _, hive := range []registry.Key{registry.CURRENT_USER, registry.LOCAL_MACHINE} {
		key, err := registry.OpenKey(hive, path, registry.READ)
		if err != nil {
			continue
		}
		loadFromKey(key, cfg)
		key.Close()
		loaded = true
	}
	if !loaded {
		return fmt.Errorf("policy key %s not present", path)
	}
	log.Printf("Loaded installer policy from registry path: %s", path)
	return nil
}

func loadFromKey(key registry.Key, cfg *Configuration) {
	loadStringFromRegistry(key, "InstallPath", &cfg.InstallPath)
	loadStringFromRegistry(key, "PayloadDir", &cfg.PayloadDir)
	loadStringFromRegistry(key, "RuntimeArchive", &cfg.RuntimeArchive)
	loadStringFromRegistry(key, "RuntimeArchiveSHA256", &cfg.RuntimeArchiveSHA256)
	loadStringFromRegistry(key, "LogLevel", &cfg.LogLevel)
	loadStringFromRegistry(key, "LogDir", &cfg.LogDir)

	loadIntFromRegistry(key, "AssetRetries", &cfg.AssetRetries)
	loadIntFromRegistry(key, "ProcessGraceSeconds", &cfg.ProcessGraceSeconds)

	loadBoolFromRegistry(key, "DesktopShortcut", &cfg.DesktopShortcut)
	loadBoolFromRegistry(key, "StartMenuShortcut", &cfg.StartMenuShortcut)
	loadBoolFromRegistry(key, "PreserveLogs", &cfg.PreserveLogs)

	loadStringArrayFromRegistry(key, "AssetArgs", &cfg.AssetArgs)
}

// loadStringFromRegistry loads a string value from registry if it exists.
func loadStringFromRegistry(key registry.Key, valueName string, target *string) {
	if val, _, err := key.GetStringValue(valueName); err == nil && val != "" {
		*target = val
		log.Printf("Policy: Loaded %s = %s", valueName, val)
	}
}

// loadBoolFromRegistry accepts "true"/"false", "1"/"0" strings or a DWORD.
func loadBoolFromRegistry(key registry.Key, valueName string, target *bool) {
	if val, _, err := key.GetStringValue(valueName); err == nil {
		if parsed, parseErr := strconv.ParseBool(val); parseErr == nil {
			*target = parsed
			return
		}
	}
	if val, _, err := key.GetIntegerValue(valueName); err == nil {
		*target = val != 0
	}
}

// loadIntFromRegistry loads an integer value from a string or DWORD.
func loadIntFromRegistry(key registry.Key, valueName string, target *int) {
	if val, _, err := key.GetStringValue(valueName); err == nil {
		if parsed, parseErr := strconv.Atoi(val); parseErr == nil {
			*target = parsed
			return
		}
	}
	if val, _, err := key.GetIntegerValue(valueName); err == nil {
		*target = int(val)
	}
}

// loadStringArrayFromRegistry reads REG_MULTI_SZ or a comma-separated string.
func loadStringArrayFromRegistry(key registry.Key, valueName string, target *[]string) {
	var raw []string
	if vals, _, err := key.GetStringsValue(valueName); err == nil {
		raw = vals
	} else if val, _, err := key.GetStringValue(valueName); err == nil {
		raw = strings.Split(val, ",")
	}
	filtered := make([]string, 0, len(raw))
	for _, v := range raw {
		if v = strings.TrimSpace(v); v != "" {
			filtered = append(filtered, v)
		}
	}
	if len(filtered) > 0 {
		*target = filtered
	}
}
