// pkg/environment/pth.go - rewrites the embedded runtime's module search path files.

package environment

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/windowsadmins/lexsetup/pkg/layout"
	"github.com/windowsadmins/lexsetup/pkg/logging"
)

// searchPathEntries are appended to every ._pth file, relative to the file.
var searchPathEntries = []string{"Lib/site-packages", "../" + layout.SourceDir}

// PatchSearchPaths enables site imports and adds the package and
// application source directories to every *._pth file directly under
// runtimeDir. It returns the files it changed; a runtime without ._pth files
// needs no patching.
func PatchSearchPaths(runtimeDir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(runtimeDir, "*._pth"))
	if err != nil {
		return nil, err
	}

	var patched []string
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return patched, fmt.Errorf("reading %s: %w", path, err)
		}
		updated := patchSearchPathFile(string(data))
		if updated == string(data) {
			continue
		}
		if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
			return patched, fmt.Errorf("writing %s: %w", path, err)
		}
		logging.Debug("Patched module search paths", "file", path)
		patched = append(patched, path)
	}
	return patched, nil
}

// patchSearchPathFile keeps existing entries, drops any commented or live
// "import site" line, appends the missing paths and ends with "import site".
func patchSearchPathFile(content string) string {
	newline := "\n"
	if strings.Contains(content, "\r\n") {
		newline = "\r\n"
	}

	var kept []string
	present := make(map[string]bool)
	for _, raw := range strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		if strings.TrimSpace(strings.TrimLeft(line, "#")) == "import site" {
			continue
		}
		kept = append(kept, line)
		present[normalizeEntry(line)] = true
	}

	for _, entry := range searchPathEntries {
		if !present[normalizeEntry(entry)] {
			kept = append(kept, entry)
		}
	}
	kept = append(kept, "import site")
	return strings.Join(kept, newline) + newline
}

func normalizeEntry(entry string) string {
	return strings.ToLower(strings.ReplaceAll(entry, `\`, "/"))
}
