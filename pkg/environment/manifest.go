// pkg/environment/manifest.go - dependency manifest parsing and pip failure diagnosis.

package environment

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// ReadManifest returns the requirement lines of a manifest, skipping blank
// lines, comments and pip options.
func ReadManifest(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var reqs []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if i := strings.Index(line, " #"); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "-") {
			continue
		}
		reqs = append(reqs, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading manifest %s: %w", path, err)
	}
	return reqs, nil
}

// RequirementName strips version specifiers, extras and markers.
func RequirementName(req string) string {
	req = strings.TrimSpace(req)
	if i := strings.IndexAny(req, "=<>!~[;@ ("); i >= 0 {
		req = req[:i]
	}
	return strings.TrimSpace(req)
}

var failedPackagePatterns = []*regexp.Regexp{
	regexp.MustCompile(`No matching distribution found for ([^\s]+)`),
	regexp.MustCompile(`Could not find a version that satisfies the requirement ([^\s]+)`),
	regexp.MustCompile(`Failed (?:building wheel for|to build) ([A-Za-z0-9._\-]+)`),
	regexp.MustCompile(`Running setup\.py install for ([A-Za-z0-9._\-]+) \.\.\. error`),
	regexp.MustCompile(`Building wheel for ([A-Za-z0-9._\-]+) .*error`),
}

var collectingPattern = regexp.MustCompile(`^Collecting ([^\s]+)`)

// FailingPackage scans pip output, newest line first, for the package that
// broke the install. It falls back to the last "Collecting" line.
func FailingPackage(tail []string) string {
	for i := len(tail) - 1; i >= 0; i-- {
		for _, re := range failedPackagePatterns {
			if m := re.FindStringSubmatch(tail[i]); m != nil {
				return RequirementName(m[1])
			}
		}
	}
	for i := len(tail) - 1; i >= 0; i-- {
		if m := collectingPattern.FindStringSubmatch(strings.TrimSpace(tail[i])); m != nil {
			return RequirementName(m[1])
		}
	}
	return ""
}
