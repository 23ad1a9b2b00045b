// pkg/utils/hash.go - utility functions for hashing payload files.

package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/windowsadmins/lexsetup/pkg/logging"
)

// FileSHA256 returns the hex SHA256 sum of a file.
func FileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ChecksumMismatchError reports a payload whose content differs from the
// expected digest.
type ChecksumMismatchError struct {
	Path     string
	Expected string
	Actual   string
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("checksum mismatch for %s: expected %s, got %s", e.Path, e.Expected, e.Actual)
}

// VerifySHA256 checks path against expected. An empty expected hash skips
// the check.
func VerifySHA256(path, expected string) error {
	expected = strings.TrimSpace(expected)
	if expected == "" {
		return nil
	}
	actual, err := FileSHA256(path)
	if err != nil {
		logging.Error("Failed to calculate SHA256 hash", "path", path, "error", err)
		return fmt.Errorf("hashing %s: %w", path, err)
	}
	logging.Debug("Calculated SHA256 hash", "path", path, "hash", actual)
	if !strings.EqualFold(actual, expected) {
		return &ChecksumMismatchError{Path: path, Expected: expected, Actual: actual}
	}
	return nil
}
