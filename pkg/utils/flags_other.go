//go:build !windows

// pkg/utils/flags_other.go - command-line handling stub for non-Windows builds.

package utils

// PatchWindowsArgs is a no-op outside Windows; os.Args is already exact.
func PatchWindowsArgs() {}
