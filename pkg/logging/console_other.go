//go:build !windows

package logging

// enableColors is a no-op; Unix terminals interpret ANSI sequences natively.
func enableColors() {}
