//go:build windows

package runner

import (
	"os/signal"
	"syscall"
)

func ignoreTerminate() {
	signal.Ignore(syscall.SIGTERM, syscall.SIGINT)
}
