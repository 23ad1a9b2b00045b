//go:build !windows

package runner

import (
	"context"
	"os/signal"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ignoreTerminate() {
	signal.Ignore(syscall.SIGTERM)
}

func TestCancelEscalatesToKill(t *testing.T) {
	r := New(300 * time.Millisecond)
	lines := newLineCollector()

	h, err := r.Start(context.Background(), helperCommand("ignore-term"), lines.add)
	require.NoError(t, err)
	<-lines.ready

	start := time.Now()
	h.Cancel()
	res, err := h.Wait()

	assert.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, -1, res.ExitCode)
	assert.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)
}
