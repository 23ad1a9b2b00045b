package installer

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/windowsadmins/lexsetup/pkg/blocking"
	"github.com/windowsadmins/lexsetup/pkg/layout"
	"github.com/windowsadmins/lexsetup/pkg/logging"
)

// ProcessCleanup terminates interpreter processes still running out of the
// runtime directory after a stage worker was abandoned.
type ProcessCleanup struct {
	Lister blocking.Lister
	Kill   func(pid int32) error

	mutex sync.Mutex
}

// NewProcessCleanup creates a cleanup backed by the system process table.
func NewProcessCleanup() *ProcessCleanup {
	return &ProcessCleanup{
		Lister: blocking.SystemLister{},
		Kill:   killProcess,
	}
}

// ReapRuntime force-kills every runtime interpreter whose executable or
// command line lives under l's runtime directory. It returns how many
// processes it tried to terminate.
func (pc *ProcessCleanup) ReapRuntime(l layout.Layout) int {
	pc.mutex.Lock()
	defer pc.mutex.Unlock()

	var names []string
	for _, c := range layout.RuntimeCandidates() {
		names = append(names, filepath.Base(c))
	}
	orphans, err := blocking.Find(pc.Lister, blocking.Criteria{
		Names:       names,
		InstallPath: l.RuntimePath(),
	})
	if err != nil {
		logging.Debug("Failed to query runtime processes", "error", err)
		return 0
	}

	if len(orphans) > 0 {
		logging.Warn("Found orphaned runtime processes", "count", len(orphans))
	}
	for _, p := range orphans {
		logging.Info("Terminating orphaned runtime process", "pid", p.PID, "exe", p.Exe)
		if err := pc.Kill(p.PID); err != nil {
			logging.Warn("Failed to kill runtime process", "pid", p.PID, "error", err)
		}
	}
	return len(orphans)
}

func killProcess(pid int32) error {
	p, err := os.FindProcess(int(pid))
	if err != nil {
		return err
	}
	return p.Kill()
}
