// pkg/blocking/blocking.go - detects running instances of the installed application

package blocking

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/windowsadmins/lexsetup/pkg/logging"
)

// ProcessInfo is the part of a process the checks look at.
type ProcessInfo struct {
	PID         int32
	Name        string
	Exe         string
	CommandLine string
}

func (p ProcessInfo) String() string {
	if p.Exe != "" {
		return fmt.Sprintf("%s (pid %d, %s)", p.Name, p.PID, p.Exe)
	}
	return fmt.Sprintf("%s (pid %d)", p.Name, p.PID)
}

// Lister returns processes whose executable name matches one of names.
type Lister interface {
	Processes(names []string) ([]ProcessInfo, error)
}

// Criteria select the processes that block an uninstall.
type Criteria struct {
	Names       []string // executable names, with or without .exe
	InstallPath string   // exe path or command line must reference it
	ExcludePIDs []int32
}

// NameMatches compares a process name against an application name the way
// the blocking-applications check always has: case-insensitive and with an
// optional .exe suffix.
func NameMatches(processName, appName string) bool {
	p := strings.ToLower(processName)
	a := strings.ToLower(appName)
	if strings.HasSuffix(a, ".exe") {
		return p == a
	}
	return p == a || p == a+".exe"
}

// Find returns the running processes that match c. Our own process is never
// reported.
func Find(l Lister, c Criteria) ([]ProcessInfo, error) {
	logging.Debug("Checking for running application instances", "names", c.Names, "install_path", c.InstallPath)

	procs, err := l.Processes(c.Names)
	if err != nil {
		logging.Error("Failed to get process list", "error", err)
		return nil, err
	}

	exclude := map[int32]bool{int32(os.Getpid()): true}
	for _, pid := range c.ExcludePIDs {
		exclude[pid] = true
	}

	var running []ProcessInfo
	for _, p := range procs {
		if exclude[p.PID] {
			continue
		}
		if !referencesPath(p, c.InstallPath) {
			continue
		}
		logging.Info("Found running application instance", "process", p.Name, "pid", p.PID, "exe", p.Exe)
		running = append(running, p)
	}
	return running, nil
}

func referencesPath(p ProcessInfo, installPath string) bool {
	if installPath == "" {
		return true
	}
	root := normalize(filepath.Clean(installPath))
	if p.Exe != "" {
		exe := normalize(filepath.Clean(p.Exe))
		if exe == root || strings.HasPrefix(exe, root+string(filepath.Separator)) {
			return true
		}
	}
	return p.CommandLine != "" && mentionsPath(normalize(p.CommandLine), root)
}

// mentionsPath reports whether cmdline names root or something beneath it as
// a whole path, so /opt/Lex2 does not count as a reference to /opt/Lex.
func mentionsPath(cmdline, root string) bool {
	for from := 0; from < len(cmdline); {
		i := strings.Index(cmdline[from:], root)
		if i < 0 {
			return false
		}
		start := from + i
		end := start + len(root)
		if (start == 0 || isPathStart(cmdline[start-1])) && (end == len(cmdline) || isPathEnd(cmdline[end])) {
			return true
		}
		from = start + 1
	}
	return false
}

func isPathStart(c byte) bool {
	return c == ' ' || c == '\t' || c == '"' || c == '\'' || c == '='
}

func isPathEnd(c byte) bool {
	return c == '/' || c == '\\' || c == ' ' || c == '\t' || c == '"' || c == '\''
}

func normalize(s string) string {
	if runtime.GOOS == "windows" {
		return strings.ToLower(s)
	}
	return s
}

// SystemLister reads the live process table.
type SystemLister struct{}

func (SystemLister) Processes(names []string) ([]ProcessInfo, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, err
	}

	var out []ProcessInfo
	var missingCmdline []int32
	for _, proc := range procs {
		name, err := proc.Name()
		if err != nil {
			continue
		}
		if !matchesAny(name, names) {
			continue
		}
		info := ProcessInfo{PID: proc.Pid, Name: name}
		if exe, err := proc.Exe(); err == nil {
			info.Exe = exe
		}
		if cmdline, err := proc.Cmdline(); err == nil {
			info.CommandLine = cmdline
		}
		if info.CommandLine == "" {
			missingCmdline = append(missingCmdline, proc.Pid)
		}
		out = append(out, info)
	}

	if len(missingCmdline) > 0 {
		fallback := commandLines(names)
		for i := range out {
			if out[i].CommandLine == "" {
				out[i].CommandLine = fallback[out[i].PID]
			}
		}
	}
	return out, nil
}

func matchesAny(processName string, names []string) bool {
	for _, n := range names {
		if NameMatches(processName, n) {
			return true
		}
	}
	return false
}
