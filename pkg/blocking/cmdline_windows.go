//go:build windows

package blocking

import (
	"strings"

	"github.com/yusufpapurcu/wmi"

	"github.com/windowsadmins/lexsetup/pkg/logging"
)

type win32Process struct {
	ProcessId   uint32
	CommandLine *string
}

// commandLines asks WMI for command lines gopsutil could not read, which
// happens for processes started elevated or by another session.
func commandLines(names []string) map[int32]string {
	out := make(map[int32]string)
	if len(names) == 0 {
		return out
	}

	var clauses []string
	for _, n := range names {
		if !strings.HasSuffix(strings.ToLower(n), ".exe") {
			n += ".exe"
		}
		clauses = append(clauses, "Name = '"+strings.ReplaceAll(n, "'", "''")+"'")
	}
	query := "SELECT ProcessId, CommandLine FROM Win32_Process WHERE " + strings.Join(clauses, " OR ")

	var procs []win32Process
	if err := wmi.Query(query, &procs); err != nil {
		logging.Debug("WMI process query failed", "error", err)
		return out
	}
	for _, p := range procs {
		if p.CommandLine != nil {
			out[int32(p.ProcessId)] = *p.CommandLine
		}
	}
	return out
}
