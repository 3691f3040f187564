// Package discovery implements generic OS process introspection:
// searching the whole machine's process table by name substring,
// resolving which process holds a TCP/UDP port, and delivering signals
// by pid with descendant-tree semantics.
package discovery

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	gopsnet "github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"

	gops "github.com/mitchellh/go-ps"
)

// ProcessMatch is one hit from SearchByName.
type ProcessMatch struct {
	PID     int32
	Command string
}

// PortMatch is one hit from ListByPort.
type PortMatch struct {
	PID     int32
	Command string
	Name    string
}

// SearchByName returns every OS process whose command line contains
// substr, case-insensitively. gopsutil's Cmdline is the primary
// source; when a process's full command line cannot be read (e.g.
// permission denied reading /proc/<pid>/cmdline) its gopsutil name is
// matched instead. go-ps's executable names are searched when gopsutil
// cannot list processes at all or when the gopsutil pass matched
// nothing.
func SearchByName(ctx context.Context, substr string) ([]ProcessMatch, error) {
	needle := strings.ToLower(substr)

	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return searchByNameFallback(needle)
	}

	var matches []ProcessMatch
	seen := make(map[int32]bool)
	for _, p := range procs {
		cmdline, err := p.CmdlineWithContext(ctx)
		if err != nil || strings.TrimSpace(cmdline) == "" {
			name, nerr := p.NameWithContext(ctx)
			if nerr != nil {
				continue
			}
			cmdline = name
		}
		if strings.Contains(strings.ToLower(cmdline), needle) {
			matches = append(matches, ProcessMatch{PID: p.Pid, Command: cmdline})
			seen[p.Pid] = true
		}
	}

	if len(matches) == 0 {
		fallback, ferr := searchByNameFallback(needle)
		if ferr == nil {
			for _, m := range fallback {
				if !seen[m.PID] {
					matches = append(matches, m)
				}
			}
		}
	}

	return matches, nil
}

func searchByNameFallback(lowerNeedle string) ([]ProcessMatch, error) {
	procs, err := gops.Processes()
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}
	var matches []ProcessMatch
	for _, p := range procs {
		if strings.Contains(strings.ToLower(p.Executable()), lowerNeedle) {
			matches = append(matches, ProcessMatch{PID: int32(p.Pid()), Command: p.Executable()})
		}
	}
	return matches, nil
}

// ProcessCommandLine reports whether pid is currently alive and, if
// so, its full command line. Used to verify a recovered pid's identity
// against what was recorded for it before trusting it belongs to the
// task that previously owned it, rather than an unrelated process that
// has since reused the same pid.
func ProcessCommandLine(ctx context.Context, pid int32) (cmdline string, alive bool) {
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return "", false
	}
	running, err := p.IsRunningWithContext(ctx)
	if err != nil || !running {
		return "", false
	}
	cmdline, _ = p.CmdlineWithContext(ctx)
	return cmdline, true
}

// ListByPort returns the process(es) holding port locally over TCP or
// UDP, resolved via gopsutil's connection table.
func ListByPort(ctx context.Context, port int) ([]PortMatch, error) {
	conns, err := gopsnet.ConnectionsWithContext(ctx, "inet")
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}

	seen := make(map[int32]bool)
	var matches []PortMatch
	for _, c := range conns {
		if int(c.Laddr.Port) != port {
			continue
		}
		if c.Pid == 0 || seen[c.Pid] {
			continue
		}
		seen[c.Pid] = true

		name := ""
		cmd := ""
		if p, err := process.NewProcessWithContext(ctx, c.Pid); err == nil {
			name, _ = p.NameWithContext(ctx)
			cmd, _ = p.CmdlineWithContext(ctx)
		}
		if cmd == "" {
			cmd = name
		}
		matches = append(matches, PortMatch{PID: c.Pid, Command: cmd, Name: name})
	}
	return matches, nil
}

// Kill delivers signal (default SIGTERM) to pid and its transitive
// descendants. Descendants are discovered via gopsutil's process tree
// rather than assumed to share pid's process group, since a pid
// surfaced by SearchByName/ListByPort may belong to any process on the
// machine, not one this program spawned.
func Kill(pid int, signal string) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid %d", pid)
	}
	if strings.TrimSpace(signal) == "" {
		signal = "SIGTERM"
	}
	return killTree(pid, signal)
}

func parsePort(raw string) (int, error) {
	port, err := strconv.Atoi(raw)
	if err != nil || port < 1 || port > 65535 {
		return 0, fmt.Errorf("invalid port %q", raw)
	}
	return port, nil
}

// ParsePort validates a port string, rejecting anything outside
// 1-65535; exported so the HTTP layer can reuse it for request
// validation.
func ParsePort(raw string) (int, error) {
	return parsePort(raw)
}
