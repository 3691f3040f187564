//go:build !windows

package discovery

import (
	"context"
	"strconv"
	"strings"
	"syscall"

	"github.com/shirou/gopsutil/v3/process"
)

func killTree(pid int, signal string) error {
	sig := parseSignal(signal)
	descendants := collectDescendants(int32(pid))

	var lastErr error
	for _, p := range descendants {
		if err := syscall.Kill(int(p), sig); err != nil && err != syscall.ESRCH {
			lastErr = err
		}
	}
	if err := syscall.Kill(pid, sig); err != nil && err != syscall.ESRCH {
		lastErr = err
	}
	return lastErr
}

// collectDescendants walks the process tree rooted at pid (excluding
// pid itself) using gopsutil's parent-pid index.
func collectDescendants(pid int32) []int32 {
	all, err := process.Processes()
	if err != nil {
		return nil
	}
	children := make(map[int32][]int32)
	for _, p := range all {
		ppid, err := p.PpidWithContext(context.Background())
		if err != nil {
			continue
		}
		children[ppid] = append(children[ppid], p.Pid)
	}

	var out []int32
	queue := []int32{pid}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, child := range children[cur] {
			out = append(out, child)
			queue = append(queue, child)
		}
	}
	return out
}

func parseSignal(name string) syscall.Signal {
	switch strings.ToUpper(strings.TrimPrefix(name, "SIG")) {
	case "HUP":
		return syscall.SIGHUP
	case "INT":
		return syscall.SIGINT
	case "KILL":
		return syscall.SIGKILL
	case "TERM", "":
		return syscall.SIGTERM
	case "QUIT":
		return syscall.SIGQUIT
	case "USR1":
		return syscall.SIGUSR1
	case "USR2":
		return syscall.SIGUSR2
	default:
		if n, err := strconv.Atoi(name); err == nil {
			return syscall.Signal(n)
		}
		return syscall.SIGTERM
	}
}
