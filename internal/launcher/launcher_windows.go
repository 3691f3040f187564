//go:build windows

package launcher

import (
	"context"
	"os/exec"
	"strconv"
	"strings"
)

// buildCommand spawns the full command line through the default
// system shell, per the Windows contract (no interactive-shell
// dotfile story to honor there).
func buildCommand(ctx context.Context, command, dir string, env []string) (*exec.Cmd, error) {
	cmd := exec.CommandContext(ctx, "cmd", "/C", command)
	cmd.Dir = dir
	cmd.Env = env
	return cmd, nil
}

func processGroupID(cmd *exec.Cmd) int {
	return cmd.Process.Pid
}

// processGroupIDForPID mirrors processGroupID for a bare pid, used to
// adopt a process recovered from a previous overseerd run. Windows has
// no pgid concept distinct from the pid itself.
func processGroupIDForPID(pid int) int {
	return pid
}

func classifyExit(cmd *exec.Cmd, waitErr error) (code int, signal string) {
	state := cmd.ProcessState
	if state == nil {
		return -1, ""
	}
	return state.ExitCode(), ""
}

// signalTree uses taskkill /T to walk the descendant tree, since
// Windows has no process-group signal primitive comparable to POSIX
// kill(-pgid). /F is only effective for the kill-signal escalation
// path; a plain "SIGTERM" request still asks taskkill for its closest
// equivalent (no graceful WM_CLOSE story exists for console children).
func (h *Handle) signalTree(sig string) error {
	force := sig == "SIGKILL"
	args := []string{"/PID", strconv.Itoa(h.PID), "/T"}
	if force {
		args = append(args, "/F")
	}
	return exec.Command("taskkill", args...).Run()
}

func processAlive(pid int) bool {
	out, err := exec.Command("tasklist", "/FI", "PID eq "+strconv.Itoa(pid)).Output()
	if err != nil {
		return false
	}
	return strings.Contains(string(out), strconv.Itoa(pid))
}
