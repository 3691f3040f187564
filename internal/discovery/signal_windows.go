//go:build windows

package discovery

import (
	"os/exec"
	"strconv"
)

func killTree(pid int, signal string) error {
	args := []string{"/PID", strconv.Itoa(pid), "/T"}
	if signal == "SIGKILL" {
		args = append(args, "/F")
	}
	return exec.Command("taskkill", args...).Run()
}
