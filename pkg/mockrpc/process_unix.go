//go:build !windows

package mockrpc

import (
	"errors"
	"fmt"
	"os/exec"
	"syscall"
)

// setProcessGroup makes the child lead its own process group.
func setProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

// KillGroup kills the process group led by pid, including anything the
// leader started such as the server built by `go run`. A group that is
// already gone is not an error.
func KillGroup(pid int) error {
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("failed to kill process group %d: %w", pid, err)
	}
	return nil
}
