package mockrpc

import "os/exec"

func setProcessGroup(*exec.Cmd) {}

// KillGroup kills pid. Windows has no process groups to signal, so children
// of pid survive it.
func KillGroup(pid int) error {
	return KillPID(pid)
}
