//go:build !windows

package procmgr

import "syscall"

// killOSProcess forcefully terminates a process by PID using SIGKILL.
func killOSProcess(pid int) error {
	return syscall.Kill(pid, syscall.SIGKILL)
}
