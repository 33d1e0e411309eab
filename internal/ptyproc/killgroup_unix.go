//go:build !windows

package ptyproc

import "syscall"

// killProcessGroup delivers signal to the child's process group (negative
// pid), per spec.md §4.1/§6. go-pty's slave side makes the child a session
// leader, so -pid reaches every descendant it spawned too.
func killProcessGroup(pid int, signal int) error {
	return syscall.Kill(-pid, syscall.Signal(signal))
}
