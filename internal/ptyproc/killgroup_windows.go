//go:build windows

package ptyproc

import "os"

// killProcessGroup has no process-group concept on Windows; go-pty's
// ConPTY-backed child is killed directly instead.
func killProcessGroup(pid int, signal int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Kill()
}
