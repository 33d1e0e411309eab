package ptyproc

import (
	"errors"
	"os/exec"
	"syscall"
)

type exitErrorLike struct {
	*exec.ExitError
}

func asExitError(err error) (exitErrorLike, bool) {
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return exitErrorLike{ee}, true
	}
	return exitErrorLike{}, false
}

// codeAndSignal mirrors spec.md §4.1: exit_code = WEXITSTATUS on normal
// exit, 128+signo on signal termination.
func (e exitErrorLike) codeAndSignal() (code int, signal int) {
	status, ok := e.Sys().(syscall.WaitStatus)
	if !ok {
		return e.ExitCode(), 0
	}
	if status.Signaled() {
		sig := int(status.Signal())
		return 128 + sig, sig
	}
	return status.ExitStatus(), 0
}
