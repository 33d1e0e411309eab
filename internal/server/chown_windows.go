//go:build windows

package server

import "fmt"

// chownSocket is a no-op on Windows: UNIX-domain sockets and POSIX
// ownership don't apply there (spec.md's -U/--socket-owner targets
// UNIX-socket deployments).
func chownSocket(path, owner string) error {
	return fmt.Errorf("server: --socket-owner is not supported on windows")
}
