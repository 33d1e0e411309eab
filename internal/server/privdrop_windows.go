//go:build windows

package server

import "fmt"

// dropPrivileges is unsupported on Windows: there is no POSIX uid/gid
// model to drop into (spec.md's -u/--uid and -g/--gid target UNIX
// deployments started as root).
func dropPrivileges(uid, gid int) error {
	if uid >= 0 || gid >= 0 {
		return fmt.Errorf("server: --uid/--gid are not supported on windows")
	}
	return nil
}
