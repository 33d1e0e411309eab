//go:build !windows

package server

import (
	"fmt"
	"syscall"
)

// dropPrivileges implements spec.md §6's -u/--uid and -g/--gid: after the
// listener is bound (so a port <1024 can still be claimed as root), switch
// the process to the given uid/gid. Grounded on the real ttyd's
// lws_context_creation_info.uid/.gid fields (_examples/original_source/
// src/server.c:259-260,323,326), which libwebsockets applies internally
// post-bind; here the order must be explicit since there is no library
// doing it for us. Group is dropped before user — once the uid changes, the
// process may no longer be permitted to change its gid.
func dropPrivileges(uid, gid int) error {
	if gid >= 0 {
		if err := syscall.Setgid(gid); err != nil {
			return fmt.Errorf("setgid(%d): %w", gid, err)
		}
	}
	if uid >= 0 {
		if err := syscall.Setuid(uid); err != nil {
			return fmt.Errorf("setuid(%d): %w", uid, err)
		}
	}
	return nil
}
