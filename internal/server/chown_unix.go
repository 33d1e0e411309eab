//go:build !windows

package server

import (
	"fmt"
	"os"
	"os/user"
	"strconv"
	"strings"
)

func chown(path string, uid, gid int) error {
	return os.Chown(path, uid, gid)
}

// chownSocket implements -U/--socket-owner (spec.md §6): chown the UNIX
// socket path to the given "user[:group]".
func chownSocket(path, owner string) error {
	parts := strings.SplitN(owner, ":", 2)
	uid, err := lookupUID(parts[0])
	if err != nil {
		return err
	}
	gid := -1
	if len(parts) == 2 {
		gid, err = lookupGID(parts[1])
		if err != nil {
			return err
		}
	}
	return chown(path, uid, gid)
}

func lookupUID(s string) (int, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}
	u, err := user.Lookup(s)
	if err != nil {
		return 0, fmt.Errorf("lookup user %q: %w", s, err)
	}
	return strconv.Atoi(u.Uid)
}

func lookupGID(s string) (int, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}
	g, err := user.LookupGroup(s)
	if err != nil {
		return 0, fmt.Errorf("lookup group %q: %w", s, err)
	}
	return strconv.Atoi(g.Gid)
}
