package admission

import (
	"net"
	"time"
)

// splitHostPort tolerates a bare host with no port (net.SplitHostPort
// errors on that), which Origin/Host headers commonly are.
func splitHostPort(hostport string) (host, port string, err error) {
	h, p, splitErr := net.SplitHostPort(hostport)
	if splitErr != nil {
		return hostport, "", nil
	}
	return h, p, nil
}

// timeNow is a seam for deterministic OTP tests.
var timeNow = time.Now
