package supervisor

import (
	"net"
	"strconv"
	"time"
)

// Port probe constants.
const (
	// portDialTimeout bounds a single liveness probe of an app's port.
	portDialTimeout = 1 * time.Second

	// portConfirmAttempts and portConfirmInterval bound the post-start
	// wait for an app to open its listening socket.
	portConfirmAttempts = 5
	portConfirmInterval = 500 * time.Millisecond
)

// portOpen reports whether something is accepting TCP connections on
// host:port. A connect that succeeds within the dial timeout counts;
// anything else (refused, unreachable, timeout) does not.
func portOpen(host string, port int) bool {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := net.DialTimeout("tcp", addr, portDialTimeout)
	if err != nil {
		return false
	}
	conn.Close() //nolint:errcheck // Probe connection, nothing to flush
	return true
}
