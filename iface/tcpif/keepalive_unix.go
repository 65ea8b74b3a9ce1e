//go:build linux || darwin || freebsd || netbsd

package tcpif

import (
	"net"

	"golang.org/x/sys/unix"
)

// setKeepaliveInterval sets the seconds between keepalive probes, a knob
// net.TCPConn does not expose.
func setKeepaliveInterval(conn *net.TCPConn, secs int) error {
	return setsockoptInt(conn, unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, secs)
}

// setKeepaliveCount sets the number of unanswered probes after which the
// connection is declared dead.
func setKeepaliveCount(conn *net.TCPConn, count int) error {
	return setsockoptInt(conn, unix.IPPROTO_TCP, unix.TCP_KEEPCNT, count)
}

func setsockoptInt(conn *net.TCPConn, level, opt, value int) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var serr error
	if err := raw.Control(func(fd uintptr) {
		serr = unix.SetsockoptInt(int(fd), level, opt, value)
	}); err != nil {
		return err
	}
	return serr
}

// connFD returns the file descriptor number backing the connection, used to
// derive per-connection interface IDs.
func connFD(conn *net.TCPConn) uint32 {
	var fd uintptr
	raw, err := conn.SyscallConn()
	if err != nil {
		return 0
	}
	_ = raw.Control(func(f uintptr) { fd = f })
	return uint32(fd)
}
