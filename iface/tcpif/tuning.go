package tcpif

import (
	"net"
	"time"

	"github.com/seamux/seamux/sealog"
)

// establishKeepalive applies the keepalive and send-side socket tuning
// recorded in the shared block. The keepalive master switch failing ends the
// call with that error; a failing finer tuning knob is logged, the remaining
// knobs are still applied, and the last such failure is returned. Callers
// treat the whole thing as non-fatal.
func establishKeepalive(conn *net.TCPConn, s *tcpShared, logger *sealog.Logger) error {
	var err error
	if s.keepalive > 0 {
		if e := conn.SetKeepAlive(true); e != nil {
			logger.Warning("establishKeepalive", "", e, "could not enable keepalives on tcp socket")
			return e
		}
		if s.keepidle > 0 {
			if e := conn.SetKeepAlivePeriod(time.Duration(s.keepidle) * time.Second); e != nil {
				logger.Warning("establishKeepalive", "", e, "could not set tcp keepidle")
				err = e
			}
		}
		if s.keepintvl > 0 {
			if e := setKeepaliveInterval(conn, s.keepintvl); e != nil {
				logger.Warning("establishKeepalive", "", e, "could not set tcp keepintvl")
				err = e
			}
		}
		if s.keepcnt > 0 {
			if e := setKeepaliveCount(conn, s.keepcnt); e != nil {
				logger.Warning("establishKeepalive", "", e, "could not set tcp keepcnt")
				err = e
			}
		}
	}
	if s.sndTimeout > 0 {
		// The timeout itself is applied as a write deadline before each
		// write; the buffer size is what needs a socket option.
		if e := conn.SetWriteBuffer(s.sndbuf); e != nil {
			logger.Warning("establishKeepalive", "", e, "could not set tcp send buffer")
			err = e
		}
	}
	return err
}
