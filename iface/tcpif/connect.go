package tcpif

import (
	"net"

	"github.com/seamux/seamux/iface"
	"github.com/seamux/seamux/metrics"
	"github.com/seamux/seamux/misc"
)

// doConnect establishes the client connection, looping per the persist retry
// policy until connected or a hard resolution failure. Where a coordinator
// lock exists the caller holds it, so the twin goroutine stays parked for
// the duration. On success the new connection carries the socket tuning, has
// the preamble written, and is installed into both halves of a pair before
// the function returns.
func doConnect(ifa *iface.Iface, ift *ifTCP) bool {
	s := ift.shared
	for {
		addrs, class, err := resolveAddrs(s.host, s.port, s.nameserver)
		if err != nil {
			ift.logger.Warning("doConnect", ifa.Name, err, "lookup failed for host %s service %s", s.host, s.port)
			if class == resolveHard {
				return false
			}
			misc.SleepRetry(s.retry, nil)
			continue
		}
		var conn *net.TCPConn
		for _, addr := range addrs {
			c, derr := net.DialTCP("tcp", nil, addr)
			if derr != nil {
				continue
			}
			conn = c
			break
		}
		if conn == nil {
			ift.logger.Debug(4, "doConnect", ifa.Name, "connect failed (sleeping)")
			misc.SleepRetry(s.retry, nil)
			continue
		}
		if s.nodelay {
			if err := conn.SetNoDelay(true); err != nil {
				ift.logger.Warning("doConnect", ifa.Name, err, "could not disable Nagle algorithm for tcp socket")
			}
		}
		_ = establishKeepalive(conn, s, &ift.logger)
		if len(s.preamble) > 0 {
			if err := writeFull(conn, s.preamble); err != nil {
				// A connection that cannot take the preamble is no
				// connection at all.
				ift.logger.Warning("doConnect", ifa.Name, err, "failed to send preamble")
				conn.Close()
				misc.SleepRetry(s.retry, nil)
				continue
			}
		}
		ift.conn = conn
		if pift := pairInfo(ifa); pift != nil {
			pift.conn = conn
		}
		metrics.ConnectsTotal.WithLabelValues(ifa.Name).Inc()
		ift.logger.Debug(3, "doConnect", ifa.Name, "connected")
		return true
	}
}

// writeFull writes the buffer in its entirety.
func writeFull(conn *net.TCPConn, data []byte) error {
	for len(data) > 0 {
		n, err := conn.Write(data)
		if err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}
