// Package tcpif implements the TCP specialisation of the multiplexer
// interface: client and server connection lifecycle, and in persist mode the
// transparent recovery of lost connections shared by a paired reader and
// writer goroutine.
package tcpif

import (
	"errors"
	"io"
	"net"
	"time"

	"github.com/seamux/seamux/iface"
	"github.com/seamux/seamux/metrics"
	"github.com/seamux/seamux/misc"
	"github.com/seamux/seamux/nmea"
	"github.com/seamux/seamux/sealog"
)

// errConnDead reports that the shared connection is gone and repair has been
// given up, so the interface goroutine should exit.
var errConnDead = errors.New("tcp connection is gone for good")

// ifTCP is the per-direction transport state. The two halves of a pair hold
// separate ifTCP records whose conn fields track the same connection; in
// persist mode they also share one tcpShared block.
type ifTCP struct {
	conn     *net.TCPConn
	listener *net.TCPListener
	shared   *tcpShared
	// perIPLimit rate-limits accepted connections per client address on
	// server interfaces.
	perIPLimit *misc.RateLimit
	logger     sealog.Logger
}

func pairInfo(ifa *iface.Iface) *ifTCP {
	if ifa.Pair == nil {
		return nil
	}
	return ifa.Pair.Info.(*ifTCP)
}

// readTCP performs one raw read for the framing driver. In persist mode it
// loops through coordinator-led recovery until data arrives or repair is
// abandoned; otherwise the first EOF or error is final.
func readTCP(ifa *iface.Iface, buf []byte) (int, error) {
	ift := ifa.Info.(*ifTCP)
	persist := ifa.HasFlag(iface.Persist)
	for {
		conn := ift.conn
		if persist {
			var ok bool
			if conn, ok = ift.shared.enterIO(ift); !ok {
				return 0, errConnDead
			}
		}
		n, err := conn.Read(buf)
		if n > 0 {
			if persist {
				ift.shared.leaveIOOK()
			}
			metrics.BytesRead.WithLabelValues(ifa.Name).Add(float64(n))
			return n, nil
		}
		if !persist {
			if err == nil {
				err = io.EOF
			}
			return 0, err
		}
		if err == io.EOF {
			ift.logger.Debug(3, "readTCP", ifa.Name, "EOF")
		} else {
			ift.logger.Debug(3, "readTCP", ifa.Name, "read failed: %v", err)
		}
		probed := 0
		ift.shared.leaveIOFail(ift, pairInfo(ifa), func() bool {
			n, ok := reread(ifa, ift, buf)
			probed = n
			return ok
		})
		if probed > 0 {
			metrics.BytesRead.WithLabelValues(ifa.Name).Add(float64(probed))
			return probed, nil
		}
		// Re-read on the repaired connection; enterIO catches the case
		// where the repair was abandoned.
	}
}

// reread recovers a lost read connection while the coordinator lock is held.
// It first probes with a read bounded by a one-millisecond deadline so the
// lock is not held across a blocking one; only a definitive EOF or error
// leads to a reconnect. The
// return values are the bytes obtained by the probe and whether the
// connection is usable afterwards.
func reread(ifa *iface.Iface, ift *ifTCP, buf []byte) (int, bool) {
	ift.logger.Debug(3, "reread", ifa.Name, "reconnecting (read) interface")
	conn := ift.conn
	if conn == nil {
		// The twin already gave the connection up for dead.
		return 0, false
	}
	// A deadline already in the past fails the read without consulting the
	// socket, so the probe gets a short future one instead.
	_ = conn.SetReadDeadline(time.Now().Add(time.Millisecond))
	n, err := conn.Read(buf)
	_ = conn.SetReadDeadline(time.Time{})
	if n > 0 {
		return n, true
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		// Nothing buffered but the connection may still be alive.
		return 0, true
	}
	metrics.ReconnectsTotal.WithLabelValues(ifa.Name).Inc()
	conn.Close()
	if !doConnect(ifa, ift) {
		ift.logger.Warning("reread", ifa.Name, err, "failed to reconnect tcp connection")
		return 0, false
	}
	// The caller's outer loop reads from the fresh connection.
	return 0, true
}

// writeTCP is the goroutine body of an outbound interface: it dequeues
// senblks and writes each with a vectored write, the optional TAG block in
// the first segment. In persist mode each write is bracketed by the
// coordinator and failures lead into reconnect recovery.
func writeTCP(ifa *iface.Iface) {
	ift := ifa.Info.(*ifTCP)
	persist := ifa.HasFlag(iface.Persist)
	var tagbuf []byte
	if ifa.TagFlags != 0 {
		tagbuf = make([]byte, nmea.MaxTag)
	}
	for {
		sb := ifa.Q.Next()
		if sb == nil {
			return
		}
		var bufs net.Buffers
		if ifa.TagFlags != 0 {
			if n := nmea.FormatTag(ifa.TagFlags, ifa.Name, sb, tagbuf); n == 0 {
				ift.logger.Warning("writeTCP", ifa.Name, nil, "disabling tag output on interface id %x", ifa.ID)
				ifa.TagFlags = 0
			} else {
				bufs = append(bufs, tagbuf[:n])
			}
		}
		bufs = append(bufs, sb.Data)
		size := 0
		for _, b := range bufs {
			size += len(b)
		}

		if !persist {
			if err := writeBufs(ift.conn, bufs, 0); err != nil {
				ift.logger.MaybeMinorError(err)
				return
			}
			metrics.BytesWritten.WithLabelValues(ifa.Name).Add(float64(size))
			continue
		}

		conn, ok := ift.shared.enterIO(ift)
		if !ok {
			return
		}
		err := writeBufs(conn, bufs, ift.shared.sndTimeout)
		if err == nil {
			ift.shared.leaveIOOK()
			metrics.BytesWritten.WithLabelValues(ifa.Name).Add(float64(size))
			continue
		}
		ift.logger.Debug(3, "writeTCP", ifa.Name, "write failed: %v", err)
		ne, isNetErr := err.(net.Error)
		wasTimeout := isNetErr && ne.Timeout()
		ift.shared.leaveIOFail(ift, pairInfo(ifa), func() bool {
			return reconnect(ifa, ift, wasTimeout)
		})
		// The failed senblk counts as delivered to the lost connection and
		// is not re-sent.
	}
}

// writeBufs writes the segments in full. A positive timeout is applied as a
// write deadline, standing in for a socket send timeout.
func writeBufs(conn *net.TCPConn, bufs net.Buffers, timeout time.Duration) error {
	if timeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return err
		}
		defer conn.SetWriteDeadline(time.Time{})
	}
	_, err := bufs.WriteTo(conn)
	return err
}

// reconnect re-establishes a lost write connection while the coordinator
// lock is held, then discards everything queued during the outage. When the
// write failed by timing out the peer has already stalled for the full send
// timeout, so the retry pause is skipped.
func reconnect(ifa *iface.Iface, ift *ifTCP, wasTimeout bool) bool {
	ift.logger.Debug(3, "reconnect", ifa.Name, "reconnecting (write) interface")
	if !wasTimeout {
		misc.SleepRetry(ift.shared.retry, nil)
	}
	metrics.ReconnectsTotal.WithLabelValues(ifa.Name).Inc()
	if ift.conn != nil {
		ift.conn.Close()
	}
	if !doConnect(ifa, ift) {
		ift.logger.Warning("reconnect", ifa.Name, nil, "failed to reconnect tcp connection")
		return false
	}
	ift.logger.Debug(4, "reconnect", ifa.Name, "flushing queue")
	ifa.Q.Flush()
	return true
}

// deferredRun is the goroutine entry of an interface whose initial connect
// was deferred by initial-persist: it completes the connect under the
// coordinator lock, then dispatches to the regular loop for its direction.
func deferredRun(ifa *iface.Iface) {
	ift := ifa.Info.(*ifTCP)
	s := ift.shared
	s.mutex.Lock()
	ok := true
	if ift.conn == nil {
		// The pair half may have completed the connect already.
		ok = doConnect(ifa, ift)
	}
	s.mutex.Unlock()
	if !ok {
		ift.logger.Warning("deferredRun", ifa.Name, nil, "deferred connect failed")
		return
	}
	if ifa.GetDirection() == iface.In {
		iface.RunFramedRead(ifa)
	} else {
		writeTCP(ifa)
	}
}

// dupTCP clones the transport state for the second half of a pair. The conn
// is shared by value, the shared block by pointer; resetting donewith arms
// the two-phase teardown now that two halves own the block.
func dupTCP(info interface{}) interface{} {
	old := info.(*ifTCP)
	dup := *old
	if dup.shared != nil {
		dup.shared.mutex.Lock()
		dup.shared.donewith = 0
		dup.shared.mutex.Unlock()
	}
	return &dup
}

// cleanupTCP releases the transport resources when an interface goroutine
// exits. For a pair sharing a block, the first cleanup only records its
// visit; the second closes the connection. Per-connection server interfaces
// additionally retire their outbound queue and unblock their twin.
func cleanupTCP(ifa *iface.Iface) {
	ift := ifa.Info.(*ifTCP)
	if ift.shared != nil {
		s := ift.shared
		s.mutex.Lock()
		if s.donewith == 0 {
			s.donewith++
			s.mutex.Unlock()
			return
		}
		s.mutex.Unlock()
	} else if ifa.Lists != nil {
		engineQ := ifa.Lists.Engine.Q
		if ifa.Q != nil && ifa.Q != engineQ {
			ifa.Q.Close()
			ifa.Lists.Engine.RemoveOutput(ifa.Q)
		}
		if ifa.Pair != nil && ifa.Pair.Q != nil && ifa.Pair.Q != engineQ {
			// Unblock the twin waiting on its outbound queue.
			ifa.Pair.Q.Close()
		}
	}
	if ift.conn != nil {
		ift.logger.MaybeMinorError(ift.conn.Close())
	}
	if ift.listener != nil {
		ift.logger.MaybeMinorError(ift.listener.Close())
	}
}
