package tcpif

import (
	"net"
	"strings"
	"time"

	"github.com/seamux/seamux/iface"
	"github.com/seamux/seamux/metrics"
	"github.com/seamux/seamux/misc"
	"github.com/seamux/seamux/sealog"
)

// ServeDurationStats aggregates how long accepted server connections live,
// in nanoseconds, from accept until the per-connection interface winds down.
var ServeDurationStats = misc.NewStats()

// ListenerAddr returns the address a server interface listens on, nil for
// non-server interfaces. Useful when the configured port was 0.
func ListenerAddr(ifa *iface.Iface) net.Addr {
	ift, ok := ifa.Info.(*ifTCP)
	if !ok || ift.listener == nil {
		return nil
	}
	return ift.listener.Addr()
}

// Shutdown tells a listening interface to stop accepting: the direction is
// cleared and the listener closed so a blocked Accept returns.
func Shutdown(ifa *iface.Iface) {
	ifa.SetDirection(iface.None)
	if ift, ok := ifa.Info.(*ifTCP); ok && ift.listener != nil {
		ift.logger.MaybeMinorError(ift.listener.Close())
	}
}

// tcpServer is the goroutine body of a listening interface: it accepts
// connections until the interface direction is set to None, spawning a fresh
// per-connection interface (or pair, when the listener is bidirectional) for
// each accepted socket.
func tcpServer(ifa *iface.Iface) {
	ift := ifa.Info.(*ifTCP)
	for ifa.GetDirection() != iface.None {
		conn, err := ift.listener.AcceptTCP()
		if err != nil {
			if strings.Contains(err.Error(), "closed") {
				return
			}
			ift.logger.Warning("tcpServer", ifa.Name, err, "accept failed for connection to %s", ifa.Name)
			continue
		}
		clientIP := conn.RemoteAddr().(*net.TCPAddr).IP.String()
		if ift.perIPLimit != nil && !ift.perIPLimit.Add(clientIP, true) {
			ift.logger.MaybeMinorError(conn.Close())
			continue
		}
		metrics.AcceptedConns.WithLabelValues(ifa.Name).Inc()
		newifa := newTCPConn(conn, ifa)
		if newifa == nil {
			ift.logger.MaybeMinorError(conn.Close())
			continue
		}
		ift.logger.Debug(3, "tcpServer", ifa.Name, "new connection id %x received from %s", newifa.ID, clientIP)
	}
}

// newTCPConn builds and starts the interface(s) serving one accepted
// connection. The new interface inherits the listener's identity and state;
// its ID is disambiguated with the connection's low descriptor bits. Persist
// is a client concept, so accepted interfaces never carry a shared block.
func newTCPConn(conn *net.TCPConn, ifa *iface.Iface) *iface.Iface {
	accepted := time.Now()
	newift := &ifTCP{conn: conn}
	newifa := &iface.Iface{
		ID:            ifa.ID + (connFD(conn) & iface.IDMinorMask),
		Name:          ifa.Name,
		Direction:     ifa.GetDirection(),
		Flags:         ifa.Flags,
		QSize:         ifa.QSize,
		HeartbeatSecs: ifa.HeartbeatSecs,
		TagFlags:      ifa.TagFlags,
		Checksum:      ifa.Checksum,
		Strict:        ifa.Strict,
		IFilter:       ifa.IFilter.Clone(),
		OFilter:       ifa.OFilter.Clone(),
		Lists:         ifa.Lists,
		Info:          newift,
		ReadRun:       iface.RunFramedRead,
		WriteRun:      writeTCP,
		ReadBuf:       readTCP,
		DupInfo:       dupTCP,
		Cleanup:       cleanupTCP,
	}
	newift.logger = sealog.Logger{ComponentName: "tcpif", ComponentID: []sealog.IDField{{Key: "Name", Value: ifa.Name}, {Key: "ID", Value: newifa.ID}}}
	if newifa.Direction == iface.In {
		newifa.Q = ifa.Lists.Engine.Q
	} else {
		if err := conn.SetNoDelay(true); err != nil {
			newift.logger.Warning("newTCPConn", ifa.Name, err, "could not disable Nagle on new tcp connection")
		}
		newifa.Q = iface.NewQueue(newifa.QSize, newifa.OFilter, newifa.Name)
		ifa.Lists.Engine.AddOutput(newifa.Q)
		if newifa.Direction == iface.Both {
			pair := newifa.Dup()
			pair.Q = ifa.Lists.Engine.Q
			ifa.Lists.Link(pair)
			ifa.Lists.Start(pair)
		}
	}
	// The connection duration goes into the statistics once; the pair half
	// created above keeps the plain cleanup.
	newifa.Cleanup = func(x *iface.Iface) {
		cleanupTCP(x)
		ServeDurationStats.Trigger(float64(time.Since(accepted).Nanoseconds()))
	}
	ifa.Lists.Link(newifa)
	ifa.Lists.Start(newifa)
	return newifa
}
