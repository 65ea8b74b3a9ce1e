package tcpif

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/seamux/seamux/iface"
	"github.com/seamux/seamux/metrics"
	"github.com/seamux/seamux/misc"
	"github.com/seamux/seamux/sealog"
)

const (
	// DefRetrySecs is the default pause between reconnect attempts.
	DefRetrySecs = 5
	// DefKeepIdle, DefKeepIntvl and DefKeepCnt are the keepalive tuning
	// defaults applied when persist enables keepalives.
	DefKeepIdle  = 30
	DefKeepIntvl = 10
	DefKeepCnt   = 3
	// DefSndTimeoutSecs bounds each outbound write in persist mode.
	DefSndTimeoutSecs = 30
	// DefSndBuf is the default send buffer size.
	DefSndBuf = 8192
	// DefPort is the fallback when the nmea-0183 service is not registered.
	DefPort = "10110"

	gpsdPort  = "2947"
	gpsdWatch = `?WATCH={"enable":true,"nmea":true}`
)

// Option is one (var, val) configuration pair. Keys are case-insensitive.
type Option struct {
	Var string
	Val string
}

type tcpOptions struct {
	host       string
	port       string
	server     bool
	retry      int
	keepalive  int // -1 unset
	keepidle   int
	keepintvl  int
	keepcnt    int
	timeout    int // -1 unset
	sndbuf     int
	nodelay    bool
	gpsd       bool
	preamble   []byte
	nameserver string
	perIPLimit int
}

// Init builds the TCP specialisation of the interface from its options: it
// validates the option set, performs the initial connect (client) or bind
// (server), and wires the interface entry points. For bidirectional clients
// the interface is split into an Out/In pair before returning. The returned
// interface is the one passed in.
func Init(ifa *iface.Iface, opts []Option) (*iface.Iface, error) {
	logger := sealog.Logger{ComponentName: "tcpif", ComponentID: []sealog.IDField{{Key: "Name", Value: ifa.Name}}}
	if ifa.HasFlag(iface.InitialPersist) && !ifa.HasFlag(iface.Persist) {
		err := fmt.Errorf("initial-persist requires the persist option")
		logger.Warning("Init", ifa.Name, err, "")
		return nil, err
	}
	parsed, err := parseOptions(ifa, opts)
	if err != nil {
		logger.Warning("Init", ifa.Name, err, "")
		return nil, err
	}
	if err := validateOptions(ifa, parsed); err != nil {
		logger.Warning("Init", ifa.Name, err, "")
		return nil, err
	}
	if parsed.port == "" {
		parsed.port = defaultPort()
	}

	if parsed.server {
		return initServer(ifa, parsed, logger)
	}
	return initClient(ifa, parsed, logger)
}

func parseOptions(ifa *iface.Iface, opts []Option) (*tcpOptions, error) {
	parsed := &tcpOptions{
		retry:     DefRetrySecs,
		keepalive: -1,
		timeout:   -1,
		sndbuf:    DefSndBuf,
		nodelay:   true,
	}
	persist := ifa.HasFlag(iface.Persist)
	for _, opt := range opts {
		val := opt.Val
		switch strings.ToLower(opt.Var) {
		case "address":
			parsed.host = val
		case "mode":
			switch strings.ToLower(val) {
			case "client":
				parsed.server = false
			case "server":
				parsed.server = true
			default:
				return nil, fmt.Errorf("unknown tcp mode %s (must be 'client' or 'server')", val)
			}
		case "port":
			parsed.port = val
		case "retry":
			if !persist {
				return nil, fmt.Errorf("retry only valid with persist option")
			}
			n, err := strconv.Atoi(val)
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("invalid retry value %s", val)
			}
			parsed.retry = n
		case "keepalive":
			if !persist {
				return nil, fmt.Errorf("keepalive only valid with persist option")
			}
			switch strings.ToLower(val) {
			case "yes":
				parsed.keepalive = 1
			case "no":
				parsed.keepalive = 0
			default:
				return nil, fmt.Errorf("keepalive must be \"yes\" or \"no\"")
			}
		case "keepidle":
			n, err := strconv.Atoi(val)
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("invalid keepidle value specified: %s", val)
			}
			parsed.keepidle = n
		case "keepintvl":
			n, err := strconv.Atoi(val)
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("invalid keepintvl value specified: %s", val)
			}
			parsed.keepintvl = n
		case "keepcnt":
			n, err := strconv.Atoi(val)
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("invalid keepcnt value specified: %s", val)
			}
			parsed.keepcnt = n
		case "timeout":
			if !persist {
				return nil, fmt.Errorf("timeout only valid with persist option")
			}
			if ifa.Direction == iface.In {
				return nil, fmt.Errorf("timeout option is for sending tcp data only (not receiving)")
			}
			n, err := strconv.Atoi(val)
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("invalid timeout value specified: %s", val)
			}
			parsed.timeout = n
		case "sndbuf":
			if !persist {
				return nil, fmt.Errorf("sndbuf only valid with persist option")
			}
			if ifa.Direction == iface.In {
				return nil, fmt.Errorf("sndbuf option is for sending tcp data only (not receiving)")
			}
			n, err := strconv.Atoi(val)
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("invalid sndbuf size value specified: %s", val)
			}
			parsed.sndbuf = n
		case "gpsd":
			switch strings.ToLower(val) {
			case "yes":
				parsed.gpsd = true
			case "no":
				parsed.gpsd = false
			default:
				return nil, fmt.Errorf("invalid option \"gpsd=%s\"", val)
			}
		case "preamble":
			if parsed.preamble != nil {
				return nil, fmt.Errorf("can only specify preamble once")
			}
			preamble, err := ParsePreamble(val)
			if err != nil {
				return nil, fmt.Errorf("could not parse preamble %s: %w", val, err)
			}
			parsed.preamble = preamble
		case "nodelay":
			switch strings.ToLower(val) {
			case "yes":
				parsed.nodelay = true
			case "no":
				parsed.nodelay = false
			default:
				return nil, fmt.Errorf("invalid option \"nodelay=%s\"", val)
			}
		case "nameserver":
			parsed.nameserver = val
		case "periplimit":
			n, err := strconv.Atoi(val)
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("invalid periplimit value specified: %s", val)
			}
			parsed.perIPLimit = n
		default:
			return nil, fmt.Errorf("unknown interface option %s", opt.Var)
		}
	}
	if persist {
		if parsed.keepalive == -1 {
			parsed.keepalive = 1
			if parsed.keepidle == 0 {
				parsed.keepidle = DefKeepIdle
			}
			if parsed.keepintvl == 0 {
				parsed.keepintvl = DefKeepIntvl
			}
			if parsed.keepcnt == 0 {
				parsed.keepcnt = DefKeepCnt
			}
		}
		if parsed.timeout == -1 {
			parsed.timeout = DefSndTimeoutSecs
		}
	}
	return parsed, nil
}

func validateOptions(ifa *iface.Iface, parsed *tcpOptions) error {
	if parsed.server {
		if ifa.HasFlag(iface.Persist) {
			return fmt.Errorf("persist option not valid for tcp servers")
		}
		if parsed.preamble != nil {
			return fmt.Errorf("preamble option not valid for servers")
		}
		if parsed.gpsd {
			return fmt.Errorf("proto=gpsd not valid for servers")
		}
		return nil
	}
	if parsed.host == "" {
		return fmt.Errorf("must specify address for tcp client mode")
	}
	if parsed.perIPLimit != 0 {
		return fmt.Errorf("periplimit option is only valid for servers")
	}
	if parsed.gpsd {
		if parsed.preamble != nil {
			return fmt.Errorf("can't specify preamble with gpsd")
		}
		watch, err := ParsePreamble(gpsdWatch)
		if err != nil {
			return err
		}
		parsed.preamble = watch
		if parsed.port == "" {
			parsed.port = gpsdPort
		}
	}
	return nil
}

// defaultPort prefers the registered nmea-0183 service and falls back to the
// conventional port number.
func defaultPort() string {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := net.DefaultResolver.LookupPort(ctx, "tcp", "nmea-0183"); err == nil {
		return "nmea-0183"
	}
	return DefPort
}

func initServer(ifa *iface.Iface, parsed *tcpOptions, logger sealog.Logger) (*iface.Iface, error) {
	addrs, _, err := resolveAddrs(parsed.host, parsed.port, parsed.nameserver)
	if err != nil {
		return nil, fmt.Errorf("lookup failed for host %s service %s: %w", parsed.host, parsed.port, err)
	}
	var listener *net.TCPListener
	var lastErr error
	for _, addr := range addrs {
		listener, lastErr = net.ListenTCP("tcp", addr)
		if lastErr == nil {
			break
		}
	}
	if listener == nil {
		return nil, fmt.Errorf("failed to open tcp server for %s/%s: %w", parsed.host, parsed.port, lastErr)
	}
	ift := &ifTCP{
		listener: listener,
		logger:   logger,
	}
	if parsed.perIPLimit > 0 {
		ift.perIPLimit = &misc.RateLimit{UnitSecs: 1, MaxCount: parsed.perIPLimit, Logger: logger}
		ift.perIPLimit.Initialise()
	}
	ifa.Info = ift
	ifa.ReadRun = tcpServer
	ifa.WriteRun = tcpServer
	ifa.ReadBuf = readTCP
	ifa.DupInfo = dupTCP
	ifa.Cleanup = cleanupTCP
	logger.Debug(3, "Init", ifa.Name, "initialised")
	return ifa, nil
}

func initClient(ifa *iface.Iface, parsed *tcpOptions, logger sealog.Logger) (retIfa *iface.Iface, retErr error) {
	var conn *net.TCPConn
	defer func() {
		// Centralised teardown: no half-built state survives an error.
		if retErr != nil && conn != nil {
			conn.Close()
		}
		if retErr != nil && ifa.Q != nil && ifa.Lists != nil {
			ifa.Lists.Engine.RemoveOutput(ifa.Q)
		}
	}()

	ipersist := ifa.HasFlag(iface.InitialPersist)
	addrs, class, err := resolveAddrs(parsed.host, parsed.port, parsed.nameserver)
	if err != nil {
		if !(ipersist && class == resolveTransient) {
			return nil, fmt.Errorf("lookup failed for host %s service %s: %w", parsed.host, parsed.port, err)
		}
		addrs = nil
	}
	var lastErr error
	for _, addr := range addrs {
		conn, lastErr = net.DialTCP("tcp", nil, addr)
		if lastErr == nil {
			break
		}
		conn = nil
	}
	if conn == nil && !ipersist {
		return nil, fmt.Errorf("failed to open tcp connection for %s/%s: %w", parsed.host, parsed.port, lastErr)
	}

	ift := &ifTCP{conn: conn, logger: logger}
	if ifa.HasFlag(iface.Persist) {
		s := newShared()
		s.host = parsed.host
		s.port = parsed.port
		s.nameserver = parsed.nameserver
		s.preamble = parsed.preamble
		s.retry = time.Duration(parsed.retry) * time.Second
		s.keepalive = parsed.keepalive
		s.keepidle = parsed.keepidle
		s.keepintvl = parsed.keepintvl
		s.keepcnt = parsed.keepcnt
		s.sndbuf = parsed.sndbuf
		s.sndTimeout = time.Duration(parsed.timeout) * time.Second
		s.nodelay = parsed.nodelay
		ift.shared = s
		if conn == nil {
			logger.Debug(3, "Init", ifa.Name, "initial connection to %s port %s failed", parsed.host, parsed.port)
		} else {
			_ = establishKeepalive(conn, s, &logger)
		}
	}
	ifa.Info = ift

	if ifa.Direction != iface.In {
		// An outbound or bidirectional client owns a queue.
		ifa.Q = iface.NewQueue(ifa.QSize, ifa.OFilter, ifa.Name)
		if ifa.Lists != nil {
			ifa.Lists.Engine.AddOutput(ifa.Q)
		}
		if conn != nil && parsed.nodelay {
			if err := conn.SetNoDelay(true); err != nil {
				logger.Warning("Init", ifa.Name, err, "could not disable Nagle algorithm for tcp socket")
			}
		}
	} else if ifa.Lists != nil {
		// An inbound client feeds the engine's shared inbound queue.
		ifa.Q = ifa.Lists.Engine.Q
	}

	if conn != nil {
		if len(parsed.preamble) > 0 {
			if err := writeFull(conn, parsed.preamble); err != nil {
				// A connection that cannot take the preamble counts as a
				// failed connect.
				if !ipersist {
					return nil, fmt.Errorf("failed to send preamble: %w", err)
				}
				logger.Warning("Init", ifa.Name, err, "failed to send preamble, deferring connect")
				conn.Close()
				ift.conn = nil
				conn = nil
			}
		}
	}
	if conn != nil {
		metrics.ConnectsTotal.WithLabelValues(ifa.Name).Inc()
		ifa.ReadRun = iface.RunFramedRead
		ifa.WriteRun = writeTCP
	} else {
		// Deferred connect: the variant is decided here, once, and the
		// goroutine entry dispatches to the regular loop after connecting.
		ifa.ReadRun = deferredRun
		ifa.WriteRun = deferredRun
	}
	ifa.ReadBuf = readTCP
	ifa.DupInfo = dupTCP
	ifa.Cleanup = cleanupTCP

	if ifa.Direction == iface.Both {
		pair := ifa.Dup()
		if ifa.Lists != nil {
			pair.Q = ifa.Lists.Engine.Q
			ifa.Lists.Link(pair)
		}
	}
	logger.Debug(3, "Init", ifa.Name, "initialised")
	return ifa, nil
}
