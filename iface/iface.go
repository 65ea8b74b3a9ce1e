package iface

import (
	"sync"

	"github.com/seamux/seamux/nmea"
	"github.com/seamux/seamux/sealog"
)

// Direction tells which way sentences flow through an interface.
type Direction int

const (
	// None marks an interface that has been told to stop.
	None Direction = iota
	// In carries sentences from the peer into the engine.
	In
	// Out carries sentences from the engine to the peer.
	Out
	// Both is split into an In/Out pair sharing one connection.
	Both
)

// Flag holds the boolean properties of an interface.
type Flag uint32

const (
	// Persist makes the transport reconnect on any failure.
	Persist Flag = 1 << iota
	// InitialPersist additionally tolerates the very first connect failing.
	InitialPersist
)

// IDMinorMask selects the low ID bits used to disambiguate the per-connection
// interfaces spawned by an accepting server.
const IDMinorMask uint32 = 0xFF

// Iface is the generic per-direction interface record. Transports fill in the
// entry points and keep their own state behind Info.
type Iface struct {
	ID        uint32
	Name      string
	Direction Direction
	Flags     Flag
	QSize     int
	// HeartbeatSecs is the period of the heartbeat sentence pushed to this
	// interface's queue, 0 to disable.
	HeartbeatSecs int
	TagFlags      nmea.TagFlag
	Checksum      bool
	Strict        bool
	IFilter       *nmea.Filter
	OFilter       *nmea.Filter

	// Q is the outbound queue for Out interfaces, or the engine's shared
	// inbound queue for In interfaces.
	Q *Queue
	// Pair is the other half of a bidirectional interface, nil otherwise.
	Pair *Iface
	// Lists is the registry the interface belongs to.
	Lists *Registry
	// Info is the transport-private state.
	Info interface{}

	// ReadRun and WriteRun are the goroutine entry points for the In and Out
	// directions. ReadBuf performs one raw transport read for the framing
	// driver. DupInfo clones the transport state when the interface is split
	// into a pair. Cleanup runs when the interface goroutine exits.
	ReadRun  func(ifa *Iface)
	WriteRun func(ifa *Iface)
	ReadBuf  func(ifa *Iface, buf []byte) (int, error)
	DupInfo  func(info interface{}) interface{}
	Cleanup  func(ifa *Iface)

	dirMutex sync.Mutex
}

// HasFlag reports whether all given flag bits are set.
func (ifa *Iface) HasFlag(f Flag) bool {
	return ifa.Flags&f == f
}

// GetDirection returns the interface direction. Server accept loops poll this
// between connections.
func (ifa *Iface) GetDirection() Direction {
	ifa.dirMutex.Lock()
	defer ifa.dirMutex.Unlock()
	return ifa.Direction
}

// SetDirection changes the interface direction; setting None tells a server
// accept loop to wind down.
func (ifa *Iface) SetDirection(d Direction) {
	ifa.dirMutex.Lock()
	defer ifa.dirMutex.Unlock()
	ifa.Direction = d
}

// Dup splits a bidirectional interface into its two halves. The receiver
// becomes the Out half; the returned interface is the In half. The halves
// share transport state through DupInfo and point at each other via Pair.
func (ifa *Iface) Dup() *Iface {
	other := &Iface{
		ID:            ifa.ID,
		Name:          ifa.Name,
		Direction:     In,
		Flags:         ifa.Flags,
		QSize:         ifa.QSize,
		HeartbeatSecs: ifa.HeartbeatSecs,
		TagFlags:      ifa.TagFlags,
		Checksum:      ifa.Checksum,
		Strict:        ifa.Strict,
		IFilter:       ifa.IFilter.Clone(),
		OFilter:       ifa.OFilter.Clone(),
		Lists:         ifa.Lists,
		ReadRun:       ifa.ReadRun,
		WriteRun:      ifa.WriteRun,
		ReadBuf:       ifa.ReadBuf,
		DupInfo:       ifa.DupInfo,
		Cleanup:       ifa.Cleanup,
	}
	if ifa.DupInfo != nil {
		other.Info = ifa.DupInfo(ifa.Info)
	}
	ifa.Direction = Out
	ifa.Pair = other
	other.Pair = ifa
	return other
}

// Registry tracks the initialised interfaces of one multiplexer instance and
// runs their goroutines.
type Registry struct {
	// Engine is the routing hub all In interfaces feed.
	Engine *Engine

	logger      sealog.Logger
	mutex       sync.Mutex
	initialized []*Iface
	wg          sync.WaitGroup
}

// NewRegistry returns a registry whose In interfaces feed the given engine.
func NewRegistry(engine *Engine) *Registry {
	return &Registry{
		Engine: engine,
		logger: sealog.Logger{ComponentName: "iface"},
	}
}

// Link records an interface as fully initialised.
func (r *Registry) Link(ifa *Iface) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.initialized = append(r.initialized, ifa)
}

// Initialized returns a snapshot of the interfaces linked so far.
func (r *Registry) Initialized() []*Iface {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	out := make([]*Iface, len(r.initialized))
	copy(out, r.initialized)
	return out
}

// Start launches the interface goroutine for its direction. Cleanup runs when
// the goroutine returns. A heartbeat runner is attached for Out interfaces
// that request one.
func (r *Registry) Start(ifa *Iface) {
	r.wg.Add(1)
	if ifa.HeartbeatSecs > 0 && ifa.GetDirection() == Out {
		startHeartbeat(ifa)
	}
	go func() {
		defer r.wg.Done()
		if ifa.Cleanup != nil {
			defer ifa.Cleanup(ifa)
		}
		switch ifa.GetDirection() {
		case Out:
			ifa.WriteRun(ifa)
		default:
			ifa.ReadRun(ifa)
		}
		r.logger.Debug(3, "Start", ifa.Name, "interface goroutine exited")
	}()
}

// Wait blocks until every started interface goroutine has exited.
func (r *Registry) Wait() {
	r.wg.Wait()
}
