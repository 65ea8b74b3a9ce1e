package tcpif

import (
	"net"
	"sync"
	"time"
)

// tcpShared is the block shared by the two halves of a persist-mode client.
// It carries the configuration needed to reconnect and the coordinator state
// that serialises recovery between the paired reader and writer goroutines.
type tcpShared struct {
	host       string
	port       string
	nameserver string
	preamble   []byte
	retry      time.Duration
	// keepalive is tri-state: -1 unset, 0 off, 1 on.
	keepalive  int
	keepidle   int
	keepintvl  int
	keepcnt    int
	sndbuf     int
	sndTimeout time.Duration
	nodelay    bool

	mutex    sync.Mutex
	repaired *sync.Cond
	// critical counts the goroutines currently inside an I/O attempt on the
	// shared connection (0, 1 or 2).
	critical int
	// fixing is set while one goroutine owns the recovery and the other is
	// expected to park on the condition variable.
	fixing bool
	// pokeAck increments whenever a goroutine leaves its I/O attempt while a
	// repair is pending, waking the repairer.
	pokeAck uint64
	// donewith implements two-phase teardown: it starts at 1, drops to 0
	// when the block becomes shared by a pair, and the cleanup that finds it
	// at 0 leaves the final release to its twin.
	donewith int
}

func newShared() *tcpShared {
	s := &tcpShared{keepalive: -1, donewith: 1}
	s.repaired = sync.NewCond(&s.mutex)
	return s
}

// enterIO registers the caller in the I/O critical region and returns the
// connection to operate on. ok is false when the connection is gone for good
// and the caller should exit.
func (s *tcpShared) enterIO(ift *ifTCP) (conn *net.TCPConn, ok bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if ift.conn == nil {
		return nil, false
	}
	s.critical++
	return ift.conn, true
}

// leaveIOOK unregisters the caller after a successful I/O attempt. If the
// twin goroutine is waiting to repair, it is woken: the caller leaving the
// critical region is what it was waiting for.
func (s *tcpShared) leaveIOOK() {
	s.mutex.Lock()
	s.critical--
	if s.fixing {
		s.pokeAck++
		s.repaired.Signal()
	}
	s.mutex.Unlock()
}

// leaveIOFail coordinates recovery after a failed I/O attempt. Exactly one
// of the paired goroutines performs the repair:
//
//   - If the twin already owns the repair (fixing is set), the caller
//     announces its arrival and parks until the repair concludes.
//   - Otherwise the caller owns the repair. If the twin is still inside its
//     blocking syscall (critical == 2), the caller shuts the socket down in
//     both directions to force it out, and waits for it to arrive.
//   - The repair callback then runs with the coordinator lock held; it
//     returns false when the connection could not be re-established, which
//     marks both halves dead so that the next enterIO on either side fails.
func (s *tcpShared) leaveIOFail(ift *ifTCP, pair *ifTCP, repair func() bool) {
	s.mutex.Lock()
	if s.fixing {
		s.pokeAck++
		s.repaired.Signal()
		for s.fixing {
			s.repaired.Wait()
		}
	} else {
		if s.critical == 2 {
			s.fixing = true
			poke(ift.conn)
			ack := s.pokeAck
			for s.pokeAck == ack {
				s.repaired.Wait()
			}
		}
		if !repair() {
			ift.conn = nil
			if pair != nil {
				pair.conn = nil
			}
		}
		if s.fixing {
			s.fixing = false
			s.repaired.Signal()
		}
	}
	s.critical--
	s.mutex.Unlock()
}

// poke forces a goroutine blocked in a read or write on the connection to
// return, so that it enters the coordinator.
func poke(conn *net.TCPConn) {
	if conn != nil {
		_ = conn.CloseRead()
		_ = conn.CloseWrite()
	}
}
