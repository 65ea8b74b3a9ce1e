package iface

import (
	"sync"

	"github.com/seamux/seamux/metrics"
	"github.com/seamux/seamux/nmea"
	"github.com/seamux/seamux/sealog"
)

// DefaultQSize is the queue depth used when an interface does not name one.
const DefaultQSize = 128

// Queue is a bounded FIFO of senblks with a blocking consumer side. When the
// queue is full the oldest senblk is dropped so that a stalled consumer sheds
// the oldest data first.
type Queue struct {
	name   string
	size   int
	filter *nmea.Filter
	items  []*nmea.Senblk
	closed bool
	mutex  sync.Mutex
	ready  *sync.Cond
	logger sealog.Logger
}

// NewQueue returns a queue holding up to size senblks for the named
// interface. Senblks not passing the filter are discarded on Push.
func NewQueue(size int, filter *nmea.Filter, name string) *Queue {
	if size < 1 {
		size = DefaultQSize
	}
	q := &Queue{
		name:   name,
		size:   size,
		filter: filter,
		logger: sealog.Logger{ComponentName: "queue", ComponentID: []sealog.IDField{{Key: "Name", Value: name}}},
	}
	q.ready = sync.NewCond(&q.mutex)
	return q
}

// Push appends a senblk, evicting the oldest entry when the queue is full.
// Senblks rejected by the queue filter are dropped silently.
func (q *Queue) Push(sb *nmea.Senblk) {
	if !q.filter.Match(sb.Data) {
		return
	}
	q.mutex.Lock()
	defer q.mutex.Unlock()
	if q.closed {
		return
	}
	if len(q.items) == q.size {
		q.items = q.items[1:]
		metrics.SenblksDropped.WithLabelValues(q.name).Inc()
		q.logger.Debug(4, "Push", "", "queue full, dropped oldest senblk")
	}
	q.items = append(q.items, sb)
	q.ready.Signal()
}

// Next blocks until a senblk is available and returns it. It returns nil once
// the queue has been closed and drained.
func (q *Queue) Next() *nmea.Senblk {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.ready.Wait()
	}
	if len(q.items) == 0 {
		return nil
	}
	sb := q.items[0]
	q.items = q.items[1:]
	return sb
}

// Flush discards everything currently buffered.
func (q *Queue) Flush() {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	q.items = nil
}

// Close wakes all blocked consumers; Next returns nil once the buffered
// senblks are drained.
func (q *Queue) Close() {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	q.closed = true
	q.ready.Broadcast()
}

// Len returns the number of buffered senblks.
func (q *Queue) Len() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return len(q.items)
}
