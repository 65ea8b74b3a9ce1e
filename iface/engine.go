package iface

import (
	"sync"

	"github.com/seamux/seamux/sealog"
)

// Engine is the routing hub: every In interface feeds its queue, and the
// engine copies each inbound senblk to the queue of every Out interface.
// Per-interface output filtering happens inside the destination queues.
type Engine struct {
	// Q is the shared inbound queue.
	Q *Queue

	logger  sealog.Logger
	mutex   sync.Mutex
	outputs []*Queue
	done    chan struct{}
}

// NewEngine returns an engine with an inbound queue of the given depth.
func NewEngine(qsize int) *Engine {
	return &Engine{
		Q:      NewQueue(qsize, nil, "engine"),
		logger: sealog.Logger{ComponentName: "engine"},
		done:   make(chan struct{}),
	}
}

// AddOutput registers an outbound queue as a routing destination.
func (e *Engine) AddOutput(q *Queue) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.outputs = append(e.outputs, q)
}

// RemoveOutput deregisters an outbound queue, e.g. when a per-connection
// server interface goes away.
func (e *Engine) RemoveOutput(q *Queue) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	for i, out := range e.outputs {
		if out == q {
			e.outputs = append(e.outputs[:i], e.outputs[i+1:]...)
			return
		}
	}
}

// Run routes senblks until the inbound queue is closed and drained. Call in
// a dedicated goroutine.
func (e *Engine) Run() {
	defer close(e.done)
	for {
		sb := e.Q.Next()
		if sb == nil {
			e.logger.Info("Run", "", nil, "inbound queue closed, stopping")
			return
		}
		e.mutex.Lock()
		outputs := make([]*Queue, len(e.outputs))
		copy(outputs, e.outputs)
		e.mutex.Unlock()
		for _, out := range outputs {
			out.Push(sb)
		}
	}
}

// Stop closes the inbound queue and waits for routing to finish.
func (e *Engine) Stop() {
	e.Q.Close()
	<-e.done
}
